package vm

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

// Script is a compiled, context-independent program handle. It is local to
// the handle scope it was compiled in.
type Script struct {
	prg  *goja.Program
	hs   *HandleScope
	name string
}

// Compile compiles source. Syntax errors return a PhaseCompile/KindSyntax
// error and leave any TryCatch untouched.
func (cs *ContextScope) Compile(source, name string) (*Script, error) {
	if err := cs.check(errors.PhaseCompile); err != nil {
		return nil, err
	}
	prg, err := goja.Compile(name, source, false)
	if err != nil {
		return nil, errors.Syntax(name, err)
	}
	hs := cs.locals()
	s := &Script{prg: prg, hs: hs, name: name}
	hs.track(s)
	return s, nil
}

func (s *Script) invalidate() {
	s.prg = nil
}

// Name returns the script name used in stack traces.
func (s *Script) Name() string { return s.name }

func (s *Script) program(phase errors.Phase) (*goja.Program, error) {
	if s == nil {
		return nil, errors.NilPointer(phase, nil, "*vm.Script")
	}
	if err := s.hs.check(phase); err != nil {
		return nil, err
	}
	return s.prg, nil
}

// Run executes script in the entered context and returns its completion
// value. A thrown exception is recorded in the innermost TryCatch.
func (cs *ContextScope) Run(script *Script) (*Value, error) {
	if err := cs.check(errors.PhaseExecute); err != nil {
		return nil, err
	}
	prg, err := script.program(errors.PhaseExecute)
	if err != nil {
		return nil, err
	}
	res, err := cs.iso().execute(cs.ctx, errors.PhaseExecute, func(rt *goja.Runtime) (goja.Value, error) {
		return rt.RunProgram(prg)
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(cs.ctx, res), nil
}

// RunString compiles and runs source.
func (cs *ContextScope) RunString(source, name string) (*Value, error) {
	script, err := cs.Compile(source, name)
	if err != nil {
		return nil, err
	}
	return cs.Run(script)
}

// Persist roots the compiled program beyond the handle scope.
func (s *Script) Persist() (*PersistedScript, error) {
	prg, err := s.program(errors.PhasePersist)
	if err != nil {
		return nil, err
	}
	p, err := s.hs.iso.persist(prg, s.name)
	if err != nil {
		return nil, err
	}
	return &PersistedScript{persistent: p}, nil
}

// PersistedScript is a compiled program that outlives handle scopes.
type PersistedScript struct {
	persistent
}

// ToLocal returns a Script local to hs.
func (p *PersistedScript) ToLocal(hs *HandleScope) (*Script, error) {
	v, err := p.get(hs)
	if err != nil {
		return nil, err
	}
	s := &Script{prg: v.(*goja.Program), hs: hs, name: p.name}
	hs.track(s)
	return s, nil
}
