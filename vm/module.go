package vm

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// ModuleStatus is the lifecycle state of a module.
type ModuleStatus int

const (
	ModuleUninstantiated ModuleStatus = iota
	ModuleInstantiating
	ModuleInstantiated
	ModuleEvaluating
	ModuleEvaluated
	ModuleErrored
)

var moduleStatusNames = [...]string{
	ModuleUninstantiated: "uninstantiated",
	ModuleInstantiating:  "instantiating",
	ModuleInstantiated:   "instantiated",
	ModuleEvaluating:     "evaluating",
	ModuleEvaluated:      "evaluated",
	ModuleErrored:        "errored",
}

func (s ModuleStatus) String() string {
	if int(s) < len(moduleStatusNames) {
		return moduleStatusNames[s]
	}
	return "unknown"
}

// LoadModuleCallback resolves specifier imported by the module whose
// identity hash is referrerHash. Returning nil fails instantiation.
type LoadModuleCallback func(cs *ContextScope, specifier string, referrerHash int) *Module

// moduleRecord is the context-owned state of a compiled module.
type moduleRecord struct {
	ctx     *Context
	source  *engine.ModuleSource
	prg     *goja.Program
	deps    map[string]*moduleRecord
	module  *goja.Object
	exports goja.Value
	err     error
	name    string
	hash    int
	status  ModuleStatus
}

// Module is a local handle to a compiled module.
type Module struct {
	rec *moduleRecord
	hs  *HandleScope
}

func (m *Module) invalidate() {
	m.rec = nil
}

// CompileModule compiles an ES module. Import specifiers are recorded but
// nothing is resolved until Instantiate.
func (cs *ContextScope) CompileModule(name, source string) (*Module, error) {
	if err := cs.check(errors.PhaseCompile); err != nil {
		return nil, err
	}
	ctxRec := cs.ctx.record()
	if ctxRec == nil {
		return nil, errors.Disposed(errors.PhaseCompile, "context")
	}

	src, err := engine.TransformModule(name, source)
	if err != nil {
		return nil, err
	}
	prg, err := goja.Compile(name, src.Code, false)
	if err != nil {
		return nil, errors.Syntax(name, err)
	}

	iso := cs.iso()
	iso.nextModule++
	rec := &moduleRecord{
		ctx:    cs.ctx,
		source: src,
		prg:    prg,
		deps:   make(map[string]*moduleRecord),
		name:   name,
		hash:   iso.nextModule,
	}
	ctxRec.modules[rec.hash] = rec

	iso.log.Debug("module compiled",
		zap.String("module", name),
		zap.Int("hash", rec.hash),
		zap.Strings("requests", src.Requests))
	return cs.newModule(rec), nil
}

func (cs *ContextScope) newModule(rec *moduleRecord) *Module {
	hs := cs.locals()
	m := &Module{rec: rec, hs: hs}
	hs.track(m)
	return m
}

func (m *Module) record(phase errors.Phase) (*moduleRecord, error) {
	if m == nil {
		return nil, errors.NilPointer(phase, nil, "*vm.Module")
	}
	if err := m.hs.check(phase); err != nil {
		return nil, err
	}
	if m.rec == nil || m.rec.ctx.disposed {
		return nil, m.hs.iso.violation(errors.Disposed(phase, "module"))
	}
	return m.rec, nil
}

// IdentityHash returns the module's identity hash, unique per isolate.
// Zero for an invalid handle.
func (m *Module) IdentityHash() int {
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return 0
	}
	return rec.hash
}

// Name returns the name the module was compiled with.
func (m *Module) Name() string {
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return ""
	}
	return rec.name
}

// RequestedModules returns the import specifiers in source order.
func (m *Module) RequestedModules() []string {
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return nil
	}
	return append([]string(nil), rec.source.Requests...)
}

// Status returns the lifecycle state.
func (m *Module) Status() ModuleStatus {
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return ModuleErrored
	}
	return rec.status
}

// Instantiate resolves the module graph. load is called synchronously once
// per distinct unresolved specifier of each module in the graph. Every
// specifier load returns nil for is reported in one KindMissingImport
// error and the graph stays uninstantiated. Modules already instantiated,
// evaluated or errored are left as they are.
func (m *Module) Instantiate(cs *ContextScope, load LoadModuleCallback) error {
	if err := cs.check(errors.PhaseModule); err != nil {
		return err
	}
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return err
	}
	iso := cs.iso()
	if rec.ctx != cs.ctx {
		return iso.violation(errors.New(errors.PhaseModule, errors.KindWrongContext).
			Path(rec.name).
			Detail("module belongs to another context").
			Build())
	}
	if load == nil {
		return iso.violation(errors.NilPointer(errors.PhaseModule, []string{rec.name}, "vm.LoadModuleCallback"))
	}

	var (
		missing []string
		visited []*moduleRecord
		seen    = make(map[*moduleRecord]struct{})
	)

	var visit func(r *moduleRecord) error
	visit = func(r *moduleRecord) error {
		if _, ok := seen[r]; ok {
			return nil
		}
		seen[r] = struct{}{}
		// Errored modules stay errored; Evaluate keeps reporting r.err.
		if r.status >= ModuleInstantiated {
			return nil
		}
		visited = append(visited, r)
		r.status = ModuleInstantiating

		for _, specifier := range r.source.Requests {
			if _, ok := r.deps[specifier]; ok {
				if err := visit(r.deps[specifier]); err != nil {
					return err
				}
				continue
			}
			dep := load(cs, specifier, r.hash)
			if dep == nil {
				missing = append(missing, errors.ImportKey(r.name, specifier))
				continue
			}
			drec, err := dep.record(errors.PhaseModule)
			if err != nil {
				return errors.Instantiation(r.name, err)
			}
			if drec.ctx != r.ctx {
				return iso.violation(errors.New(errors.PhaseModule, errors.KindWrongContext).
					Path(r.name, specifier).
					Detail("imported module belongs to another context").
					Build())
			}
			r.deps[specifier] = drec
			if err := visit(drec); err != nil {
				return err
			}
		}
		return nil
	}

	err = visit(rec)
	if err == nil && len(missing) > 0 {
		err = errors.Instantiation(rec.name, errors.NewMissingImportsError(missing))
	}
	for _, r := range visited {
		if err != nil {
			r.status = ModuleUninstantiated
		} else {
			r.status = ModuleInstantiated
		}
	}
	if err != nil {
		iso.log.Debug("module instantiation failed", zap.String("module", rec.name), zap.Error(err))
		return err
	}
	return nil
}

// Evaluate runs the module and its dependencies, dependencies first, and
// returns the module namespace. Evaluation errors surface like Run
// failures; a module that failed keeps failing with the same error.
func (m *Module) Evaluate(cs *ContextScope) (*Value, error) {
	if err := cs.check(errors.PhaseModule); err != nil {
		return nil, err
	}
	rec, err := m.record(errors.PhaseModule)
	if err != nil {
		return nil, err
	}
	if rec.ctx != cs.ctx {
		return nil, cs.iso().violation(errors.New(errors.PhaseModule, errors.KindWrongContext).
			Path(rec.name).
			Detail("module belongs to another context").
			Build())
	}
	if rec.status < ModuleInstantiated {
		return nil, errors.New(errors.PhaseModule, errors.KindInstantiation).
			Path(rec.name).
			Detail("module is not instantiated").
			Build()
	}

	res, err := cs.iso().execute(cs.ctx, errors.PhaseModule, func(rt *goja.Runtime) (goja.Value, error) {
		return evaluateModule(rt, rec)
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(cs.ctx, res), nil
}

// evaluateModule runs r's dependencies and then its body once, caching the
// exports. A module reached again while evaluating (a cycle) yields its
// exports as they stand.
func evaluateModule(rt *goja.Runtime, r *moduleRecord) (goja.Value, error) {
	switch r.status {
	case ModuleEvaluated:
		return r.exports, nil
	case ModuleErrored:
		return nil, r.err
	case ModuleEvaluating:
		return r.module.Get("exports"), nil
	}

	r.status = ModuleEvaluating
	exports := rt.NewObject()
	r.module = rt.NewObject()
	_ = r.module.Set("exports", exports)

	fail := func(err error) (goja.Value, error) {
		r.status = ModuleErrored
		r.err = err
		return nil, err
	}

	for _, specifier := range r.source.Requests {
		if _, err := evaluateModule(rt, r.deps[specifier]); err != nil {
			return fail(err)
		}
	}

	fnVal, err := rt.RunProgram(r.prg)
	if err != nil {
		return fail(err)
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return fail(errors.Unsupported(errors.PhaseModule, "module body"))
	}

	require := func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		dep, ok := r.deps[specifier]
		if !ok {
			panic(rt.NewTypeError("Cannot find module '" + specifier + "'"))
		}
		v, err := evaluateModule(rt, dep)
		if err != nil {
			switch err.(type) {
			case *goja.Exception, *goja.InterruptedError:
				panic(err)
			}
			panic(rt.NewGoError(err))
		}
		return v
	}

	if _, err := fn(goja.Undefined(), exports, rt.ToValue(require), r.module); err != nil {
		return fail(err)
	}
	r.exports = r.module.Get("exports")
	r.status = ModuleEvaluated
	return r.exports, nil
}

// Persist roots the module beyond its handle scope.
func (m *Module) Persist() (*PersistedModule, error) {
	rec, err := m.record(errors.PhasePersist)
	if err != nil {
		return nil, err
	}
	p, err := m.hs.iso.persistRoot(rootModule, &root{value: rec, ctx: rec.ctx}, rec.name)
	if err != nil {
		return nil, err
	}
	return &PersistedModule{persistent: p}, nil
}

// PersistedModule is a module handle that outlives handle scopes.
type PersistedModule struct {
	persistent
}

// ToLocal returns a Module local to hs.
func (p *PersistedModule) ToLocal(hs *HandleScope) (*Module, error) {
	v, err := p.get(hs)
	if err != nil {
		return nil, err
	}
	rec := v.(*moduleRecord)
	if rec.ctx.disposed {
		return nil, p.iso.violation(errors.Disposed(errors.PhasePersist, "context"))
	}
	m := &Module{rec: rec, hs: hs}
	hs.track(m)
	return m, nil
}
