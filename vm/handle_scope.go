package vm

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/wippyai/js-runtime/errors"
)

// HandleScope bounds the lifetime of local values. Closing it invalidates
// every Value, Script and Module handle created while it was the innermost
// open scope.
type HandleScope struct {
	iso    *Isolate
	holder *lockHolder
	locals []localHandle
	closed bool
}

// localHandle is anything a handle scope invalidates on close.
type localHandle interface {
	invalidate()
}

// NewHandleScope opens a handle scope on the isolate entered by s.
func NewHandleScope(s *IsolateScope) (*HandleScope, error) {
	if err := s.check(errors.PhaseScope); err != nil {
		return nil, err
	}
	hs := &HandleScope{iso: s.iso, holder: s.holder}
	s.iso.push(hs)
	return hs, nil
}

// WithHandleScope opens a handle scope, runs fn and closes the scope on
// every exit path, including panics.
func WithHandleScope(s *IsolateScope, fn func(hs *HandleScope) error) (err error) {
	hs, err := NewHandleScope(s)
	if err != nil {
		return err
	}

	depth := len(s.iso.stack) - 1
	defer func() {
		if r := recover(); r != nil {
			s.iso.closeFrames(depth+1, false)
			_ = hs.Close()
			panic(r)
		}
		if len(s.iso.stack) > depth+1 {
			s.iso.unwindTo(depth + 1)
		}
		err = multierr.Append(err, hs.Close())
	}()

	return fn(hs)
}

// Isolate returns the owning isolate.
func (hs *HandleScope) Isolate() *Isolate {
	return hs.iso
}

// Closed reports whether the scope has been closed.
func (hs *HandleScope) Closed() bool {
	return hs.closed
}

// Close closes the scope. It must be the innermost open scope.
func (hs *HandleScope) Close() error {
	iso := hs.iso
	if hs.closed {
		return iso.violation(errors.ScopeClosed(errors.PhaseScope, "handle scope"))
	}
	if err := iso.checkHolder(hs.holder, errors.PhaseScope); err != nil {
		return err
	}
	if err := iso.pop(hs, errors.PhaseScope, "handle scope"); err != nil {
		return err
	}
	hs.invalidate()
	iso.safePoint()
	return nil
}

func (hs *HandleScope) invalidate() {
	hs.closed = true
	for i, l := range hs.locals {
		l.invalidate()
		hs.locals[i] = nil
	}
	hs.locals = nil
}

// check validates that hs is open and its lock is held.
func (hs *HandleScope) check(phase errors.Phase) error {
	if hs == nil {
		return errors.NoActiveScope(phase, "handle scope")
	}
	if hs.closed {
		return hs.iso.violation(errors.ScopeClosed(phase, "handle scope"))
	}
	if hs.iso.disposed.Load() {
		return errors.Disposed(phase, "isolate")
	}
	return hs.iso.checkHolder(hs.holder, phase)
}

func (hs *HandleScope) track(l localHandle) {
	hs.locals = append(hs.locals, l)
}

// NewString returns a string value.
func (hs *HandleScope) NewString(s string) (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, hs.iso.primitives().ToValue(s)), nil
}

// NewStringBytes returns a string value from UTF-8 bytes.
func (hs *HandleScope) NewStringBytes(b []byte) (*Value, error) {
	return hs.NewString(string(b))
}

// NewNumber returns a number value.
func (hs *HandleScope) NewNumber(f float64) (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, hs.iso.primitives().ToValue(f)), nil
}

// NewInteger returns a number value holding an integer.
func (hs *HandleScope) NewInteger(n int64) (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, hs.iso.primitives().ToValue(n)), nil
}

// NewBool returns a boolean value.
func (hs *HandleScope) NewBool(b bool) (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, hs.iso.primitives().ToValue(b)), nil
}

// Null returns the null value.
func (hs *HandleScope) Null() (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, nullValue()), nil
}

// Undefined returns the undefined value.
func (hs *HandleScope) Undefined() (*Value, error) {
	if err := hs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return hs.newValue(nil, undefinedValue()), nil
}

func (hs *HandleScope) String() string {
	state := "open"
	if hs.closed {
		state = "closed"
	}
	return fmt.Sprintf("HandleScope(isolate=%d, %s, locals=%d)", hs.iso.id, state, len(hs.locals))
}
