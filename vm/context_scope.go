package vm

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// ContextScope marks a context as entered. Objects are created in the
// entered context and executions run against it.
type ContextScope struct {
	ctx    *Context
	hs     *HandleScope
	holder *lockHolder
	closed bool
}

// CurrentContextScope returns the innermost entered context scope of the
// isolate entered by s, or nil.
func CurrentContextScope(s *IsolateScope) *ContextScope {
	if s.check(errors.PhaseContext) != nil {
		return nil
	}
	return s.iso.currentContextScope()
}

// Context returns the entered context.
func (cs *ContextScope) Context() *Context { return cs.ctx }

// HandleScope returns the scope the context was entered with.
func (cs *ContextScope) HandleScope() *HandleScope { return cs.hs }

// Isolate returns the owning isolate.
func (cs *ContextScope) Isolate() *Isolate { return cs.ctx.iso }

func (cs *ContextScope) iso() *Isolate { return cs.ctx.iso }

// locals returns the handle scope new values are tracked in: the innermost
// open one, which may have been opened after entering the context.
func (cs *ContextScope) locals() *HandleScope {
	if hs := cs.ctx.iso.currentHandleScope(); hs != nil {
		return hs
	}
	return cs.hs
}

// Exit leaves the context. It must be the innermost open scope.
func (cs *ContextScope) Exit() error {
	iso := cs.ctx.iso
	if cs.closed {
		return iso.violation(errors.ScopeClosed(errors.PhaseContext, "context scope"))
	}
	if err := iso.checkHolder(cs.holder, errors.PhaseContext); err != nil {
		return err
	}
	if err := iso.pop(cs, errors.PhaseContext, "context scope"); err != nil {
		return err
	}
	cs.closed = true
	cs.ctx.entered--
	return nil
}

func (cs *ContextScope) check(phase errors.Phase) error {
	if cs == nil {
		return errors.NoActiveScope(phase, "context scope")
	}
	iso := cs.ctx.iso
	if cs.closed {
		return iso.violation(errors.ScopeClosed(phase, "context scope"))
	}
	if iso.disposed.Load() {
		return errors.Disposed(phase, "isolate")
	}
	if cs.ctx.disposed {
		return iso.violation(errors.Disposed(phase, "context"))
	}
	return iso.checkHolder(cs.holder, phase)
}

// Global returns the context's global object.
func (cs *ContextScope) Global() (*Object, error) {
	if err := cs.check(errors.PhaseContext); err != nil {
		return nil, err
	}
	return &Object{Value: cs.newObjectValue(cs.ctx.rt.GlobalObject())}, nil
}

// SetPrivateData stores data at index of the entered context.
func (cs *ContextScope) SetPrivateData(index int, data any) error {
	if err := cs.check(errors.PhaseContext); err != nil {
		return err
	}
	return cs.ctx.SetPrivateData(index, data)
}

// GetPrivateData returns the data at index of the entered context.
func (cs *ContextScope) GetPrivateData(index int) (any, bool) {
	if cs.check(errors.PhaseContext) != nil {
		return nil, false
	}
	return cs.ctx.GetPrivateData(index)
}

// ResetPrivateData clears index of the entered context.
func (cs *ContextScope) ResetPrivateData(index int) error {
	if err := cs.check(errors.PhaseContext); err != nil {
		return err
	}
	return cs.ctx.ResetPrivateData(index)
}

// SetPrivateDataScoped stores data and returns a guard that resets it.
func (cs *ContextScope) SetPrivateDataScoped(index int, data any) (*DataGuard, error) {
	if err := cs.check(errors.PhaseContext); err != nil {
		return nil, err
	}
	return cs.ctx.SetPrivateDataScoped(index, data)
}

// PerformMicrotaskCheckpoint drains the context's job queue. goja runs
// jobs when the outermost script returns, so a checkpoint runs an empty
// program to flush jobs queued by host-side promise operations.
func (cs *ContextScope) PerformMicrotaskCheckpoint() error {
	if err := cs.check(errors.PhaseExecute); err != nil {
		return err
	}
	_, err := cs.iso().execute(cs.ctx, errors.PhaseExecute, func(rt *goja.Runtime) (goja.Value, error) {
		return rt.RunProgram(emptyProgram)
	})
	return err
}

var emptyProgram = goja.MustCompile("microtasks", "", false)

func (cs *ContextScope) newObjectValue(obj *goja.Object) *Value {
	return cs.locals().newValue(cs.ctx, obj)
}

// NewObject returns an empty object.
func (cs *ContextScope) NewObject() (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	return cs.newObjectValue(cs.ctx.rt.NewObject()), nil
}

// NewArray returns an array holding values.
func (cs *ContextScope) NewArray(values ...*Value) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	items, err := convertArgs(cs.ctx, errors.PhaseConvert, values)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(items))
	for i, it := range items {
		args[i] = it
	}
	return cs.newObjectValue(cs.ctx.rt.NewArray(args...)), nil
}

// NewSet returns a Set holding values.
func (cs *ContextScope) NewSet(values ...*Value) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	items, err := convertArgs(cs.ctx, errors.PhaseConvert, values)
	if err != nil {
		return nil, err
	}
	res, err := cs.iso().execute(cs.ctx, errors.PhaseConvert, func(rt *goja.Runtime) (goja.Value, error) {
		obj, err := rt.New(rt.Get("Set"))
		if err != nil {
			return nil, err
		}
		add, _ := goja.AssertFunction(obj.Get("add"))
		for _, it := range items {
			if _, err := add(obj, it); err != nil {
				return nil, err
			}
		}
		return obj, nil
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(cs.ctx, res), nil
}

// NewArrayBuffer returns an ArrayBuffer holding a copy of data in
// allocator memory. The memory is freed once script can no longer reach
// the buffer.
func (cs *ContextScope) NewArrayBuffer(data []byte) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	buf := engine.Allocator().Alloc(len(data))
	copy(buf, data)
	return cs.newArrayBuffer(buf)
}

// NewArrayBufferSize returns a zeroed ArrayBuffer of n bytes.
func (cs *ContextScope) NewArrayBufferSize(n int) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, cs.iso().violation(errors.OutOfBounds(errors.PhaseConvert, nil, n, 0))
	}
	return cs.newArrayBuffer(engine.Allocator().Calloc(n, 1))
}

func (cs *ContextScope) newArrayBuffer(buf []byte) (*Value, error) {
	rt := cs.ctx.rt
	obj, ok := rt.ToValue(rt.NewArrayBuffer(buf)).(*goja.Object)
	if !ok {
		engine.Allocator().Free(buf)
		return nil, errors.Unsupported(errors.PhaseConvert, "array buffer")
	}
	if len(buf) > 0 {
		rec := &registration{ctx: cs.ctx, name: "ArrayBuffer", memory: buf}
		h, err := cs.iso().register(typeBackingStore, rec)
		if err != nil {
			engine.Allocator().Free(buf)
			return nil, err
		}
		cs.iso().attachWeak(h, rec, obj)
	}
	return cs.newObjectValue(obj), nil
}

// NewStringObject returns a String wrapper object.
func (cs *ContextScope) NewStringObject(s string) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	rt := cs.ctx.rt
	var obj *goja.Object
	err := cs.iso().guard(errors.PhaseConvert, func() {
		obj = rt.ToValue(s).ToObject(rt)
	})
	if err != nil {
		return nil, err
	}
	return cs.newObjectValue(obj), nil
}

// NewObjectFromJSON parses json in the entered context.
func (cs *ContextScope) NewObjectFromJSON(json string) (*Value, error) {
	if err := cs.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	rt := cs.ctx.rt
	parse, ok := goja.AssertFunction(rt.Get("JSON").ToObject(rt).Get("parse"))
	if !ok {
		return nil, errors.Unsupported(errors.PhaseConvert, "JSON.parse")
	}
	res, err := cs.iso().execute(cs.ctx, errors.PhaseConvert, func(rt *goja.Runtime) (goja.Value, error) {
		return parse(goja.Undefined(), rt.ToValue(json))
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(cs.ctx, res), nil
}
