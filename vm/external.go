package vm

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// externalBox is what script sees of an external: an opaque wrapper
// holding only the registry handle.
type externalBox struct {
	handle resource.Handle
	iso    uint32
}

// NewExternal wraps opaque host data. destructor, if non-nil, receives
// data exactly once, after script can no longer reach the wrapper or when
// the isolate is disposed.
func (cs *ContextScope) NewExternal(data any, destructor func(any)) (*Value, error) {
	if err := cs.check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	iso := cs.iso()
	rec := &registration{
		ctx:            cs.ctx,
		name:           "external",
		data:           data,
		dataDestructor: destructor,
	}
	h, err := iso.register(typeExternal, rec)
	if err != nil {
		return nil, err
	}

	obj, ok := cs.ctx.rt.ToValue(&externalBox{handle: h, iso: iso.id}).(*goja.Object)
	if !ok {
		iso.callbacks.Retire(h, resource.RetireExplicit)
		return nil, errors.Registration("external", errors.Unsupported(errors.PhaseCallback, "external wrapper"))
	}
	iso.attachWeak(h, rec, obj)
	return cs.newObjectValue(obj), nil
}

// External is a typed view of an external value.
type External struct {
	*Value
}

// AsExternal returns an external view.
func (v *Value) AsExternal() (*External, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsExternal() {
		return nil, v.mismatch(errors.PhaseConvert, "external")
	}
	return &External{Value: v}, nil
}

// Data returns the wrapped host data.
func (e *External) Data() (any, error) {
	obj, err := e.object(errors.PhaseConvert)
	if err != nil {
		return nil, err
	}
	box, ok := obj.Export().(*externalBox)
	if !ok || box.iso != e.hs.iso.id {
		return nil, e.mismatch(errors.PhaseConvert, "external")
	}
	rec, ok := e.hs.iso.lookup(box.handle, typeExternal)
	if !ok {
		return nil, errors.NotFound(errors.PhaseCallback, "external", "data")
	}
	return rec.data, nil
}
