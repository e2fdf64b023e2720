package vm

import (
	"strconv"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// Object is a typed view of an object value.
type Object struct {
	*Value
}

// AsObject returns an object view of any object-kinded value.
func (v *Value) AsObject() (*Object, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsObject() {
		return nil, v.mismatch(errors.PhaseConvert, "object")
	}
	return &Object{Value: v}, nil
}

// object returns the engine object after validating the handle.
func (v *Value) object(phase errors.Phase) (*goja.Object, error) {
	gv, err := v.gojaValue(phase)
	if err != nil {
		return nil, err
	}
	obj, ok := gv.(*goja.Object)
	if !ok {
		return nil, v.mismatch(phase, "object")
	}
	return obj, nil
}

// wrap tracks an engine value in the innermost open handle scope.
func (v *Value) wrap(gv goja.Value) *Value {
	hs := v.hs.iso.currentHandleScope()
	if hs == nil {
		hs = v.hs
	}
	return hs.newValue(v.ctx, gv)
}

// Get reads a property. Missing properties read as undefined.
func (o *Object) Get(key string) (*Value, error) {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return nil, err
	}
	var out goja.Value
	err = o.hs.iso.guard(errors.PhaseConvert, func() {
		out = obj.Get(key)
	})
	if err != nil {
		return nil, err
	}
	return o.wrap(out), nil
}

// GetString reads a property converted to a string.
func (o *Object) GetString(key string) (string, error) {
	v, err := o.Get(key)
	if err != nil {
		return "", err
	}
	return v.ToString()
}

// Set writes a property.
func (o *Object) Set(key string, val *Value) error {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return err
	}
	gv, err := val.valueFor(o.ctx, errors.PhaseConvert)
	if err != nil {
		return err
	}
	return o.set(obj, key, gv)
}

// SetString writes a string property.
func (o *Object) SetString(key, s string) error {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return err
	}
	return o.set(obj, key, s)
}

func (o *Object) set(obj *goja.Object, key string, val any) error {
	var setErr error
	err := o.hs.iso.guard(errors.PhaseConvert, func() {
		setErr = obj.Set(key, val)
	})
	if err != nil {
		return err
	}
	if setErr != nil {
		return errors.Wrap(errors.PhaseConvert, errors.KindInvalidInput, setErr, "set property "+strconv.Quote(key))
	}
	return nil
}

// Delete removes a property.
func (o *Object) Delete(key string) error {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return err
	}
	var delErr error
	err = o.hs.iso.guard(errors.PhaseConvert, func() {
		delErr = obj.Delete(key)
	})
	if err != nil {
		return err
	}
	if delErr != nil {
		return errors.Wrap(errors.PhaseConvert, errors.KindInvalidInput, delErr, "delete property "+strconv.Quote(key))
	}
	return nil
}

// Has reports whether the property exists on the object or its prototypes.
func (o *Object) Has(key string) (bool, error) {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return false, err
	}
	var found bool
	err = o.hs.iso.guard(errors.PhaseConvert, func() {
		found = obj.Get(key) != nil
	})
	return found, err
}

// PropertyNames returns the own enumerable string keys.
func (o *Object) PropertyNames() ([]string, error) {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return nil, err
	}
	var keys []string
	err = o.hs.iso.guard(errors.PhaseConvert, func() {
		keys = obj.Keys()
	})
	return keys, err
}

// Freeze applies Object.freeze.
func (o *Object) Freeze() error {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return err
	}
	_, err = o.callBuiltin("Object", "freeze", obj)
	return err
}

// ToJSON serializes the object with JSON.stringify semantics.
func (o *Object) ToJSON() (string, error) {
	obj, err := o.object(errors.PhaseConvert)
	if err != nil {
		return "", err
	}
	var (
		out     []byte
		jsonErr error
	)
	err = o.hs.iso.guard(errors.PhaseConvert, func() {
		out, jsonErr = obj.MarshalJSON()
	})
	if err != nil {
		return "", err
	}
	if jsonErr != nil {
		return "", errors.Wrap(errors.PhaseConvert, errors.KindInvalidInput, jsonErr, "serialize object")
	}
	return string(out), nil
}

// callBuiltin calls global[owner][method] with the receiver set to
// global[owner] in the value's own context.
func (v *Value) callBuiltin(owner, method string, args ...goja.Value) (goja.Value, error) {
	ctx := v.ctx
	if ctx == nil || ctx.rt == nil {
		return nil, errors.NoActiveScope(errors.PhaseConvert, "context")
	}
	var out goja.Value
	err := v.hs.iso.guard(errors.PhaseConvert, func() {
		recv := ctx.rt.Get(owner).ToObject(ctx.rt)
		fn, ok := goja.AssertFunction(recv.Get(method))
		if !ok {
			panic(ctx.rt.NewTypeError(owner + "." + method + " is not a function"))
		}
		res, err := fn(recv, args...)
		if err != nil {
			panic(err)
		}
		out = res
	})
	return out, err
}

// callMethod calls obj[method](args...).
func (v *Value) callMethod(obj *goja.Object, method string, args ...goja.Value) (goja.Value, error) {
	var out goja.Value
	err := v.hs.iso.guard(errors.PhaseConvert, func() {
		fn, ok := goja.AssertFunction(obj.Get(method))
		if !ok {
			panic(v.ctx.rt.NewTypeError(method + " is not a function"))
		}
		res, err := fn(obj, args...)
		if err != nil {
			panic(err)
		}
		out = res
	})
	return out, err
}

// Array is a typed view of an array value.
type Array struct {
	*Object
}

// AsArray returns an array view.
func (v *Value) AsArray() (*Array, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsArray() {
		return nil, v.mismatch(errors.PhaseConvert, "array")
	}
	return &Array{Object: &Object{Value: v}}, nil
}

// Len returns the array length.
func (a *Array) Len() (int, error) {
	obj, err := a.object(errors.PhaseConvert)
	if err != nil {
		return 0, err
	}
	return int(obj.Get("length").ToInteger()), nil
}

// Get returns element i. Out-of-range reads fail with KindOutOfBounds.
func (a *Array) Get(i int) (*Value, error) {
	n, err := a.Len()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, errors.OutOfBounds(errors.PhaseConvert, nil, i, n)
	}
	return a.Object.Get(strconv.Itoa(i))
}

// Set writes element i, growing the array when i is past the end.
func (a *Array) Set(i int, val *Value) error {
	if i < 0 {
		return errors.OutOfBounds(errors.PhaseConvert, nil, i, 0)
	}
	return a.Object.Set(strconv.Itoa(i), val)
}

// Push appends values and returns the new length.
func (a *Array) Push(values ...*Value) (int, error) {
	obj, err := a.object(errors.PhaseConvert)
	if err != nil {
		return 0, err
	}
	args, err := convertArgs(a.ctx, errors.PhaseConvert, values)
	if err != nil {
		return 0, err
	}
	res, err := a.callMethod(obj, "push", args...)
	if err != nil {
		return 0, err
	}
	return int(res.ToInteger()), nil
}

// Set is a typed view of a Set value.
type Set struct {
	*Value
}

// AsSet returns a set view.
func (v *Value) AsSet() (*Set, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsSet() {
		return nil, v.mismatch(errors.PhaseConvert, "set")
	}
	return &Set{Value: v}, nil
}

// Add inserts val.
func (s *Set) Add(val *Value) error {
	obj, err := s.object(errors.PhaseConvert)
	if err != nil {
		return err
	}
	gv, err := val.valueFor(s.ctx, errors.PhaseConvert)
	if err != nil {
		return err
	}
	_, err = s.callMethod(obj, "add", gv)
	return err
}

// Has reports whether val is a member.
func (s *Set) Has(val *Value) (bool, error) {
	obj, err := s.object(errors.PhaseConvert)
	if err != nil {
		return false, err
	}
	gv, err := val.valueFor(s.ctx, errors.PhaseConvert)
	if err != nil {
		return false, err
	}
	res, err := s.callMethod(obj, "has", gv)
	if err != nil {
		return false, err
	}
	return res.ToBoolean(), nil
}

// Size returns the number of members.
func (s *Set) Size() (int, error) {
	obj, err := s.object(errors.PhaseConvert)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.hs.iso.guard(errors.PhaseConvert, func() {
		n = int(obj.Get("size").ToInteger())
	})
	return n, err
}

// Values returns the members in insertion order.
func (s *Set) Values() ([]*Value, error) {
	obj, err := s.object(errors.PhaseConvert)
	if err != nil {
		return nil, err
	}
	res, err := s.callBuiltin("Array", "from", obj)
	if err != nil {
		return nil, err
	}
	arr, ok := res.(*goja.Object)
	if !ok {
		return nil, errors.Unsupported(errors.PhaseConvert, "set iteration")
	}
	n := int(arr.Get("length").ToInteger())
	out := make([]*Value, n)
	for i := range n {
		out[i] = s.wrap(arr.Get(strconv.Itoa(i)))
	}
	return out, nil
}

// ArrayBuffer is a typed view of an ArrayBuffer value.
type ArrayBuffer struct {
	*Value
}

// AsArrayBuffer returns an array buffer view.
func (v *Value) AsArrayBuffer() (*ArrayBuffer, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsArrayBuffer() {
		return nil, v.mismatch(errors.PhaseConvert, "array buffer")
	}
	return &ArrayBuffer{Value: v}, nil
}

func (b *ArrayBuffer) buffer() (goja.ArrayBuffer, error) {
	obj, err := b.object(errors.PhaseConvert)
	if err != nil {
		return goja.ArrayBuffer{}, err
	}
	ab, ok := obj.Export().(goja.ArrayBuffer)
	if !ok {
		return goja.ArrayBuffer{}, b.mismatch(errors.PhaseConvert, "array buffer")
	}
	return ab, nil
}

// Len returns the byte length.
func (b *ArrayBuffer) Len() (int, error) {
	ab, err := b.buffer()
	if err != nil {
		return 0, err
	}
	return len(ab.Bytes()), nil
}

// Bytes returns the engine-owned backing memory. It is valid only while
// the buffer is reachable and must not be retained past the handle scope.
func (b *ArrayBuffer) Bytes() ([]byte, error) {
	ab, err := b.buffer()
	if err != nil {
		return nil, err
	}
	return ab.Bytes(), nil
}

// Copy copies the contents into allocator memory owned by the caller.
func (b *ArrayBuffer) Copy() (*Buffer, error) {
	ab, err := b.buffer()
	if err != nil {
		return nil, err
	}
	src := ab.Bytes()
	dst := engine.Allocator().Alloc(len(src))
	copy(dst, src)
	buf := newBuffer(b.hs.iso, dst)
	return &buf, nil
}
