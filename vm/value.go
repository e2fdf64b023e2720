package vm

import (
	"math"
	"math/big"
	"reflect"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
)

// ValueKind is the dynamic type tag of a Value.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindNull
	KindBool
	KindNumber
	KindBigInt
	KindString
	KindSymbol
	KindStringObject
	KindObject
	KindArray
	KindArrayBuffer
	KindSet
	KindFunction
	KindAsyncFunction
	KindPromise
	KindExternal
)

var kindNames = [...]string{
	KindUndefined:     "undefined",
	KindNull:          "null",
	KindBool:          "boolean",
	KindNumber:        "number",
	KindBigInt:        "bigint",
	KindString:        "string",
	KindSymbol:        "symbol",
	KindStringObject:  "String",
	KindObject:        "Object",
	KindArray:         "Array",
	KindArrayBuffer:   "ArrayBuffer",
	KindSet:           "Set",
	KindFunction:      "Function",
	KindAsyncFunction: "AsyncFunction",
	KindPromise:       "Promise",
	KindExternal:      "External",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsObject reports whether values of this kind are engine objects.
func (k ValueKind) IsObject() bool {
	return k >= KindStringObject
}

var (
	typeBigInt      = reflect.TypeOf((*big.Int)(nil))
	typeArrayBuffer = reflect.TypeOf(goja.ArrayBuffer{})
	typePromise     = reflect.TypeOf((*goja.Promise)(nil))
	typeSlice       = reflect.TypeOf([]any(nil))
	typeExternalBox = reflect.TypeOf((*externalBox)(nil))
)

func undefinedValue() goja.Value { return goja.Undefined() }
func nullValue() goja.Value      { return goja.Null() }

// classify derives the kind tag of an engine value. ctx is the realm the
// value belongs to; it is needed to recognise Set instances and may be nil
// for primitives.
func classify(ctx *Context, v goja.Value) ValueKind {
	if v == nil || goja.IsUndefined(v) {
		return KindUndefined
	}
	if goja.IsNull(v) {
		return KindNull
	}
	if _, ok := v.(*goja.Symbol); ok {
		return KindSymbol
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		t := v.ExportType()
		if t == nil {
			return KindUndefined
		}
		if t == typeBigInt {
			return KindBigInt
		}
		switch t.Kind() {
		case reflect.Bool:
			return KindBool
		case reflect.String:
			return KindString
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return KindNumber
		}
		return KindUndefined
	}

	switch obj.ExportType() {
	case typeArrayBuffer:
		return KindArrayBuffer
	case typePromise:
		return KindPromise
	case typeExternalBox:
		return KindExternal
	}

	switch obj.ClassName() {
	case "Array":
		return KindArray
	case "String":
		return KindStringObject
	case "Function":
		if tag := obj.GetSymbol(goja.SymToStringTag); tag != nil && tag.String() == "AsyncFunction" {
			return KindAsyncFunction
		}
		return KindFunction
	}
	if _, ok := goja.AssertFunction(obj); ok {
		return KindFunction
	}
	if isSet(ctx, obj) {
		return KindSet
	}
	return KindObject
}

// isSet reports whether obj is a Set of ctx's realm. Sets export as slices,
// like arrays, and inherit from the realm's original Set.prototype.
func isSet(ctx *Context, obj *goja.Object) bool {
	if ctx == nil || ctx.setProto == nil || obj.ExportType() != typeSlice {
		return false
	}
	for p := obj.Prototype(); p != nil; p = p.Prototype() {
		if p == ctx.setProto {
			return true
		}
	}
	return false
}

// Value is a local handle to an engine value, tagged with its kind. It is
// valid until the handle scope that created it closes.
type Value struct {
	val  goja.Value
	hs   *HandleScope
	ctx  *Context
	kind ValueKind
}

// newValue wraps v as a local of hs. ctx is the realm that owns object
// values and may be nil for primitives.
func (hs *HandleScope) newValue(ctx *Context, v goja.Value) *Value {
	if v == nil {
		v = goja.Undefined()
	}
	out := &Value{val: v, hs: hs, kind: classify(ctx, v)}
	if out.kind.IsObject() {
		out.ctx = ctx
	}
	hs.track(out)
	return out
}

func (v *Value) invalidate() {
	v.val = nil
	v.ctx = nil
}

// check validates that the value's scope is still open.
func (v *Value) check(phase errors.Phase) error {
	if v == nil {
		return errors.NilPointer(phase, nil, "*vm.Value")
	}
	if v.hs == nil {
		return errors.NoActiveScope(phase, "value")
	}
	if err := v.hs.check(phase); err != nil {
		return err
	}
	if v.ctx != nil && v.ctx.disposed {
		return v.hs.iso.violation(errors.Disposed(phase, "context"))
	}
	return nil
}

// mismatch reports a failed typed conversion.
func (v *Value) mismatch(phase errors.Phase, want string) error {
	return errors.TypeMismatch(phase, nil, want, v.kind.String())
}

// Kind returns the dynamic type tag.
func (v *Value) Kind() ValueKind { return v.kind }

// Context returns the realm owning an object value, or nil for primitives.
func (v *Value) Context() *Context { return v.ctx }

func (v *Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v *Value) IsNull() bool      { return v.kind == KindNull }
func (v *Value) IsNullOrUndefined() bool {
	return v.kind == KindUndefined || v.kind == KindNull
}
func (v *Value) IsBool() bool          { return v.kind == KindBool }
func (v *Value) IsNumber() bool        { return v.kind == KindNumber }
func (v *Value) IsBigInt() bool        { return v.kind == KindBigInt }
func (v *Value) IsString() bool        { return v.kind == KindString }
func (v *Value) IsSymbol() bool        { return v.kind == KindSymbol }
func (v *Value) IsStringObject() bool  { return v.kind == KindStringObject }
func (v *Value) IsObject() bool        { return v.kind.IsObject() }
func (v *Value) IsArray() bool         { return v.kind == KindArray }
func (v *Value) IsArrayBuffer() bool   { return v.kind == KindArrayBuffer }
func (v *Value) IsSet() bool           { return v.kind == KindSet }
func (v *Value) IsPromise() bool       { return v.kind == KindPromise }
func (v *Value) IsExternal() bool      { return v.kind == KindExternal }
func (v *Value) IsAsyncFunction() bool { return v.kind == KindAsyncFunction }
func (v *Value) IsFunction() bool {
	return v.kind == KindFunction || v.kind == KindAsyncFunction
}

// IsLong reports whether the value is a number with an exact int64 value.
func (v *Value) IsLong() bool {
	if v.kind != KindNumber || v.val == nil {
		return false
	}
	f := v.val.ToFloat()
	return f == math.Trunc(f) && f >= math.MinInt64 && f <= math.MaxInt64
}

// Number returns the numeric value.
func (v *Value) Number() (float64, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return 0, err
	}
	if v.kind != KindNumber {
		return 0, v.mismatch(errors.PhaseConvert, "float64")
	}
	return v.val.ToFloat(), nil
}

// Long returns the numeric value truncated to an integer.
func (v *Value) Long() (int64, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return 0, err
	}
	if v.kind != KindNumber && v.kind != KindBigInt {
		return 0, v.mismatch(errors.PhaseConvert, "int64")
	}
	return v.val.ToInteger(), nil
}

// Bool returns the boolean value.
func (v *Value) Bool() (bool, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return false, err
	}
	if v.kind != KindBool {
		return false, v.mismatch(errors.PhaseConvert, "bool")
	}
	return v.val.ToBoolean(), nil
}

// Text returns the value of a string primitive. Other kinds fail with
// KindTypeMismatch; use ToString to convert them.
func (v *Value) Text() (string, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return "", err
	}
	if v.kind != KindString {
		return "", v.mismatch(errors.PhaseConvert, "string")
	}
	return v.val.String(), nil
}

// ToString converts the value to a string the way String(v) does in
// script. A throwing toString fails with the thrown error.
func (v *Value) ToString() (string, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return "", err
	}
	var out string
	err := v.hs.iso.guard(errors.PhaseConvert, func() {
		out = v.val.String()
	})
	return out, err
}

// String implements fmt.Stringer. It returns "" for invalid values.
func (v *Value) String() string {
	s, err := v.ToString()
	if err != nil {
		return ""
	}
	return s
}

// Export returns the value as a plain Go value.
func (v *Value) Export() (any, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	var out any
	err := v.hs.iso.guard(errors.PhaseConvert, func() {
		out = v.val.Export()
	})
	return out, err
}

// StrictEquals compares with === semantics.
func (v *Value) StrictEquals(other *Value) (bool, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return false, err
	}
	if err := other.check(errors.PhaseConvert); err != nil {
		return false, err
	}
	return v.val.StrictEquals(other.val), nil
}

// SameValue compares with Object.is semantics.
func (v *Value) SameValue(other *Value) (bool, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return false, err
	}
	if err := other.check(errors.PhaseConvert); err != nil {
		return false, err
	}
	return v.val.SameAs(other.val), nil
}

// ToUtf8 copies the string form of the value into allocator memory.
// The caller must Free the result.
func (v *Value) ToUtf8() (*Utf8, error) {
	s, err := v.ToString()
	if err != nil {
		return nil, err
	}
	return &Utf8{Buffer: newBuffer(v.hs.iso, engine.Allocator().Strdup(s))}, nil
}

// gojaValue returns the engine value after validating the scope.
func (v *Value) gojaValue(phase errors.Phase) (goja.Value, error) {
	if err := v.check(phase); err != nil {
		return nil, err
	}
	return v.val, nil
}

// valueFor returns the engine value of v for use inside ctx, rejecting
// objects that belong to another realm.
func (v *Value) valueFor(ctx *Context, phase errors.Phase) (goja.Value, error) {
	gv, err := v.gojaValue(phase)
	if err != nil {
		return nil, err
	}
	if v.ctx != nil && ctx != nil && v.ctx != ctx {
		return nil, v.hs.iso.violation(errors.New(phase, errors.KindWrongContext).
			Detail("object value belongs to another context").
			Build())
	}
	return gv, nil
}

// Buffer is host memory obtained from the platform allocator. It must be
// freed exactly once.
type Buffer struct {
	iso   *Isolate
	data  []byte
	freed bool
}

func newBuffer(iso *Isolate, b []byte) Buffer {
	return Buffer{iso: iso, data: b}
}

// Bytes returns the buffer contents. Invalid after Free.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the buffer length.
func (b *Buffer) Len() int { return len(b.data) }

// Free returns the memory to the allocator.
func (b *Buffer) Free() error {
	if b.freed {
		return b.iso.violation(errors.DoubleFree(errors.PhaseConvert, "buffer"))
	}
	b.freed = true
	engine.Allocator().Free(b.data)
	b.data = nil
	return nil
}

// Utf8 is a UTF-8 copy of an engine string in allocator memory.
type Utf8 struct {
	Buffer
}

// String returns a Go copy of the text.
func (u *Utf8) String() string { return string(u.data) }
