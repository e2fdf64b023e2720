package vm

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

// ObjectTemplate describes an object to build in a context: native
// functions, nested objects and plain values. Templates are not tied to a
// context and may be instantiated any number of times.
type ObjectTemplate struct {
	props []templateProp
}

type templateProp struct {
	name  string
	value any
}

// NewObjectTemplate returns an empty template.
func NewObjectTemplate() *ObjectTemplate {
	return &ObjectTemplate{}
}

// Set adds a property. value may be a *FunctionTemplate, an
// *ObjectTemplate, nil, or a bool, string or number. Later entries with
// the same name win.
func (t *ObjectTemplate) Set(name string, value any) *ObjectTemplate {
	t.props = append(t.props, templateProp{name: name, value: value})
	return t
}

// NewInstance builds an object from the template in the entered context.
func (t *ObjectTemplate) NewInstance(cs *ContextScope) (*Value, error) {
	if err := cs.check(errors.PhaseContext); err != nil {
		return nil, err
	}
	obj := cs.ctx.rt.NewObject()
	if err := t.apply(cs, obj); err != nil {
		return nil, err
	}
	return cs.newObjectValue(obj), nil
}

// apply installs the template's properties on obj.
func (t *ObjectTemplate) apply(cs *ContextScope, obj *goja.Object) error {
	rt := cs.ctx.rt
	for _, p := range t.props {
		var val goja.Value
		switch v := p.value.(type) {
		case *FunctionTemplate:
			fn, err := v.instantiate(cs, p.name)
			if err != nil {
				return err
			}
			val = fn.val
		case *ObjectTemplate:
			nested := rt.NewObject()
			if err := v.apply(cs, nested); err != nil {
				return err
			}
			val = nested
		case nil:
			val = goja.Null()
		case bool, string, int, int32, int64, uint32, float64:
			val = rt.ToValue(v)
		default:
			return errors.TypeMismatch(errors.PhaseContext, []string{p.name}, fmt.Sprintf("%T", v), "template value")
		}
		if err := obj.Set(p.name, val); err != nil {
			return errors.Wrap(errors.PhaseContext, errors.KindInvalidInput, err, "install "+p.name)
		}
	}
	return nil
}

// FunctionTemplate describes a native function that can be instantiated
// in any context of its isolate. Every instance is a separate registration
// and runs destructor once when retired.
type FunctionTemplate struct {
	iso        *Isolate
	fn         FunctionCallback
	destructor func()
	name       string
}

// NewFunctionTemplate returns a template for fn.
func NewFunctionTemplate(s *IsolateScope, fn FunctionCallback, destructor func()) (*FunctionTemplate, error) {
	if err := s.check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, s.iso.violation(errors.NilPointer(errors.PhaseCallback, nil, "vm.FunctionCallback"))
	}
	return &FunctionTemplate{iso: s.iso, fn: fn, destructor: destructor}, nil
}

// SetName sets the name instances report. Defaults to the property name
// the template is installed under.
func (t *FunctionTemplate) SetName(name string) *FunctionTemplate {
	t.name = name
	return t
}

// ToFunction instantiates the template in the entered context.
func (t *FunctionTemplate) ToFunction(cs *ContextScope) (*Value, error) {
	if err := cs.check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	return t.instantiate(cs, t.name)
}

func (t *FunctionTemplate) instantiate(cs *ContextScope, name string) (*Value, error) {
	if cs.iso() != t.iso {
		return nil, cs.iso().violation(errors.New(errors.PhaseCallback, errors.KindWrongIsolate).
			Detail("function template belongs to isolate %d", t.iso.id).
			Build())
	}
	if t.name != "" {
		name = t.name
	}
	return cs.ctx.newNativeFunction(cs.locals(), name, t.fn, t.destructor)
}
