package vm

import (
	"fmt"
	"strconv"

	"github.com/wippyai/js-runtime/errors"
)

// ArgType lists the Go types a native function argument converts to.
type ArgType interface {
	bool | int64 | float64 | string |
		*Value | *Object | *Array | *Set | *ArrayBuffer | *Function | *Promise | *External
}

// argumentError is thrown into script as a TypeError.
type argumentError struct {
	msg   string
	cause error
}

func (e *argumentError) Error() string { return e.msg }
func (e *argumentError) Unwrap() error { return e.cause }

// Arg converts argument i to T. A missing argument converts like
// undefined. Conversion failures are KindTypeMismatch errors that, when
// returned from a FunctionCallback, throw a TypeError.
func Arg[T ArgType](info *CallbackInfo, i int) (T, error) {
	out, err := convertArg[T](info.Arg(i))
	if err != nil {
		var zero T
		return zero, argError[T](i, "", err)
	}
	return out, nil
}

// OptionalArg is Arg for a trailing argument the caller may omit. ok is
// false when fewer than i+1 arguments were passed.
func OptionalArg[T ArgType](info *CallbackInfo, i int) (v T, ok bool, err error) {
	if i >= info.Len() {
		return v, false, nil
	}
	v, err = Arg[T](info, i)
	return v, err == nil, err
}

func convertArg[T ArgType](v *Value) (T, error) {
	var out T
	var err error
	switch p := any(&out).(type) {
	case *bool:
		*p, err = v.Bool()
	case *int64:
		*p, err = v.Long()
	case *float64:
		*p, err = v.Number()
	case *string:
		*p, err = v.Text()
	case **Value:
		*p, err = v, v.check(errors.PhaseConvert)
	case **Object:
		*p, err = v.AsObject()
	case **Array:
		*p, err = v.AsArray()
	case **Set:
		*p, err = v.AsSet()
	case **ArrayBuffer:
		*p, err = v.AsArrayBuffer()
	case **Function:
		*p, err = v.AsFunction()
	case **Promise:
		*p, err = v.AsPromise()
	case **External:
		*p, err = v.AsExternal()
	}
	return out, err
}

func argTypeName[T ArgType]() string {
	var zero T
	switch any(zero).(type) {
	case bool:
		return "boolean"
	case int64:
		return "integer"
	case float64:
		return "number"
	case string:
		return "string"
	case *Value:
		return "value"
	case *Object:
		return "object"
	case *Array:
		return "array"
	case *Set:
		return "set"
	case *ArrayBuffer:
		return "array buffer"
	case *Function:
		return "function"
	case *Promise:
		return "promise"
	case *External:
		return "external"
	}
	return fmt.Sprintf("%T", zero)
}

func argError[T ArgType](i int, name string, cause error) error {
	label := strconv.Itoa(i)
	if name != "" {
		label += " (" + name + ")"
	}
	detail := cause.Error()
	var fe *errors.Error
	if errors.As(cause, &fe) && fe.JSType != "" {
		detail = "got " + fe.JSType
	}
	return &argumentError{
		msg:   fmt.Sprintf("cannot convert argument %s to %s: %s", label, argTypeName[T](), detail),
		cause: cause,
	}
}

// Param declares one parameter of a typed native function.
type Param struct {
	Name     string
	Optional bool

	check func(i int, v *Value) error
}

// Required declares a parameter that must be passed and convert to T.
func Required[T ArgType](name string) Param {
	return Param{Name: name, check: paramCheck[T](name)}
}

// Optional declares a trailing parameter that may be omitted.
func Optional[T ArgType](name string) Param {
	return Param{Name: name, Optional: true, check: paramCheck[T](name)}
}

func paramCheck[T ArgType](name string) func(int, *Value) error {
	return func(i int, v *Value) error {
		if _, err := convertArg[T](v); err != nil {
			return argError[T](i, name, err)
		}
		return nil
	}
}

// Signature is the parameter list of a typed native function. Optional
// parameters come after every required one.
type Signature []Param

func (sig Signature) bounds() (lo, hi int, err error) {
	for i, p := range sig {
		if p.check == nil {
			return 0, 0, errors.InvalidInput(errors.PhaseCallback,
				fmt.Sprintf("parameter %d (%s) has no type; use Required or Optional", i, p.Name))
		}
		if !p.Optional {
			if lo < i {
				return 0, 0, errors.InvalidInput(errors.PhaseCallback,
					fmt.Sprintf("required parameter %d (%s) follows an optional one", i, p.Name))
			}
			lo++
		}
	}
	return lo, len(sig), nil
}

// validate checks the argument count and converts every passed argument.
func (sig Signature) validate(info *CallbackInfo, lo, hi int) error {
	n := info.Len()
	if n < lo || n > hi {
		msg := arityMessage(lo, hi, n)
		return &argumentError{msg: msg, cause: errors.InvalidInput(errors.PhaseCallback, msg)}
	}
	for i := 0; i < n; i++ {
		if err := sig[i].check(i, info.Arg(i)); err != nil {
			return err
		}
	}
	return nil
}

func arityMessage(lo, hi, got int) string {
	if lo == hi {
		return fmt.Sprintf("wrong number of arguments: expected %d, got %d", lo, got)
	}
	return fmt.Sprintf("wrong number of arguments: expected %d to %d, got %d", lo, hi, got)
}

// NewTypedFunction is NewFunction with a declared signature. Before fn
// runs, the argument count is checked against sig and every passed
// argument is converted; a failure throws a TypeError and fn is not
// called. Inside fn, Arg and OptionalArg with the declared types succeed.
func (cs *ContextScope) NewTypedFunction(name string, sig Signature, fn FunctionCallback, destructor func()) (*Value, error) {
	if err := cs.check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, cs.iso().violation(errors.NilPointer(errors.PhaseCallback, []string{name}, "vm.FunctionCallback"))
	}
	lo, hi, err := sig.bounds()
	if err != nil {
		return nil, errors.Registration(name, err)
	}
	params := append(Signature(nil), sig...)
	return cs.ctx.newNativeFunction(cs.locals(), name, func(info *CallbackInfo) (*Value, error) {
		if err := params.validate(info, lo, hi); err != nil {
			return nil, err
		}
		return fn(info)
	}, destructor)
}
