package vm

import (
	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// FunctionCallback implements a native function. A returned error is
// thrown into script; use Throw to throw a specific value. A nil Value
// returns undefined.
type FunctionCallback func(info *CallbackInfo) (*Value, error)

// CallbackInfo describes one invocation of a native function. It and every
// value it hands out are valid only until the callback returns.
type CallbackInfo struct {
	call goja.FunctionCall
	s    *IsolateScope
	hs   *HandleScope
	cs   *ContextScope
	args []*Value
	this *Value
}

// Len returns the number of arguments.
func (info *CallbackInfo) Len() int {
	return len(info.call.Arguments)
}

// Arg returns argument i, or undefined when out of range.
func (info *CallbackInfo) Arg(i int) *Value {
	if i < 0 || i >= len(info.call.Arguments) {
		return info.hs.newValue(nil, goja.Undefined())
	}
	return info.Args()[i]
}

// Args returns all arguments.
func (info *CallbackInfo) Args() []*Value {
	if info.args == nil {
		info.args = make([]*Value, len(info.call.Arguments))
		for i, a := range info.call.Arguments {
			info.args[i] = info.hs.newValue(info.cs.ctx, a)
		}
	}
	return info.args
}

// This returns the receiver.
func (info *CallbackInfo) This() *Value {
	if info.this == nil {
		info.this = info.hs.newValue(info.cs.ctx, info.call.This)
	}
	return info.this
}

// Isolate returns the isolate running the callback.
func (info *CallbackInfo) Isolate() *Isolate { return info.s.iso }

// IsolateScope returns the innermost isolate scope.
func (info *CallbackInfo) IsolateScope() *IsolateScope { return info.s }

// HandleScope returns the per-call handle scope.
func (info *CallbackInfo) HandleScope() *HandleScope { return info.hs }

// ContextScope returns the entered context the function was created in.
func (info *CallbackInfo) ContextScope() *ContextScope { return info.cs }

// thrownError asks the trampoline to throw a specific value.
type thrownError struct {
	val goja.Value
	ctx *Context
}

func (e *thrownError) Error() string {
	return "thrown: " + safeString(e.val)
}

// Throw returns an error that, when returned from a FunctionCallback,
// throws v into script unchanged.
func Throw(v *Value) error {
	gv, err := v.gojaValue(errors.PhaseCallback)
	if err != nil {
		return err
	}
	return &thrownError{val: gv, ctx: v.ctx}
}

// NewFunction exposes fn to script as a function named name. destructor
// runs exactly once, after the engine can no longer reach the function or
// when the isolate is disposed.
func (cs *ContextScope) NewFunction(name string, fn FunctionCallback, destructor func()) (*Value, error) {
	if err := cs.check(errors.PhaseCallback); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, cs.iso().violation(errors.NilPointer(errors.PhaseCallback, []string{name}, "vm.FunctionCallback"))
	}
	return cs.ctx.newNativeFunction(cs.locals(), name, fn, destructor)
}

func (ctx *Context) newNativeFunction(hs *HandleScope, name string, fn FunctionCallback, destructor func()) (*Value, error) {
	iso := ctx.iso
	rec := &registration{
		ctx:        ctx,
		name:       name,
		callback:   fn,
		destructor: destructor,
	}
	h, err := iso.register(typeCallback, rec)
	if err != nil {
		return nil, err
	}

	obj, ok := ctx.rt.ToValue(iso.trampoline(ctx, h)).(*goja.Object)
	if !ok {
		iso.callbacks.Retire(h, resource.RetireExplicit)
		return nil, errors.Registration(name, errors.Unsupported(errors.PhaseCallback, "function wrapper"))
	}
	if name != "" {
		_ = obj.DefineDataProperty("name", ctx.rt.ToValue(name), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
	iso.attachWeak(h, rec, obj)
	return hs.newValue(ctx, obj), nil
}

// trampoline is the engine-visible body of a native function. It captures
// the registry handle, never the wrapper object.
func (iso *Isolate) trampoline(ctx *Context, h resource.Handle) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		rec, ok := iso.lookup(h, typeCallback)
		if !ok {
			panic(ctx.rt.NewTypeError("native function has been released"))
		}
		return iso.invoke(ctx, rec, call)
	}
}

// invoke runs a registration on the executing goroutine with a per-call
// handle scope and the function's context entered.
func (iso *Isolate) invoke(ctx *Context, rec *registration, call goja.FunctionCall) goja.Value {
	s := iso.currentIsolateScope()
	if s == nil || ctx.disposed {
		panic(ctx.rt.NewTypeError("native function called outside an entered isolate"))
	}
	iso.retirePending()

	base := len(iso.stack)
	catches := len(iso.tryCatches)
	defer func() {
		if p := recover(); p != nil {
			iso.closeFrames(base, false)
			iso.dropTryCatches(catches, false)
			panic(p)
		}
	}()

	hs, err := NewHandleScope(s)
	if err != nil {
		panic(ctx.rt.NewGoError(err))
	}
	cs, err := ctx.Enter(hs)
	if err != nil {
		iso.closeFrames(base, false)
		panic(ctx.rt.NewGoError(err))
	}

	info := &CallbackInfo{call: call, s: s, hs: hs, cs: cs}
	result, cbErr := iso.callHost(rec, info)

	ret := goja.Undefined()
	if cbErr == nil && result != nil {
		gv, err := result.valueFor(ctx, errors.PhaseCallback)
		if err != nil {
			cbErr = err
		} else {
			ret = gv
		}
	}

	if len(iso.stack) > base+2 {
		iso.closeFrames(base+2, true)
	}
	iso.dropTryCatches(catches, true)
	_ = cs.Exit()
	_ = hs.Close()

	if cbErr != nil {
		return iso.throw(ctx, cbErr)
	}
	return ret
}

// callHost calls the host callback, converting host panics to errors.
// Engine panics and fatal errors keep unwinding.
func (iso *Isolate) callHost(rec *registration, info *CallbackInfo) (res *Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			if isEnginePanic(p) {
				panic(p)
			}
			if fe, ok := p.(*errors.Error); ok && fe.Kind == errors.KindFatal {
				panic(p)
			}
			iso.log.Error("native function panicked",
				zap.String("function", rec.name),
				zap.Any("panic", p))
			err = errors.New(errors.PhaseCallback, errors.KindException).
				Path(rec.name).
				Detail("native function panicked: %v", p).
				Build()
		}
	}()
	return rec.callback(info)
}

// throw raises err in script. Termination is re-armed instead of thrown so
// script cannot catch it.
func (iso *Isolate) throw(ctx *Context, err error) goja.Value {
	if errors.HasKind(err, errors.KindTerminated) || errors.HasKind(err, errors.KindOutOfMemory) {
		if iso.poisoned.Load() {
			ctx.rt.Interrupt(oomMarker)
		} else {
			iso.terminating.Store(true)
			ctx.rt.Interrupt(terminationMarker)
		}
		return goja.Undefined()
	}

	var ae *argumentError
	if errors.As(err, &ae) {
		panic(ctx.rt.NewTypeError("%s", ae.msg))
	}

	var te *thrownError
	if errors.As(err, &te) {
		if te.ctx != nil && te.ctx != ctx {
			panic(ctx.rt.NewTypeError("thrown value belongs to another context"))
		}
		panic(te.val)
	}
	panic(ctx.rt.NewGoError(err))
}

// Function is a typed view of a callable value.
type Function struct {
	*Value
}

// AsFunction returns a function view.
func (v *Value) AsFunction() (*Function, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsFunction() {
		return nil, v.mismatch(errors.PhaseConvert, "function")
	}
	return &Function{Value: v}, nil
}

// Call calls the value as a function with the given receiver. A nil this
// means undefined.
func (v *Value) Call(cs *ContextScope, this *Value, args ...*Value) (*Value, error) {
	if err := cs.check(errors.PhaseExecute); err != nil {
		return nil, err
	}
	ctx := cs.ctx
	fnVal, err := v.valueFor(ctx, errors.PhaseExecute)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		return nil, v.mismatch(errors.PhaseExecute, "function")
	}

	thisVal := goja.Undefined()
	if this != nil {
		if thisVal, err = this.valueFor(ctx, errors.PhaseExecute); err != nil {
			return nil, err
		}
	}
	argv, err := convertArgs(ctx, errors.PhaseExecute, args)
	if err != nil {
		return nil, err
	}

	res, err := cs.iso().execute(ctx, errors.PhaseExecute, func(*goja.Runtime) (goja.Value, error) {
		return fn(thisVal, argv...)
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(ctx, res), nil
}

// NewInstance calls the function as a constructor.
func (f *Function) NewInstance(cs *ContextScope, args ...*Value) (*Value, error) {
	if err := cs.check(errors.PhaseExecute); err != nil {
		return nil, err
	}
	ctx := cs.ctx
	ctor, err := f.valueFor(ctx, errors.PhaseExecute)
	if err != nil {
		return nil, err
	}
	argv, err := convertArgs(ctx, errors.PhaseExecute, args)
	if err != nil {
		return nil, err
	}

	res, err := cs.iso().execute(ctx, errors.PhaseExecute, func(rt *goja.Runtime) (goja.Value, error) {
		return rt.New(ctor, argv...)
	})
	if err != nil {
		return nil, err
	}
	return cs.locals().newValue(ctx, res), nil
}

func convertArgs(ctx *Context, phase errors.Phase, args []*Value) ([]goja.Value, error) {
	out := make([]goja.Value, len(args))
	for i, a := range args {
		gv, err := a.valueFor(ctx, phase)
		if err != nil {
			return nil, err
		}
		out[i] = gv
	}
	return out, nil
}
