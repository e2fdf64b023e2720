package vm

import (
	"github.com/dop251/goja"

	"github.com/wippyai/js-runtime/errors"
)

// PromiseState is the settlement state of a promise.
type PromiseState int

const (
	PromisePending PromiseState = iota
	PromiseFulfilled
	PromiseRejected
)

func (s PromiseState) String() string {
	switch s {
	case PromiseFulfilled:
		return "fulfilled"
	case PromiseRejected:
		return "rejected"
	default:
		return "pending"
	}
}

// resolvingFunctions live on the promise object under the context's
// resolverKey, so a promise value can be turned back into its Resolver and
// an unreferenced pending promise is collected together with them.
type resolvingFunctions struct {
	promise *goja.Promise
	resolve func(any) error
	reject  func(any) error
}

// Resolver settles a promise created by the host. Only the first
// transition takes effect; later ones are no-ops.
type Resolver struct {
	*Value
	fns *resolvingFunctions
}

// NewResolver creates a pending promise and its resolver.
func (cs *ContextScope) NewResolver() (*Resolver, error) {
	if err := cs.check(errors.PhasePromise); err != nil {
		return nil, err
	}
	rt := cs.ctx.rt
	p, resolve, reject := rt.NewPromise()
	fns := &resolvingFunctions{promise: p, resolve: resolve, reject: reject}

	obj, ok := rt.ToValue(p).(*goja.Object)
	if !ok {
		return nil, errors.Unsupported(errors.PhasePromise, "promise")
	}
	err := obj.DefineDataPropertySymbol(cs.ctx.resolverKey, rt.ToValue(fns), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	if err != nil {
		return nil, errors.Wrap(errors.PhasePromise, errors.KindAllocation, err, "attach resolver")
	}
	return &Resolver{Value: cs.newObjectValue(obj), fns: fns}, nil
}

// AsResolver returns the resolver of a pending promise created with
// NewResolver.
func (v *Value) AsResolver() (*Resolver, error) {
	obj, err := v.object(errors.PhaseConvert)
	if err != nil {
		return nil, err
	}
	if !v.IsPromise() {
		return nil, v.mismatch(errors.PhaseConvert, "resolver")
	}
	var fns *resolvingFunctions
	if held := obj.GetSymbol(v.ctx.resolverKey); held != nil {
		fns, _ = held.Export().(*resolvingFunctions)
	}
	if fns == nil || fns.promise.State() != goja.PromiseStatePending {
		return nil, v.mismatch(errors.PhaseConvert, "resolver")
	}
	return &Resolver{Value: v, fns: fns}, nil
}

// Promise returns the resolver's promise.
func (r *Resolver) Promise() (*Promise, error) {
	if err := r.check(errors.PhasePromise); err != nil {
		return nil, err
	}
	return &Promise{Value: r.Value}, nil
}

// Resolve fulfills the promise with v. A no-op once settled.
func (r *Resolver) Resolve(v *Value) error {
	return r.settle(v, r.fns.resolve)
}

// Reject rejects the promise with v. A no-op once settled.
func (r *Resolver) Reject(v *Value) error {
	return r.settle(v, r.fns.reject)
}

func (r *Resolver) settle(v *Value, fn func(any) error) error {
	if err := r.check(errors.PhasePromise); err != nil {
		return err
	}
	gv, err := v.valueFor(r.ctx, errors.PhasePromise)
	if err != nil {
		return err
	}
	if r.fns.promise.State() != goja.PromiseStatePending {
		return nil
	}

	iso := r.hs.iso
	err = iso.guard(errors.PhasePromise, func() {
		if serr := fn(gv); serr != nil {
			panic(r.ctx.rt.NewGoError(serr))
		}
	})
	if err != nil {
		return err
	}
	if iso.execDepth == 0 {
		return r.ctx.drainJobs()
	}
	return nil
}

// drainJobs runs queued promise jobs. goja runs its job queue whenever
// the outermost run returns, so an empty program flushes it.
func (ctx *Context) drainJobs() error {
	_, err := ctx.iso.execute(ctx, errors.PhasePromise, func(rt *goja.Runtime) (goja.Value, error) {
		return rt.RunProgram(emptyProgram)
	})
	return err
}

// Promise is a typed view of a promise value.
type Promise struct {
	*Value
}

// AsPromise returns a promise view.
func (v *Value) AsPromise() (*Promise, error) {
	if err := v.check(errors.PhaseConvert); err != nil {
		return nil, err
	}
	if !v.IsPromise() {
		return nil, v.mismatch(errors.PhaseConvert, "promise")
	}
	return &Promise{Value: v}, nil
}

func (p *Promise) promise() (*goja.Promise, error) {
	obj, err := p.object(errors.PhasePromise)
	if err != nil {
		return nil, err
	}
	gp, ok := obj.Export().(*goja.Promise)
	if !ok {
		return nil, p.mismatch(errors.PhasePromise, "promise")
	}
	return gp, nil
}

// State returns the settlement state.
func (p *Promise) State() (PromiseState, error) {
	gp, err := p.promise()
	if err != nil {
		return PromisePending, err
	}
	switch gp.State() {
	case goja.PromiseStateFulfilled:
		return PromiseFulfilled, nil
	case goja.PromiseStateRejected:
		return PromiseRejected, nil
	default:
		return PromisePending, nil
	}
}

// Result returns the fulfillment value or rejection reason. Pending
// promises yield undefined.
func (p *Promise) Result() (*Value, error) {
	gp, err := p.promise()
	if err != nil {
		return nil, err
	}
	return p.wrap(gp.Result()), nil
}

// Then attaches reactions and returns the derived promise. Either
// callback may be nil.
func (p *Promise) Then(cs *ContextScope, onFulfilled, onRejected FunctionCallback) (*Promise, error) {
	if err := cs.check(errors.PhasePromise); err != nil {
		return nil, err
	}
	obj, err := p.object(errors.PhasePromise)
	if err != nil {
		return nil, err
	}
	if p.ctx != cs.ctx {
		return nil, cs.iso().violation(errors.New(errors.PhasePromise, errors.KindWrongContext).
			Detail("promise belongs to another context").
			Build())
	}

	args := make([]goja.Value, 2)
	for i, cb := range []FunctionCallback{onFulfilled, onRejected} {
		if cb == nil {
			args[i] = goja.Undefined()
			continue
		}
		fn, err := cs.NewFunction("", cb, nil)
		if err != nil {
			return nil, err
		}
		args[i] = fn.val
	}

	res, err := p.callMethod(obj, "then", args...)
	if err != nil {
		return nil, err
	}
	return &Promise{Value: cs.locals().newValue(cs.ctx, res)}, nil
}
