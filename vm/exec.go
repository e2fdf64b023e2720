package vm

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
)

// interruptMarker is the value passed to goja's Interrupt so the resulting
// InterruptedError can be told apart from other interrupts.
type interruptMarker string

const (
	terminationMarker interruptMarker = "execution terminated"
	oomMarker         interruptMarker = "heap limit exceeded"
)

const gojaPkgPath = "github.com/dop251/goja"

type execResult struct {
	val      goja.Value
	err      error
	panicVal any
	panicked bool
}

// execute runs fn against ctx's realm.
//
// A top-level execution runs fn on a helper goroutine while the calling
// goroutine, which holds the isolate lock, dispatches interrupt callbacks
// and samples the heap until fn returns. Executions started from inside a
// native callback run inline on the helper goroutine.
func (iso *Isolate) execute(ctx *Context, phase errors.Phase, fn func(rt *goja.Runtime) (goja.Value, error)) (goja.Value, error) {
	if iso.poisoned.Load() {
		iso.record(failure{ctx: ctx, terminated: true, message: string(oomMarker)})
		return nil, errors.OutOfMemory(phase, iso.heapLimitValue())
	}
	rt := ctx.rt

	if iso.execDepth > 0 {
		iso.execDepth++
		iso.enterRuntime(rt)
		r := runGuarded(rt, fn)
		iso.leaveRuntime()
		iso.execDepth--

		if r.panicked {
			panic(r.panicVal)
		}
		if r.err != nil {
			return nil, iso.fail(ctx, phase, r.err)
		}
		return r.val, nil
	}

	iso.execDepth = 1
	iso.enterRuntime(rt)
	iso.retirePending()

	done := make(chan execResult, 1)
	go func() {
		done <- runGuarded(rt, fn)
	}()

	ticker := time.NewTicker(iso.opts.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-done:
			iso.leaveRuntime()
			iso.clearInterrupts(ctx)
			iso.execDepth = 0
			iso.retirePending()

			var ie *goja.InterruptedError
			if errors.As(r.err, &ie) {
				iso.terminating.Store(false)
			}

			if r.panicked {
				panic(r.panicVal)
			}
			if r.err != nil {
				return nil, iso.fail(ctx, phase, r.err)
			}
			return r.val, nil
		case <-iso.interruptSig:
			iso.runInterrupts()
		case <-ticker.C:
			iso.checkHeap()
		}
	}
}

// runGuarded calls fn and turns engine panics into errors. Other panics are
// carried back to the caller to be re-raised on its goroutine.
func runGuarded(rt *goja.Runtime, fn func(rt *goja.Runtime) (goja.Value, error)) (r execResult) {
	defer func() {
		if p := recover(); p != nil {
			switch x := p.(type) {
			case *goja.Exception:
				r.err = x
			case *goja.InterruptedError:
				r.err = x
			case goja.Value:
				r.err = thrownValue{val: x}
			default:
				r.panicked = true
				r.panicVal = p
			}
		}
	}()
	r.val, r.err = fn(rt)
	return r
}

// guard runs fn on the current goroutine, for host-side property access
// that may call into script through accessors or toString.
func (iso *Isolate) guard(phase errors.Phase, fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			switch x := p.(type) {
			case *goja.Exception:
				err = iso.fail(nil, phase, x)
			case *goja.InterruptedError:
				err = iso.fail(nil, phase, x)
			case goja.Value:
				err = iso.fail(nil, phase, thrownValue{val: x})
			default:
				panic(p)
			}
		}
	}()
	fn()
	return nil
}

func (iso *Isolate) enterRuntime(rt *goja.Runtime) {
	iso.execMu.Lock()
	defer iso.execMu.Unlock()
	iso.running = append(iso.running, rt)
	if iso.poisoned.Load() {
		rt.Interrupt(oomMarker)
	} else if iso.terminating.Load() {
		rt.Interrupt(terminationMarker)
	}
}

func (iso *Isolate) leaveRuntime() {
	iso.execMu.Lock()
	defer iso.execMu.Unlock()
	n := len(iso.running)
	iso.running[n-1] = nil
	iso.running = iso.running[:n-1]
}

// clearInterrupts drops interrupts that were delivered to realms but never
// observed. A pending termination is re-armed by the next execution.
func (iso *Isolate) clearInterrupts(ctx *Context) {
	ctx.rt.ClearInterrupt()
	for c := range iso.contexts {
		if c.rt != nil {
			c.rt.ClearInterrupt()
		}
	}
}

// thrownValue carries a raw value thrown by native code.
type thrownValue struct {
	val goja.Value
}

func (t thrownValue) Error() string {
	if t.val == nil {
		return "undefined"
	}
	return t.val.String()
}

// failure is what a TryCatch records about a failed execution.
type failure struct {
	ctx        *Context
	value      goja.Value
	message    string
	stack      string
	terminated bool
}

// fail classifies an engine error, records it in the innermost TryCatch
// and returns the boundary error.
func (iso *Isolate) fail(ctx *Context, phase errors.Phase, err error) error {
	var ie *goja.InterruptedError
	if errors.As(err, &ie) {
		iso.record(failure{ctx: ctx, terminated: true, message: "execution terminated"})
		if ie.Value() == oomMarker || iso.poisoned.Load() {
			return errors.OutOfMemory(phase, iso.heapLimitValue())
		}
		return errors.Terminated(phase)
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		f := failure{
			ctx:     ctx,
			value:   ex.Value(),
			message: safeString(ex.Value()),
			stack:   ctx.mapPositions(ex.String()),
		}
		iso.record(f)
		return errors.Exception(phase, ctx.mapPositions(ex.Error()))
	}

	var tv thrownValue
	if errors.As(err, &tv) {
		msg := safeString(tv.val)
		iso.record(failure{ctx: ctx, value: tv.val, message: msg, stack: msg})
		return errors.Exception(phase, msg)
	}

	var syn *goja.CompilerSyntaxError
	if errors.As(err, &syn) {
		return errors.Syntax(string(phase), err)
	}

	return errors.Wrap(phase, errors.KindException, err, "execution failed")
}

// record stores f in the innermost open TryCatch when it was opened at the
// current call depth. Failures of nested runs belong to TryCatches opened
// inside the native callback, not to the host's outer one.
func (iso *Isolate) record(f failure) {
	n := len(iso.tryCatches)
	if n == 0 || iso.tryCatches[n-1].depth != iso.execDepth {
		if !f.terminated && iso.execDepth == 0 {
			iso.log.Debug("uncaught exception", zap.String("message", f.message))
		}
		return
	}
	iso.tryCatches[n-1].capture(f)
}

// safeString converts v to a string without letting a throwing toString
// escape.
func safeString(v goja.Value) (s string) {
	if v == nil {
		return "undefined"
	}
	defer func() {
		if recover() != nil {
			s = fmt.Sprintf("<%s>", v.ExportType())
		}
	}()
	return v.String()
}

// isEnginePanic reports whether p originates from the engine itself and
// must unwind through host frames untouched.
func isEnginePanic(p any) bool {
	switch p.(type) {
	case *goja.Exception, *goja.InterruptedError, goja.Value:
		return true
	}
	t := reflect.TypeOf(p)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && strings.HasPrefix(t.PkgPath(), gojaPkgPath)
}
