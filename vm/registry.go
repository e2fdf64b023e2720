package vm

import (
	"runtime"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// Record types stored in the isolate's callback registry.
const (
	typeCallback uint32 = iota + 1
	typeExternal
	typeBackingStore
)

// registration is a host-owned record exposed to script through a wrapper
// object. It is retired exactly once: when the wrapper becomes unreachable
// or when the isolate is disposed, whichever comes first.
type registration struct {
	ctx            *Context
	callback       FunctionCallback
	destructor     func()
	data           any
	dataDestructor func(any)
	memory         []byte
	name           string
	cleanup        runtime.Cleanup
	weak           bool
}

// Drop runs the record's destructors. The table calls it once per record.
func (r *registration) Drop() {
	if r.weak {
		r.cleanup.Stop()
	}
	if r.destructor != nil {
		r.destructor()
	}
	if r.dataDestructor != nil {
		r.dataDestructor(r.data)
	}
	if r.memory != nil {
		engine.Allocator().Free(r.memory)
	}
	r.callback = nil
	r.data = nil
	r.memory = nil
	r.ctx = nil
}

// weakKey is the cleanup argument. It holds no pointers so it cannot keep
// the wrapper alive.
type weakKey struct {
	handle resource.Handle
	iso    uint32
}

// register inserts rec into the registry.
func (iso *Isolate) register(typeID uint32, rec *registration) (resource.Handle, error) {
	h := iso.callbacks.Insert(typeID, rec)
	if h == 0 {
		return 0, errors.Registration(rec.name, errors.Disposed(errors.PhaseCallback, "callback registry"))
	}
	return h, nil
}

// attachWeak ties rec's lifetime to target. When the Go collector finds
// target unreachable the handle is queued for retirement on the isolate.
func (iso *Isolate) attachWeak(h resource.Handle, rec *registration, target *goja.Object) {
	rec.cleanup = runtime.AddCleanup(target, weakRetire, weakKey{handle: h, iso: iso.id})
	rec.weak = true
}

// weakRetire runs on the runtime's cleanup goroutine. It only queues the
// handle; the isolate retires it at its next safe point under its lock.
func weakRetire(k weakKey) {
	iso, ok := IsolateByID(k.iso)
	if !ok {
		return
	}
	iso.pendingMu.Lock()
	iso.pending = append(iso.pending, k.handle)
	iso.pendingMu.Unlock()
}

// retirePending retires queued handles. Callers hold the isolate lock.
func (iso *Isolate) retirePending() {
	iso.pendingMu.Lock()
	pending := iso.pending
	iso.pending = nil
	iso.pendingMu.Unlock()

	for _, h := range pending {
		iso.callbacks.Retire(h, resource.RetireCollected)
	}
}

// lookup returns the live registration for h of the given type.
func (iso *Isolate) lookup(h resource.Handle, typeID uint32) (*registration, bool) {
	v, ok := iso.callbacks.GetTyped(h, typeID)
	if !ok {
		return nil, false
	}
	return v.(*registration), true
}

// registryObserver logs registry events at debug level.
type registryObserver struct {
	iso *Isolate
}

func (o registryObserver) OnResourceEvent(e resource.Event) {
	rec, _ := e.Value.(*registration)
	name := ""
	if rec != nil {
		name = rec.name
	}

	switch e.Type {
	case resource.EventCreated:
		if ce := o.iso.log.Check(zap.DebugLevel, "registration created"); ce != nil {
			ce.Write(zap.Uint64("handle", uint64(e.Handle)), zap.String("name", name))
		}
	case resource.EventRetired:
		if ce := o.iso.log.Check(zap.DebugLevel, "registration retired"); ce != nil {
			ce.Write(
				zap.Uint64("handle", uint64(e.Handle)),
				zap.String("name", name),
				zap.Stringer("reason", e.Reason))
		}
	}
}
