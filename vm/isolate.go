package vm

import (
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/resource"
)

// NearHeapLimitHandler may raise the heap ceiling when a running script
// reaches it. Returning a value not above current lets the OOM path proceed.
type NearHeapLimitHandler func(current, initial uint64) uint64

// InterruptCallback runs on the lock-holding goroutine at the next safe point.
type InterruptCallback func(iso *Isolate)

// isolates maps ids to live isolates for callbacks that only carry an id.
var isolates sync.Map

// IsolateByID returns the live isolate with the given id.
func IsolateByID(id uint32) (*Isolate, bool) {
	v, ok := isolates.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Isolate), true
}

// Isolate is one independent engine instance with its own contexts,
// callback registry and persistent roots.
type Isolate struct {
	log  *zap.Logger
	opts options

	// isolate lock; holder identifies the current owner
	mu     sync.Mutex
	holder atomic.Pointer[lockHolder]

	// guarded by the isolate lock
	stack      []any
	tryCatches []*TryCatch
	contexts   map[*Context]struct{}
	scratch    *goja.Runtime
	execDepth  int
	nextModule int
	suspended  int

	callbacks   *resource.Table
	persistents *resource.Table
	roots       map[uint32]*resource.Typed[*root]

	pendingMu sync.Mutex
	pending   []resource.Handle

	interruptMu  sync.Mutex
	interrupts   []InterruptCallback
	interruptSig chan struct{}

	execMu      sync.Mutex
	running     []*goja.Runtime
	terminating atomic.Bool
	poisoned    atomic.Bool

	heapMu        sync.Mutex
	initialHeap   uint64
	heapLimit     uint64
	nearHeapLimit NearHeapLimitHandler

	stats    isolateStats
	disposed atomic.Bool
	id       uint32
}

type isolateStats struct {
	openScopes atomic.Int64
	contexts   atomic.Int64
	violations atomic.Uint64
}

// Stats is a snapshot of isolate bookkeeping counters.
type Stats struct {
	OpenScopes       int
	Contexts         int
	Registrations    int
	Persistents      int
	Registered       uint64
	RetiredCollected uint64
	RetiredDrained   uint64
	RetiredExplicit  uint64
	Violations       uint64
}

// HeapStatistics reports heap usage as seen by this isolate.
type HeapStatistics struct {
	UsedHeapSize   uint64
	TotalHeapSize  uint64
	HeapSizeLimit  uint64
	NativeContexts int
}

// NewIsolate creates an isolate. The platform must be initialized.
func NewIsolate(opts ...Option) (*Isolate, error) {
	if !engine.Initialized() {
		return nil, errors.NotInitialized(errors.PhaseIsolate, "platform")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	id := engine.NextIsolateID()
	log := o.logger
	if log == nil {
		log = engine.Logger()
	}
	log = log.With(zap.Uint32("isolate", id))

	iso := &Isolate{
		id:           id,
		log:          log,
		opts:         o,
		contexts:     make(map[*Context]struct{}),
		callbacks:    resource.NewTable(),
		persistents:  resource.NewTable(),
		interruptSig: make(chan struct{}, 1),
		initialHeap:  o.initialHeap,
		heapLimit:    o.maxHeap,
	}
	iso.callbacks.Subscribe(registryObserver{iso})
	iso.roots = newRoots(iso.persistents)

	isolates.Store(id, iso)
	log.Debug("isolate created", zap.Uint64("max_heap", o.maxHeap))
	return iso, nil
}

// ID returns the isolate id. Ids are unique and start at 1.
func (iso *Isolate) ID() uint32 {
	return iso.id
}

// Logger returns the isolate's logger.
func (iso *Isolate) Logger() *zap.Logger {
	return iso.log
}

// Disposed reports whether Dispose has completed.
func (iso *Isolate) Disposed() bool {
	return iso.disposed.Load()
}

// Dispose releases the isolate. Every scope must be closed first; disposing
// an entered isolate is fatal. Remaining callback registrations are retired
// with their destructors run exactly once, leaked persistent roots are
// released and remaining contexts are disposed.
func (iso *Isolate) Dispose() error {
	if iso.disposed.Load() {
		return iso.violation(errors.Disposed(errors.PhaseIsolate, "isolate"))
	}

	if !iso.mu.TryLock() {
		return engine.Fatal("Isolate::Dispose", "isolate is entered or locked by another goroutine")
	}
	if len(iso.stack) > 0 || iso.suspended > 0 {
		iso.mu.Unlock()
		return engine.Fatal("Isolate::Dispose", "isolate has open scopes")
	}
	if !iso.disposed.CompareAndSwap(false, true) {
		iso.mu.Unlock()
		return iso.violation(errors.Disposed(errors.PhaseIsolate, "isolate"))
	}
	defer iso.mu.Unlock()

	var errs error

	for ctx := range iso.contexts {
		ctx.release()
	}
	iso.contexts = nil

	iso.retirePending()
	drained := iso.callbacks.Drain()
	errs = multierr.Append(errs, iso.callbacks.Close())

	leaked := iso.persistents.Drain()
	if leaked > 0 {
		iso.log.Warn("persistent values leaked at dispose", zap.Int("count", leaked))
	}
	errs = multierr.Append(errs, iso.persistents.Close())

	iso.pendingMu.Lock()
	iso.pending = nil
	iso.pendingMu.Unlock()

	iso.interruptMu.Lock()
	iso.interrupts = nil
	iso.interruptMu.Unlock()

	iso.scratch = nil
	isolates.Delete(iso.id)

	iso.log.Debug("isolate disposed",
		zap.Int("callbacks_drained", drained),
		zap.Int("persistents_leaked", leaked))
	return errs
}

// Stats returns a snapshot of the isolate counters.
func (iso *Isolate) Stats() Stats {
	reg := iso.callbacks.Counts()
	return Stats{
		OpenScopes:       int(iso.stats.openScopes.Load()),
		Contexts:         int(iso.stats.contexts.Load()),
		Registrations:    reg.Live,
		Persistents:      iso.persistents.Len(),
		Registered:       reg.Inserted,
		RetiredCollected: reg.Collected,
		RetiredDrained:   reg.Drained,
		RetiredExplicit:  reg.Explicit,
		Violations:       iso.stats.violations.Load(),
	}
}

// Violations returns the number of contract violations detected so far.
func (iso *Isolate) Violations() uint64 {
	return iso.stats.violations.Load()
}

// violation counts and logs a contract violation and returns it as an error.
func (iso *Isolate) violation(err *errors.Error) error {
	iso.stats.violations.Add(1)
	iso.log.Warn("contract violation", zap.Error(err))
	return err
}

// RequestInterrupt schedules cb to run on the lock-holding goroutine at the
// next safe point. Safe from any goroutine. Callbacks may only use the
// goroutine-safe isolate methods.
func (iso *Isolate) RequestInterrupt(cb InterruptCallback) {
	if cb == nil || iso.disposed.Load() {
		return
	}
	iso.interruptMu.Lock()
	iso.interrupts = append(iso.interrupts, cb)
	iso.interruptMu.Unlock()

	select {
	case iso.interruptSig <- struct{}{}:
	default:
	}
}

// runInterrupts dispatches queued interrupt callbacks on the calling goroutine.
func (iso *Isolate) runInterrupts() {
	iso.interruptMu.Lock()
	cbs := iso.interrupts
	iso.interrupts = nil
	iso.interruptMu.Unlock()

	for _, cb := range cbs {
		cb(iso)
	}
}

// TerminateExecution marks running script for abortive termination. If no
// script is running the next execution is terminated. Safe from any goroutine.
func (iso *Isolate) TerminateExecution() {
	iso.terminating.Store(true)
	iso.execMu.Lock()
	defer iso.execMu.Unlock()
	for _, rt := range iso.running {
		rt.Interrupt(terminationMarker)
	}
}

// CancelTerminateExecution withdraws a termination request that has not
// unwound the script yet. Safe from any goroutine.
func (iso *Isolate) CancelTerminateExecution() {
	iso.terminating.Store(false)
	iso.execMu.Lock()
	defer iso.execMu.Unlock()
	for _, rt := range iso.running {
		rt.ClearInterrupt()
	}
}

// IsExecutionTerminating reports whether a termination is pending.
func (iso *Isolate) IsExecutionTerminating() bool {
	return iso.terminating.Load()
}

// SetNearHeapLimitHandler installs fn. Safe from any goroutine.
func (iso *Isolate) SetNearHeapLimitHandler(fn NearHeapLimitHandler) {
	iso.heapMu.Lock()
	iso.nearHeapLimit = fn
	iso.heapMu.Unlock()
}

// HeapStatistics samples the heap. Safe from any goroutine.
func (iso *Isolate) HeapStatistics() HeapStatistics {
	sample := engine.SampleHeap()
	iso.heapMu.Lock()
	limit := iso.heapLimit
	iso.heapMu.Unlock()

	st := HeapStatistics{
		UsedHeapSize:  sample.InUse,
		TotalHeapSize: sample.Total,
		HeapSizeLimit: limit,
	}
	st.NativeContexts = int(iso.stats.contexts.Load())
	return st
}

// UsedHeapSize returns the sampled in-use heap bytes.
func (iso *Isolate) UsedHeapSize() uint64 {
	return engine.SampleHeap().InUse
}

// TotalHeapSize returns the sampled total heap bytes.
func (iso *Isolate) TotalHeapSize() uint64 {
	return engine.SampleHeap().Total
}

// Poisoned reports whether the isolate ran out of memory. A poisoned
// isolate refuses to execute script.
func (iso *Isolate) Poisoned() bool {
	return iso.poisoned.Load()
}

// checkHeap compares a heap sample against the limit. It runs on the
// lock-holding goroutine while a script executes elsewhere.
func (iso *Isolate) checkHeap() {
	if iso.poisoned.Load() {
		return
	}
	current := engine.HeapInUse()

	iso.heapMu.Lock()
	limit := iso.heapLimit
	handler := iso.nearHeapLimit
	initial := iso.initialHeap
	iso.heapMu.Unlock()

	if current <= limit {
		return
	}

	if handler != nil {
		if raised := handler(current, initial); raised > current {
			iso.heapMu.Lock()
			iso.heapLimit = raised
			iso.heapMu.Unlock()
			iso.log.Debug("heap limit raised",
				zap.Uint64("current", current),
				zap.Uint64("limit", raised))
			return
		}
	}

	engine.OutOfMemory("Isolate::Execute", true)
	iso.poisoned.Store(true)

	iso.execMu.Lock()
	for _, rt := range iso.running {
		rt.Interrupt(oomMarker)
	}
	iso.execMu.Unlock()
}

func (iso *Isolate) heapLimitValue() uint64 {
	iso.heapMu.Lock()
	defer iso.heapMu.Unlock()
	return iso.heapLimit
}

// primitives returns the realm used to build primitive values. Primitives
// carry no realm, so one scratch runtime serves every context.
func (iso *Isolate) primitives() *goja.Runtime {
	if iso.scratch == nil {
		iso.scratch = goja.New()
	}
	return iso.scratch
}
