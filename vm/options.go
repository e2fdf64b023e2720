package vm

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/engine"
)

const (
	// DefaultMaxHeapSize is the heap ceiling used when none is configured.
	DefaultMaxHeapSize = 1 << 30

	// DefaultWatchdogInterval is how often a running script's heap is sampled.
	DefaultWatchdogInterval = 10 * time.Millisecond
)

type options struct {
	logger           *zap.Logger
	console          engine.Printer
	initialHeap      uint64
	maxHeap          uint64
	maxCallStackSize int
	watchdogInterval time.Duration
}

// Option configures an isolate.
type Option func(*options)

func defaultOptions() options {
	return options{
		maxHeap:          DefaultMaxHeapSize,
		watchdogInterval: DefaultWatchdogInterval,
	}
}

// WithHeapLimits sets the initial and maximum heap size in bytes.
// A zero max keeps DefaultMaxHeapSize.
func WithHeapLimits(initial, max uint64) Option {
	return func(o *options) {
		o.initialHeap = initial
		if max > 0 {
			o.maxHeap = max
		}
	}
}

// WithLogger sets the isolate logger. Defaults to engine.Logger().
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMaxCallStackSize bounds script recursion in every context of the isolate.
func WithMaxCallStackSize(n int) Option {
	return func(o *options) {
		o.maxCallStackSize = n
	}
}

// WithConsole installs a console object writing to p in every new context.
func WithConsole(p engine.Printer) Option {
	return func(o *options) {
		o.console = p
	}
}

// WithWatchdogInterval sets how often the heap is sampled during execution.
func WithWatchdogInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.watchdogInterval = d
		}
	}
}
