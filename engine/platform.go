package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	jsruntime "github.com/wippyai/js-runtime"
	"github.com/wippyai/js-runtime/errors"
)

// FatalErrorHandler is invoked for unrecoverable contract violations.
// location names the operation, message describes the violation.
type FatalErrorHandler func(location, message string)

// OOMErrorHandler is invoked when an isolate exhausts its heap limit.
type OOMErrorHandler func(location string, isHeapOOM bool)

// Config holds process-wide platform configuration.
type Config struct {
	// Allocator backs boundary-side buffers. Nil means HeapAllocator.
	Allocator jsruntime.Allocator

	// FatalErrorHandler replaces the default log-and-panic behavior.
	FatalErrorHandler FatalErrorHandler

	// OOMErrorHandler is called before an isolate is poisoned by OOM.
	OOMErrorHandler OOMErrorHandler

	// Logger replaces the engine logger when set.
	Logger *zap.Logger
}

type platformState struct {
	mu          sync.RWMutex
	initialized bool
	cfg         Config
}

var (
	platform      platformState
	nextIsolateID atomic.Uint32
)

// Initialize sets up the process-wide platform. It must be called once
// before any isolate is created; calling it again without Dispose fails.
func Initialize(cfg Config) error {
	platform.mu.Lock()
	defer platform.mu.Unlock()

	if platform.initialized {
		return errors.New(errors.PhasePlatform, errors.KindAlreadyInitialized).
			Detail("platform already initialized").
			Build()
	}

	if cfg.Allocator == nil {
		cfg.Allocator = jsruntime.HeapAllocator{}
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}

	platform.cfg = cfg
	platform.initialized = true

	Logger().Debug("platform initialized", zap.String("version", Version().String()))
	return nil
}

// Dispose tears the platform down. Initialize may be called again afterwards.
func Dispose() {
	platform.mu.Lock()
	defer platform.mu.Unlock()

	if !platform.initialized {
		return
	}
	platform.initialized = false
	platform.cfg = Config{}

	Logger().Debug("platform disposed")
}

// Initialized reports whether Initialize has been called without Dispose.
func Initialized() bool {
	platform.mu.RLock()
	defer platform.mu.RUnlock()
	return platform.initialized
}

// NextIsolateID returns a fresh isolate id. Ids start at 1 and are never
// reused within the process, across Dispose and Initialize included.
func NextIsolateID() uint32 {
	return nextIsolateID.Add(1)
}

// Allocator returns the process-wide allocator.
func Allocator() jsruntime.Allocator {
	platform.mu.RLock()
	defer platform.mu.RUnlock()
	if platform.cfg.Allocator == nil {
		return jsruntime.HeapAllocator{}
	}
	return platform.cfg.Allocator
}

// Fatal reports an unrecoverable violation at location.
//
// Without a custom handler it logs and panics with a fatal *errors.Error.
// When a custom handler returns, Fatal returns the same error so the caller
// can fail the operation instead of continuing.
func Fatal(location, message string) error {
	platform.mu.RLock()
	h := platform.cfg.FatalErrorHandler
	platform.mu.RUnlock()

	err := errors.New(errors.PhasePlatform, errors.KindFatal).
		Path(location).
		Detail("%s", message).
		Build()

	if h == nil {
		Logger().Error("fatal error",
			zap.String("location", location),
			zap.String("message", message))
		panic(err)
	}

	h(location, message)
	return err
}

// OutOfMemory reports heap exhaustion at location to the OOM handler.
func OutOfMemory(location string, isHeapOOM bool) {
	platform.mu.RLock()
	h := platform.cfg.OOMErrorHandler
	platform.mu.RUnlock()

	Logger().Error("out of memory",
		zap.String("location", location),
		zap.Bool("heap", isHeapOOM))

	if h != nil {
		h(location, isHeapOOM)
	}
}
