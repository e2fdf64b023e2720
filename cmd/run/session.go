package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/js-runtime/errors"
	"github.com/wippyai/js-runtime/loader"
	"github.com/wippyai/js-runtime/vm"
)

// writerPrinter sends console output to plain writers.
type writerPrinter struct {
	out, err io.Writer
}

func (p writerPrinter) Log(s string)   { fmt.Fprintln(p.out, s) }
func (p writerPrinter) Warn(s string)  { fmt.Fprintln(p.err, s) }
func (p writerPrinter) Error(s string) { fmt.Fprintln(p.err, s) }

// session is one isolate with one entered context. It stays entered for
// its whole life; evaluations are serialized.
type session struct {
	mu      sync.Mutex
	iso     *vm.Isolate
	scope   *vm.IsolateScope
	hs      *vm.HandleScope
	ctx     *vm.Context
	cs      *vm.ContextScope
	timeout time.Duration
	log     *zap.Logger
	running atomic.Bool
}

func newSession(cfg config, log *zap.Logger, out, errOut io.Writer) (*session, error) {
	iso, err := vm.NewIsolate(
		vm.WithHeapLimits(0, cfg.MaxHeapMB<<20),
		vm.WithLogger(log),
		vm.WithConsole(writerPrinter{out: out, err: errOut}),
	)
	if err != nil {
		return nil, err
	}

	s := &session{iso: iso, timeout: cfg.Timeout, log: log}
	s.scope = iso.Enter()
	if s.hs, err = vm.NewHandleScope(s.scope); err != nil {
		return nil, s.abort(err)
	}
	if s.ctx, err = vm.NewContext(s.scope, nil); err != nil {
		return nil, s.abort(err)
	}
	if s.cs, err = s.ctx.Enter(s.hs); err != nil {
		return nil, s.abort(err)
	}
	return s, nil
}

func (s *session) abort(err error) error {
	return multierr.Append(err, s.Close())
}

// Close exits every scope and disposes the isolate.
func (s *session) Close() error {
	var errs error
	if s.cs != nil {
		errs = multierr.Append(errs, s.cs.Exit())
	}
	if s.ctx != nil {
		errs = multierr.Append(errs, s.ctx.Dispose(s.scope))
	}
	if s.hs != nil {
		errs = multierr.Append(errs, s.hs.Close())
	}
	errs = multierr.Append(errs, s.scope.Exit())
	return multierr.Append(errs, s.iso.Dispose())
}

// Interrupt terminates the running evaluation. It reports false when
// nothing is running.
func (s *session) Interrupt() bool {
	if !s.running.Load() {
		return false
	}
	s.iso.TerminateExecution()
	return true
}

// guarded runs fn under the timeout. The timer asks the isolate's owner to
// terminate; a request arriving after fn returned is ignored.
func (s *session) guarded(fn func() (*vm.Value, error)) (*vm.Value, error) {
	s.running.Store(true)
	defer s.running.Store(false)

	if s.timeout > 0 {
		timer := time.AfterFunc(s.timeout, func() {
			s.iso.RequestInterrupt(func(iso *vm.Isolate) {
				if s.running.Load() {
					s.log.Debug("evaluation timed out", zap.Duration("timeout", s.timeout))
					iso.TerminateExecution()
				}
			})
		})
		defer timer.Stop()
	}
	return fn()
}

// result is the printable outcome of one evaluation.
type result struct {
	text  string
	stack string
	err   error
}

// eval runs source as a script and formats its completion value.
func (s *session) eval(source, name string) result {
	return s.capture(func() (*vm.Value, error) {
		return s.cs.RunString(source, name)
	})
}

// runModule loads the module at file with a loader rooted at its directory
// and formats the namespace.
func (s *session) runModule(file, moduleRoot string) result {
	dir, base := filepath.Split(file)
	if dir == "" {
		dir = "."
	}
	opts := []loader.Option{loader.WithLogger(s.log.Named("loader"))}
	if moduleRoot != "" {
		opts = append(opts, loader.WithRoot(filepath.ToSlash(moduleRoot)))
	}
	l := loader.NewFS(os.DirFS(dir), opts...)

	r := s.capture(func() (*vm.Value, error) {
		return l.Run(s.cs, filepath.ToSlash(base))
	})
	r.err = multierr.Append(r.err, l.Close())
	return r
}

func (s *session) capture(fn func() (*vm.Value, error)) result {
	s.mu.Lock()
	defer s.mu.Unlock()

	tc, err := vm.NewTryCatch(s.scope)
	if err != nil {
		return result{err: err}
	}
	defer tc.Close()

	var r result
	err = vm.WithHandleScope(s.scope, func(*vm.HandleScope) error {
		v, err := s.guarded(fn)
		if err != nil {
			return err
		}
		r.text = format(v)
		return nil
	})
	if err != nil {
		r.err = err
		if tc.HasCaught() && !tc.HasTerminated() {
			r.stack = tc.StackTrace()
		}
		if errors.HasKind(err, errors.KindTerminated) && s.timeout > 0 {
			r.err = fmt.Errorf("%w (timeout %s)", err, s.timeout)
		}
	}
	return r
}

// format renders v the way a REPL shows results: objects as JSON when
// possible, everything else as its string form.
func format(v *vm.Value) string {
	switch {
	case v == nil, v.IsUndefined():
		return "undefined"
	case v.IsString():
		return fmt.Sprintf("%q", v.String())
	case v.Kind() == vm.KindObject, v.IsArray():
		obj, err := v.AsObject()
		if err == nil {
			if js, err := obj.ToJSON(); err == nil {
				return js
			}
		}
	case v.IsFunction():
		return "[" + v.Kind().String() + "]"
	case v.IsExternal():
		return "[External]"
	case v.IsPromise():
		p, err := v.AsPromise()
		if err == nil {
			if st, err := p.State(); err == nil {
				return "Promise {" + st.String() + "}"
			}
		}
	}
	return v.String()
}
