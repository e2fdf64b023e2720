package vm

import (
	"runtime"
	"time"

	"github.com/wippyai/js-runtime/errors"
)

// lockHolder identifies one acquisition of the isolate lock. An Unlocker
// hands it back on Relock so scopes opened before the unlock stay valid.
type lockHolder struct{}

// IsolateScope marks an isolate as entered. The outermost scope holds the
// isolate lock; nested scopes from Enter re-enter it.
type IsolateScope struct {
	iso    *Isolate
	holder *lockHolder
	depth  int
	closed bool
}

// Enter acquires the isolate lock, blocking while another goroutine holds
// it, and returns the outermost scope. Entering a disposed isolate returns
// a scope on which every operation fails.
func (iso *Isolate) Enter() *IsolateScope {
	if iso.disposed.Load() {
		_ = iso.violation(errors.Disposed(errors.PhaseIsolate, "isolate"))
		return &IsolateScope{iso: iso, closed: true}
	}

	iso.mu.Lock()
	if iso.disposed.Load() {
		iso.mu.Unlock()
		_ = iso.violation(errors.Disposed(errors.PhaseIsolate, "isolate"))
		return &IsolateScope{iso: iso, closed: true}
	}

	h := &lockHolder{}
	iso.holder.Store(h)
	s := &IsolateScope{iso: iso, holder: h, depth: 1}
	iso.push(s)
	iso.safePoint()
	return s
}

// Isolate returns the entered isolate.
func (s *IsolateScope) Isolate() *Isolate {
	return s.iso
}

// Depth returns the re-entry depth; the outermost scope has depth 1.
func (s *IsolateScope) Depth() int {
	return s.depth
}

// Enter re-enters the isolate held by s. Exits must balance.
func (s *IsolateScope) Enter() (*IsolateScope, error) {
	if err := s.check(errors.PhaseIsolate); err != nil {
		return nil, err
	}
	nested := &IsolateScope{iso: s.iso, holder: s.holder, depth: s.depth + 1}
	s.iso.push(nested)
	return nested, nil
}

// Exit pops the scope. The outermost Exit releases the isolate lock.
func (s *IsolateScope) Exit() error {
	iso := s.iso
	if s.closed {
		if s.holder == nil {
			return nil
		}
		return iso.violation(errors.ScopeClosed(errors.PhaseIsolate, "isolate scope"))
	}
	if err := iso.checkHolder(s.holder, errors.PhaseIsolate); err != nil {
		return err
	}
	if err := iso.pop(s, errors.PhaseIsolate, "isolate scope"); err != nil {
		return err
	}
	s.closed = true
	iso.safePoint()

	if s.depth == 1 {
		iso.holder.Store(nil)
		iso.mu.Unlock()
	}
	return nil
}

// RunInterrupts dispatches queued interrupt callbacks and pending weak
// retirements now.
func (s *IsolateScope) RunInterrupts() error {
	if err := s.check(errors.PhaseIsolate); err != nil {
		return err
	}
	s.iso.safePoint()
	return nil
}

// CollectGarbage forces a full collection and retires callback
// registrations whose wrappers became unreachable. Cleanups run
// asynchronously after a collection, so a registration may only be
// retired by a later call.
func (s *IsolateScope) CollectGarbage() error {
	if err := s.check(errors.PhaseIsolate); err != nil {
		return err
	}
	runtime.GC()
	runtime.Gosched()
	s.iso.retirePending()
	return nil
}

// MemoryPressureNotification asks for memory to be reclaimed now.
func (s *IsolateScope) MemoryPressureNotification() error {
	return s.CollectGarbage()
}

// IdleNotificationDeadline lets the isolate use idle time up to d for
// housekeeping. It reports whether there is no more work to do.
func (s *IsolateScope) IdleNotificationDeadline(d time.Duration) (bool, error) {
	if err := s.check(errors.PhaseIsolate); err != nil {
		return false, err
	}
	deadline := time.Now().Add(d)
	s.iso.safePoint()
	if time.Now().Before(deadline) {
		runtime.GC()
		s.iso.retirePending()
	}
	s.iso.pendingMu.Lock()
	done := len(s.iso.pending) == 0
	s.iso.pendingMu.Unlock()
	return done, nil
}

// check validates that s is open and its isolate lock is held.
func (s *IsolateScope) check(phase errors.Phase) error {
	if s == nil {
		return errors.NoActiveScope(phase, "isolate scope")
	}
	if s.closed {
		if s.holder == nil {
			return errors.Disposed(phase, "isolate")
		}
		return s.iso.violation(errors.ScopeClosed(phase, "isolate scope"))
	}
	if s.iso.disposed.Load() {
		return errors.Disposed(phase, "isolate")
	}
	return s.iso.checkHolder(s.holder, phase)
}

// checkHolder fails when h does not currently hold the isolate lock.
func (iso *Isolate) checkHolder(h *lockHolder, phase errors.Phase) error {
	if h == nil || iso.holder.Load() != h {
		return iso.violation(errors.NotLocked(phase, iso.id))
	}
	return nil
}

func (iso *Isolate) push(frame any) {
	iso.stack = append(iso.stack, frame)
	iso.stats.openScopes.Add(1)
}

// pop removes frame if it is the innermost open scope.
func (iso *Isolate) pop(frame any, phase errors.Phase, what string) error {
	n := len(iso.stack)
	if n == 0 || iso.stack[n-1] != frame {
		return iso.violation(errors.ScopeOrder(phase, what))
	}
	iso.stack[n-1] = nil
	iso.stack = iso.stack[:n-1]
	iso.stats.openScopes.Add(-1)
	return nil
}

// currentIsolateScope returns the innermost isolate scope.
func (iso *Isolate) currentIsolateScope() *IsolateScope {
	for i := len(iso.stack) - 1; i >= 0; i-- {
		if s, ok := iso.stack[i].(*IsolateScope); ok {
			return s
		}
	}
	return nil
}

// currentHandleScope returns the innermost open handle scope.
func (iso *Isolate) currentHandleScope() *HandleScope {
	for i := len(iso.stack) - 1; i >= 0; i-- {
		if hs, ok := iso.stack[i].(*HandleScope); ok {
			return hs
		}
	}
	return nil
}

// currentContextScope returns the innermost entered context scope.
func (iso *Isolate) currentContextScope() *ContextScope {
	for i := len(iso.stack) - 1; i >= 0; i-- {
		if cs, ok := iso.stack[i].(*ContextScope); ok {
			return cs
		}
	}
	return nil
}

// unwindTo force-closes every frame above depth n, counting each as a
// violation. Used when host code returns with scopes still open.
func (iso *Isolate) unwindTo(n int) {
	iso.closeFrames(n, true)
}

// closeFrames pops every frame above depth n. When violate is false the
// frames are being unwound by a panic and are closed silently.
func (iso *Isolate) closeFrames(n int, violate bool) {
	note := func(err *errors.Error) {
		if violate {
			_ = iso.violation(err)
		}
	}
	for len(iso.stack) > n {
		top := iso.stack[len(iso.stack)-1]
		switch f := top.(type) {
		case *HandleScope:
			note(errors.ScopeOrder(errors.PhaseScope, "handle scope left open"))
			f.invalidate()
		case *ContextScope:
			note(errors.ScopeOrder(errors.PhaseContext, "context scope left open"))
			f.closed = true
			f.ctx.entered--
		case *IsolateScope:
			note(errors.ScopeOrder(errors.PhaseIsolate, "isolate scope left open"))
			f.closed = true
		}
		iso.stack[len(iso.stack)-1] = nil
		iso.stack = iso.stack[:len(iso.stack)-1]
		iso.stats.openScopes.Add(-1)
	}
}

// safePoint runs queued interrupts and pending weak retirements. Callers
// hold the isolate lock.
func (iso *Isolate) safePoint() {
	iso.runInterrupts()
	iso.retirePending()
}
