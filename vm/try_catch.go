package vm

import (
	"github.com/wippyai/js-runtime/errors"
)

// TryCatch captures the exception of failed executions run while it is the
// innermost open TryCatch at the same call depth. TryCatches nest and must
// be closed in reverse order of creation.
type TryCatch struct {
	iso    *Isolate
	holder *lockHolder
	caught *failure
	depth  int
	closed bool
}

// NewTryCatch opens a TryCatch on the isolate entered by s.
func NewTryCatch(s *IsolateScope) (*TryCatch, error) {
	if err := s.check(errors.PhaseExecute); err != nil {
		return nil, err
	}
	iso := s.iso
	tc := &TryCatch{iso: iso, holder: s.holder, depth: iso.execDepth}
	iso.tryCatches = append(iso.tryCatches, tc)
	return tc, nil
}

func (tc *TryCatch) capture(f failure) {
	tc.caught = &f
}

func (tc *TryCatch) usable() bool {
	if tc.closed {
		_ = tc.iso.violation(errors.ScopeClosed(errors.PhaseExecute, "try catch"))
		return false
	}
	return true
}

// HasCaught reports whether an exception or termination was captured.
func (tc *TryCatch) HasCaught() bool {
	return tc.usable() && tc.caught != nil
}

// HasTerminated reports whether the captured failure was a termination.
// It is false for ordinary exceptions.
func (tc *TryCatch) HasTerminated() bool {
	return tc.usable() && tc.caught != nil && tc.caught.terminated
}

// Exception returns the thrown value as a local of hs, or nil when nothing
// was caught or the failure was a termination.
func (tc *TryCatch) Exception(hs *HandleScope) (*Value, error) {
	if !tc.usable() {
		return nil, errors.ScopeClosed(errors.PhaseExecute, "try catch")
	}
	if err := hs.check(errors.PhaseExecute); err != nil {
		return nil, err
	}
	if tc.caught == nil || tc.caught.value == nil {
		return nil, nil
	}
	ctx := tc.caught.ctx
	if ctx != nil && ctx.disposed {
		return nil, tc.iso.violation(errors.Disposed(errors.PhaseExecute, "context"))
	}
	return hs.newValue(ctx, tc.caught.value), nil
}

// Message returns the string form of the thrown value.
func (tc *TryCatch) Message() string {
	if !tc.usable() || tc.caught == nil {
		return ""
	}
	return tc.caught.message
}

// StackTrace returns the stack of the thrown exception, with positions in
// modules mapped back to their source.
func (tc *TryCatch) StackTrace() string {
	if !tc.usable() || tc.caught == nil {
		return ""
	}
	return tc.caught.stack
}

// Reset forgets the captured failure.
func (tc *TryCatch) Reset() error {
	if !tc.usable() {
		return errors.ScopeClosed(errors.PhaseExecute, "try catch")
	}
	tc.caught = nil
	return nil
}

// Close removes the TryCatch. It must be the innermost open one.
func (tc *TryCatch) Close() error {
	iso := tc.iso
	if tc.closed {
		return iso.violation(errors.ScopeClosed(errors.PhaseExecute, "try catch"))
	}
	if err := iso.checkHolder(tc.holder, errors.PhaseExecute); err != nil {
		return err
	}
	n := len(iso.tryCatches)
	if n == 0 || iso.tryCatches[n-1] != tc {
		return iso.violation(errors.ScopeOrder(errors.PhaseExecute, "try catch"))
	}
	iso.tryCatches[n-1] = nil
	iso.tryCatches = iso.tryCatches[:n-1]
	tc.closed = true
	tc.caught = nil
	return nil
}

// dropTryCatches closes TryCatches above n left open by host code.
func (iso *Isolate) dropTryCatches(n int, violate bool) {
	for len(iso.tryCatches) > n {
		last := len(iso.tryCatches) - 1
		if violate {
			_ = iso.violation(errors.ScopeOrder(errors.PhaseExecute, "try catch left open"))
		}
		iso.tryCatches[last].closed = true
		iso.tryCatches[last] = nil
		iso.tryCatches = iso.tryCatches[:last]
	}
}
