package vm

import (
	"github.com/wippyai/js-runtime/errors"
)

// Unlocker temporarily releases an isolate lock held by the current
// goroutine, for example around blocking I/O. Scopes opened before Unlock
// cannot be used until Relock.
type Unlocker struct {
	iso      *Isolate
	holder   *lockHolder
	saved    []any
	catches  []*TryCatch
	relocked bool
}

// Unlock releases the isolate lock held through s.
func (s *IsolateScope) Unlock() (*Unlocker, error) {
	if err := s.check(errors.PhaseIsolate); err != nil {
		return nil, err
	}
	iso := s.iso
	if iso.execDepth > 0 {
		return nil, iso.violation(errors.New(errors.PhaseIsolate, errors.KindInvalidInput).
			Detail("cannot unlock while script is executing").
			Build())
	}
	iso.safePoint()

	u := &Unlocker{
		iso:     iso,
		holder:  s.holder,
		saved:   iso.stack,
		catches: iso.tryCatches,
	}
	iso.stack = nil
	iso.tryCatches = nil
	iso.suspended++
	iso.holder.Store(nil)
	iso.mu.Unlock()
	return u, nil
}

// Relock re-acquires the lock and restores the saved scopes. It blocks
// while another goroutine holds the isolate.
func (u *Unlocker) Relock() error {
	if u.relocked {
		return u.iso.violation(errors.DoubleFree(errors.PhaseIsolate, "unlocker"))
	}
	u.relocked = true

	u.iso.mu.Lock()
	u.iso.suspended--
	u.iso.stack = u.saved
	u.iso.tryCatches = u.catches
	u.saved = nil
	u.catches = nil
	u.iso.holder.Store(u.holder)
	u.iso.safePoint()
	return nil
}
