package resource

import (
	"sync"
	"sync/atomic"
)

// Table maps handles to host records and counts how each record left.
// All methods are safe for concurrent use.
type Table struct {
	slots *slots

	obsMu     sync.RWMutex
	observers []Observer

	inserted atomic.Uint64
	retired  [numReasons]atomic.Uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{slots: newSlots()}
}

// Insert stores value under typeID. It returns 0 once the table is closed.
func (t *Table) Insert(typeID uint32, value any) Handle {
	h, err := t.slots.put(typeID, value)
	if err != nil {
		return 0
	}
	t.inserted.Add(1)
	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h
}

// Get returns the record behind h.
func (t *Table) Get(h Handle) (any, bool) {
	v, _, ok := t.slots.get(h)
	return v, ok
}

// GetTyped returns the record behind h if it was inserted under typeID.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	v, id, ok := t.slots.get(h)
	if !ok || id != typeID {
		return nil, false
	}
	return v, true
}

// Retire removes the record behind h. Whichever caller gets there first
// runs the record's Drop and the observers; later callers, including ones
// holding a stale handle to a reused slot, get (nil, false).
func (t *Table) Retire(h Handle, reason RetireReason) (any, bool) {
	v, typeID, ok := t.slots.take(h)
	if !ok {
		return nil, false
	}
	if reason < numReasons {
		t.retired[reason].Add(1)
	}
	if d, ok := v.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventRetired, Handle: h, TypeID: typeID, Value: v, Reason: reason})
	return v, true
}

// Subscribe adds an observer.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return t.slots.count()
}

// Counts returns lifetime totals. They survive Close.
func (t *Table) Counts() Counts {
	return Counts{
		Live:      t.slots.count(),
		Inserted:  t.inserted.Load(),
		Explicit:  t.retired[RetireExplicit].Load(),
		Collected: t.retired[RetireCollected].Load(),
		Drained:   t.retired[RetireDrained].Load(),
	}
}

// Drain retires every live record with RetireDrained and returns how many
// it retired. Records inserted by a Drop during the drain are left alone.
func (t *Table) Drain() int {
	n := 0
	for _, h := range t.slots.handles(0, true) {
		if _, ok := t.Retire(h, RetireDrained); ok {
			n++
		}
	}
	return n
}

// Close drains the table and rejects further inserts.
func (t *Table) Close() error {
	t.Drain()
	t.slots.close()
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	obs := t.observers
	t.obsMu.RUnlock()
	for _, o := range obs {
		o.OnResourceEvent(e)
	}
}
