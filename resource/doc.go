// Package resource provides the handle table that keeps host-owned roots
// for engine-visible objects.
//
// Native callbacks, external data and persistent values all need a record on
// the host side that the engine can refer to without holding a Go pointer in
// script-visible state. This package maps integer handles to those records.
//
// # Handles
//
// A Handle packs a slot index and a generation counter. When a slot is freed
// and reused, its generation advances, so a stale handle (for example one
// carried by a late garbage collector notification) never resolves to the
// new occupant:
//
//	table := resource.NewTable()
//
//	h := table.Insert(typeID, record)
//	value, ok := table.Get(h)
//
//	// Retire runs at most once per handle
//	value, ok = table.Retire(h, resource.RetireCollected)
//	_, ok = table.Retire(h, resource.RetireCollected) // ok == false
//
// # Cleanup
//
// Values implementing Dropper have Drop called exactly once, when they are
// retired or when the table is drained. Drop runs outside the table lock, so
// a destructor may safely touch the table again.
//
// # Accounting
//
// Counts reports lifetime totals per retirement reason; they outlive Close,
// so an isolate can still report them after disposal. Observers see each
// event as it happens, which is where per-record logging belongs:
//
//	table.Subscribe(observer)
//	c := table.Counts() // c.Collected, c.Drained, c.Explicit
//
// # Memory Management
//
// Nothing is released implicitly. Callers retire handles when the engine
// reports a wrapper unreachable, and call Drain or Close when the owner (an
// isolate) is disposed.
package resource
