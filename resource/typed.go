package resource

// Typed is a view of a Table holding values of one Go type under one type
// ID. Several views may share a table.
type Typed[T any] struct {
	table  *Table
	typeID uint32
}

// NewTyped returns a view over table. A nil table gets a fresh one.
func NewTyped[T any](table *Table, typeID uint32) *Typed[T] {
	if table == nil {
		table = NewTable()
	}
	return &Typed[T]{table: table, typeID: typeID}
}

func (t *Typed[T]) Insert(value T) Handle {
	return t.table.Insert(t.typeID, value)
}

func (t *Typed[T]) Get(h Handle) (T, bool) {
	var zero T
	v, ok := t.table.GetTyped(h, t.typeID)
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	return tv, ok
}

// Retire removes the value behind h if it belongs to this view.
func (t *Typed[T]) Retire(h Handle, reason RetireReason) (T, bool) {
	var zero T
	if _, ok := t.table.GetTyped(h, t.typeID); !ok {
		return zero, false
	}
	v, ok := t.table.Retire(h, reason)
	if !ok {
		return zero, false
	}
	tv, _ := v.(T)
	return tv, true
}

// Len returns the number of live values of this view.
func (t *Typed[T]) Len() int {
	return len(t.table.slots.handles(t.typeID, false))
}

// Table returns the underlying table.
func (t *Typed[T]) Table() *Table {
	return t.table
}
