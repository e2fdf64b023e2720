package resource

// Handle is an opaque reference to a record in a Table.
// The low 32 bits hold the slot index plus one, the high 32 bits the slot
// generation. Handle 0 is reserved and always invalid.
type Handle uint64

func makeHandle(index uint32, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() (uint32, bool) {
	low := uint32(h)
	if low == 0 {
		return 0, false
	}
	return low - 1, true
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// EventType tells an insertion from a retirement.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRetired
)

// RetireReason tells why a record left the table.
type RetireReason uint8

const (
	// RetireExplicit is an explicit host release.
	RetireExplicit RetireReason = iota
	// RetireCollected means the engine found the wrapper unreachable.
	RetireCollected
	// RetireDrained means the owning table was drained on dispose.
	RetireDrained

	numReasons
)

func (r RetireReason) String() string {
	switch r {
	case RetireExplicit:
		return "explicit"
	case RetireCollected:
		return "collected"
	case RetireDrained:
		return "drained"
	}
	return "unknown"
}

// Event describes one insertion or retirement. Reason is set for
// retirements only.
type Event struct {
	Value  any
	Handle Handle
	TypeID uint32
	Type   EventType
	Reason RetireReason
}

// Observer receives lifecycle events. It is called after the table lock is
// released, on the goroutine that caused the event.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is implemented by records that need cleanup when retired.
type Dropper interface {
	Drop()
}

// Counts is a snapshot of a table's lifetime totals.
type Counts struct {
	Live      int
	Inserted  uint64
	Collected uint64
	Drained   uint64
	Explicit  uint64
}

// Retired returns the number of records retired for any reason.
func (c Counts) Retired() uint64 {
	return c.Collected + c.Drained + c.Explicit
}
