package proctor

// Ledger is an append-only log of violation events that keeps only the newest entries.
// The full history goes to the audit endpoint; the ledger is what the session submits.
type Ledger struct {
	limit  int
	events []ViolationEvent
	total  int
}

// NewLedger creates a ledger retaining at most limit events.
func NewLedger(limit int) Ledger {
	if limit <= 0 {
		limit = 100
	}
	return Ledger{limit: limit}
}

// Append returns a ledger with e added, dropping the oldest entry past the limit.
// The receiver is not modified.
func (l Ledger) Append(e ViolationEvent) Ledger {
	n := len(l.events) + 1
	start := 0
	if n > l.limit {
		start = n - l.limit
	}
	events := make([]ViolationEvent, 0, n-start)
	if start < len(l.events) {
		events = append(events, l.events[start:]...)
	}
	events = append(events, e)
	return Ledger{limit: l.limit, events: events, total: l.total + 1}
}

// Events returns a copy of the retained events, oldest first.
func (l Ledger) Events() []ViolationEvent {
	out := make([]ViolationEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len is the number of retained events.
func (l Ledger) Len() int { return len(l.events) }

// Total is the number of events ever appended.
func (l Ledger) Total() int { return l.total }
