package storage

// Entry is one instance slot in the decided log: the multiset of 2B
// values received so far and, once quorate, the decided value.
type Entry struct {
	votes    []int
	decided  bool
	value    int
	watching bool
}

// Votes reports the multiset size.
func (e *Entry) Votes() int { return len(e.votes) }

// Decided reports whether the slot has been decided and printed.
func (e *Entry) Decided() bool { return e.decided }

// Value returns the decided value; meaningful only once Decided.
func (e *Entry) Value() int { return e.value }

// Watching tracks whether a retransmit watchdog is armed for the slot.
// It is read and written only by the owning learner's event loop.
func (e *Entry) Watching() bool     { return e.watching }
func (e *Entry) SetWatching(v bool) { e.watching = v }

// Add appends one 2B value to the multiset.
func (e *Entry) Add(val int) { e.votes = append(e.votes, val) }

// Clear drops a partial multiset so stale votes cannot mix with a
// fresh retransmission.
func (e *Entry) Clear() { e.votes = nil }

// Quorate returns the value held by at least quorum votes, if any.
func (e *Entry) Quorate(quorum int) (int, bool) {
	counts := make(map[int]int, len(e.votes))
	for _, v := range e.votes {
		counts[v]++
		if counts[v] >= quorum {
			return v, true
		}
	}
	return 0, false
}

// Force records quorum copies of a value replayed by a peer learner.
// Decided slots are left untouched.
func (e *Entry) Force(val, quorum int) {
	if e.decided {
		return
	}
	e.votes = make([]int, quorum)
	for i := range e.votes {
		e.votes[i] = val
	}
}

// Log is the learner's instance-indexed decided log: a dense slice of
// entries (index = instance id - 1) with a decided-prefix pointer.
// Confined to the learner's event loop.
type Log struct {
	entries []*Entry
	learned int
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Learned is the index of the first undecided slot: every slot below
// it is decided and has been emitted.
func (l *Log) Learned() int { return l.learned }

// Len reports how many slots have been allocated.
func (l *Log) Len() int { return len(l.entries) }

// Entry grows the log to cover idx and returns the slot.
func (l *Log) Entry(idx int) *Entry {
	for len(l.entries) <= idx {
		l.entries = append(l.entries, &Entry{})
	}
	return l.entries[idx]
}

// DecidedValue returns the value decided at idx, if any.
func (l *Log) DecidedValue(idx int) (int, bool) {
	if idx >= len(l.entries) || !l.entries[idx].decided {
		return 0, false
	}
	return l.entries[idx].value, true
}

// Advance marks quorate slots decided from the prefix pointer forward,
// stopping at the first gap, and invokes emit for each value in
// instance order.
func (l *Log) Advance(quorum int, emit func(idx, val int)) {
	for l.learned < len(l.entries) {
		e := l.entries[l.learned]
		v, ok := e.Quorate(quorum)
		if !ok {
			return
		}
		e.decided = true
		e.value = v
		emit(l.learned, v)
		l.learned++
	}
}
