// Package storage holds the in-memory protocol state containers: the
// acceptor's per-instance vote table and the learner's decided log.
// State lives for the process lifetime only; durable recovery is out
// of scope.
package storage

// AcceptorState is one instance's `(rnd, vrnd, vval)` triple. The zero
// value is the unpromised, unvoted state.
type AcceptorState struct {
	Rnd  int
	VRnd int
	VVal int
}

// Voted reports whether the acceptor has cast a phase-2 vote.
func (s *AcceptorState) Voted() bool {
	return s.VRnd != 0
}

// AcceptorTable maps instance ids to acceptor state, creating entries
// lazily on first reference. It is confined to the acceptor's event
// loop and needs no locking.
type AcceptorTable struct {
	states map[int]*AcceptorState
}

// NewAcceptorTable creates an empty table.
func NewAcceptorTable() *AcceptorTable {
	return &AcceptorTable{states: make(map[int]*AcceptorState)}
}

// Get returns the state for an instance, initializing it to zero on
// first reference.
func (t *AcceptorTable) Get(inst int) *AcceptorState {
	s, ok := t.states[inst]
	if !ok {
		s = &AcceptorState{}
		t.states[inst] = s
	}
	return s
}

// Lookup returns the state for an instance without creating it.
func (t *AcceptorTable) Lookup(inst int) (*AcceptorState, bool) {
	s, ok := t.states[inst]
	return s, ok
}

// Len reports how many instances have state.
func (t *AcceptorTable) Len() int {
	return len(t.states)
}
