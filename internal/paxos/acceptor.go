package paxos

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/metrics"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/storage"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/wire"
)

// Acceptor votes on proposals. Per instance it tracks the promised
// round and the last vote; rnd and vrnd only ever grow, and vval
// changes only when vrnd does.
type Acceptor struct {
	loop
	id    int
	conn  transport.Conn
	table *storage.AcceptorTable
	log   zerolog.Logger

	// instances with an armed 2A-watchdog, so retries never stack
	watching map[int]bool
}

// NewAcceptor creates an acceptor bound to conn. A zero timeout means
// DefaultTimeout.
func NewAcceptor(id int, conn transport.Conn, timeout time.Duration, log zerolog.Logger) *Acceptor {
	return &Acceptor{
		loop:     newLoop(timeout),
		id:       id,
		conn:     conn,
		table:    storage.NewAcceptorTable(),
		log:      log,
		watching: make(map[int]bool),
	}
}

// Run consumes datagrams and watchdog ticks until ctx is canceled.
// The caller closes conn afterwards to release the reader.
func (a *Acceptor) Run(ctx context.Context) error {
	a.log.Info().Msg("acceptor up")
	defer close(a.done)
	go readLoop(a.conn, a.events, a.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-a.events:
			if ev.payload != nil {
				a.handleDatagram(ev.payload)
			} else {
				a.handleWatchdog(ev.inst)
			}
		}
	}
}

func (a *Acceptor) handleDatagram(b []byte) {
	chunks, err := wire.Decode(b)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("acceptor", "decode").Inc()
		a.log.Warn().Err(err).Msg("dropping malformed datagram")
		return
	}
	msg, err := wire.ParseAcceptorBound(chunks)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("acceptor", "unknown").Inc()
		a.log.Warn().Err(err).Ints("chunks", chunks).Msg("dropping unhandled message")
		return
	}
	metrics.DatagramsReceived.WithLabelValues("acceptor", wire.Kind(msg)).Inc()
	switch m := msg.(type) {
	case wire.Prepare:
		a.onPrepare(m)
	case wire.Accept:
		a.onAccept(m)
	case wire.Resend2B:
		a.onResend(m)
	}
}

func (a *Acceptor) onPrepare(m wire.Prepare) {
	st := a.table.Get(m.Inst)
	if m.CRnd <= st.Rnd {
		return // stale ballot
	}
	st.Rnd = m.CRnd
	a.logState(m.Inst, 1, st)
	a.send(config.Proposers, wire.Promise{Inst: m.Inst, Rnd: st.Rnd, VRnd: st.VRnd, VVal: st.VVal})
	if !a.watching[m.Inst] {
		a.watching[m.Inst] = true
		a.arm(m.Inst)
	}
}

func (a *Acceptor) onAccept(m wire.Accept) {
	st := a.table.Get(m.Inst)
	if m.CRnd < st.Rnd || m.CRnd < st.VRnd {
		return // promised or voted at a higher ballot
	}
	st.VRnd = m.CRnd
	st.VVal = m.CVal
	a.logState(m.Inst, 2, st)
	a.send(config.Learners, wire.Accepted{Inst: m.Inst, VRnd: st.VRnd, VVal: st.VVal})
}

func (a *Acceptor) onResend(m wire.Resend2B) {
	st, ok := a.table.Lookup(m.Inst)
	if !ok || !st.Voted() {
		return
	}
	a.send(config.Learners, wire.Accepted{Inst: m.Inst, VRnd: st.VRnd, VVal: st.VVal})
}

// handleWatchdog fires after a promise was sent. Until the instance
// sees a phase-2 vote, the proposer is assumed stuck and nudged with
// RESTART once per timeout.
func (a *Acceptor) handleWatchdog(inst int) {
	st := a.table.Get(inst)
	if st.Voted() {
		a.watching[inst] = false
		return
	}
	a.send(config.Proposers, wire.Restart{Inst: inst})
	a.arm(inst)
}

func (a *Acceptor) send(group string, m wire.Message) {
	b, err := m.Marshal()
	if err != nil {
		a.log.Error().Err(err).Str("kind", wire.Kind(m)).Msg("marshal failed")
		return
	}
	if err := a.conn.Send(group, b); err != nil {
		a.log.Warn().Err(err).Str("group", group).Msg("send failed")
	}
}

func (a *Acceptor) logState(inst, phase int, st *storage.AcceptorState) {
	a.log.Debug().
		Int("inst", inst).
		Int("phase", phase).
		Int("rnd", st.Rnd).
		Int("v_rnd", st.VRnd).
		Int("v_val", st.VVal).
		Msg("state")
}
