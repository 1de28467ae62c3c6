package paxos

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/metrics"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/storage"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/wire"
)

// Learner reconstructs the decided log from 2B votes and emits values
// in instance order with no gaps. Lost votes are recovered by asking
// acceptors to re-emit; late joiners catch up from peer learners.
type Learner struct {
	loop
	id     int
	conn   transport.Conn
	quorum int
	out    io.Writer
	log    zerolog.Logger
	dlog   *storage.Log
}

// NewLearner creates a learner bound to conn. Decided values are
// written to out, one per line.
func NewLearner(id int, conn transport.Conn, quorum int, timeout time.Duration, out io.Writer, log zerolog.Logger) *Learner {
	return &Learner{
		loop:   newLoop(timeout),
		id:     id,
		conn:   conn,
		quorum: quorum,
		out:    out,
		log:    log,
		dlog:   storage.NewLog(),
	}
}

// Run broadcasts a catch-up request to peer learners, then consumes
// datagrams and watchdog ticks until ctx is canceled.
func (l *Learner) Run(ctx context.Context) error {
	l.log.Info().Msg("learner up")
	defer close(l.done)
	l.send(config.Learners, wire.CatchupRequest{Learner: l.id})
	go readLoop(l.conn, l.events, l.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.events:
			if ev.payload != nil {
				l.handleDatagram(ev.payload)
			} else {
				l.handleWatchdog(ev.inst)
			}
		}
	}
}

func (l *Learner) handleDatagram(b []byte) {
	chunks, err := wire.Decode(b)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("learner", "decode").Inc()
		l.log.Warn().Err(err).Msg("dropping malformed datagram")
		return
	}
	msg, err := wire.ParseLearnerBound(chunks)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("learner", "unknown").Inc()
		l.log.Warn().Err(err).Ints("chunks", chunks).Msg("dropping unhandled message")
		return
	}
	metrics.DatagramsReceived.WithLabelValues("learner", wire.Kind(msg)).Inc()
	switch m := msg.(type) {
	case wire.Accepted:
		l.onAccepted(m)
	case wire.CatchupRequest:
		l.onCatchupRequest(m)
	case wire.LearnerUpdate:
		l.onUpdate(m)
	}
}

func (l *Learner) onAccepted(m wire.Accepted) {
	if m.Inst < 1 {
		return
	}
	idx := m.Inst - 1
	e := l.dlog.Entry(idx)
	if !e.Decided() {
		empty := e.Votes() == 0
		e.Add(m.VVal)
		l.advance()
		if empty && !e.Decided() && !e.Watching() {
			e.SetWatching(true)
			l.arm(idx)
		}
	}
	l.watchGap()
}

// watchGap arms the retransmit watchdog on the first undecided slot
// once traffic shows later instances progressing past it. This covers
// slots whose 2B datagrams were lost entirely: no vote ever arrives to
// arm their own watchdog.
func (l *Learner) watchGap() {
	gap := l.dlog.Learned()
	if gap >= l.dlog.Len() {
		return
	}
	e := l.dlog.Entry(gap)
	if e.Decided() || e.Watching() || e.Votes() > 0 {
		return
	}
	e.SetWatching(true)
	l.arm(gap)
}

// onCatchupRequest replays the decided prefix so a late-joining peer
// reaches prefix equality. Only instances below learned are replayed;
// nothing above it is decided yet.
func (l *Learner) onCatchupRequest(m wire.CatchupRequest) {
	if m.Learner == l.id {
		return
	}
	for k := 0; k < l.dlog.Learned(); k++ {
		v, ok := l.dlog.DecidedValue(k)
		if !ok {
			continue
		}
		l.send(config.Learners, wire.LearnerUpdate{Inst: k + 1, Value: v})
	}
}

// onUpdate force-decides a slot from a peer's replay. Peers only
// replay already-decided values, so the slot is filled with a quorum
// of copies and the prefix advances as usual.
func (l *Learner) onUpdate(m wire.LearnerUpdate) {
	if m.Inst < 1 {
		return
	}
	e := l.dlog.Entry(m.Inst - 1)
	e.Force(m.Value, l.quorum)
	l.advance()
	l.watchGap()
}

// handleWatchdog fires one timeout after a slot's watchdog was armed:
// on its first vote, by watchGap for a slot with no vote, or by the
// previous retransmission request. A slot still short of quorum has its partial multiset cleared, so
// stale votes cannot mix with the retransmission, and the acceptors
// are asked to re-emit.
func (l *Learner) handleWatchdog(idx int) {
	e := l.dlog.Entry(idx)
	if e.Decided() {
		e.SetWatching(false)
		return
	}
	if _, ok := e.Quorate(l.quorum); ok {
		// quorate but behind a gap; nothing to recover here
		e.SetWatching(false)
		return
	}
	e.Clear()
	metrics.ResendRequests.Inc()
	l.log.Debug().Int("inst", idx+1).Msg("requesting 2B retransmission")
	l.send(config.Acceptors, wire.Resend2B{Inst: idx + 1})
	l.arm(idx)
}

func (l *Learner) advance() {
	l.dlog.Advance(l.quorum, func(idx, v int) {
		fmt.Fprintln(l.out, v)
		metrics.Decisions.Inc()
		l.log.Debug().Int("inst", idx+1).Int("value", v).Msg("decided")
	})
}

func (l *Learner) send(group string, m wire.Message) {
	b, err := m.Marshal()
	if err != nil {
		l.log.Error().Err(err).Str("kind", wire.Kind(m)).Msg("marshal failed")
		return
	}
	if err := l.conn.Send(group, b); err != nil {
		l.log.Warn().Err(err).Str("group", group).Msg("send failed")
	}
}
