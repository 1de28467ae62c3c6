package paxos

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/metrics"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/wire"
)

// proposal is one in-flight instance. clientVal survives every round
// renewal; the phase-1 tallies are reset per round.
type proposal struct {
	cRnd      int
	clientVal int

	promises    int
	highestVRnd int
	cVal        int
	sent2A      bool
	watching    bool
}

// Proposer drives one ballot per instance: phase 1 to a quorum of
// promises, then a single phase 2. Stalled instances renew their round
// on the 1B-watchdog or an acceptor RESTART.
type Proposer struct {
	loop
	id     int
	conn   transport.Conn
	quorum int
	log    zerolog.Logger

	nextInst int
	props    map[int]*proposal
}

// NewProposer creates a proposer bound to conn. quorum is the majority
// size of the acceptor cluster.
func NewProposer(id int, conn transport.Conn, quorum int, timeout time.Duration, log zerolog.Logger) *Proposer {
	return &Proposer{
		loop:     newLoop(timeout),
		id:       id,
		conn:     conn,
		quorum:   quorum,
		log:      log,
		nextInst: 1,
		props:    make(map[int]*proposal),
	}
}

// Run consumes datagrams and watchdog ticks until ctx is canceled.
func (p *Proposer) Run(ctx context.Context) error {
	p.log.Info().Msg("proposer up")
	defer close(p.done)
	go readLoop(p.conn, p.events, p.done)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.events:
			if ev.payload != nil {
				p.handleDatagram(ev.payload)
			} else {
				p.handleWatchdog(ev.inst)
			}
		}
	}
}

func (p *Proposer) handleDatagram(b []byte) {
	chunks, err := wire.Decode(b)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("proposer", "decode").Inc()
		p.log.Warn().Err(err).Msg("dropping malformed datagram")
		return
	}
	msg, err := wire.ParseProposerBound(chunks)
	if err != nil {
		metrics.DatagramsDropped.WithLabelValues("proposer", "unknown").Inc()
		p.log.Warn().Err(err).Ints("chunks", chunks).Msg("dropping unhandled message")
		return
	}
	metrics.DatagramsReceived.WithLabelValues("proposer", wire.Kind(msg)).Inc()
	switch m := msg.(type) {
	case wire.Submit:
		p.onSubmit(m)
	case wire.Promise:
		p.onPromise(m)
	case wire.Restart:
		p.onRestart(m)
	}
}

// onSubmit allocates the next instance for a client value and opens
// phase 1 at ballot 1.
func (p *Proposer) onSubmit(m wire.Submit) {
	inst := p.nextInst
	p.nextInst++
	pr := &proposal{cRnd: 1, clientVal: m.Value}
	p.props[inst] = pr
	p.log.Info().Int("inst", inst).Int("value", m.Value).Msg("opening instance")
	p.prepare(inst, pr)
}

func (p *Proposer) onPromise(m wire.Promise) {
	pr, ok := p.props[m.Inst]
	if !ok {
		return
	}
	if m.Rnd < pr.cRnd || pr.sent2A {
		return // stale round, or quorum already served
	}
	pr.promises++
	if m.VRnd > pr.highestVRnd {
		pr.highestVRnd = m.VRnd
		pr.cVal = m.VVal
	}
	if pr.promises < p.quorum {
		return
	}
	v := pr.clientVal
	if pr.highestVRnd != 0 {
		v = pr.cVal
	}
	pr.sent2A = true
	p.log.Debug().Int("inst", m.Inst).Int("c_rnd", pr.cRnd).Int("c_val", v).Msg("quorum of promises")
	p.send(config.Acceptors, wire.Accept{Inst: m.Inst, CRnd: pr.cRnd, CVal: v})
}

func (p *Proposer) onRestart(m wire.Restart) {
	pr, ok := p.props[m.Inst]
	if !ok {
		return
	}
	p.renew(m.Inst, pr)
}

// handleWatchdog fires one timeout after a 1A was sent; a round still
// short of its promise quorum is renewed.
func (p *Proposer) handleWatchdog(inst int) {
	pr, ok := p.props[inst]
	if !ok {
		return
	}
	pr.watching = false
	if pr.promises >= p.quorum {
		return
	}
	p.renew(inst, pr)
}

// renew raises the ballot and reruns phase 1. The client value is
// never touched here; losing it across renewals would break liveness
// for the submitted value.
func (p *Proposer) renew(inst int, pr *proposal) {
	if pr.cRnd >= wire.MaxChunk {
		p.log.Error().Int("inst", inst).Msg("ballot space exhausted")
		return
	}
	pr.cRnd++
	pr.promises = 0
	pr.highestVRnd = 0
	pr.cVal = 0
	pr.sent2A = false
	metrics.RoundRenewals.Inc()
	p.log.Debug().Int("inst", inst).Int("c_rnd", pr.cRnd).Msg("renewing round")
	p.prepare(inst, pr)
}

func (p *Proposer) prepare(inst int, pr *proposal) {
	p.send(config.Acceptors, wire.Prepare{Inst: inst, CRnd: pr.cRnd})
	if !pr.watching {
		pr.watching = true
		p.arm(inst)
	}
}

func (p *Proposer) send(group string, m wire.Message) {
	b, err := m.Marshal()
	if err != nil {
		p.log.Error().Err(err).Str("kind", wire.Kind(m)).Msg("marshal failed")
		return
	}
	if err := p.conn.Send(group, b); err != nil {
		p.log.Warn().Err(err).Str("group", group).Msg("send failed")
	}
}
