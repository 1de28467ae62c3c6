package paxos

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/wire"
)

type learnerHarness struct {
	lrn   *Learner
	out   *bytes.Buffer
	peers *transport.MemConn
}

func newLearnerHarness(t *testing.T, quorum int, timeout time.Duration) *learnerHarness {
	net := transport.NewNetwork()
	conn := net.Join(config.Learners)
	t.Cleanup(func() { conn.Close() })
	out := &bytes.Buffer{}
	return &learnerHarness{
		lrn:   NewLearner(1, conn, quorum, timeout, out, nopLogger()),
		out:   out,
		peers: net.Join(config.Learners),
	}
}

func TestLearnerDecidesOnQuorum(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 42}))
	assert.Empty(t, h.out.String())

	h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 42}))
	assert.Equal(t, "42\n", h.out.String())
}

func TestLearnerPrintsInInstanceOrder(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	// instance 2 reaches quorum first but waits behind the gap
	for i := 0; i < 2; i++ {
		h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 2, VRnd: 1, VVal: 8}))
	}
	assert.Empty(t, h.out.String())

	for i := 0; i < 2; i++ {
		h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 7}))
	}
	assert.Equal(t, "7\n8\n", h.out.String())
}

func TestLearnerAbsorbsDuplicatesAfterDecision(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	for i := 0; i < 2; i++ {
		h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 5}))
	}
	require.Equal(t, "5\n", h.out.String())

	h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 5}))
	h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 1, VRnd: 2, VVal: 5}))
	assert.Equal(t, "5\n", h.out.String())
}

func TestLearnerCatchupReplaysDecidedPrefix(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	vals := []int{10, 20, 30}
	for inst, v := range vals {
		for i := 0; i < 2; i++ {
			h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: inst + 1, VRnd: 1, VVal: v}))
		}
	}
	require.Equal(t, "10\n20\n30\n", h.out.String())
	drain(t, h.peers, wire.ParseLearnerBound)

	h.lrn.handleDatagram(dg(t, wire.CatchupRequest{Learner: 2}))
	msgs := drain(t, h.peers, wire.ParseLearnerBound)
	require.Len(t, msgs, 3)
	for i, v := range vals {
		assert.Equal(t, wire.LearnerUpdate{Inst: i + 1, Value: v}, msgs[i])
	}

	// a learner's own request is ignored
	h.lrn.handleDatagram(dg(t, wire.CatchupRequest{Learner: 1}))
	assert.Empty(t, drain(t, h.peers, wire.ParseLearnerBound))
}

func TestLearnerUpdateForceDecides(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	h.lrn.handleDatagram(dg(t, wire.LearnerUpdate{Inst: 2, Value: 20}))
	assert.Empty(t, h.out.String())

	h.lrn.handleDatagram(dg(t, wire.LearnerUpdate{Inst: 1, Value: 10}))
	assert.Equal(t, "10\n20\n", h.out.String())

	// an update for a decided instance is a no-op
	h.lrn.handleDatagram(dg(t, wire.LearnerUpdate{Inst: 1, Value: 99}))
	assert.Equal(t, "10\n20\n", h.out.String())
}

func TestLearnerUpdateDoesNotOutrunNew2Bs(t *testing.T) {
	h := newLearnerHarness(t, 2, time.Minute)

	h.lrn.handleDatagram(dg(t, wire.LearnerUpdate{Inst: 1, Value: 10}))
	require.Equal(t, "10\n", h.out.String())

	// fresh 2B traffic continues past the replayed prefix
	for i := 0; i < 2; i++ {
		h.lrn.handleDatagram(dg(t, wire.Accepted{Inst: 2, VRnd: 1, VVal: 20}))
	}
	assert.Equal(t, "10\n20\n", h.out.String())
}

func TestLearnerStartupBroadcastsCatchup(t *testing.T) {
	net := transport.NewNetwork()
	conn := net.Join(config.Learners)
	peers := net.Join(config.Learners)

	lrn := NewLearner(3, conn, 2, time.Minute, &bytes.Buffer{}, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		lrn.Run(ctx)
	}()
	defer func() {
		cancel()
		conn.Close()
		<-done
	}()

	m := recvParsed(t, peers, wire.ParseLearnerBound, time.Second)
	assert.Equal(t, wire.CatchupRequest{Learner: 3}, m)
}

func TestLearnerWatchdogRequestsRetransmission(t *testing.T) {
	net := transport.NewNetwork()
	conn := net.Join(config.Learners)
	acceptors := net.Join(config.Acceptors)
	driver := net.Join(config.Acceptors)

	out := &syncBuffer{}
	lrn := NewLearner(1, conn, 2, 20*time.Millisecond, out, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		lrn.Run(ctx)
	}()
	defer func() {
		cancel()
		conn.Close()
		<-done
	}()

	// a single vote is below quorum; the watchdog clears the slot and
	// asks the acceptors to re-emit
	require.NoError(t, driver.Send(config.Learners, dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 6})))
	m := recvParsed(t, acceptors, wire.ParseAcceptorBound, time.Second)
	assert.Equal(t, wire.Resend2B{Inst: 1}, m)

	// a quorum of retransmitted votes decides the instance once
	for i := 0; i < 2; i++ {
		require.NoError(t, driver.Send(config.Learners, dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 6})))
	}
	require.Eventually(t, func() bool { return out.String() == "6\n" }, time.Second, 10*time.Millisecond)

	// decided: the watchdog goes quiet
	time.Sleep(60 * time.Millisecond)
	for {
		b, ok := acceptors.TryRecv()
		if !ok {
			break
		}
		_ = b
	}
	time.Sleep(60 * time.Millisecond)
	_, ok := acceptors.TryRecv()
	assert.False(t, ok, "resend after decision")
}

func TestLearnerGapWatchdogRecoversSilentInstance(t *testing.T) {
	net := transport.NewNetwork()
	conn := net.Join(config.Learners)
	acceptors := net.Join(config.Acceptors)
	driver := net.Join(config.Acceptors)

	out := &syncBuffer{}
	lrn := NewLearner(1, conn, 2, 20*time.Millisecond, out, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		lrn.Run(ctx)
	}()
	defer func() {
		cancel()
		conn.Close()
		<-done
	}()

	// instance 2 decides while instance 1 saw no 2B at all
	for i := 0; i < 2; i++ {
		require.NoError(t, driver.Send(config.Learners, dg(t, wire.Accepted{Inst: 2, VRnd: 1, VVal: 20})))
	}
	m := recvParsed(t, acceptors, wire.ParseAcceptorBound, time.Second)
	assert.Equal(t, wire.Resend2B{Inst: 1}, m)

	for i := 0; i < 2; i++ {
		require.NoError(t, driver.Send(config.Learners, dg(t, wire.Accepted{Inst: 1, VRnd: 1, VVal: 10})))
	}
	require.Eventually(t, func() bool { return out.String() == "10\n20\n" }, time.Second, 10*time.Millisecond)
}

// syncBuffer is a goroutine-safe writer for learners under a running
// event loop.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
