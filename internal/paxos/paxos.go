// Package paxos implements the role state machines of the multi-decree
// protocol: acceptor, proposer, learner, plus the client feeder.
//
// Each role runs a single event loop. A reader goroutine forwards
// inbound datagrams into the loop's event channel and watchdog timers
// post tick events into the same channel, so per-instance state is
// touched by exactly one goroutine and needs no locking.
package paxos

import (
	"time"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
)

// DefaultTimeout is the watchdog delay used by all three roles.
const DefaultTimeout = 500 * time.Millisecond

// event is either an inbound datagram (payload non-nil) or a watchdog
// tick for an instance.
type event struct {
	payload []byte
	inst    int
}

// loop carries the event plumbing shared by the roles. done is closed
// when Run returns so pending timers and the reader never block on a
// dead channel.
type loop struct {
	events  chan event
	done    chan struct{}
	timeout time.Duration
}

func newLoop(timeout time.Duration) loop {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return loop{
		events:  make(chan event, 256),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

// arm schedules a watchdog tick for inst after the configured timeout.
func (l *loop) arm(inst int) {
	time.AfterFunc(l.timeout, func() {
		select {
		case l.events <- event{inst: inst}:
		case <-l.done:
		}
	})
}

// readLoop forwards datagrams from conn into events until the
// connection is closed or the loop is done. The owner of conn closes
// it after Run returns, which unblocks the pending Recv.
func readLoop(conn transport.Conn, events chan<- event, done <-chan struct{}) {
	for {
		b, err := conn.Recv()
		if err != nil {
			return
		}
		select {
		case events <- event{payload: b}:
		case <-done:
			return
		}
	}
}
