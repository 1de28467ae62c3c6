// Package node assembles a single role process: it binds the role's
// multicast group, constructs the role state machine and runs it until
// the context is canceled.
package node

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/paxos"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/transport"
)

// Role names accepted on the command line.
const (
	RoleAcceptor = "acceptor"
	RoleProposer = "proposer"
	RoleLearner  = "learner"
	RoleClient   = "client"
)

// Options carries the per-process knobs.
type Options struct {
	Timeout time.Duration // watchdog timeout; zero means the default
	Stdin   io.Reader     // client input
	Stdout  io.Writer     // learner decided-value output
}

// Run executes one role until ctx is canceled (or, for the client,
// until EOF). Bind failures and unknown roles are returned as errors.
func Run(ctx context.Context, cfg *config.Config, role string, id int, log zerolog.Logger, opts Options) error {
	group, ok := listenGroup(role)
	if !ok {
		return errors.Errorf("node: unknown role %q", role)
	}
	conn, err := transport.ListenUDP(cfg, group)
	if err != nil {
		return err
	}
	defer conn.Close()

	switch role {
	case RoleAcceptor:
		return paxos.NewAcceptor(id, conn, opts.Timeout, log).Run(ctx)
	case RoleProposer:
		return paxos.NewProposer(id, conn, cfg.Quorum(), opts.Timeout, log).Run(ctx)
	case RoleLearner:
		return paxos.NewLearner(id, conn, cfg.Quorum(), opts.Timeout, opts.Stdout, log).Run(ctx)
	default:
		return paxos.NewClient(id, conn, opts.Stdin, log).Run(ctx)
	}
}

func listenGroup(role string) (string, bool) {
	switch role {
	case RoleAcceptor:
		return config.Acceptors, true
	case RoleProposer:
		return config.Proposers, true
	case RoleLearner:
		return config.Learners, true
	case RoleClient:
		return config.Clients, true
	default:
		return "", false
	}
}
