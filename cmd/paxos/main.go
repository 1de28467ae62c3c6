// Command paxos runs one role of the multicast Paxos cluster:
//
//	paxos <config-path> <role> <id>
//
// where role is acceptor, proposer, learner or client. Learners print
// decided values to stdout, one per line; diagnostics go to stderr.
package main

import (
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/config"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/metrics"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/node"
	"github.com/Distributed-Systems-Cool-Boys/Paxos/internal/paxos"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		timeout     time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:           "paxos <config-path> <role> <id>",
		Short:         "multi-decree Paxos over UDP multicast",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			role := args[1]
			id, err := strconv.Atoi(args[2])
			if err != nil || id < 0 {
				return errors.Errorf("id must be a non-negative integer, got %q", args[2])
			}
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				With().Timestamp().Str("role", role).Int("id", id).Logger()
			if metricsAddr != "" {
				metrics.Serve(metricsAddr, log)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return node.Run(ctx, cfg, role, id, log, node.Options{
				Timeout: timeout,
				Stdin:   os.Stdin,
				Stdout:  os.Stdout,
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", paxos.DefaultTimeout, "watchdog timeout")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}
