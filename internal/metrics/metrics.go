// Package metrics exposes the protocol counters. Registration is
// global; the HTTP listener is opt-in via the CLI flag.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// DatagramsReceived counts inbound datagrams by role and message kind.
	DatagramsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paxos_datagrams_received_total",
		Help: "Inbound datagrams by role and message kind.",
	}, []string{"role", "kind"})

	// DatagramsDropped counts datagrams discarded before handling.
	DatagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paxos_datagrams_dropped_total",
		Help: "Datagrams dropped by role and reason.",
	}, []string{"role", "reason"})

	// Decisions counts values a learner has emitted.
	Decisions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paxos_decisions_total",
		Help: "Values decided and emitted by this learner.",
	})

	// RoundRenewals counts proposer ballot bumps on stalled instances.
	RoundRenewals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paxos_round_renewals_total",
		Help: "Proposer round renewals triggered by timeout or restart.",
	})

	// ResendRequests counts learner retransmission requests to acceptors.
	ResendRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paxos_resend_requests_total",
		Help: "RESEND_2B requests sent by this learner.",
	})
)

// Serve exposes /metrics on addr in a background goroutine. Listen
// failures are logged, not fatal; the protocol does not depend on the
// metrics endpoint.
func Serve(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics listener failed")
		}
	}()
}
