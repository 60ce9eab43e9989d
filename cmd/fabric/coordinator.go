package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/quorumlabs/fabric/pkg/config"
	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/metrics"
	"github.com/quorumlabs/fabric/pkg/twophase"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run a two-phase commit coordinator",
	Long: `Run a two-phase commit coordinator over a fixed set of participants.

Configuration is read from the environment:
  COORDINATOR_PORT                port to listen on (default 50050)
  PARTICIPANT_ADDRESSES           comma-separated participant voting addresses
  PARTICIPANT_DECISION_ADDRESSES  comma-separated participant decision addresses,
                                   paired by position with PARTICIPANT_ADDRESSES
  METRICS_ADDR                    address for the Prometheus /metrics endpoint (default :9100)`,
	RunE: runCoordinator,
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	port := config.Int("COORDINATOR_PORT", 50050)
	votingAddrs := config.StringList("PARTICIPANT_ADDRESSES")
	decisionAddrs := config.StringList("PARTICIPANT_DECISION_ADDRESSES")
	metricsAddr := config.String("METRICS_ADDR", ":9100")

	logger := log.WithComponent("coordinator")
	if len(votingAddrs) == 0 {
		logger.Warn().Msg("no PARTICIPANT_ADDRESSES configured, every transaction will vacuously GLOBAL_COMMIT")
	}
	if len(decisionAddrs) != len(votingAddrs) {
		logger.Fatal().
			Int("voting_addrs", len(votingAddrs)).
			Int("decision_addrs", len(decisionAddrs)).
			Msg("PARTICIPANT_ADDRESSES and PARTICIPANT_DECISION_ADDRESSES must list the same number of participants")
	}

	participants := make([]twophase.ParticipantAddr, len(votingAddrs))
	for i := range votingAddrs {
		participants[i] = twophase.ParticipantAddr{Voting: votingAddrs[i], Decision: decisionAddrs[i]}
	}

	c := twophase.NewCoordinator(participants, logger)

	ctx, cancel := signalContext()
	defer cancel()

	go serveMetrics(ctx, metricsAddr, logger)

	addr := net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	logger.Info().Str("addr", addr).Int("participants", len(participants)).Msg("starting coordinator")
	return twophase.Serve(ctx, addr, c)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, the shutdown
// trigger every fabric subcommand's server loop blocks on.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// serveMetrics runs the Prometheus /metrics endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
	}
}
