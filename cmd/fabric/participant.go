package main

import (
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/quorumlabs/fabric/pkg/config"
	"github.com/quorumlabs/fabric/pkg/log"
	"github.com/quorumlabs/fabric/pkg/twophase"
)

var participantCmd = &cobra.Command{
	Use:   "participant",
	Short: "Run a two-phase commit participant",
	Long: `Run a two-phase commit participant, serving both its voting and
decision phases.

Configuration is read from the environment:
  VOTING_PORT     port the voting phase listens on (default 50051)
  DECISION_PORT   port the decision phase listens on (default 60051)
  PARTICIPANT_ID  this participant's identifier (default PARTICIPANT_1)
  SERVICE_NAME    which Validator to use (default DriverService)`,
	RunE: runParticipant,
}

func runParticipant(cmd *cobra.Command, args []string) error {
	votingPort := config.Int("VOTING_PORT", 50051)
	decisionPort := config.Int("DECISION_PORT", 60051)
	participantID := config.String("PARTICIPANT_ID", "PARTICIPANT_1")
	serviceName := config.String("SERVICE_NAME", "DriverService")

	logger := log.WithParticipantID(participantID)
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	p := twophase.NewParticipant(participantID, serviceName, logger, rnd)

	ctx, cancel := signalContext()
	defer cancel()

	go p.Run(ctx)

	votingAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(votingPort))
	decisionAddr := net.JoinHostPort("0.0.0.0", strconv.Itoa(decisionPort))

	logger.Info().Str("service", serviceName).Str("voting_addr", votingAddr).Str("decision_addr", decisionAddr).Msg("starting participant")

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := twophase.ServeVoting(ctx, votingAddr, p); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := twophase.ServeDecision(ctx, decisionAddr, p); err != nil {
			errCh <- err
		}
	}()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case err := <-errCh:
		cancel()
		return err
	case <-done:
		return nil
	}
}
