package anchor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// Ledger is the write-once, best-effort audit sink. Anchor returns a
// reference id for the recorded hash.
type Ledger interface {
	RecordAction(ctx context.Context, actor, action, target, justification string)
	Anchor(ctx context.Context, hash string) (string, error)
}

// Positions supplies a snapshot copy of the live position table.
type Positions interface {
	Snapshot() []messages.TelemetryReport
}

// Sweeper periodically anchors the Merkle root of the live positions.
type Sweeper struct {
	positions Positions
	ledger    Ledger
	interval  time.Duration
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper; a zero interval defaults to 60s.
func NewSweeper(positions Positions, ledger Ledger, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{
		positions: positions,
		ledger:    ledger,
		interval:  interval,
		logger:    logger.With().Str("component", "anchor_sweep").Logger(),
	}
}

// Run anchors on a fixed interval until the context is cancelled. Ledger
// failures are logged and dropped; the sweep never propagates them.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("Anchor sweep started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Anchor sweep stopped")
			return nil
		case <-ticker.C:
			s.anchorOnce(ctx)
		}
	}
}

func (s *Sweeper) anchorOnce(ctx context.Context) {
	batch := s.positions.Snapshot()
	if len(batch) == 0 {
		return
	}

	root := TelemetryRoot(batch)
	ref, err := s.ledger.Anchor(ctx, root)
	if err != nil {
		s.logger.Warn().Err(err).Str("root", root).Msg("Anchor failed, dropping")
		return
	}

	s.logger.Debug().
		Str("root", root).
		Str("ref", ref).
		Int("leaves", len(batch)).
		Msg("Telemetry batch anchored")
}
