// Package natsutil provides NATS stream configuration and the broadcast /
// ledger adapters used by the sentinel pipeline.
package natsutil

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamConfigs defines the streams backing the broadcast and ledger
// subjects.
var StreamConfigs = map[string]jetstream.StreamConfig{
	"TELEMETRY": {
		Name:              "TELEMETRY",
		Description:       "Enriched telemetry updates",
		Subjects:          []string{"telemetry.>"},
		Retention:         jetstream.LimitsPolicy,
		MaxBytes:          1 * 1024 * 1024 * 1024, // 1GB
		MaxAge:            24 * time.Hour,
		Storage:           jetstream.FileStorage,
		Replicas:          1,
		Discard:           jetstream.DiscardOld,
		MaxMsgsPerSubject: 100000,
	},
	"ALERTS": {
		Name:        "ALERTS",
		Description: "New and escalated operational alerts",
		Subjects:    []string{"alert.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    512 * 1024 * 1024, // 512MB
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Discard:     jetstream.DiscardOld,
	},
	"LEDGER": {
		Name:        "LEDGER",
		Description: "Audit actions and anchored telemetry roots",
		Subjects:    []string{"ledger.>"},
		Retention:   jetstream.LimitsPolicy,
		MaxBytes:    256 * 1024 * 1024, // 256MB
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	},
}

// EnsureStreams creates any missing streams. Best-effort: without a working
// JetStream setup the process downgrades to core NATS publishing.
func EnsureStreams(ctx context.Context, nc *nats.Conn, logger zerolog.Logger) {
	js, err := jetstream.New(nc)
	if err != nil {
		logger.Warn().Err(err).Msg("JetStream unavailable, using core NATS only")
		return
	}

	for name, cfg := range StreamConfigs {
		if _, err := js.Stream(ctx, name); err == nil {
			continue // Stream exists
		}
		if _, err := js.CreateStream(ctx, cfg); err != nil {
			logger.Warn().Err(err).Str("stream", name).Msg("Failed to create stream")
			continue
		}
		logger.Info().Str("stream", name).Msg("Created stream")
	}
}

// Broadcaster publishes fire-and-forget to NATS subjects. A nil connection
// silently drops so the process can run without a broker.
type Broadcaster struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewBroadcaster wraps a NATS connection, which may be nil.
func NewBroadcaster(nc *nats.Conn, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{nc: nc, logger: logger.With().Str("component", "broadcaster").Logger()}
}

// Publish sends a payload to a subject, best-effort.
func (b *Broadcaster) Publish(subject string, payload []byte) {
	if b.nc == nil {
		return
	}
	if err := b.nc.Publish(subject, payload); err != nil {
		b.logger.Warn().Err(err).Str("subject", subject).Msg("Publish failed, dropping")
	}
}

// Ledger is a NATS-backed audit sink. Writes are best-effort and never block
// the caller.
type Ledger struct {
	nc     *nats.Conn
	logger zerolog.Logger
}

// NewLedger wraps a NATS connection, which may be nil.
func NewLedger(nc *nats.Conn, logger zerolog.Logger) *Ledger {
	return &Ledger{nc: nc, logger: logger.With().Str("component", "ledger").Logger()}
}

type actionRecord struct {
	Actor         string  `json:"actor"`
	Action        string  `json:"action"`
	Target        string  `json:"target"`
	Justification string  `json:"justification"`
	Timestamp     float64 `json:"timestamp"`
}

// RecordAction publishes an operator action to the ledger subject.
func (l *Ledger) RecordAction(ctx context.Context, actor, action, target, justification string) {
	if l.nc == nil {
		return
	}
	payload, err := json.Marshal(actionRecord{
		Actor:         actor,
		Action:        action,
		Target:        target,
		Justification: justification,
		Timestamp:     float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		return
	}
	if err := l.nc.Publish("ledger.action", payload); err != nil {
		l.logger.Warn().Err(err).Str("action", action).Msg("Ledger action dropped")
	}
}

type anchorRecord struct {
	Ref       string  `json:"ref"`
	Hash      string  `json:"hash"`
	Timestamp float64 `json:"timestamp"`
}

// Anchor publishes a hash to the ledger and returns its reference id.
func (l *Ledger) Anchor(ctx context.Context, hash string) (string, error) {
	ref := uuid.New().String()
	if l.nc == nil {
		return ref, nil
	}
	payload, err := json.Marshal(anchorRecord{
		Ref:       ref,
		Hash:      hash,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	})
	if err != nil {
		return "", err
	}
	if err := l.nc.Publish("ledger.anchor", payload); err != nil {
		return "", err
	}
	return ref, nil
}
