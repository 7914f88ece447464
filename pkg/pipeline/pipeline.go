// Package pipeline orchestrates a single telemetry pass: admission,
// authentication, signature verification, smoothing, geofence resolution,
// risk scoring, alert synthesis and fan-out. The caller gets the smoothed
// location and the risk of the same pass in one response.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/prahari-ai/sentinel/pkg/alerts"
	"github.com/prahari-ai/sentinel/pkg/biometrics"
	"github.com/prahari-ai/sentinel/pkg/filter"
	"github.com/prahari-ai/sentinel/pkg/geofence"
	"github.com/prahari-ai/sentinel/pkg/identity"
	"github.com/prahari-ai/sentinel/pkg/messages"
	"github.com/prahari-ai/sentinel/pkg/ratelimit"
	"github.com/prahari-ai/sentinel/pkg/risk"
)

// ErrRateLimited is returned when admission control rejects the source.
var ErrRateLimited = errors.New("rate limit exceeded")

// Meta carries the transport-level credentials presented with a report.
type Meta struct {
	Source      string // remote address, keys the rate limiter
	Fingerprint string
	CertRef     string
	Signature   string
	Nonce       uint64
}

// Store persists telemetry and alert history. Implementations may be nil or
// unreachable; the pipeline logs and drops on failure.
type Store interface {
	PutTelemetry(ctx context.Context, e *messages.EnrichedReport) error
	PutAlert(ctx context.Context, a *messages.Alert) error
}

// Broadcaster fans enriched reports and notable alerts out to observers.
type Broadcaster interface {
	Publish(subject string, payload []byte)
}

// PermitLookup resolves the permit status of a carrier DID. Answers may be
// stale or UNKNOWN; the pipeline tolerates both.
type PermitLookup interface {
	GetPermitStatus(ctx context.Context, did string) string
}

// Pipeline wires the per-report stages together.
type Pipeline struct {
	limiter   *ratelimit.Limiter
	guard     *identity.Guard
	smoother  *filter.Smoother
	geofence  *geofence.Engine
	risk      *risk.Engine
	humanity  *biometrics.Analyzer
	alerts    *alerts.Manager
	permits   PermitLookup
	store     Store
	broadcast Broadcaster
	positions *PositionTable
	metrics   *Metrics
	tracer    trace.Tracer
	logger    zerolog.Logger

	mu      sync.Mutex
	devLock map[string]*sync.Mutex
}

// Config collects the pipeline collaborators. Store, Broadcast and Permits
// may be nil for degraded operation.
type Config struct {
	Limiter   *ratelimit.Limiter
	Guard     *identity.Guard
	Smoother  *filter.Smoother
	Geofence  *geofence.Engine
	Risk      *risk.Engine
	Humanity  *biometrics.Analyzer
	Alerts    *alerts.Manager
	Permits   PermitLookup
	Store     Store
	Broadcast Broadcaster
	Metrics   *Metrics
	Logger    zerolog.Logger
}

// New assembles a pipeline with an empty position table.
func New(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Pipeline{
		limiter:   cfg.Limiter,
		guard:     cfg.Guard,
		smoother:  cfg.Smoother,
		geofence:  cfg.Geofence,
		risk:      cfg.Risk,
		humanity:  cfg.Humanity,
		alerts:    cfg.Alerts,
		permits:   cfg.Permits,
		store:     cfg.Store,
		broadcast: cfg.Broadcast,
		positions: NewPositionTable(),
		metrics:   m,
		tracer:    otel.Tracer("sentinel/pipeline"),
		logger:    cfg.Logger.With().Str("component", "pipeline").Logger(),
	}
}

// Positions exposes the live position table.
func (p *Pipeline) Positions() *PositionTable {
	return p.positions
}

// Process runs one report through the full pass. The report's Location is
// replaced by the smoothed estimate; the raw fix is kept on RawLocation. The
// signature covers the raw coordinates, so verification runs before
// smoothing. Reports for one device are serialized; devices proceed in
// parallel.
func (p *Pipeline) Process(ctx context.Context, report *messages.TelemetryReport, meta Meta) (*messages.EnrichedReport, error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("device_id", report.DeviceID)))
	defer span.End()

	if !p.limiter.Admit(meta.Source) {
		p.metrics.ReportsTotal.WithLabelValues(OutcomeRateLimited).Inc()
		span.SetStatus(codes.Error, "rate limited")
		return nil, ErrRateLimited
	}

	if err := p.guard.Authenticate(report.DeviceID, meta.Fingerprint, meta.CertRef); err != nil {
		p.metrics.ReportsTotal.WithLabelValues(OutcomeAuthFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "authentication failed")
		return nil, err
	}

	lock := p.deviceLock(report.DeviceID)
	lock.Lock()
	defer lock.Unlock()

	canonical := messages.CanonicalPayload(report.DeviceID, report.Timestamp, report.Location)
	if err := p.guard.Verify(report.DeviceID, canonical, meta.Signature, meta.Nonce); err != nil {
		p.metrics.ReportsTotal.WithLabelValues(OutcomeBadSig).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "signature rejected")
		return nil, err
	}

	raw := report.Location
	report.RawLocation = &raw
	report.Location = p.smoother.SmoothPoint(report.DeviceID, raw, report.Timestamp)
	report.HumanityScore = p.humanity.Observe(report)

	zone := p.geofence.Resolve(report.Location)
	riskResult := p.risk.Score(report, zone)

	enriched := &messages.EnrichedReport{
		Report: *report,
		Risk:   riskResult,
	}
	if zone != nil {
		enriched.ZoneID = zone.ZoneID
		enriched.ZoneName = zone.Name
	}

	notable := p.synthesizeAlerts(report, zone)
	p.positions.Update(*enriched)

	go p.fanOut(enriched, notable)

	p.metrics.ReportsTotal.WithLabelValues(OutcomeOK).Inc()
	p.metrics.ProcessSeconds.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("risk.score", riskResult.Score),
		attribute.String("risk.status", riskResult.Status),
	)
	return enriched, nil
}

// synthesizeAlerts raises or refreshes alerts implied by one report and
// returns the ones observers should hear about.
func (p *Pipeline) synthesizeAlerts(report *messages.TelemetryReport, zone *geofence.Zone) []messages.Alert {
	var notable []messages.Alert

	if report.IsPanic {
		alert, fresh := p.alerts.UpsertDetection(alerts.Detection{
			DeviceID:        report.DeviceID,
			DID:             report.DID,
			Type:            messages.AlertSOSManual,
			Severity:        messages.SeverityCritical,
			Message:         "Panic button pressed",
			Location:        report.Location,
			Confidence:      100,
			SuggestedAction: "Dispatch nearest responder immediately",
		})
		if fresh {
			notable = append(notable, alert)
		}
	}

	if zone != nil {
		severity := messages.SeverityMedium
		message := "Entered caution zone: " + zone.Name
		if zone.RiskLevel == geofence.RiskHigh {
			severity = messages.SeverityHigh
			message = "Entered restricted zone: " + zone.Name
		}
		alert, fresh := p.alerts.Upsert(report.DeviceID, report.DID,
			messages.AlertGeofenceBreach, severity, message, report.Location)
		if fresh {
			notable = append(notable, alert)
		}
	}

	for _, a := range notable {
		p.metrics.AlertsRaised.WithLabelValues(string(a.Type)).Inc()
	}
	return notable
}

// fanOut runs the asynchronous tail of a pass: permit enrichment, broadcast
// and persistence. Failures here never reach the device.
func (p *Pipeline) fanOut(enriched *messages.EnrichedReport, notable []messages.Alert) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("Fan-out panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if p.permits != nil && enriched.Report.DID != "" {
		enriched.PermitStatus = p.permits.GetPermitStatus(ctx, enriched.Report.DID)
	}

	if p.broadcast != nil {
		if payload, err := json.Marshal(enriched); err == nil {
			p.broadcast.Publish(enriched.Subject(), payload)
		}
		for i := range notable {
			if payload, err := json.Marshal(&notable[i]); err == nil {
				p.broadcast.Publish(notable[i].Subject(), payload)
			}
		}
	}

	if p.store != nil {
		if err := p.store.PutTelemetry(ctx, enriched); err != nil {
			p.logger.Warn().Err(err).Str("device_id", enriched.Report.DeviceID).Msg("Telemetry persist failed")
		}
		for i := range notable {
			if err := p.store.PutAlert(ctx, &notable[i]); err != nil {
				p.logger.Warn().Err(err).Str("alert_id", notable[i].AlertID).Msg("Alert persist failed")
			}
		}
	}
}

func (p *Pipeline) deviceLock(deviceID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.devLock[deviceID]
	if !ok {
		if p.devLock == nil {
			p.devLock = make(map[string]*sync.Mutex)
		}
		lock = &sync.Mutex{}
		p.devLock[deviceID] = lock
	}
	return lock
}
