// Package cyber implements the defense governor: it counts authentication
// failures per source and can force the whole system into a lockdown that
// blocks sensitive writes.
package cyber

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SystemMode is the single process-wide operating mode.
type SystemMode string

const (
	ModeNormal        SystemMode = "NORMAL"
	ModeDegraded      SystemMode = "DEGRADED"
	ModeEmergency     SystemMode = "EMERGENCY"
	ModeCyberLockdown SystemMode = "CYBER_LOCKDOWN"
)

// ErrServiceLocked is returned while the system is in CYBER_LOCKDOWN and
// the requested path is protected.
var ErrServiceLocked = errors.New("service locked: system in cyber lockdown")

// DefaultFailureThreshold is how many countable failures from one source
// trigger lockdown.
const DefaultFailureThreshold = 5

// modePath is the administrative escape hatch. It is never locked out,
// whatever the protected prefixes say: lockdown must stay reversible by an
// explicit mode change, not a process restart.
const modePath = "/api/v1/system/mode"

// EventSink receives auditable governance events, best-effort.
type EventSink interface {
	RecordAction(ctx context.Context, actor, action, target, justification string)
}

// Governor wraps every inbound request, observing outcomes and mutating the
// global system mode. Lockdown is sticky until an explicit administrative
// mode change.
type Governor struct {
	mu        sync.RWMutex
	mode      SystemMode
	failures  map[string]int
	blacklist map[string]bool

	threshold int
	protected []string
	sink      EventSink
	logger    zerolog.Logger
}

// NewGovernor creates a governor in NORMAL mode. protectedPrefixes are the
// path prefixes rejected during lockdown.
func NewGovernor(threshold int, protectedPrefixes []string, sink EventSink, logger zerolog.Logger) *Governor {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Governor{
		mode:      ModeNormal,
		failures:  make(map[string]int),
		blacklist: make(map[string]bool),
		threshold: threshold,
		protected: protectedPrefixes,
		sink:      sink,
		logger:    logger.With().Str("component", "cyber_governor").Logger(),
	}
}

// Mode returns the current system mode.
func (g *Governor) Mode() SystemMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode is the explicit administrative transition; it is the only way out
// of CYBER_LOCKDOWN.
func (g *Governor) SetMode(ctx context.Context, mode SystemMode, actor, justification string) {
	g.mu.Lock()
	prev := g.mode
	g.mode = mode
	if mode == ModeNormal {
		g.failures = make(map[string]int)
	}
	g.mu.Unlock()

	if g.sink != nil {
		g.sink.RecordAction(ctx, actor, "SET_MODE", string(mode), justification)
	}
	g.logger.Warn().
		Str("previous", string(prev)).
		Str("mode", string(mode)).
		Str("actor", actor).
		Msg("System mode changed")
}

// RecordFailure counts a security failure against a source. Reaching the
// threshold triggers lockdown and blacklists the source; re-triggering while
// already locked down only updates the blacklist.
func (g *Governor) RecordFailure(ctx context.Context, source string) {
	g.mu.Lock()
	g.failures[source]++
	count := g.failures[source]
	trip := count >= g.threshold
	already := g.mode == ModeCyberLockdown
	if trip {
		g.blacklist[source] = true
		g.mode = ModeCyberLockdown
	}
	g.mu.Unlock()

	if !trip || already {
		return
	}

	if g.sink != nil {
		g.sink.RecordAction(ctx, "CYBER_GOVERNOR", "LOCKDOWN", source, "failure threshold reached")
	}
	g.logger.Error().
		Str("source", source).
		Int("failures", count).
		Msg("Failure threshold reached, entering CYBER_LOCKDOWN")
}

// IsLockedOut reports whether a path is rejected under the current mode.
func (g *Governor) IsLockedOut(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.mode != ModeCyberLockdown {
		return false
	}
	if path == modePath {
		return false
	}
	for _, prefix := range g.protected {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Failures returns a copy of the per-source failure counters.
func (g *Governor) Failures() map[string]int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int, len(g.failures))
	for k, v := range g.failures {
		out[k] = v
	}
	return out
}

// Blacklist returns the blacklisted sources.
func (g *Governor) Blacklist() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.blacklist))
	for s := range g.blacklist {
		out = append(out, s)
	}
	return out
}

// ThreatLevel summarizes the governor state for the cyber HUD.
func (g *Governor) ThreatLevel() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	switch {
	case g.mode == ModeCyberLockdown:
		return "CRITICAL"
	case len(g.blacklist) > 0:
		return "ELEVATED"
	default:
		for _, c := range g.failures {
			if c > 0 {
				return "GUARDED"
			}
		}
		return "NOMINAL"
	}
}

// Middleware rejects protected paths during lockdown and counts
// authentication/authorization failures (401/403) against the request's
// source address.
func (g *Governor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.IsLockedOut(r.URL.Path) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"service_locked","message":"system is in cyber lockdown"}`))
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if ww.Status() == http.StatusUnauthorized || ww.Status() == http.StatusForbidden {
			g.RecordFailure(r.Context(), r.RemoteAddr)
		}
	})
}
