// Package permits looks up permit status for a decentralized identity. The
// upstream may be slow or unreliable, so lookups run behind a circuit
// breaker and fall back to the last known answer rather than failing the
// pipeline.
package permits

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// StatusUnknown is reported when no answer, stale or fresh, is available.
const StatusUnknown = "UNKNOWN"

// Client is a breaker-wrapped permit registry client with a stale cache.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]

	mu    sync.RWMutex
	cache map[string]string

	logger zerolog.Logger
}

// NewClient creates a permit client for the given registry base URL.
func NewClient(baseURL string, logger zerolog.Logger) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 3 * time.Second},
		cache:      make(map[string]string),
		logger:     logger.With().Str("component", "permit_client").Logger(),
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "permit-registry",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Permit breaker state change")
		},
	})
	return c
}

// GetPermitStatus returns the permit status for a DID. It never returns an
// error: on upstream failure or an open breaker the last cached answer is
// served, or StatusUnknown when there is none.
func (c *Client) GetPermitStatus(ctx context.Context, did string) string {
	status, err := c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, did)
	})
	if err != nil {
		c.mu.RLock()
		cached, ok := c.cache[did]
		c.mu.RUnlock()
		if ok {
			c.logger.Debug().Str("did", did).Msg("Permit lookup degraded, serving stale answer")
			return cached
		}
		c.logger.Debug().Err(err).Str("did", did).Msg("Permit lookup degraded, no cached answer")
		return StatusUnknown
	}

	c.mu.Lock()
	c.cache[did] = status
	c.mu.Unlock()
	return status
}

func (c *Client) fetch(ctx context.Context, did string) (string, error) {
	url := fmt.Sprintf("%s/v1/permits/%s", c.baseURL, did)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("permit registry returned status %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode permit response: %w", err)
	}
	if body.Status == "" {
		return StatusUnknown, nil
	}
	return body.Status, nil
}
