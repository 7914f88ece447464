package permits

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetPermitStatusHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/permits/did:eth:0xSAFE...001", r.URL.Path)
		w.Write([]byte(`{"status":"VALID"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	assert.Equal(t, "VALID", c.GetPermitStatus(context.Background(), "did:eth:0xSAFE...001"))
}

func TestFailureServesStaleAnswer(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"status":"EXPIRED"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	ctx := context.Background()

	assert.Equal(t, "EXPIRED", c.GetPermitStatus(ctx, "did:1"))

	fail.Store(true)
	assert.Equal(t, "EXPIRED", c.GetPermitStatus(ctx, "did:1"), "stale cache answers while upstream is down")
}

func TestFailureWithoutCacheIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	assert.Equal(t, StatusUnknown, c.GetPermitStatus(context.Background(), "did:never-seen"))
}

func TestOpenBreakerStopsCallingUpstream(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	ctx := context.Background()

	// Three consecutive failures trip the breaker; further lookups are
	// answered locally without touching the upstream.
	for i := 0; i < 5; i++ {
		assert.Equal(t, StatusUnknown, c.GetPermitStatus(ctx, "did:1"))
	}
	assert.Equal(t, int64(3), calls.Load())
}

func TestEmptyStatusNormalizedToUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	assert.Equal(t, StatusUnknown, c.GetPermitStatus(context.Background(), "did:1"))
}
