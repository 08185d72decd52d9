package graphqlclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	scheduleerrors "github.com/jakekausler/campaign-scheduler/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{
		Endpoint:                srv.URL,
		ServiceAccountToken:     "secret-token",
		RequestTimeout:          2 * time.Second,
		CircuitBreakerThreshold: 3,
	})
	return c, srv
}

func TestGetEffect_HappyPath(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Service-Account-Token") != "secret-token" {
			t.Errorf("expected token header set")
		}
		w.Write([]byte(`{"data":{"getEffect":{"id":"effect-1","campaignId":"campaign-1","isActive":true}}}`))
	})
	defer srv.Close()
	defer c.Close()

	effect, err := c.GetEffect(context.Background(), "effect-1")
	if err != nil {
		t.Fatalf("GetEffect: %v", err)
	}
	if effect == nil || effect.CampaignID != "campaign-1" {
		t.Fatalf("unexpected effect: %+v", effect)
	}
}

func TestGetEffect_CachesResult(t *testing.T) {
	var calls atomic.Int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":{"getEffect":{"id":"effect-1","campaignId":"campaign-1","isActive":true}}}`))
	})
	defer srv.Close()
	defer c.Close()

	for i := 0; i < 3; i++ {
		if _, err := c.GetEffect(context.Background(), "effect-1"); err != nil {
			t.Fatalf("GetEffect: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 upstream call due to caching, got %d", calls.Load())
	}
}

func TestDo_GraphQLErrorsArrayReturnsErrGraphQL(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"effect not found"}]}`))
	})
	defer srv.Close()
	defer c.Close()

	_, err := c.GetEffect(context.Background(), "missing")
	if !errors.Is(err, scheduleerrors.ErrGraphQL) {
		t.Errorf("expected ErrGraphQL, got %v", err)
	}
}

func TestExecuteEffect_EmptyResultReturnsErrEmptyResult(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"executeEffect":null}}`))
	})
	defer srv.Close()
	defer c.Close()

	_, err := c.ExecuteEffect(context.Background(), "effect-1")
	if !errors.Is(err, scheduleerrors.ErrEmptyResult) {
		t.Errorf("expected ErrEmptyResult, got %v", err)
	}
}

func TestExecuteEffect_InvalidatesCachedEffect(t *testing.T) {
	getCalls := atomic.Int32{}
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query == "" {
			t.Fatal("expected query body")
		}
		switch {
		case contains(req.Query, "executeEffect"):
			w.Write([]byte(`{"data":{"executeEffect":{"success":true,"execution":{"id":"exec-1"}}}}`))
		default:
			getCalls.Add(1)
			w.Write([]byte(`{"data":{"getEffect":{"id":"effect-1","campaignId":"campaign-1","isActive":true}}}`))
		}
	})
	defer srv.Close()
	defer c.Close()

	if _, err := c.GetEffect(context.Background(), "effect-1"); err != nil {
		t.Fatalf("GetEffect: %v", err)
	}
	if _, err := c.ExecuteEffect(context.Background(), "effect-1"); err != nil {
		t.Fatalf("ExecuteEffect: %v", err)
	}
	if _, err := c.GetEffect(context.Background(), "effect-1"); err != nil {
		t.Fatalf("second GetEffect: %v", err)
	}
	if getCalls.Load() != 2 {
		t.Errorf("expected cache invalidated after mutation, got %d getEffect calls", getCalls.Load())
	}
}

func TestDo_RepeatedFailuresOpenCircuit(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer srv.Close()
	defer c.Close()

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = c.GetOverdueEvents(context.Background(), "campaign-1")
	}
	if !errors.Is(lastErr, scheduleerrors.ErrCircuitOpen) {
		t.Errorf("expected circuit to open after repeated failures, got %v", lastErr)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
