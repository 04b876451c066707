package solver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func noopValidator(_ string) error { return nil }

const testKey = "0123456789abcdef0123456789abcdef"

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		APIKey:       testKey,
		PollInitial:  time.Millisecond,
		PollMax:      5 * time.Millisecond,
		HTTPTimeout:  time.Second,
		URLValidator: noopValidator,
	}
}

// solveServer simulates the solving service: /solve issues a job id,
// /result/{id} reports pending until pendingPolls answers have been given.
func solveServer(t *testing.T, pendingPolls int, finalStatus, token string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/solve":
			json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1"})
		case strings.HasPrefix(r.URL.Path, "/result/"):
			n := polls.Add(1)
			status := "pending"
			if int(n) > pendingPolls {
				status = finalStatus
			}
			json.NewEncoder(w).Encode(map[string]string{"status": status, "token": token})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestSolveSuccessAfterPolling(t *testing.T) {
	// WHAT: Submit then poll through "pending" answers until "ready".
	srv, polls := solveServer(t, 2, "ready", "tok-abc")

	c, err := New(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tok, err := c.Solve(context.Background(), &Challenge{SiteKey: "sk", PageURL: "https://registry.example/search"})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if tok.Value != "tok-abc" {
		t.Errorf("token: got %q", tok.Value)
	}
	if tok.ExpiresAt.Before(time.Now()) {
		t.Error("token expiry should be in the future")
	}
	if got := polls.Load(); got != 3 {
		t.Errorf("polls: got %d, want 3", got)
	}
}

func TestSolveRejected(t *testing.T) {
	srv, _ := solveServer(t, 0, "failed", "")

	c, _ := New(testConfig(srv.URL))
	_, err := c.Solve(context.Background(), &Challenge{SiteKey: "sk"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
}

func TestSolveSubmitHTTPError(t *testing.T) {
	// WHAT: An HTTP-level rejection at submit (bad key) maps to ErrRejected,
	// not ErrUnavailable: the service answered, it just said no.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "bad key"})
	}))
	defer srv.Close()

	c, _ := New(testConfig(srv.URL))
	_, err := c.Solve(context.Background(), &Challenge{SiteKey: "sk"})
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("got %v, want ErrRejected", err)
	}
}

func TestSolveDeadline(t *testing.T) {
	// WHAT: The caller's deadline elapsing during polling yields ErrTimeout.
	srv, _ := solveServer(t, 1_000_000, "ready", "")

	cfg := testConfig(srv.URL)
	cfg.PollInitial = 5 * time.Millisecond
	cfg.PollMax = 5 * time.Millisecond
	c, _ := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := c.Solve(ctx, &Challenge{SiteKey: "sk"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
}

func TestSolveUnavailable(t *testing.T) {
	// WHAT: Repeated transport failures surface as ErrUnavailable so the
	// orchestrator can distinguish an outage from a rejection.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening

	c, _ := New(testConfig(srv.URL))
	_, err := c.Solve(context.Background(), &Challenge{SiteKey: "sk"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestSolveConsumesChallenge(t *testing.T) {
	// WHAT: A Challenge is solved at most once; the second Solve call must
	// fail without spending service quota.
	srv, _ := solveServer(t, 0, "ready", "tok")

	c, _ := New(testConfig(srv.URL))
	ch := &Challenge{SiteKey: "sk"}
	if _, err := c.Solve(context.Background(), ch); err != nil {
		t.Fatalf("first solve: %v", err)
	}
	if _, err := c.Solve(context.Background(), ch); !errors.Is(err, ErrConsumed) {
		t.Fatalf("got %v, want ErrConsumed", err)
	}
}

func TestNewValidatesCredential(t *testing.T) {
	cfg := testConfig("https://solver.example")
	cfg.APIKey = "short"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected API key validation error")
	}
}
