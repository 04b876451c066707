// Package solver talks to the external CAPTCHA-solving service.
//
// The service is asynchronous-by-polling: a challenge is submitted, the
// service returns a job id, and the client polls until the job succeeds or
// fails. All backoff and timing logic lives here so callers see a plain
// synchronous Solve call bounded by their context deadline.
//
// The protocol is deliberately generic (POST /solve -> job id,
// GET /result/{id} -> status) rather than tied to one vendor's API shape.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lutra-labs/sospull/guard"
)

// ErrRejected is returned when the service explicitly fails the solve job.
var ErrRejected = errors.New("solver: service rejected the challenge")

// ErrTimeout is returned when the caller's deadline elapses while polling.
var ErrTimeout = errors.New("solver: deadline reached while awaiting solution")

// ErrUnavailable is returned after repeated transport failures. It is
// distinct from ErrRejected so the orchestrator can tell "the service said
// no" apart from "the service is down".
var ErrUnavailable = errors.New("solver: service unreachable")

// ErrConsumed is returned when Solve is called twice for the same Challenge.
// Every solve consumes quota on the external service, so reuse is a bug.
var ErrConsumed = errors.New("solver: challenge already consumed")

// Challenge is the opaque site material needed to request a solve. Created
// by the navigation layer when a challenge page is detected; consumed
// exactly once; never persisted.
type Challenge struct {
	SiteKey string
	PageURL string
	// Image carries a base64 image payload for image-based challenges.
	// Empty for sitekey-based challenges.
	Image   string
	FoundAt time.Time

	consumed bool
}

// Token is a solver-issued credential proving the challenge was passed.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Config configures the solver client.
type Config struct {
	// BaseURL of the solving service API.
	BaseURL string
	// APIKey authenticates against the service. Length-checked at startup.
	APIKey string

	// PollInitial is the first poll delay. Default: 5s.
	PollInitial time.Duration
	// PollMax caps the poll delay as it grows. Default: 20s.
	PollMax time.Duration
	// HTTPTimeout bounds each individual request, distinct from the overall
	// run deadline carried in the context. Default: 15s.
	HTTPTimeout time.Duration
	// MaxTransportFails is the number of consecutive transport failures
	// tolerated before giving up with ErrUnavailable. Default: 3.
	MaxTransportFails int
	// TokenTTL is the assumed validity window of an issued token. Default: 110s.
	TokenTTL time.Duration

	// URLValidator validates BaseURL. Default: guard.ValidateURL.
	URLValidator func(string) error

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.PollInitial <= 0 {
		c.PollInitial = 5 * time.Second
	}
	if c.PollMax <= 0 {
		c.PollMax = 20 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.MaxTransportFails <= 0 {
		c.MaxTransportFails = 3
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 110 * time.Second
	}
	if c.URLValidator == nil {
		c.URLValidator = guard.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client submits challenges and polls for solutions. One Client per run;
// backoff state is never shared across runs.
type Client struct {
	http *resty.Client
	cfg  Config
}

// New creates a solver Client. The API key and base URL are validated here
// so a misconfigured run fails before any site interaction happens.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	if err := guard.ValidateAPIKey(cfg.APIKey); err != nil {
		return nil, err
	}
	if err := cfg.URLValidator(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("solver: base URL: %w", err)
	}

	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.HTTPTimeout).
			SetHeader("Content-Type", "application/json"),
		cfg: cfg,
	}, nil
}

type submitRequest struct {
	APIKey  string `json:"api_key"`
	SiteKey string `json:"site_key,omitempty"`
	PageURL string `json:"page_url,omitempty"`
	Image   string `json:"image,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
	Error string `json:"error,omitempty"`
}

type resultResponse struct {
	Status string `json:"status"` // pending | ready | failed
	Token  string `json:"token,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Solve submits the challenge and polls until the service reports success,
// reports failure, or ctx's deadline is reached. The challenge is consumed
// on the first call; a second call returns ErrConsumed without touching the
// service.
func (c *Client) Solve(ctx context.Context, ch *Challenge) (Token, error) {
	if ch.consumed {
		return Token{}, ErrConsumed
	}
	ch.consumed = true

	log := c.cfg.Logger

	jobID, err := c.submit(ctx, ch)
	if err != nil {
		return Token{}, err
	}
	log.Info("solver: challenge submitted", "job_id", jobID, "site_key", ch.SiteKey)

	delay := c.cfg.PollInitial
	fails := 0

	for {
		if err := sleepCtx(ctx, delay); err != nil {
			return Token{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}

		res, err := c.poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return Token{}, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			fails++
			log.Warn("solver: poll transport failure", "job_id", jobID,
				"consecutive", fails, "error", err)
			if fails >= c.cfg.MaxTransportFails {
				return Token{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			continue
		}
		fails = 0

		switch res.Status {
		case "ready":
			log.Info("solver: solution ready", "job_id", jobID)
			return Token{
				Value:     res.Token,
				ExpiresAt: time.Now().Add(c.cfg.TokenTTL),
			}, nil
		case "failed":
			return Token{}, fmt.Errorf("%w: %s", ErrRejected, res.Error)
		case "pending":
			// Keep waiting.
		default:
			return Token{}, fmt.Errorf("solver: unexpected job status %q", res.Status)
		}

		delay *= 2
		if delay > c.cfg.PollMax {
			delay = c.cfg.PollMax
		}
	}
}

func (c *Client) submit(ctx context.Context, ch *Challenge) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxTransportFails; attempt++ {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}

		var out submitResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetBody(submitRequest{
				APIKey:  c.cfg.APIKey,
				SiteKey: ch.SiteKey,
				PageURL: ch.PageURL,
				Image:   ch.Image,
			}).
			SetResult(&out).
			SetError(&out).
			Post("/solve")
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			lastErr = err
			continue
		}
		if resp.IsError() {
			return "", fmt.Errorf("%w: http %d: %s", ErrRejected, resp.StatusCode(), out.Error)
		}
		if out.JobID == "" {
			return "", fmt.Errorf("%w: empty job id", ErrRejected)
		}
		return out.JobID, nil
	}
	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (c *Client) poll(ctx context.Context, jobID string) (*resultResponse, error) {
	var out resultResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Get("/result/" + jobID)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode(), out.Error)
	}
	return &out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
