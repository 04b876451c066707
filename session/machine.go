package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lutra-labs/sospull/normalize"
	"github.com/lutra-labs/sospull/solver"
)

// Config configures the machine's bounded retries. The counts are defaults
// calibrated against the registry's observed behaviour, not contractual
// values; override them from the run configuration.
type Config struct {
	// SolveRetries is the total number of solve attempts before the run
	// escalates to captcha_failed. Default: 3.
	SolveRetries int
	// NavRetryPause is the pause before re-attempting a failed site call.
	// Attempts repeat until the run deadline expires, which bounds them.
	// Default: 3s.
	NavRetryPause time.Duration
}

func (c *Config) applyDefaults() {
	if c.SolveRetries <= 0 {
		c.SolveRetries = 3
	}
	if c.NavRetryPause <= 0 {
		c.NavRetryPause = 3 * time.Second
	}
}

// Outcome is the machine's terminal result.
type Outcome struct {
	State  State
	Record *normalize.EntityRecord
	// Err carries the cause for non-success terminals. The orchestrator
	// records it in the artifact; it never changes the status mapping.
	Err error
}

// Machine executes one navigation session. One Machine per run; it holds no
// process-global state.
type Machine struct {
	drv   Driver
	slv   Solver
	cfg   Config
	log   *slog.Logger
	obs   Observer
	state State
}

// New creates a Machine. obs may be nil.
func New(drv Driver, slv Solver, cfg Config, logger *slog.Logger, obs Observer) *Machine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{drv: drv, slv: slv, cfg: cfg, log: logger, obs: obs}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Run drives the session to a terminal state. The context carries the
// overall run deadline; elapsed-budget checks happen at every transition,
// and the deadline propagates into every driver and solver call.
func (m *Machine) Run(ctx context.Context, fileNumber string) Outcome {
	m.state = StateInit
	if m.obs != nil {
		m.obs(ctx, "", StateInit, "run started")
	}

	solveAttempts := 0
	staleRetried := false

	page, halt := m.search(ctx, fileNumber)
	if halt != nil {
		return *halt
	}

	for {
		if ctx.Err() != nil {
			return m.timedOut(ctx)
		}

		kind := Classify(page.HTML)
		m.log.Debug("session: page classified", "state", m.state, "kind", kind.String())

		switch kind {
		case KindNotFound:
			return m.halt(ctx, StateNotFound, nil)

		case KindThrottle:
			// Reported, never retried in-run: retry policy across runs
			// belongs to the caller.
			return m.halt(ctx, StateRateLimited,
				fmt.Errorf("session: registry throttling signal"))

		case KindChallenge:
			if m.state == StateChallengeSolved {
				// The site bounced the solved token back to a challenge
				// page: stale token. One re-entry, then give up.
				if staleRetried {
					return m.halt(ctx, StateCaptchaFailed,
						fmt.Errorf("session: token rejected twice"))
				}
				staleRetried = true
			}
			if err := m.to(ctx, StateChallengePresented, ""); err != nil {
				return Outcome{State: m.state, Err: err}
			}

			ch, err := ExtractChallenge(page.HTML, page.URL)
			if err != nil {
				return m.halt(ctx, StateSiteChanged, err)
			}

			solveAttempts++
			tok, err := m.slv.Solve(ctx, ch)
			if err != nil {
				if errors.Is(err, solver.ErrTimeout) || ctx.Err() != nil {
					return m.timedOut(ctx)
				}
				// Rejection or outage: re-run the search step for a fresh
				// challenge, within the bounded attempt budget.
				if solveAttempts >= m.cfg.SolveRetries {
					return m.halt(ctx, StateCaptchaFailed, err)
				}
				m.log.Warn("session: solve failed, retrying search",
					"attempt", solveAttempts, "error", err)
				page, halt = m.search(ctx, fileNumber)
				if halt != nil {
					return *halt
				}
				continue
			}

			if err := m.to(ctx, StateChallengeSolved, ""); err != nil {
				return Outcome{State: m.state, Err: err}
			}

			page, halt = m.callSite(ctx, "submit token", func() (*Page, error) {
				return m.drv.SubmitToken(ctx, tok)
			})
			if halt != nil {
				return *halt
			}

		case KindResults:
			if err := m.to(ctx, StateResultsLoaded, ""); err != nil {
				return Outcome{State: m.state, Err: err}
			}

			rec, err := normalize.Normalize(page.HTML)
			if err != nil {
				if errors.Is(err, normalize.ErrLayoutUnknown) {
					return m.halt(ctx, StateSiteChanged, err)
				}
				return m.halt(ctx, StateParseFailed, err)
			}

			if err := m.to(ctx, StateParsed, ""); err != nil {
				return Outcome{State: m.state, Err: err}
			}
			return Outcome{State: StateParsed, Record: rec}

		default:
			// Do not guess: an unclassifiable page means the site changed.
			return m.halt(ctx, StateSiteChanged,
				fmt.Errorf("session: page matched no known classification"))
		}
	}
}

// search executes the search step and transitions to SearchSubmitted.
func (m *Machine) search(ctx context.Context, fileNumber string) (*Page, *Outcome) {
	page, halt := m.callSite(ctx, "submit search", func() (*Page, error) {
		return m.drv.SubmitSearch(ctx, fileNumber)
	})
	if halt != nil {
		return nil, halt
	}
	if err := m.to(ctx, StateSearchSubmitted, ""); err != nil {
		return nil, &Outcome{State: m.state, Err: err}
	}
	return page, nil
}

// callSite invokes a driver operation, retrying transient failures until
// the run deadline bounds them. Each underlying network call carries its own
// short timeout, so a dead site degrades into TimedOut rather than a hang.
func (m *Machine) callSite(ctx context.Context, what string, fn func() (*Page, error)) (*Page, *Outcome) {
	for {
		page, err := fn()
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			o := m.timedOut(ctx)
			return nil, &o
		}
		m.log.Warn("session: site call failed, will retry",
			"op", what, "error", err)
		if err := sleepCtx(ctx, m.cfg.NavRetryPause); err != nil {
			o := m.timedOut(ctx)
			return nil, &o
		}
	}
}

// halt transitions to a terminal state and returns the outcome.
func (m *Machine) halt(ctx context.Context, terminal State, cause error) Outcome {
	note := ""
	if cause != nil {
		note = cause.Error()
	}
	if err := m.to(ctx, terminal, note); err != nil {
		return Outcome{State: m.state, Err: err}
	}
	return Outcome{State: terminal, Err: cause}
}

func (m *Machine) timedOut(ctx context.Context) Outcome {
	return m.halt(ctx, StateTimedOut, context.Cause(ctx))
}

// to performs one validated transition and notifies the observer.
func (m *Machine) to(ctx context.Context, next State, note string) error {
	if !canTransition(m.state, next) {
		return fmt.Errorf("session: illegal transition %s -> %s", m.state, next)
	}
	from := m.state
	m.state = next
	m.log.Info("session: transition", "from", from, "to", next, "note", note)
	if m.obs != nil {
		m.obs(ctx, from, next, note)
	}
	return nil
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
