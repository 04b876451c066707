// Package runner owns the end-to-end run: it enforces the wall-clock
// budget, drives the navigation machine, maps every terminal state to an
// artifact status, and persists the artifact, diagnostics, and journal row.
//
// One invariant dominates the design: once the session has started, the
// runner never returns without attempting to write the artifact. The
// artifact is the only contract the caller relies on; its absence means
// "crashed before producing output", which is reserved for failures that
// happen before the session exists (bad config, browser won't launch).
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lutra-labs/sospull/guard"
	"github.com/lutra-labs/sospull/idgen"
	"github.com/lutra-labs/sospull/journal"
	"github.com/lutra-labs/sospull/normalize"
	"github.com/lutra-labs/sospull/session"
	"github.com/lutra-labs/sospull/solver"
)

// RunRequest identifies one extraction run. Immutable for its lifetime.
type RunRequest struct {
	FileNumber string
	// RequestID correlates the run with the caller's systems. Generated
	// when absent.
	RequestID string
	// Deadline is the wall-clock budget shared by every sub-step. Zero
	// means "now + config deadline".
	Deadline time.Time
}

// RunResult is the in-process view of the run outcome. The serialised
// artifact is the external contract; this struct additionally carries the
// parsed record and diagnostic paths for programmatic callers.
type RunResult struct {
	RequestID  string
	FileNumber string
	Status     Status
	Record     *normalize.EntityRecord

	ArtifactPath    string
	LogPath         string
	ScreenshotPaths []string

	// Err is the failure cause, for logging. The artifact's status field,
	// not Err, decides how the caller interprets the run.
	Err error
}

// Runner executes runs. Safe for sequential reuse; each Run builds its own
// driver, solver client, and machine, so nothing is shared across runs.
type Runner struct {
	cfg *Config
	log *slog.Logger
	jnl *journal.Journal

	genID idgen.Generator

	// Factories are replaceable in tests so every terminal path can be
	// exercised without Chrome or a live solving service.
	newDriver func(ctx context.Context) (session.Driver, func(), error)
	newSolver func() (session.Solver, error)
}

// New creates a Runner and opens the run journal.
func New(cfg *Config, log *slog.Logger) (*Runner, error) {
	if log == nil {
		log = slog.Default()
	}

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:   cfg,
		log:   log,
		jnl:   jnl,
		genID: idgen.Prefixed("run_", idgen.UUIDv7()),
	}
	r.newDriver = func(ctx context.Context) (session.Driver, func(), error) {
		return newSiteDriver(ctx, cfg.Registry, cfg.browserConfig(), log)
	}
	r.newSolver = func() (session.Solver, error) {
		// No solver configured is not a setup error: runs against pages that
		// never present a challenge still work, and a challenge then
		// escalates to captcha_failed instead of failing before the search.
		if cfg.Solver.BaseURL == "" {
			return unavailableSolver{}, nil
		}
		return solver.New(cfg.solverConfig())
	}
	return r, nil
}

// unavailableSolver stands in when no solving service is configured.
type unavailableSolver struct{}

func (unavailableSolver) Solve(ctx context.Context, ch *solver.Challenge) (solver.Token, error) {
	return solver.Token{}, fmt.Errorf("%w: no solving service configured", solver.ErrUnavailable)
}

// Close releases the journal.
func (r *Runner) Close() error {
	return r.jnl.Close()
}

// Run executes one extraction run to completion.
func (r *Runner) Run(ctx context.Context, req RunRequest) RunResult {
	started := time.Now()

	if req.RequestID == "" {
		req.RequestID = r.genID()
	}
	if req.Deadline.IsZero() {
		req.Deadline = started.Add(r.cfg.Deadline)
	}

	ctx, cancel := context.WithDeadline(ctx, req.Deadline)
	defer cancel()

	res := RunResult{RequestID: req.RequestID, FileNumber: req.FileNumber}
	log := r.log.With("request_id", req.RequestID, "file_number", req.FileNumber)

	artifactPath, err := guard.SafePath(filepath.Join(r.cfg.OutDir, "results"), req.RequestID+".json")
	if err != nil {
		// A request id that steers the artifact path is rejected before any
		// site interaction; no artifact is produced for it on purpose.
		res.Err = err
		return res
	}
	res.ArtifactPath = artifactPath

	d, err := newDiag(r.cfg.OutDir, req.RequestID, log)
	if err != nil {
		res.Err = err
		return res
	}
	defer d.close()
	res.LogPath = d.logPath

	slv, err := r.newSolver()
	if err != nil {
		res.Err = fmt.Errorf("runner: solver setup: %w", err)
		return res
	}

	drv, closeDrv, err := r.newDriver(ctx)
	if err != nil {
		res.Err = fmt.Errorf("runner: driver setup: %w", err)
		return res
	}
	defer closeDrv()

	// From here on an artifact is always written, panics included.
	defer func() {
		if p := recover(); p != nil {
			log.Error("runner: panic during run", "panic", p)
			res.Status = StatusParseError
			res.Err = fmt.Errorf("runner: panic: %v", p)
			r.finish(ctx, started, &req, &res, d)
		}
	}()

	m := session.New(drv, slv, r.cfg.sessionConfig(), log, d.observer(drv))
	out := m.Run(ctx, req.FileNumber)

	res.Status = statusFor(out.State)
	res.Record = out.Record
	res.Err = out.Err

	r.finish(ctx, started, &req, &res, d)
	return res
}

// finish writes the artifact and the journal row. It never overwrites: a
// second artifact for the same request id is refused.
func (r *Runner) finish(ctx context.Context, started time.Time, req *RunRequest, res *RunResult, d *diag) {
	res.ScreenshotPaths = d.shots

	doc := &artifactDoc{
		FileNumber: req.FileNumber,
		RequestID:  req.RequestID,
		Status:     res.Status,
		Diagnostics: diagnosticsJSON{
			Log:         d.logPath,
			Screenshots: append([]string{}, d.shots...),
		},
	}
	if res.Status == StatusSuccess {
		doc.Data = buildData(res.Record)
	}
	if res.Err != nil {
		doc.Error = res.Err.Error()
	}

	if err := writeArtifact(res.ArtifactPath, doc); err != nil {
		if errors.Is(err, ErrArtifactExists) {
			res.Err = err
			r.log.Error("runner: refusing duplicate artifact", "path", res.ArtifactPath)
			return
		}
		res.Err = err
		r.log.Error("runner: artifact write failed", "path", res.ArtifactPath, "error", err)
		return
	}

	// Journal is best-effort; the artifact already exists.
	finished := time.Now()
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.jnl.Record(jctx, &journal.Entry{
		RequestID:    req.RequestID,
		FileNumber:   req.FileNumber,
		Status:       string(res.Status),
		StartedAt:    started,
		FinishedAt:   finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
		ArtifactPath: res.ArtifactPath,
		ErrorMessage: errMsg,
	}); err != nil {
		r.log.Warn("runner: journal record failed", "error", err)
	}
}

// statusFor maps a terminal machine state to the artifact status.
func statusFor(s session.State) Status {
	switch s {
	case session.StateParsed:
		return StatusSuccess
	case session.StateNotFound:
		return StatusNotFound
	case session.StateRateLimited:
		return StatusRateLimited
	case session.StateSiteChanged:
		return StatusSiteChanged
	case session.StateParseFailed:
		return StatusParseError
	case session.StateCaptchaFailed:
		return StatusCaptchaFailed
	case session.StateTimedOut:
		return StatusTimeout
	}
	// A non-terminal state here means a machine bug; surface it as a parse
	// failure rather than inventing a status.
	return StatusParseError
}
