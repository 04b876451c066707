package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lutra-labs/sospull/guard"
	"github.com/lutra-labs/sospull/session"
)

// screenshotTimeout bounds a single diagnostic capture so a wedged tab
// cannot stall artifact writing.
const screenshotTimeout = 5 * time.Second

// diag captures the per-run diagnostic trail: one structured log line and
// one screenshot per state transition. Failures here are logged and
// swallowed; diagnostics must never take down the run they document.
type diag struct {
	dir     string
	logPath string
	file    *os.File
	tlog    *slog.Logger
	log     *slog.Logger

	shots []string
	seq   int
}

// newDiag creates <base>/diag/<requestID>/ and opens the transition log.
// The request id is caller-supplied and must not steer the path.
func newDiag(baseDir, requestID string, log *slog.Logger) (*diag, error) {
	dir, err := guard.SafePath(filepath.Join(baseDir, "diag"), requestID)
	if err != nil {
		return nil, fmt.Errorf("runner: diag path: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runner: diag dir: %w", err)
	}

	logPath := filepath.Join(dir, "transitions.log")
	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runner: open transition log: %w", err)
	}

	return &diag{
		dir:     dir,
		logPath: logPath,
		file:    f,
		tlog:    slog.New(slog.NewJSONHandler(f, nil)),
		log:     log,
	}, nil
}

// observer returns the session Observer that records each transition.
func (d *diag) observer(drv session.Driver) session.Observer {
	return func(ctx context.Context, from, to session.State, note string) {
		d.tlog.Info("transition",
			"from", string(from),
			"state", string(to),
			"outcome", note,
		)
		d.capture(ctx, drv, to)
	}
}

// capture takes one screenshot, detached from the run deadline so the
// trail still grows on the timeout path.
func (d *diag) capture(ctx context.Context, drv session.Driver, state session.State) {
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	data, err := drv.Screenshot(shotCtx)
	if err != nil {
		d.log.Warn("runner: screenshot failed", "state", state, "error", err)
		return
	}

	d.seq++
	path := filepath.Join(d.dir, fmt.Sprintf("%02d_%s.png", d.seq, state))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		d.log.Warn("runner: write screenshot failed", "path", path, "error", err)
		return
	}
	d.shots = append(d.shots, path)
}

func (d *diag) close() {
	if d.file != nil {
		d.file.Close()
	}
}
