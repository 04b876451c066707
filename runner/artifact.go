package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lutra-labs/sospull/normalize"
)

// Status is the artifact's single source of truth for run outcome.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusNotFound      Status = "not_found"
	StatusCaptchaFailed Status = "captcha_failed"
	StatusTimeout       Status = "timeout"
	StatusParseError    Status = "parse_error"
	StatusSiteChanged   Status = "site_changed"
	StatusRateLimited   Status = "rate_limited"
)

// ErrArtifactExists is returned when a second artifact write is attempted
// for the same request id. At most one final artifact per request id.
var ErrArtifactExists = errors.New("runner: artifact already exists for this request id")

type managerJSON struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Role    string `json:"role"`
}

type dataJSON struct {
	BusinessName    string        `json:"Business Name"`
	BusinessAddress string        `json:"Business Address"`
	Managers        []managerJSON `json:"managers"`
}

type diagnosticsJSON struct {
	Log         string   `json:"log"`
	Screenshots []string `json:"screenshots"`
}

// artifactDoc is the JSON document written per run. `data` is present and
// non-null only when status is success.
type artifactDoc struct {
	FileNumber  string          `json:"file_number"`
	RequestID   string          `json:"request_id"`
	Status      Status          `json:"status"`
	Data        *dataJSON       `json:"data"`
	Error       string          `json:"error,omitempty"`
	Diagnostics diagnosticsJSON `json:"diagnostics"`
}

func buildData(rec *normalize.EntityRecord) *dataJSON {
	if rec == nil {
		return nil
	}
	managers := make([]managerJSON, 0, len(rec.Managers))
	for _, m := range rec.Managers {
		managers = append(managers, managerJSON{Name: m.Name, Address: m.Address, Role: m.Role})
	}
	return &dataJSON{
		BusinessName:    rec.Name,
		BusinessAddress: rec.Address,
		Managers:        managers,
	}
}

// writeArtifact creates the artifact file exactly once. O_EXCL enforces the
// write-once invariant at the filesystem level.
func writeArtifact(path string, doc *artifactDoc) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("runner: artifact dir: %w", err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("runner: marshal artifact: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrArtifactExists
		}
		return fmt.Errorf("runner: create artifact: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("runner: write artifact: %w", err)
	}
	return nil
}
