package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lutra-labs/sospull/browser"
	"github.com/lutra-labs/sospull/guard"
	"github.com/lutra-labs/sospull/session"
	"github.com/lutra-labs/sospull/solver"
)

// Config is the top-level sospull configuration.
type Config struct {
	// OutDir is the root for artifacts (results/) and diagnostics (diag/).
	OutDir string `yaml:"out_dir"`
	// JournalPath is the run-history database. Default: <out_dir>/journal.db.
	JournalPath string `yaml:"journal_path"`
	// Deadline is the default wall-clock budget per run, used when the
	// caller does not supply one.
	Deadline time.Duration `yaml:"deadline"`

	Registry RegistryConfig `yaml:"registry"`
	Browser  BrowserConfig  `yaml:"browser"`
	Solver   SolverConfig   `yaml:"solver"`
	Session  SessionConfig  `yaml:"session"`
}

// RegistryConfig locates the registry and its form elements. The selectors
// are configuration, not constants: they are the first thing that breaks
// when the site is redesigned.
type RegistryConfig struct {
	SearchURL    string `yaml:"search_url"`
	SearchInput  string `yaml:"search_input"`
	SearchButton string `yaml:"search_button"`
	TokenSubmit  string `yaml:"token_submit"`
}

// BrowserConfig controls the per-run Chrome instance.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
	ElementTimeout   time.Duration `yaml:"element_timeout"`
}

// SolverConfig configures the solving-service client. The API key normally
// arrives via the SOSPULL_SOLVER_KEY environment variable, not the file.
type SolverConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	PollInitial       time.Duration `yaml:"poll_initial"`
	PollMax           time.Duration `yaml:"poll_max"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	MaxTransportFails int           `yaml:"max_transport_fails"`
}

// SessionConfig tunes the navigation machine's bounded retries.
type SessionConfig struct {
	SolveRetries  int           `yaml:"solve_retries"`
	NavRetryPause time.Duration `yaml:"nav_retry_pause"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runner: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("runner: parse config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.OutDir == "" {
		c.OutDir = "out"
	}
	if c.JournalPath == "" {
		c.JournalPath = filepath.Join(c.OutDir, "journal.db")
	}
	if c.Deadline <= 0 {
		c.Deadline = 4 * time.Minute
	}
	if c.Registry.SearchInput == "" {
		c.Registry.SearchInput = `input[name="file_number"]`
	}
	if c.Registry.SearchButton == "" {
		c.Registry.SearchButton = `button[type="submit"]`
	}
	if c.Registry.TokenSubmit == "" {
		c.Registry.TokenSubmit = c.Registry.SearchButton
	}
	if c.Browser.ResourceBlocking == nil {
		c.Browser.ResourceBlocking = []string{"images", "fonts", "media"}
	}
}

// Validate checks the fields a run cannot start without.
func (c *Config) Validate() error {
	if c.Registry.SearchURL == "" {
		return fmt.Errorf("runner: registry search_url is required")
	}
	if err := guard.ValidateURL(c.Registry.SearchURL); err != nil {
		return fmt.Errorf("runner: registry search_url: %w", err)
	}
	return nil
}

func (c *Config) browserConfig() browser.Config {
	return browser.Config{
		RemoteURL:        c.Browser.Remote,
		Headful:          c.Browser.Headful,
		ResourceBlocking: c.Browser.ResourceBlocking,
		NavTimeout:       c.Browser.NavTimeout,
		ElementTimeout:   c.Browser.ElementTimeout,
	}
}

func (c *Config) solverConfig() solver.Config {
	return solver.Config{
		BaseURL:           c.Solver.BaseURL,
		APIKey:            c.Solver.APIKey,
		PollInitial:       c.Solver.PollInitial,
		PollMax:           c.Solver.PollMax,
		HTTPTimeout:       c.Solver.HTTPTimeout,
		MaxTransportFails: c.Solver.MaxTransportFails,
	}
}

func (c *Config) sessionConfig() session.Config {
	return session.Config{
		SolveRetries:  c.Session.SolveRetries,
		NavRetryPause: c.Session.NavRetryPause,
	}
}
