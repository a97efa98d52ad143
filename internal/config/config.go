// Package config loads and validates nightshiftd's YAML configuration file
// (spec.md §5). Grounded on the teacher's internal/config/config.go: the
// same Duration-wrapper-over-YAML-strings pattern, the same
// Load/parse/Validate split. The fsnotify-driven hot reload of the
// project registry section lives in internal/cli, not here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root of nightshiftd's configuration file.
type Config struct {
	Server          ServerConfig           `yaml:"server"`
	Agent           AgentConfig            `yaml:"agent"`
	BranchDiscipline BranchDisciplineConfig `yaml:"branch_discipline"`
	Projects        map[string]Project     `yaml:"projects"`
	Store           StoreConfig            `yaml:"store"`
	Display         DisplayConfig          `yaml:"display,omitempty"`
	Auth            AuthConfig             `yaml:"auth"`
	Health          HealthConfig           `yaml:"health"`
}

// ServerConfig configures the REST/WebSocket listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// AgentConfig is the external command invoked for every prompt attempt
// (spec.md §4.3 "Process invocation").
type AgentConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// BranchDisciplineConfig governs the git workflow around each attempt
// (spec.md §4.2).
type BranchDisciplineConfig struct {
	Enabled       bool     `yaml:"enabled"`
	BaseBranch    string   `yaml:"base_branch"`
	BranchPrefix  string   `yaml:"branch_prefix"`
	DryRun        bool     `yaml:"dry_run"`
	AllowDirty    bool     `yaml:"allow_dirty"`
	SlugWordCount int      `yaml:"slug_word_count"`
	SlugMaxChars  int      `yaml:"slug_max_chars"`
}

// Project is one entry in the project registry: a working directory, its
// scope manifest, and any extra context injected into every prompt run
// against it (spec.md §4.3 "Context composition").
type Project struct {
	Path           string   `yaml:"path"`
	ScopeManifest  string   `yaml:"scope_manifest"`
	Context        string   `yaml:"context,omitempty"`
	AllowPatterns  []string `yaml:"allow,omitempty"`
	DenyPatterns   []string `yaml:"deny,omitempty"`
	LogOnlyPatterns []string `yaml:"log_only,omitempty"`
}

// StoreConfig locates the Prompt Store's durable files.
type StoreConfig struct {
	Dir              string `yaml:"dir"`
	LogsDir          string `yaml:"logs_dir"`
	DurationWindow   int    `yaml:"duration_window"`
}

// DisplayConfig configures the optional Status Surface panel (spec.md §4.5).
type DisplayConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Device           string   `yaml:"device,omitempty"`
	WidthPx          int      `yaml:"width_px,omitempty"`
	HeightPx         int      `yaml:"height_px,omitempty"`
	SubtitleRotation Duration `yaml:"subtitle_rotation,omitempty"`
}

// AuthConfig holds the shared-secret auth handshake token for the Event
// Hub and REST API (spec.md §4.6 "Auth handshake").
type AuthConfig struct {
	SharedSecret string `yaml:"shared_secret"`
}

// HealthConfig governs periodic health broadcast cadence.
type HealthConfig struct {
	Interval Duration `yaml:"interval"`
}

// Duration wraps time.Duration for YAML unmarshaling from strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the config file at path, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = "127.0.0.1:8787"
	}
	if cfg.BranchDiscipline.BaseBranch == "" {
		cfg.BranchDiscipline.BaseBranch = "main"
	}
	if cfg.BranchDiscipline.BranchPrefix == "" {
		cfg.BranchDiscipline.BranchPrefix = "nightshift/"
	}
	if cfg.BranchDiscipline.SlugWordCount == 0 {
		cfg.BranchDiscipline.SlugWordCount = 6
	}
	if cfg.BranchDiscipline.SlugMaxChars == 0 {
		cfg.BranchDiscipline.SlugMaxChars = 48
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./data"
	}
	if cfg.Store.LogsDir == "" {
		cfg.Store.LogsDir = "./data/logs"
	}
	if cfg.Store.DurationWindow == 0 {
		cfg.Store.DurationWindow = 50
	}
	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = Duration(10 * time.Second)
	}
	if cfg.Display.SubtitleRotation == 0 {
		cfg.Display.SubtitleRotation = Duration(45 * time.Second)
	}

	return &cfg, nil
}

// Validate checks structural invariants that parse's defaulting cannot
// cover, returning every problem found rather than stopping at the first
// (matching the teacher's accumulate-then-report style).
func Validate(cfg *Config) []error {
	var errs []error

	if cfg.Agent.Command == "" {
		errs = append(errs, fmt.Errorf("agent.command is required"))
	}
	if len(cfg.Projects) == 0 {
		errs = append(errs, fmt.Errorf("at least one project is required"))
	}
	for name, p := range cfg.Projects {
		if p.Path == "" {
			errs = append(errs, fmt.Errorf("projects[%s]: path is required", name))
		}
	}
	if cfg.Auth.SharedSecret == "" {
		errs = append(errs, fmt.Errorf("auth.shared_secret is required"))
	}

	return errs
}

// ProjectNames returns the configured project ids in map-iteration order;
// callers that need determinism should sort the result themselves.
func (cfg *Config) ProjectNames() []string {
	names := make([]string, 0, len(cfg.Projects))
	for name := range cfg.Projects {
		names = append(names, name)
	}
	return names
}
