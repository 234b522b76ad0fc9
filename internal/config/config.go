// Package config provides configuration types and defaults for kiln.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/zjrosen/kiln/internal/github"
	"github.com/zjrosen/kiln/internal/log"
	"github.com/zjrosen/kiln/internal/preview"
	"github.com/zjrosen/kiln/internal/tracing"
)

// Runtime kinds.
const (
	RuntimeHost   = "host"
	RuntimeMemory = "memory"
)

// DefaultWorkdir is the path the project sees inside the runtime.
const DefaultWorkdir = "/home/project"

// Config holds all configuration options for kiln.
type Config struct {
	Workdir   string          `mapstructure:"workdir"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	History   HistoryConfig   `mapstructure:"history"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
}

// RuntimeConfig selects the execution sandbox.
type RuntimeConfig struct {
	// Available is false where no sandbox can run; every runtime
	// operation then fails fast.
	Available bool `mapstructure:"available"`

	// Kind is "host" (default) or "memory".
	Kind string `mapstructure:"kind"`

	// Root is the host directory backing the workdir. Default: .kiln/project
	Root string `mapstructure:"root"`

	// WatchDebounce batches host file-change events.
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// StreamingConfig tunes how partial file actions reach the editor.
type StreamingConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// PreviewConfig tunes the preview registry.
type PreviewConfig struct {
	RefreshDelay time.Duration `mapstructure:"refresh_delay"`
}

// HistoryConfig locates the chat history database.
type HistoryConfig struct {
	// DBPath is the sqlite file. Default: ~/.config/kiln/history.db
	DBPath string `mapstructure:"db_path"`

	// CacheTTL bounds how long snapshots stay cached. Zero disables the cache.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// GitHubConfig holds repository push settings.
type GitHubConfig struct {
	Token            string        `mapstructure:"token"`
	Owner            string        `mapstructure:"owner"`
	BaseURL          string        `mapstructure:"base_url"`
	CreationSettle   time.Duration `mapstructure:"creation_settle"`
	VisibilitySettle time.Duration `mapstructure:"visibility_settle"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
}

// QueueConfig sizes the execution queue.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// DefaultConfigDir returns ~/.config/kiln, or an empty string when the
// home directory is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "kiln")
}

// DefaultHistoryPath returns the default sqlite location.
func DefaultHistoryPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "history.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Workdir: DefaultWorkdir,
		Runtime: RuntimeConfig{
			Available:     true,
			Kind:          RuntimeHost,
			Root:          filepath.Join(".kiln", "project"),
			WatchDebounce: 200 * time.Millisecond,
		},
		Streaming: StreamingConfig{
			SampleInterval: 100 * time.Millisecond,
		},
		Preview: PreviewConfig{
			RefreshDelay: preview.DefaultRefreshDelay,
		},
		History: HistoryConfig{
			DBPath:   DefaultHistoryPath(),
			CacheTTL: 5 * time.Minute,
		},
		GitHub: GitHubConfig{
			BaseURL:          github.DefaultBaseURL,
			CreationSettle:   github.DefaultCreationSettle,
			VisibilitySettle: github.DefaultVisibilitySettle,
			MaxAttempts:      github.DefaultMaxAttempts,
			RetryBackoff:     github.DefaultRetryBackoff,
		},
		Queue: QueueConfig{
			Capacity: 1000,
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// Validate checks the configuration for errors. Empty values that have
// defaults are accepted.
func (c Config) Validate() error {
	var errs []error
	if c.Workdir != "" && (!path.IsAbs(c.Workdir) || path.Clean(c.Workdir) == "/") {
		errs = append(errs, fmt.Errorf("workdir must be an absolute path below /, got %q", c.Workdir))
	}
	if err := ValidateRuntime(c.Runtime); err != nil {
		errs = append(errs, err)
	}
	if c.Streaming.SampleInterval < 0 {
		errs = append(errs, fmt.Errorf("streaming.sample_interval must not be negative"))
	}
	if c.Preview.RefreshDelay < 0 {
		errs = append(errs, fmt.Errorf("preview.refresh_delay must not be negative"))
	}
	if c.History.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("history.cache_ttl must not be negative"))
	}
	if err := ValidateGitHub(c.GitHub); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.Capacity < 0 {
		errs = append(errs, fmt.Errorf("queue.capacity must not be negative, got %d", c.Queue.Capacity))
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateRuntime checks runtime configuration for errors.
func ValidateRuntime(rt RuntimeConfig) error {
	switch rt.Kind {
	case "", RuntimeHost, RuntimeMemory:
	default:
		return fmt.Errorf("runtime.kind must be %q or %q, got %q", RuntimeHost, RuntimeMemory, rt.Kind)
	}
	if rt.Kind == RuntimeHost && rt.Available && rt.Root == "" {
		return fmt.Errorf("runtime.root is required when runtime.kind is %q", RuntimeHost)
	}
	return nil
}

// ValidateGitHub checks push configuration for errors. A missing token
// is not an error here; pushes fail with github.ErrMissingCredentials.
func ValidateGitHub(gh GitHubConfig) error {
	if gh.MaxAttempts < 0 {
		return fmt.Errorf("github.max_attempts must not be negative, got %d", gh.MaxAttempts)
	}
	if gh.CreationSettle < 0 || gh.VisibilitySettle < 0 || gh.RetryBackoff < 0 {
		return fmt.Errorf("github delays must not be negative")
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}

	if t.Exporter != "" {
		switch t.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
		}
	}

	if t.Enabled {
		if t.Exporter == "file" && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Kiln Configuration

# Path the project sees inside the runtime
workdir: /home/project

runtime:
  available: true
  kind: host              # "host" runs commands in runtime.root, "memory" only records them
  root: .kiln/project
  watch_debounce: 200ms

streaming:
  sample_interval: 100ms  # at most one partial file write per interval

preview:
  refresh_delay: 300ms

history:
  # db_path: ~/.config/kiln/history.db
  cache_ttl: 5m           # 0 disables the snapshot cache

# Pushing to GitHub. The token may also come from KILN_GITHUB_TOKEN.
github:
  # token: ghp_...
  # owner: your-login
  base_url: https://api.github.com
  creation_settle: 2s
  visibility_settle: 3s
  max_attempts: 3
  retry_backoff: 2s

queue:
  capacity: 1000

# Distributed tracing of workbench commands
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/kiln/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
