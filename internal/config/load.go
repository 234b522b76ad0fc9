package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. KILN_GITHUB_TOKEN.
const EnvPrefix = "KILN"

// SetDefaults registers every default with v so env overrides and
// partial files resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("workdir", d.Workdir)

	v.SetDefault("runtime.available", d.Runtime.Available)
	v.SetDefault("runtime.kind", d.Runtime.Kind)
	v.SetDefault("runtime.root", d.Runtime.Root)
	v.SetDefault("runtime.watch_debounce", d.Runtime.WatchDebounce)

	v.SetDefault("streaming.sample_interval", d.Streaming.SampleInterval)
	v.SetDefault("preview.refresh_delay", d.Preview.RefreshDelay)

	v.SetDefault("history.db_path", d.History.DBPath)
	v.SetDefault("history.cache_ttl", d.History.CacheTTL)

	v.SetDefault("github.token", d.GitHub.Token)
	v.SetDefault("github.owner", d.GitHub.Owner)
	v.SetDefault("github.base_url", d.GitHub.BaseURL)
	v.SetDefault("github.creation_settle", d.GitHub.CreationSettle)
	v.SetDefault("github.visibility_settle", d.GitHub.VisibilitySettle)
	v.SetDefault("github.max_attempts", d.GitHub.MaxAttempts)
	v.SetDefault("github.retry_backoff", d.GitHub.RetryBackoff)

	v.SetDefault("queue.capacity", d.Queue.Capacity)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", DefaultTracesFilePath())
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load unmarshals v into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
