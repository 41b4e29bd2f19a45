// Package config loads process-level defaults for the runtime: channel
// capacities, actor stop timeouts, and the default runner's error policy.
// Config is YAML-backed (gopkg.in/yaml.v3) with programmatic defaults:
// Load starts from Default() and overlays whatever the given document
// specifies, so an empty or partial file still yields a complete Config.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses from either a YAML string ("50ms", "5s") or a bare
// integer of nanoseconds, since time.Duration itself has no YAML
// unmarshaler.
type Duration time.Duration

// UnmarshalYAML accepts either form described on Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the tunables every subsystem reads its defaults from.
type Config struct {
	Channel ChannelConfig `yaml:"channel"`
	Actor   ActorConfig   `yaml:"actor"`
	Runner  RunnerConfig  `yaml:"runner"`
}

// ChannelConfig holds the default ring buffer size that
// channel.CreateFromConfig uses.
type ChannelConfig struct {
	DefaultCapacity int `yaml:"default_capacity"`
}

// ActorConfig holds default actor tuning.
type ActorConfig struct {
	InboxCapacity  int      `yaml:"inbox_capacity"`
	OutboxCapacity int      `yaml:"outbox_capacity"`
	StopTimeout    Duration `yaml:"stop_timeout"`
}

// RunnerConfig holds the default runner's error policy and tick pacing.
type RunnerConfig struct {
	// ErrorPolicy is "stop" or "continue"; see schedule.ErrorPolicy.
	ErrorPolicy  string   `yaml:"error_policy"`
	TickInterval Duration `yaml:"tick_interval"`
}

// Default returns the programmatic defaults used when no config file is
// supplied.
func Default() Config {
	return Config{
		Channel: ChannelConfig{DefaultCapacity: 16},
		Actor: ActorConfig{
			InboxCapacity:  16,
			OutboxCapacity: 16,
			StopTimeout:    Duration(5 * time.Second),
		},
		Runner: RunnerConfig{
			ErrorPolicy:  "stop",
			TickInterval: 0,
		},
	}
}

// Load parses YAML config from data, overlaying it on Default() so a
// partial file only needs to specify the fields it overrides.
func Load(data []byte) (Config, error) {
	cfg := Default()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
