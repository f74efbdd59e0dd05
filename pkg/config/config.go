// Package config loads the synapse configuration file
// (SYNAPSE_HOME/config.toml). Every field has a production default; a
// missing file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the tunable knobs of the routing engine. The priority-5
// grace interval is deliberately absent: it is fixed at the dispatch layer.
type Config struct {
	Registry  Registry  `toml:"registry"`
	Spillover Spillover `toml:"spillover"`
	Reply     Reply     `toml:"reply"`
}

// Registry configures the agent directory.
type Registry struct {
	// HeartbeatTTL is how stale a heartbeat may be before an entry is
	// treated as dead despite a passing PID probe.
	HeartbeatTTL Duration `toml:"heartbeat_ttl"`
	// SweepInterval is the cadence of the periodic staleness sweep.
	SweepInterval Duration `toml:"sweep_interval"`
	// HeartbeatInterval is how often a serving agent refreshes its row.
	HeartbeatInterval Duration `toml:"heartbeat_interval"`
}

// Spillover configures oversized-payload offloading.
type Spillover struct {
	// ThresholdBytes is the largest body delivered inline.
	ThresholdBytes int `toml:"threshold_bytes"`
	// TTL bounds how long a spilled body stays retrievable.
	TTL Duration `toml:"ttl"`
	// SweepInterval is the fallback sweep cadence.
	SweepInterval Duration `toml:"sweep_interval"`
}

// Reply configures reply waiting.
type Reply struct {
	// PollInterval is how often a waiting sender re-reads its task record.
	PollInterval Duration `toml:"poll_interval"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Registry: Registry{
			HeartbeatTTL:      Duration(2 * time.Minute),
			SweepInterval:     Duration(30 * time.Second),
			HeartbeatInterval: Duration(15 * time.Second),
		},
		Spillover: Spillover{
			ThresholdBytes: 8 * 1024,
			TTL:            Duration(15 * time.Minute),
			SweepInterval:  Duration(time.Minute),
		},
		Reply: Reply{
			PollInterval: Duration(200 * time.Millisecond),
		},
	}
}

// Load reads path over the defaults. A missing file returns the defaults;
// a malformed one is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // path comes from ResolvePaths
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultTOML is the scaffold written by `synapse init`.
const DefaultTOML = `# synapse configuration

[registry]
heartbeat_ttl = "2m"
sweep_interval = "30s"
heartbeat_interval = "15s"

[spillover]
threshold_bytes = 8192
ttl = "15m"
sweep_interval = "1m"

[reply]
poll_interval = "200ms"
`

// Duration is a time.Duration that unmarshals from a TOML string like "30s".
type Duration time.Duration

// Std converts to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText implements encoding.TextUnmarshaler for go-toml.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}
