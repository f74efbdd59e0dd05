package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved synapse state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	SynapseHome string // ~/.synapse or SYNAPSE_HOME
	ConfigPath  string // config.toml or SYNAPSE_CONFIG_PATH
	StateDBPath string // state.db or SYNAPSE_DB_PATH
	SocketDir   string // sockets/ or SYNAPSE_SOCKET_DIR
	SpillDir    string // spillover/ or SYNAPSE_SPILL_DIR
}

// ResolvePaths returns all synapse paths, respecting env var overrides.
// Environment variables:
//   - SYNAPSE_HOME: base directory for all synapse state (default: ~/.synapse)
//   - SYNAPSE_CONFIG_PATH: config file (default: $SYNAPSE_HOME/config.toml)
//   - SYNAPSE_DB_PATH: shared state database (default: $SYNAPSE_HOME/state.db)
//   - SYNAPSE_SOCKET_DIR: per-agent UDS sockets (default: $SYNAPSE_HOME/sockets)
//   - SYNAPSE_SPILL_DIR: spillover files (default: $SYNAPSE_HOME/spillover)
//
// If SYNAPSE_HOME is set, it becomes the base for all default paths. The
// specific variables override both the default and the SYNAPSE_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveSynapseHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		SynapseHome: home,
		ConfigPath:  resolvePathWithEnv("SYNAPSE_CONFIG_PATH", home, "config.toml"),
		StateDBPath: resolvePathWithEnv("SYNAPSE_DB_PATH", home, "state.db"),
		SocketDir:   resolvePathWithEnv("SYNAPSE_SOCKET_DIR", home, "sockets"),
		SpillDir:    resolvePathWithEnv("SYNAPSE_SPILL_DIR", home, "spillover"),
	}, nil
}

// SocketPath returns the UDS path for one agent id.
func (p *Paths) SocketPath(agentID string) string {
	return filepath.Join(p.SocketDir, agentID+".sock")
}

// EnsureDirs creates the state directories with owner-only permissions.
func (p *Paths) EnsureDirs() error {
	for _, dir := range []string{p.SynapseHome, p.SocketDir, p.SpillDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

func resolveSynapseHome() (string, error) {
	if v := os.Getenv("SYNAPSE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".synapse"), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
