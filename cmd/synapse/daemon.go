package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/registry"
)

// pidFilePath is where a serving agent records its process id.
func (p *Paths) pidFilePath(agentID string) string {
	return filepath.Join(p.SynapseHome, agentID+".pid")
}

// writePIDFile records the current process id for agentID. A leftover file
// from a live process is an error; one from a dead process is replaced.
func writePIDFile(paths *Paths, agentID string) (string, error) {
	path := paths.pidFilePath(agentID)
	if data, err := os.ReadFile(path); err == nil { //nolint:gosec // path derived from SYNAPSE_HOME
		pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr == nil && registry.ProcessAlive(pid) {
			return "", fmt.Errorf("agent %s already running (pid %d)", agentID, pid)
		}
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write pid file: %w", err)
	}
	return path, nil
}

// removePIDFile is idempotent.
func removePIDFile(path string) {
	_ = os.Remove(path)
}
