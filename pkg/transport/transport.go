// Package transport selects and drives the delivery channel to a resolved
// agent endpoint: the agent's Unix socket when it is connectable, falling
// back to its loopback TCP port. Both channels speak the same JSON-over-HTTP
// surface; only the dial path differs.
package transport

import (
	"context"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Kind identifies the selected channel path.
type Kind string

const (
	// KindLocal is the Unix-domain-socket path, preferred because it
	// avoids network-stack overhead and works inside sandboxes that block
	// general networking.
	KindLocal Kind = "local"
	// KindNetwork is the loopback TCP fallback.
	KindNetwork Kind = "network"
)

// probeTimeout bounds the per-send socket connectability check.
const probeTimeout = 300 * time.Millisecond

// requestTimeout bounds a single channel HTTP request.
const requestTimeout = 10 * time.Second

// Router builds channels to endpoints. The local-or-network decision is made
// per send and never cached: socket availability changes over an agent's
// lifetime (process restarts, per-agent sandboxing differences), so a cached
// answer would go stale silently.
type Router struct {
	// probeFunc reports whether a socket path is currently connectable.
	// Overridable for tests.
	probeFunc func(path string) bool
}

// NewRouter creates a Router.
func NewRouter() *Router {
	return &Router{probeFunc: socketConnectable}
}

// WithProbeFunc overrides the socket probe (for tests).
func (r *Router) WithProbeFunc(probe func(path string) bool) *Router {
	r.probeFunc = probe
	return r
}

// socketConnectable checks that the socket file exists and something is
// actually listening on it. A leftover file from a crashed process fails
// the dial and routes the send to the network path instead.
func socketConnectable(path string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	conn, err := net.DialTimeout("unix", path, probeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Select returns the channel to use for one send: local when the endpoint's
// socket is connectable right now, network otherwise. Callers must not hold
// registry locks across this call; the probe performs I/O.
func (r *Router) Select(socketPath string, port int) *Channel {
	if socketPath != "" && r.probeFunc(socketPath) {
		return newLocalChannel(socketPath)
	}
	return newNetworkChannel(port)
}

// Network returns the network channel directly, bypassing the probe. Used
// when the local path has already failed mid-send.
func (r *Router) Network(port int) *Channel {
	return newNetworkChannel(port)
}

func newLocalChannel(socketPath string) *Channel {
	dialer := &net.Dialer{Timeout: probeTimeout}
	client := &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", socketPath)
			},
		},
	}
	// The host is a placeholder; the dialer ignores it.
	return &Channel{Kind: KindLocal, base: "http://synapse.sock", client: client}
}

func newNetworkChannel(port int) *Channel {
	return &Channel{
		Kind:   KindNetwork,
		base:   "http://127.0.0.1:" + strconv.Itoa(port),
		client: &http.Client{Timeout: requestTimeout},
	}
}
