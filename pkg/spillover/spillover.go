// Package spillover offloads oversized message bodies to side-channel files
// so the wire message stays small. Records carry a bounded TTL and are swept
// unconditionally once it elapses; consumption is not tracked, so a slow
// reader can lose a payload. That is an accepted bounded-staleness trade-off,
// not a bug.
package spillover

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
)

// Defaults. Threshold and TTL are configurable; see pkg/config.
const (
	DefaultThreshold = 8 * 1024
	DefaultTTL       = 15 * time.Minute
)

// refPrefix namespaces spillover files in the shared directory.
const refPrefix = "spill-"

// Store writes and reads spillover records under a private directory shared
// by all local agents. Reference ids are uuid-derived, so concurrent writers
// never collide.
type Store struct {
	dir       string
	threshold int
	ttl       time.Duration

	nowFunc func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithThreshold overrides the inline-size threshold in bytes.
func WithThreshold(n int) Option {
	return func(s *Store) { s.threshold = n }
}

// WithTTL overrides the record time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithNowFunc overrides the clock (for tests).
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) { s.nowFunc = now }
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:       dir,
		threshold: DefaultThreshold,
		ttl:       DefaultTTL,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spillover dir %s: %w", dir, err)
	}
	return s, nil
}

// Threshold returns the inline-size threshold in bytes.
func (s *Store) Threshold() int { return s.threshold }

// Oversized reports whether body must be spilled rather than sent inline.
// Bodies of exactly threshold length still travel inline.
func (s *Store) Oversized(body string) bool {
	return len(body) > s.threshold
}

// Store persists body to a side-channel file and returns the short reference
// id plus the human-readable pointer text to embed in the wire message in
// place of the raw body.
func (s *Store) Store(body string) (ref, pointer string, err error) {
	ref = refPrefix + uuid.NewString()[:8]
	path := filepath.Join(s.dir, ref+".msg")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		return "", "", fmt.Errorf("write spillover %s: %w", ref, err)
	}
	pointer = fmt.Sprintf(
		"[synapse spillover ref=%s bytes=%d] message body exceeded the inline limit; run `synapse spillover get %s` to read it",
		ref, len(body), ref)
	return ref, pointer, nil
}

// Retrieve returns the original body for ref. It fails with ExpiredError
// once the record has been swept or its TTL elapsed, and with a validation
// error for malformed references.
func (s *Store) Retrieve(ref string) (string, error) {
	if err := validRef(ref); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, ref+".msg")

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", &protocol.ExpiredError{Ref: ref}
	}
	if err != nil {
		return "", fmt.Errorf("stat spillover %s: %w", ref, err)
	}
	if s.expired(info.ModTime()) {
		return "", &protocol.ExpiredError{Ref: ref}
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is dir + validated ref
	if err != nil {
		if os.IsNotExist(err) {
			// Swept between stat and read; same outcome.
			return "", &protocol.ExpiredError{Ref: ref}
		}
		return "", fmt.Errorf("read spillover %s: %w", ref, err)
	}
	return string(data), nil
}

// Sweep deletes every record past its TTL, regardless of whether it was
// consumed, and returns how many were removed. Safe to run concurrently
// with readers: a retrieval racing a sweep simply observes expiry.
func (s *Store) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read spillover dir: %w", err)
	}
	swept := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, refPrefix) || !strings.HasSuffix(name, ".msg") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue // deleted underneath us
		}
		if !s.expired(info.ModTime()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err == nil || os.IsNotExist(err) {
			swept++
		}
	}
	return swept, nil
}

func (s *Store) expired(created time.Time) bool {
	return s.nowFunc().Sub(created) > s.ttl
}

// validRef rejects references that could escape the spillover directory.
func validRef(ref string) error {
	if !strings.HasPrefix(ref, refPrefix) {
		return &protocol.ValidationError{Field: "ref", Reason: "missing spill- prefix"}
	}
	for _, r := range ref[len(refPrefix):] {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return &protocol.ValidationError{Field: "ref", Reason: "illegal character"}
		}
	}
	return nil
}
