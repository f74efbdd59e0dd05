package spillover_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/protocol"
	"github.com/s-hiraoku/synapse-a2a-sub002/pkg/spillover"
)

func TestOversizedBoundary(t *testing.T) {
	t.Parallel()

	store, err := spillover.New(t.TempDir(), spillover.WithThreshold(100))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	tests := []struct {
		name string
		size int
		want bool
	}{
		{"below threshold", 99, false},
		{"exactly threshold stays inline", 100, false},
		{"one over threshold", 101, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := strings.Repeat("x", tt.size)
			if got := store.Oversized(body); got != tt.want {
				t.Errorf("Oversized(%d bytes) = %v, want %v", tt.size, got, tt.want)
			}
		})
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	t.Parallel()

	store, err := spillover.New(t.TempDir(), spillover.WithThreshold(10))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	body := strings.Repeat("payload ", 100)
	ref, pointer, err := store.Store(body)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !strings.HasPrefix(ref, "spill-") {
		t.Errorf("ref %q missing prefix", ref)
	}
	if !strings.Contains(pointer, ref) {
		t.Errorf("pointer text does not mention ref: %q", pointer)
	}
	if len(pointer) >= len(body) {
		t.Errorf("pointer (%d bytes) should be smaller than the body (%d bytes)", len(pointer), len(body))
	}

	got, err := store.Retrieve(ref)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != body {
		t.Errorf("retrieved body differs (%d vs %d bytes)", len(got), len(body))
	}
}

func TestRetrieveExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	store, err := spillover.New(t.TempDir(),
		spillover.WithTTL(time.Minute),
		spillover.WithNowFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ref, _, err := store.Store("big")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	now = now.Add(2 * time.Minute)

	_, err = store.Retrieve(ref)
	var exp *protocol.ExpiredError
	if !errors.As(err, &exp) {
		t.Fatalf("want ExpiredError, got %v", err)
	}
}

func TestRetrieveUnknownRef(t *testing.T) {
	t.Parallel()

	store, err := spillover.New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	_, err = store.Retrieve("spill-deadbeef")
	var exp *protocol.ExpiredError
	if !errors.As(err, &exp) {
		t.Fatalf("want ExpiredError for missing record, got %v", err)
	}
}

func TestRetrieveRejectsMalformedRef(t *testing.T) {
	t.Parallel()

	store, err := spillover.New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	for _, ref := range []string{"nope", "spill-../../etc/passwd", "spill-UPPER"} {
		_, err := store.Retrieve(ref)
		var ve *protocol.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Retrieve(%q): want ValidationError, got %v", ref, err)
		}
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := spillover.New(dir, spillover.WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	oldRef, _, err := store.Store("old")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	freshRef, _, err := store.Store("fresh")
	if err != nil {
		t.Fatalf("store fresh: %v", err)
	}

	// Nothing expired yet.
	n, err := store.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 0 {
		t.Errorf("early sweep removed %d", n)
	}

	// Age the first record past its TTL.
	past := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(filepath.Join(dir, oldRef+".msg"), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	n, err = store.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("sweep removed %d, want 1", n)
	}

	if _, err := store.Retrieve(freshRef); err != nil {
		t.Errorf("fresh record swept: %v", err)
	}
	if _, err := store.Retrieve(oldRef); err == nil {
		t.Errorf("expired record survived sweep")
	}
}
