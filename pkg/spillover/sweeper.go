package spillover

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSweepInterval is the fallback sweep cadence when filesystem events
// are quiet.
const DefaultSweepInterval = time.Minute

// RunSweeper deletes expired records until ctx is cancelled. It watches the
// spillover directory with fsnotify so a burst of new records triggers an
// eager sweep, with the interval ticker as a safety net for missed events.
// The watcher failing to start is not fatal: the ticker alone still bounds
// staleness.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if werr := watcher.Add(s.dir); werr == nil {
			events = make(chan fsnotify.Event)
			go func() {
				defer close(events)
				for {
					select {
					case ev, ok := <-watcher.Events:
						if !ok {
							return
						}
						if ev.Op.Has(fsnotify.Create) {
							select {
							case events <- ev:
							case <-ctx.Done():
								return
							}
						}
					case <-watcher.Errors:
						// Watch errors degrade to ticker-only sweeping.
					case <-ctx.Done():
						return
					}
				}
			}()
		}
		defer func() { _ = watcher.Close() }()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.Sweep()
		case _, ok := <-events:
			if !ok {
				events = nil // fall back to ticker only
				continue
			}
			_, _ = s.Sweep()
		}
	}
}
