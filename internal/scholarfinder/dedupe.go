package scholarfinder

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSuppressionWindow is how long after a successful completion a fresh
// call for the same key is treated as an accidental duplicate trigger
const DefaultSuppressionWindow = time.Second

// Deduplicator collapses concurrent identical requests into one in-flight
// call, and suppresses immediate re-triggers of a just-completed call (a
// rapid double-click guard, not a cache). Failed calls release their key
// immediately so retries go through.
type Deduplicator struct {
	group  *singleflight.Group
	window time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	completed map[string]time.Time

	now func() time.Time // test hook
}

// NewDeduplicator creates a request deduplicator with the given suppression
// window; window <= 0 selects the default
func NewDeduplicator(window time.Duration, logger *slog.Logger) *Deduplicator {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &Deduplicator{
		group:     &singleflight.Group{},
		window:    window,
		logger:    logger,
		completed: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Do executes fn for key, collapsing concurrent callers onto one execution.
// If an identical call completed successfully less than the suppression
// window ago, fn is not executed and Do returns (nil, true, nil).
func (d *Deduplicator) Do(key string, fn func() (any, error)) (any, bool, error) {
	d.mu.Lock()
	if finished, ok := d.completed[key]; ok && d.now().Sub(finished) < d.window {
		d.mu.Unlock()
		d.logger.Debug("Duplicate trigger suppressed",
			slog.String("key", key),
		)
		return nil, true, nil
	}
	group := d.group
	d.mu.Unlock()

	result, err, shared := group.Do(key, fn)
	if shared {
		d.logger.Debug("Concurrent request coalesced",
			slog.String("key", key),
		)
	}

	if err != nil {
		// Leave no completion record so an immediate retry is allowed
		return nil, false, err
	}

	d.mu.Lock()
	d.completed[key] = d.now()
	d.mu.Unlock()

	return result, false, nil
}

// Coalesce collapses concurrent callers for key onto one execution of fn
// without the post-completion suppression window. Read paths use it so at
// most one fetch per (resource, instance) is in flight; a caller arriving
// after completion always executes fresh.
func (d *Deduplicator) Coalesce(key string, fn func() (any, error)) (any, error) {
	d.mu.Lock()
	group := d.group
	d.mu.Unlock()

	result, err, shared := group.Do(key, fn)
	if shared {
		d.logger.Debug("Concurrent request coalesced",
			slog.String("key", key),
		)
	}
	return result, err
}

// Clear removes the completion record and forgets any in-flight call for key
func (d *Deduplicator) Clear(key string) {
	d.mu.Lock()
	delete(d.completed, key)
	d.group.Forget(key)
	d.mu.Unlock()
}

// ClearAll resets all deduplication state. In-flight calls on the old state
// complete normally; new callers start fresh.
func (d *Deduplicator) ClearAll() {
	d.mu.Lock()
	d.completed = make(map[string]time.Time)
	d.group = &singleflight.Group{}
	d.mu.Unlock()
}
