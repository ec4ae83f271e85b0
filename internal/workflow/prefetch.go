package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarfinder/reviewflow/internal/cache"
)

// prefetchTable maps a just-entered step to the resource the next step is
// expected to read. Only resources reachable through an idempotent fetch are
// listed; steps whose successor mutates remote state have no entry.
var prefetchTable = map[Step]cache.ResourceType{
	StepUpload:          cache.ResourceMetadata,
	StepValidation:      cache.ResourceRecommendations,
	StepRecommendations: cache.ResourceRecommendations,
}

// PrefetchFunc fetches one resource for an instance so it can be cached
type PrefetchFunc func(ctx context.Context, instance string) (any, error)

// Prefetcher opportunistically warms the cache for the resource the next
// workflow step will need. It is purely a latency optimization: fetch
// failures are logged and swallowed, never surfaced.
type Prefetcher struct {
	cache    *cache.Cache
	fetchers map[cache.ResourceType]PrefetchFunc
	timeout  time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewPrefetcher creates a prefetcher over the given per-resource fetchers
func NewPrefetcher(c *cache.Cache, fetchers map[cache.ResourceType]PrefetchFunc, logger *slog.Logger) *Prefetcher {
	return &Prefetcher{
		cache:    c,
		fetchers: fetchers,
		timeout:  30 * time.Second,
		logger:   logger,
	}
}

// OnStepEntered fires a background fetch for the next step's resource. It
// returns immediately; the result, if any, lands in the cache.
func (p *Prefetcher) OnStepEntered(step Step, instance string) {
	resource, ok := prefetchTable[step]
	if !ok {
		return
	}
	fetch, ok := p.fetchers[resource]
	if !ok {
		return
	}

	// a fresh cached value makes the fetch pointless
	if entry, ok := p.cache.Read(instance, resource); ok && !entry.Stale {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		payload, err := fetch(ctx, instance)
		if err != nil {
			p.logger.Debug("Prefetch failed",
				slog.String("instance", instance),
				slog.String("resource", string(resource)),
				slog.Any("error", err),
			)
			return
		}

		p.cache.Write(instance, resource, payload)
		p.logger.Debug("Prefetch warmed cache",
			slog.String("instance", instance),
			slog.String("resource", string(resource)),
		)
	}()
}

// Wait blocks until all in-flight prefetches finish; tests use it
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}
