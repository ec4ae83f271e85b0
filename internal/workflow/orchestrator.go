package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarfinder/reviewflow/internal/cache"
	"github.com/scholarfinder/reviewflow/internal/jobstore"
	"github.com/scholarfinder/reviewflow/internal/scholarfinder"
)

// EventSink receives workflow lifecycle events. It is optional; a nil sink
// disables event publishing entirely.
type EventSink interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Coordinator drives the review workflow for any number of instances. Every
// remote call goes through the deduplicator, successful results land in the
// cache, the job id lands in the durable store, and each completed action
// applies its selective invalidation and prefetch.
type Coordinator struct {
	client   *scholarfinder.Client
	cache    *cache.Cache
	store    *jobstore.Store
	dedup    *scholarfinder.Deduplicator
	machine  *StateMachine
	prefetch *Prefetcher
	events   EventSink
	logger   *slog.Logger

	pollInterval time.Duration
	pollBudget   time.Duration

	mu      sync.Mutex
	pollers map[string]*Poller
}

// CoordinatorConfig wires the coordinator's collaborators
type CoordinatorConfig struct {
	Client       *scholarfinder.Client
	Cache        *cache.Cache
	Store        *jobstore.Store
	Events       EventSink // may be nil
	PollInterval time.Duration
	PollBudget   time.Duration
}

// NewCoordinator builds a coordinator and its internal state machine,
// deduplicator, and prefetcher
func NewCoordinator(cfg *CoordinatorConfig, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		client:       cfg.Client,
		cache:        cfg.Cache,
		store:        cfg.Store,
		dedup:        scholarfinder.NewDeduplicator(scholarfinder.DefaultSuppressionWindow, logger),
		machine:      NewStateMachine(logger),
		events:       cfg.Events,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		pollBudget:   cfg.PollBudget,
		pollers:      make(map[string]*Poller),
	}

	c.prefetch = NewPrefetcher(cfg.Cache, map[cache.ResourceType]PrefetchFunc{
		cache.ResourceMetadata: func(ctx context.Context, instance string) (any, error) {
			jobID, err := c.requireJobID(ctx, instance)
			if err != nil {
				return nil, err
			}
			return c.client.GetMetadata(ctx, jobID)
		},
		cache.ResourceRecommendations: func(ctx context.Context, instance string) (any, error) {
			jobID, err := c.requireJobID(ctx, instance)
			if err != nil {
				return nil, err
			}
			return c.client.GetRecommendations(ctx, jobID)
		},
	}, logger)

	return c
}

// requireJobID resolves the instance's job id or fails the precondition
func (c *Coordinator) requireJobID(ctx context.Context, instance string) (string, error) {
	jobID, ok := c.store.Get(ctx, instance)
	if !ok {
		return "", scholarfinder.ErrMissingJobID
	}
	return jobID, nil
}

// publishEvent emits a workflow event when a sink is configured; publish
// failures never affect the workflow
func (c *Coordinator) publishEvent(ctx context.Context, routingKey, instance string, payload map[string]any) {
	if c.events == nil {
		return
	}

	event := map[string]any{
		"instance":    instance,
		"occurred_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		event[k] = v
	}

	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := c.events.Publish(ctx, routingKey, body); err != nil {
		c.logger.Warn("Workflow event publish failed",
			slog.String("routing_key", routingKey),
			slog.String("instance", instance),
			slog.Any("error", err),
		)
	}
}

// ErrJobAlreadyIssued refuses an upload for an instance that already holds a
// job id. The job id is immutable once issued; only Reset may clear it.
var ErrJobAlreadyIssued = scholarfinder.NewAPIError(
	scholarfinder.KindMetadataError,
	"a job id is already recorded for this instance; reset the workflow to upload a new manuscript",
	false,
)

// Upload sends the manuscript, records the issued job id, and makes the
// metadata-extraction step eligible. A suppressed duplicate trigger returns
// the cached metadata when present, nil otherwise. An instance that already
// holds a job id refuses the upload rather than replacing it.
func (c *Coordinator) Upload(ctx context.Context, instance, filename string, content []byte) (*scholarfinder.Metadata, error) {
	result, suppressed, err := c.dedup.Do("upload:"+instance, func() (any, error) {
		if existing, ok := c.store.Get(ctx, instance); ok {
			c.logger.Warn("Upload refused: job id already issued",
				slog.String("instance", instance),
				slog.String("job_id", existing),
			)
			return nil, ErrJobAlreadyIssued
		}
		return c.client.UploadManuscript(ctx, filename, content)
	})
	if err != nil {
		return nil, err
	}
	if suppressed {
		if entry, ok := c.cache.Read(instance, cache.ResourceMetadata); ok {
			if meta, ok := entry.Payload.(*scholarfinder.Metadata); ok {
				return meta, nil
			}
		}
		return nil, nil
	}

	meta := result.(*scholarfinder.Metadata)
	c.store.Set(ctx, instance, meta.JobID)
	c.machine.MarkCompleted(instance, func(p *Progress) { p.Uploaded = true })

	c.cache.InvalidateFor(instance, cache.ActionUpload)
	c.cache.Write(instance, cache.ResourceMetadata, meta)
	c.prefetch.OnStepEntered(StepUpload, instance)

	c.publishEvent(ctx, "workflow.upload_completed", instance, map[string]any{
		"job_id":    meta.JobID,
		"file_name": filename,
	})

	return meta, nil
}

// Metadata returns the extracted manuscript metadata, from cache when fresh
func (c *Coordinator) Metadata(ctx context.Context, instance string) (*scholarfinder.Metadata, error) {
	if entry, ok := c.cache.Read(instance, cache.ResourceMetadata); ok && !entry.Stale {
		if meta, ok := entry.Payload.(*scholarfinder.Metadata); ok {
			return meta, nil
		}
	}

	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, err := c.dedup.Coalesce("metadata:"+instance, func() (any, error) {
		meta, err := c.client.GetMetadata(ctx, jobID)
		if err != nil {
			return nil, err
		}
		c.cache.Write(instance, cache.ResourceMetadata, meta)
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*scholarfinder.Metadata), nil
}

// EnhanceKeywords derives the keyword sets and makes database search
// eligible
func (c *Coordinator) EnhanceKeywords(ctx context.Context, instance string) (*scholarfinder.KeywordEnhancement, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, suppressed, err := c.dedup.Do("keywords:"+instance, func() (any, error) {
		return c.client.EnhanceKeywords(ctx, jobID)
	})
	if err != nil {
		return nil, err
	}
	if suppressed {
		if entry, ok := c.cache.Read(instance, cache.ResourceKeywords); ok {
			if enh, ok := entry.Payload.(*scholarfinder.KeywordEnhancement); ok {
				return enh, nil
			}
		}
		return nil, nil
	}

	enh := result.(*scholarfinder.KeywordEnhancement)
	c.machine.MarkCompleted(instance, func(p *Progress) { p.KeywordsEnhanced = true })

	c.cache.InvalidateFor(instance, cache.ActionKeywordEnhance)
	c.cache.Write(instance, cache.ResourceKeywords, enh)

	c.publishEvent(ctx, "workflow.keywords_enhanced", instance, map[string]any{
		"job_id": jobID,
	})

	return enh, nil
}

// GenerateKeywordString builds the boolean search string from the selected
// keywords
func (c *Coordinator) GenerateKeywordString(ctx context.Context, instance string, primary, secondary []string) (*scholarfinder.KeywordString, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, err := c.dedup.Coalesce("keywordString:"+instance, func() (any, error) {
		ks, err := c.client.GenerateKeywordString(ctx, jobID, primary, secondary)
		if err != nil {
			return nil, err
		}
		c.cache.InvalidateFor(instance, cache.ActionKeywordString)
		c.cache.Write(instance, cache.ResourceProcessMeta, ks)
		return ks, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*scholarfinder.KeywordString), nil
}

// SearchDatabases runs the literature search and makes validation eligible
func (c *Coordinator) SearchDatabases(ctx context.Context, instance string, websites []string) (*scholarfinder.SearchResults, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, suppressed, err := c.dedup.Do("search:"+instance, func() (any, error) {
		return c.client.SearchDatabases(ctx, jobID, websites)
	})
	if err != nil {
		return nil, err
	}
	if suppressed {
		if entry, ok := c.cache.Read(instance, cache.ResourceSearchResults); ok {
			if results, ok := entry.Payload.(*scholarfinder.SearchResults); ok {
				return results, nil
			}
		}
		return nil, nil
	}

	results := result.(*scholarfinder.SearchResults)
	c.machine.MarkCompleted(instance, func(p *Progress) { p.SearchCompleted = true })

	c.cache.InvalidateFor(instance, cache.ActionDatabaseSearch)
	c.cache.Write(instance, cache.ResourceSearchResults, results)

	c.publishEvent(ctx, "workflow.search_completed", instance, map[string]any{
		"job_id":          jobID,
		"total_reviewers": results.TotalReviewers,
	})

	return results, nil
}

// SearchManualAuthor looks up one author by name from the side branch; the
// current step is untouched
func (c *Coordinator) SearchManualAuthor(ctx context.Context, instance, authorName string) (*scholarfinder.ManualAuthorResult, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, err := c.dedup.Coalesce("manualAuthor:"+instance+":"+authorName, func() (any, error) {
		found, err := c.client.SearchManualAuthor(ctx, jobID, authorName)
		if err != nil {
			return nil, err
		}
		c.cache.InvalidateFor(instance, cache.ActionManualAuthor)
		return found, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*scholarfinder.ManualAuthorResult), nil
}

// Validate starts the asynchronous validation job and polls it to a
// terminal state. Progress from each poll is forwarded to onProgress. On
// completion the recommendations step becomes eligible.
func (c *Coordinator) Validate(ctx context.Context, instance string, onProgress scholarfinder.ProgressFunc) (*scholarfinder.ValidationStatus, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, suppressed, err := c.dedup.Do("validate:"+instance, func() (any, error) {
		started, err := c.client.StartValidation(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if started.Terminal() {
			return started, nil
		}

		poller := NewPoller(c.client.GetValidationStatus, c.pollInterval, c.pollBudget, c.logger)
		c.mu.Lock()
		c.pollers[instance] = poller
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.pollers, instance)
			c.mu.Unlock()
		}()

		return poller.Run(ctx, jobID, onProgress)
	})
	if err != nil {
		return nil, err
	}
	if suppressed || result == nil {
		return nil, nil
	}

	status := result.(*scholarfinder.ValidationStatus)
	if status.Status == scholarfinder.ValidationCompleted {
		c.machine.MarkCompleted(instance, func(p *Progress) { p.ValidationCompleted = true })
	}

	c.cache.InvalidateFor(instance, cache.ActionValidation)
	c.cache.Write(instance, cache.ResourceValidation, status)
	c.prefetch.OnStepEntered(StepValidation, instance)

	c.publishEvent(ctx, "workflow.validation_finished", instance, map[string]any{
		"job_id": jobID,
		"status": status.Status,
	})

	return status, nil
}

// AbortValidation cancels a running polling session for the instance
func (c *Coordinator) AbortValidation(instance string) {
	c.mu.Lock()
	poller := c.pollers[instance]
	c.mu.Unlock()
	if poller != nil {
		poller.Abort()
	}
}

// ValidationProgress fetches the validation status once, outside a polling
// session, for callers that want a point-in-time reading
func (c *Coordinator) ValidationProgress(ctx context.Context, instance string) (*scholarfinder.ValidationStatus, error) {
	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}
	return c.client.GetValidationStatus(ctx, jobID)
}

// Recommendations returns the validated reviewer list, from cache when
// fresh
func (c *Coordinator) Recommendations(ctx context.Context, instance string) (*scholarfinder.Recommendations, error) {
	if entry, ok := c.cache.Read(instance, cache.ResourceRecommendations); ok && !entry.Stale {
		if recs, ok := entry.Payload.(*scholarfinder.Recommendations); ok {
			return recs, nil
		}
	}

	jobID, err := c.requireJobID(ctx, instance)
	if err != nil {
		return nil, err
	}

	result, err := c.dedup.Coalesce("recommendations:"+instance, func() (any, error) {
		recs, err := c.client.GetRecommendations(ctx, jobID)
		if err != nil {
			return nil, err
		}
		c.cache.Write(instance, cache.ResourceRecommendations, recs)
		return recs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*scholarfinder.Recommendations), nil
}

// Advance explicitly moves the instance to target when its guard holds; it
// reports whether the step changed
func (c *Coordinator) Advance(ctx context.Context, instance string, target Step) bool {
	if !c.machine.Advance(instance, target) {
		return false
	}

	c.prefetch.OnStepEntered(target, instance)
	c.publishEvent(ctx, "workflow.step_entered", instance, map[string]any{
		"step": string(target),
	})
	return true
}

// Status is a point-in-time snapshot of one instance
type Status struct {
	Instance string   `json:"instance"`
	Step     Step     `json:"current_step"`
	JobID    string   `json:"job_id,omitempty"`
	Progress Progress `json:"progress"`
}

// Status reports the instance's current step, job id, and completion flags
func (c *Coordinator) Status(ctx context.Context, instance string) *Status {
	jobID, _ := c.store.Get(ctx, instance)
	return &Status{
		Instance: instance,
		Step:     c.machine.Current(instance),
		JobID:    jobID,
		Progress: c.machine.Progress(instance),
	}
}

// Reset is the explicit start-over: it aborts any polling session, clears
// the job id durably, drops every cached resource, and returns the instance
// to the upload step
func (c *Coordinator) Reset(ctx context.Context, instance string) error {
	c.AbortValidation(instance)

	if err := c.store.Reset(ctx, instance); err != nil {
		return fmt.Errorf("failed to reset instance %s: %w", instance, err)
	}

	c.cache.InvalidateAll(instance)
	c.machine.Reset(instance)
	for _, key := range []string{"upload:", "keywords:", "search:", "validate:"} {
		c.dedup.Clear(key + instance)
	}

	c.publishEvent(ctx, "workflow.reset", instance, nil)
	return nil
}
