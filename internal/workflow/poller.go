package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarfinder/reviewflow/internal/scholarfinder"
)

// PollState is the polling controller's lifecycle state
type PollState string

const (
	PollIdle      PollState = "IDLE"
	PollPolling   PollState = "POLLING"
	PollCompleted PollState = "COMPLETED"
	PollFailed    PollState = "FAILED"
	PollAborted   PollState = "ABORTED"
)

// ErrPollBudgetExceeded means the whole polling session ran past its
// wall-clock budget without the validation job reaching a terminal state.
// This is not the same thing as a single status call timing out.
var ErrPollBudgetExceeded = errors.New("validation polling exceeded its wall-clock budget")

// ErrPollAborted means the caller cancelled the polling session
var ErrPollAborted = errors.New("validation polling aborted")

// StatusFetcher retrieves the current validation status for a job
type StatusFetcher func(ctx context.Context, jobID string) (*scholarfinder.ValidationStatus, error)

// Poller drives one validation job to a terminal state by checking its
// status on a fixed interval. It is single-use: one Poller per validation
// session. Progress from every poll is forwarded to the caller's callback,
// so polling doubles as a progress feed.
type Poller struct {
	fetch    StatusFetcher
	interval time.Duration
	budget   time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	state  PollState
	cancel context.CancelFunc
}

// NewPoller creates a poller; non-positive interval or budget select the
// defaults (5s, 10m)
func NewPoller(fetch StatusFetcher, interval, budget time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if budget <= 0 {
		budget = 10 * time.Minute
	}
	return &Poller{
		fetch:    fetch,
		interval: interval,
		budget:   budget,
		logger:   logger,
		state:    PollIdle,
	}
}

// State returns the controller's current state
func (p *Poller) State() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Abort cancels a running polling session. The in-flight status check, if
// any, is discarded when it lands. Aborting a poller that is not polling is
// a no-op.
func (p *Poller) Abort() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != PollPolling {
		return
	}
	p.state = PollAborted
	if p.cancel != nil {
		p.cancel()
	}
}

// setState transitions unless an Abort already won
func (p *Poller) setState(next PollState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == PollAborted {
		return false
	}
	p.state = next
	return true
}

// Run polls until the validation job completes, fails, the budget runs out,
// or the session is aborted. It returns the terminal status on completion.
// Progress values pass through to onProgress unmodified; a regression is
// logged but not clamped, since the remote API does not guarantee
// monotonicity.
func (p *Poller) Run(ctx context.Context, jobID string, onProgress scholarfinder.ProgressFunc) (*scholarfinder.ValidationStatus, error) {
	p.mu.Lock()
	if p.state != PollIdle {
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("poller already used (state %s)", state)
	}
	p.state = PollPolling
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	deadline := time.Now().Add(p.budget)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	lastProgress, lastAuthors := -1, -1

	p.logger.Info("Validation polling started",
		slog.String("job_id", jobID),
		slog.Duration("interval", p.interval),
		slog.Duration("budget", p.budget),
	)

	for {
		select {
		case <-ctx.Done():
			if p.State() == PollAborted {
				return nil, ErrPollAborted
			}
			p.setState(PollFailed)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			p.setState(PollFailed)
			p.logger.Error("Validation polling budget exceeded",
				slog.String("job_id", jobID),
				slog.Duration("budget", p.budget),
			)
			return nil, ErrPollBudgetExceeded
		}

		status, err := p.fetch(ctx, jobID)
		if p.State() == PollAborted {
			// result landed after an abort; discard it
			return nil, ErrPollAborted
		}
		if err != nil {
			p.setState(PollFailed)
			return nil, err
		}

		if status.ProgressPercentage < lastProgress || status.AuthorsProcessed < lastAuthors {
			p.logger.Warn("Validation progress regressed",
				slog.String("job_id", jobID),
				slog.Int("progress", status.ProgressPercentage),
				slog.Int("last_progress", lastProgress),
				slog.Int("authors_processed", status.AuthorsProcessed),
				slog.Int("last_authors_processed", lastAuthors),
			)
		}
		lastProgress, lastAuthors = status.ProgressPercentage, status.AuthorsProcessed

		if onProgress != nil {
			onProgress(status.ProgressPercentage, status.AuthorsProcessed)
		}

		switch status.Status {
		case scholarfinder.ValidationCompleted:
			p.setState(PollCompleted)
			p.logger.Info("Validation completed",
				slog.String("job_id", jobID),
				slog.Int("authors_processed", status.AuthorsProcessed),
			)
			return status, nil
		case scholarfinder.ValidationFailed:
			p.setState(PollFailed)
			return status, scholarfinder.NewAPIError(
				scholarfinder.KindValidationError,
				"validation job reported failure",
				false,
			)
		}
	}
}
