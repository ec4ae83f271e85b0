package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scholarfinder/reviewflow/shared/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_identities (
	store_key  TEXT PRIMARY KEY,
	job_id     TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Store is the durable mapping from a workflow instance to the job id issued
// by the remote API. Reads hit an in-memory map first; on a miss, the SQLite
// row (if any) rehydrates it, which is what lets a workflow resume after a
// process restart. Durable writes are best-effort: a failed write is logged
// and the in-memory copy is kept, so the running session stays correct.
type Store struct {
	db     *sqlite.Client
	logger *slog.Logger

	mu     sync.Mutex
	jobIDs map[string]string
}

// New creates the store and bootstraps its table
func New(db *sqlite.Client, logger *slog.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to create job_identities table: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger,
		jobIDs: make(map[string]string),
	}, nil
}

// storeKey is the deterministic durable key for an instance's job id
func storeKey(instance string) string {
	return "instance:" + instance + ":jobId"
}

// Set records the job id for instance in memory and durably. A durable write
// failure does not fail the call.
func (s *Store) Set(ctx context.Context, instance, jobID string) {
	s.mu.Lock()
	s.jobIDs[instance] = jobID
	s.mu.Unlock()

	err := s.db.ExecContext(ctx,
		`INSERT INTO job_identities (store_key, job_id) VALUES (?, ?)
		 ON CONFLICT(store_key) DO UPDATE SET job_id = excluded.job_id`,
		storeKey(instance), jobID,
	)
	if err != nil {
		s.logger.Warn("Durable job id write failed, keeping in-memory copy",
			slog.String("instance", instance),
			slog.Any("error", err),
		)
		return
	}

	s.logger.Debug("Job id persisted",
		slog.String("instance", instance),
		slog.String("job_id", jobID),
	)
}

// Get returns the job id for instance, rehydrating from SQLite on a memory
// miss. ok is false when no job id has ever been recorded.
func (s *Store) Get(ctx context.Context, instance string) (string, bool) {
	s.mu.Lock()
	jobID, ok := s.jobIDs[instance]
	s.mu.Unlock()
	if ok {
		return jobID, true
	}

	err := s.db.GetContext(ctx, &jobID,
		`SELECT job_id FROM job_identities WHERE store_key = ?`,
		storeKey(instance),
	)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Durable job id read failed",
				slog.String("instance", instance),
				slog.Any("error", err),
			)
		}
		return "", false
	}

	s.mu.Lock()
	s.jobIDs[instance] = jobID
	s.mu.Unlock()

	s.logger.Info("Job id rehydrated from durable storage",
		slog.String("instance", instance),
		slog.String("job_id", jobID),
	)

	return jobID, true
}

// Reset clears the job id for instance everywhere. Only the explicit
// start-over path calls this; ordinary workflow actions never delete.
func (s *Store) Reset(ctx context.Context, instance string) error {
	s.mu.Lock()
	delete(s.jobIDs, instance)
	s.mu.Unlock()

	if err := s.db.ExecContext(ctx,
		`DELETE FROM job_identities WHERE store_key = ?`,
		storeKey(instance),
	); err != nil {
		return fmt.Errorf("failed to reset job id for instance %s: %w", instance, err)
	}

	s.logger.Info("Job id reset",
		slog.String("instance", instance),
	)
	return nil
}

// forget drops the in-memory copy only; tests use it to simulate a restart
func (s *Store) forget(instance string) {
	s.mu.Lock()
	delete(s.jobIDs, instance)
	s.mu.Unlock()
}
