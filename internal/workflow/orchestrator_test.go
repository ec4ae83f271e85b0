package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarfinder/reviewflow/internal/cache"
	"github.com/scholarfinder/reviewflow/internal/jobstore"
	"github.com/scholarfinder/reviewflow/internal/scholarfinder"
	"github.com/scholarfinder/reviewflow/shared/logger"
	"github.com/scholarfinder/reviewflow/shared/sqlite"
)

// fakeRemote simulates the review service end to end: every upload issues a
// fresh job id, validation completes after a configurable number of polls
type fakeRemote struct {
	pollsToComplete int32
	metadataDelay   time.Duration

	uploads       int32
	metadataReads int32
	searches      int32
	polls         int32
}

func (f *fakeRemote) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload_extract_metadata", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.uploads, 1)
		json.NewEncoder(w).Encode(scholarfinder.Metadata{
			JobID:   fmt.Sprintf("job_%d", n),
			Heading: "A manuscript",
			Authors: []string{"J. Doe"},
		})
	})
	mux.HandleFunc("/metadata_extraction", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.metadataReads, 1)
		if f.metadataDelay > 0 {
			time.Sleep(f.metadataDelay)
		}
		json.NewEncoder(w).Encode(scholarfinder.Metadata{JobID: "job_1", Heading: "A manuscript"})
	})
	mux.HandleFunc("/keyword_enhancement", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scholarfinder.KeywordEnhancement{
			JobID:        "job_1",
			MeshTerms:    []string{"Nephrology"},
			PrimaryFocus: []string{"deep learning"},
		})
	})
	mux.HandleFunc("/database_search", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.searches, 1)
		json.NewEncoder(w).Encode(scholarfinder.SearchResults{
			JobID:          "job_1",
			TotalReviewers: 42,
			SearchStatus:   map[string]string{"PubMed": scholarfinder.SearchSuccess},
		})
	})
	mux.HandleFunc("/validate_authors", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scholarfinder.ValidationStatus{
			JobID:  "job_1",
			Status: scholarfinder.ValidationInProgress,
		})
	})
	mux.HandleFunc("/validation_status/", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&f.polls, 1)
		status := scholarfinder.ValidationStatus{
			JobID:              "job_1",
			Status:             scholarfinder.ValidationInProgress,
			ProgressPercentage: int(n) * 30,
			AuthorsProcessed:   int(n),
		}
		if n >= f.pollsToComplete {
			status.Status = scholarfinder.ValidationCompleted
			status.ProgressPercentage = 100
		}
		json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/recommended_reviewers", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scholarfinder.Recommendations{
			JobID: "job_1",
			Reviewers: []scholarfinder.Reviewer{
				{Name: "high", ConditionsMet: 7},
				{Name: "low", ConditionsMet: 3},
			},
			TotalCount: 2,
		})
	})
	return mux
}

// recordingSink captures published workflow events
type recordingSink struct {
	mu   sync.Mutex
	keys []string
}

func (s *recordingSink) Publish(ctx context.Context, routingKey string, body []byte) error {
	s.mu.Lock()
	s.keys = append(s.keys, routingKey)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func testCoordinator(t *testing.T, remote *fakeRemote) (*Coordinator, *recordingSink) {
	t.Helper()

	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)

	log := logger.NewDefault()

	db, err := sqlite.NewClient(&sqlite.Config{Path: ":memory:"}, log.Logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := jobstore.New(db, log.Logger)
	require.NoError(t, err)

	table := make(cache.Table)
	for _, resource := range cache.AllResources() {
		table[resource] = cache.TTL{StaleAfter: time.Minute, EvictAfter: 10 * time.Minute}
	}
	c, err := cache.New(table, log.Logger)
	require.NoError(t, err)

	client := scholarfinder.NewClient(&scholarfinder.Config{
		BaseURL: srv.URL,
		Retry:   scholarfinder.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, log.Logger)

	sink := &recordingSink{}
	coord := NewCoordinator(&CoordinatorConfig{
		Client:       client,
		Cache:        c,
		Store:        store,
		Events:       sink,
		PollInterval: 5 * time.Millisecond,
		PollBudget:   time.Minute,
	}, log.Logger)

	return coord, sink
}

func TestCoordinator_UploadRecordsJobIdentity(t *testing.T) {
	coord, sink := testCoordinator(t, &fakeRemote{})
	ctx := context.Background()

	meta, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, "job_1", meta.JobID)

	status := coord.Status(ctx, "inst1")
	assert.Equal(t, "job_1", status.JobID)
	assert.True(t, status.Progress.Uploaded)
	// completing upload never auto-advances
	assert.Equal(t, StepUpload, status.Step)

	assert.Contains(t, sink.published(), "workflow.upload_completed")
}

func TestCoordinator_OperationsRequireJobID(t *testing.T) {
	coord, _ := testCoordinator(t, &fakeRemote{})
	ctx := context.Background()

	_, err := coord.EnhanceKeywords(ctx, "no-upload-yet")
	require.ErrorIs(t, err, scholarfinder.ErrMissingJobID)
	assert.Equal(t, scholarfinder.KindMissingJobID, scholarfinder.KindOf(err))
	assert.False(t, scholarfinder.IsRetryable(err))

	_, err = coord.SearchDatabases(ctx, "no-upload-yet", []string{"PubMed"})
	require.ErrorIs(t, err, scholarfinder.ErrMissingJobID)

	_, err = coord.Validate(ctx, "no-upload-yet", nil)
	require.ErrorIs(t, err, scholarfinder.ErrMissingJobID)
}

func TestCoordinator_DuplicateUploadIsSuppressed(t *testing.T) {
	remote := &fakeRemote{}
	coord, _ := testCoordinator(t, remote)
	ctx := context.Background()

	first, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)

	// immediate re-trigger inside the suppression window: no second call,
	// and the cached metadata comes back
	second, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.uploads))
	assert.Equal(t, first.JobID, second.JobID)
}

func TestCoordinator_UploadRefusedOnceJobIDIssued(t *testing.T) {
	remote := &fakeRemote{}
	coord, _ := testCoordinator(t, remote)
	ctx := context.Background()

	first, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, "job_1", first.JobID)

	// drop the double-click suppression record so the immutability guard,
	// not the window, decides the second upload
	coord.dedup.Clear("upload:inst1")

	_, err = coord.Upload(ctx, "inst1", "paper.docx", []byte("revised content"))
	require.ErrorIs(t, err, ErrJobAlreadyIssued)
	assert.False(t, scholarfinder.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.uploads))

	// the issued job id is untouched
	assert.Equal(t, "job_1", coord.Status(ctx, "inst1").JobID)

	// only an explicit reset allows a new upload, which issues a fresh id
	require.NoError(t, coord.Reset(ctx, "inst1"))
	second, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, "job_2", second.JobID)
}

func TestCoordinator_ConcurrentMetadataReadsCoalesce(t *testing.T) {
	remote := &fakeRemote{metadataDelay: 50 * time.Millisecond}
	coord, _ := testCoordinator(t, remote)
	ctx := context.Background()

	coord.store.Set(ctx, "inst1", "job_1")

	var wg sync.WaitGroup
	metas := make([]*scholarfinder.Metadata, 4)
	for i := range metas {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			meta, err := coord.Metadata(ctx, "inst1")
			assert.NoError(t, err)
			metas[i] = meta
		}(i)
	}
	wg.Wait()

	// at most one fetch in flight per (resource, instance)
	assert.Equal(t, int32(1), atomic.LoadInt32(&remote.metadataReads))
	for _, meta := range metas {
		require.NotNil(t, meta)
		assert.Equal(t, "A manuscript", meta.Heading)
	}
}

func TestCoordinator_FullWorkflow(t *testing.T) {
	coord, sink := testCoordinator(t, &fakeRemote{pollsToComplete: 3})
	ctx := context.Background()

	_, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.True(t, coord.Advance(ctx, "inst1", StepMetadataExtraction))

	enh, err := coord.EnhanceKeywords(ctx, "inst1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Nephrology"}, enh.MeshTerms)
	assert.True(t, coord.Advance(ctx, "inst1", StepKeywordEnhancement))

	results, err := coord.SearchDatabases(ctx, "inst1", []string{"PubMed"})
	require.NoError(t, err)
	assert.Equal(t, 42, results.TotalReviewers)
	assert.True(t, coord.Advance(ctx, "inst1", StepDatabaseSearch))

	var progress []int
	status, err := coord.Validate(ctx, "inst1", func(pct, authors int) {
		progress = append(progress, pct)
	})
	require.NoError(t, err)
	assert.Equal(t, scholarfinder.ValidationCompleted, status.Status)
	require.NotEmpty(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	assert.True(t, coord.Advance(ctx, "inst1", StepValidation))

	recs, err := coord.Recommendations(ctx, "inst1")
	require.NoError(t, err)
	assert.Equal(t, 2, recs.TotalCount)
	assert.GreaterOrEqual(t, recs.Reviewers[0].ConditionsMet, recs.Reviewers[1].ConditionsMet)

	assert.True(t, coord.Advance(ctx, "inst1", StepRecommendations))
	assert.True(t, coord.Advance(ctx, "inst1", StepExport))

	published := sink.published()
	assert.Contains(t, published, "workflow.upload_completed")
	assert.Contains(t, published, "workflow.search_completed")
	assert.Contains(t, published, "workflow.validation_finished")
	assert.Contains(t, published, "workflow.step_entered")
}

func TestCoordinator_AdvanceRefusedWithoutGuard(t *testing.T) {
	coord, _ := testCoordinator(t, &fakeRemote{})
	ctx := context.Background()

	assert.False(t, coord.Advance(ctx, "inst1", StepMetadataExtraction))
	assert.Equal(t, StepUpload, coord.Status(ctx, "inst1").Step)
}

func TestCoordinator_ResetStartsOver(t *testing.T) {
	remote := &fakeRemote{}
	coord, sink := testCoordinator(t, remote)
	ctx := context.Background()

	_, err := coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	require.True(t, coord.Advance(ctx, "inst1", StepMetadataExtraction))

	require.NoError(t, coord.Reset(ctx, "inst1"))

	status := coord.Status(ctx, "inst1")
	assert.Empty(t, status.JobID)
	assert.Equal(t, StepUpload, status.Step)
	assert.False(t, status.Progress.Uploaded)
	assert.Contains(t, sink.published(), "workflow.reset")

	// reset also cleared the dedup window, so a fresh upload goes through
	_, err = coord.Upload(ctx, "inst1", "paper.docx", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&remote.uploads))
}
