package scholarfinder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ProgressFunc is the single progress callback contract for long-running
// operations. It is defined once at the client boundary and passed down by
// reference; layers never re-wrap it.
type ProgressFunc func(percentage int, authorsProcessed int)

// RetryPolicy holds the exponential backoff policy for retryable failures.
// Delay for attempt n is min(BaseDelay * 2^n, MaxDelay); MaxAttempts counts
// the initial call.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config holds the remote API client configuration
type Config struct {
	BaseURL      string
	HeavyTimeout time.Duration // upload, search, validation start
	LightTimeout time.Duration // status checks, metadata reads
	Retry        RetryPolicy
	Upload       UploadPolicy
}

// Client is the resilient HTTP client for the ScholarFinder API. Every call
// gets a bounded timeout, error classification per the taxonomy in errors.go,
// and transparent retry with exponential backoff for retryable failures.
type Client struct {
	baseURL string
	http    *http.Client
	heavy   time.Duration
	light   time.Duration
	retry   RetryPolicy
	upload  UploadPolicy
	logger  *slog.Logger
}

// operation ties an endpoint to its failure domain: the error kind used for
// otherwise-unclassified 4xx responses, and whether it gets the heavy timeout
type operation struct {
	name  string
	kind  ErrorKind
	heavy bool
}

var (
	opUpload          = operation{name: "upload_extract_metadata", kind: KindMetadataError, heavy: true}
	opMetadata        = operation{name: "metadata_extraction", kind: KindMetadataError}
	opEnhanceKeywords = operation{name: "keyword_enhancement", kind: KindKeywordError, heavy: true}
	opKeywordString   = operation{name: "keyword_string_generator", kind: KindKeywordError}
	opDatabaseSearch  = operation{name: "database_search", kind: KindSearchError, heavy: true}
	opManualAuthors   = operation{name: "manual_authors", kind: KindSearchError, heavy: true}
	opValidateStart   = operation{name: "validate_authors", kind: KindValidationError, heavy: true}
	opValidateStatus  = operation{name: "validation_status", kind: KindValidationError}
	opRecommendations = operation{name: "recommended_reviewers", kind: KindValidationError}
)

// NewClient creates a new ScholarFinder API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	heavy := cfg.HeavyTimeout
	if heavy <= 0 {
		heavy = 120 * time.Second
	}
	light := cfg.LightTimeout
	if light <= 0 {
		light = 15 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 2 * time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 30 * time.Second
	}
	upload := cfg.Upload
	if upload.MaxSizeBytes <= 0 && len(upload.AllowedExtensions) == 0 {
		upload = DefaultUploadPolicy
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{},
		heavy:   heavy,
		light:   light,
		retry:   retry,
		upload:  upload,
		logger:  logger,
	}
}

// GetMetadata fetches previously extracted manuscript metadata
func (c *Client) GetMetadata(ctx context.Context, jobID string) (*Metadata, error) {
	query := url.Values{"job_id": {jobID}}
	body, err := c.do(ctx, opMetadata, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/metadata_extraction", query, nil)
	})
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := c.decode(opMetadata, body, &meta); err != nil {
		return nil, err
	}
	if meta.JobID == "" {
		meta.JobID = jobID
	}
	return &meta, nil
}

// EnhanceKeywords asks the remote service to derive MeSH terms and focus
// keyword sets for the uploaded manuscript
func (c *Client) EnhanceKeywords(ctx context.Context, jobID string) (*KeywordEnhancement, error) {
	query := url.Values{"job_id": {jobID}}
	body, err := c.do(ctx, opEnhanceKeywords, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, "/keyword_enhancement", query, nil)
	})
	if err != nil {
		return nil, err
	}

	var enh KeywordEnhancement
	if err := c.decode(opEnhanceKeywords, body, &enh); err != nil {
		return nil, err
	}
	return &enh, nil
}

// GenerateKeywordString combines the selected primary and secondary keywords
// into a single boolean search string
func (c *Client) GenerateKeywordString(ctx context.Context, jobID string, primary, secondary []string) (*KeywordString, error) {
	query := url.Values{"job_id": {jobID}}
	form := url.Values{
		"primary_keywords_input":   {strings.Join(primary, ",")},
		"secondary_keywords_input": {strings.Join(secondary, ",")},
	}
	body, err := c.do(ctx, opKeywordString, func() (*http.Request, error) {
		return c.newFormRequest(ctx, "/keyword_string_generator", query, form)
	})
	if err != nil {
		return nil, err
	}

	var ks KeywordString
	if err := c.decode(opKeywordString, body, &ks); err != nil {
		return nil, err
	}
	if ks.SearchString == "" {
		return nil, c.shapeError(opKeywordString, "response is missing search_string")
	}
	return &ks, nil
}

// SearchDatabases runs the literature search against the selected databases
func (c *Client) SearchDatabases(ctx context.Context, jobID string, websites []string) (*SearchResults, error) {
	query := url.Values{"job_id": {jobID}}
	form := url.Values{"selected_websites": {strings.Join(websites, ",")}}
	body, err := c.do(ctx, opDatabaseSearch, func() (*http.Request, error) {
		return c.newFormRequest(ctx, "/database_search", query, form)
	})
	if err != nil {
		return nil, err
	}

	var results SearchResults
	if err := c.decode(opDatabaseSearch, body, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// SearchManualAuthor looks up a single author by name so the user can add
// them to the candidate pool. Names shorter than two characters fail without
// a network call.
func (c *Client) SearchManualAuthor(ctx context.Context, jobID, authorName string) (*ManualAuthorResult, error) {
	name := strings.TrimSpace(authorName)
	if len(name) < 2 {
		return nil, NewAPIError(KindSearchError, "author name must be at least 2 characters", false)
	}

	query := url.Values{"job_id": {jobID}}
	form := url.Values{"author_name": {name}}
	body, err := c.do(ctx, opManualAuthors, func() (*http.Request, error) {
		return c.newFormRequest(ctx, "/manual_authors", query, form)
	})
	if err != nil {
		return nil, err
	}

	var result ManualAuthorResult
	if err := c.decode(opManualAuthors, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StartValidation kicks off the asynchronous author validation job
func (c *Client) StartValidation(ctx context.Context, jobID string) (*ValidationStatus, error) {
	query := url.Values{"job_id": {jobID}}
	body, err := c.do(ctx, opValidateStart, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, "/validate_authors", query, nil)
	})
	if err != nil {
		return nil, err
	}
	return c.decodeValidationStatus(opValidateStart, body, jobID)
}

// GetValidationStatus polls the status of a running validation job
func (c *Client) GetValidationStatus(ctx context.Context, jobID string) (*ValidationStatus, error) {
	body, err := c.do(ctx, opValidateStatus, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/validation_status/"+url.PathEscape(jobID), nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return c.decodeValidationStatus(opValidateStatus, body, jobID)
}

// GetRecommendations fetches the validated reviewer list. The returned
// reviewers are stable-sorted by conditions_met descending; ties keep the
// server's order.
func (c *Client) GetRecommendations(ctx context.Context, jobID string) (*Recommendations, error) {
	query := url.Values{"job_id": {jobID}}
	body, err := c.do(ctx, opRecommendations, func() (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, "/recommended_reviewers", query, nil)
	})
	if err != nil {
		return nil, err
	}

	var recs Recommendations
	if err := c.decode(opRecommendations, body, &recs); err != nil {
		return nil, err
	}

	sort.SliceStable(recs.Reviewers, func(i, j int) bool {
		return recs.Reviewers[i].ConditionsMet > recs.Reviewers[j].ConditionsMet
	})

	return &recs, nil
}

func (c *Client) decodeValidationStatus(op operation, body []byte, jobID string) (*ValidationStatus, error) {
	var status ValidationStatus
	if err := c.decode(op, body, &status); err != nil {
		return nil, err
	}
	switch status.Status {
	case ValidationInProgress, ValidationCompleted, ValidationFailed:
	default:
		return nil, c.shapeError(op, fmt.Sprintf("unknown validation_status %q", status.Status))
	}
	if status.JobID == "" {
		status.JobID = jobID
	}
	return &status, nil
}

// newRequest builds a request against the configured base URL
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return http.NewRequestWithContext(ctx, method, u, body)
}

// newFormRequest builds a POST with a URL-encoded form body
func (c *Client) newFormRequest(ctx context.Context, path string, query, form url.Values) (*http.Request, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, query, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// do executes one logical operation: send, classify, and retry with backoff
// while the classified error is retryable and attempts remain. The request is
// rebuilt per attempt so bodies can be re-read. Cancelling ctx stops the
// retry sequence, not just the current attempt.
func (c *Client) do(ctx context.Context, op operation, build func() (*http.Request, error)) ([]byte, error) {
	timeout := c.light
	if op.heavy {
		timeout = c.heavy
	}

	var lastErr *APIError
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, apiErr := c.attempt(ctx, op, timeout, build)
		if apiErr == nil {
			if attempt > 0 {
				c.logger.Info("Operation succeeded after retry",
					slog.String("operation", op.name),
					slog.Int("attempt", attempt+1),
				)
			}
			return body, nil
		}

		// Context cancellation is not a remote failure; surface it as-is
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = apiErr
		if !apiErr.Retryable || attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := c.backoffDelay(attempt)
		if apiErr.retryAfter > 0 {
			delay = apiErr.retryAfter
		}

		c.logger.Warn("Operation failed, retrying",
			slog.String("operation", op.name),
			slog.String("kind", string(apiErr.Kind)),
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", c.retry.MaxAttempts),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	c.logger.Error("Operation failed",
		slog.String("operation", op.name),
		slog.String("kind", string(lastErr.Kind)),
		slog.String("error", lastErr.Message),
	)

	return nil, lastErr
}

// attempt sends one request and classifies the outcome
func (c *Client) attempt(ctx context.Context, op operation, timeout time.Duration, build func() (*http.Request, error)) ([]byte, *APIError) {
	req, err := build()
	if err != nil {
		return nil, &APIError{Kind: op.kind, Message: fmt.Sprintf("failed to build request: %v", err)}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(attemptCtx)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, &APIError{
				Kind:      KindTimeout,
				Message:   fmt.Sprintf("%s timed out after %s", op.name, timeout),
				Retryable: true,
			}
		}
		return nil, &APIError{
			Kind:      KindNetwork,
			Message:   fmt.Sprintf("network failure calling %s: %v", op.name, err),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &APIError{
			Kind:      KindNetwork,
			Message:   fmt.Sprintf("failed reading %s response: %v", op.name, readErr),
			Retryable: true,
		}
	}

	if resp.StatusCode/100 == 2 {
		return body, nil
	}

	return nil, c.classifyStatus(op, resp, body)
}

// classifyStatus maps a non-2xx response to the error taxonomy
func (c *Client) classifyStatus(op operation, resp *http.Response, body []byte) *APIError {
	status := resp.StatusCode
	message := remoteMessage(body)
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status >= 500:
		return &APIError{Kind: KindExternalAPI, Message: message, Retryable: true, Status: status}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &APIError{Kind: KindAuthentication, Message: message, Status: status}
	case status == http.StatusTooManyRequests:
		return &APIError{
			Kind:       KindRateLimited,
			Message:    message,
			Retryable:  true,
			Status:     status,
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	default:
		return &APIError{Kind: op.kind, Message: message, Status: status}
	}
}

// decode unmarshals a successful response body; an undecodable body is an
// unexpected shape and fails fast with the operation's domain kind
func (c *Client) decode(op operation, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return c.shapeError(op, fmt.Sprintf("undecodable response body: %v", err))
	}
	return nil
}

func (c *Client) shapeError(op operation, detail string) *APIError {
	return &APIError{
		Kind:    op.kind,
		Message: fmt.Sprintf("%s returned an unexpected response shape: %s", op.name, detail),
	}
}

// backoffDelay computes min(base * 2^attempt, cap)
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := c.retry.BaseDelay * (1 << uint(attempt))
	if delay > c.retry.MaxDelay || delay <= 0 {
		return c.retry.MaxDelay
	}
	return delay
}

// remoteMessage extracts the error text the remote service puts in its
// response body ({"error": ...} or {"message": ...})
func remoteMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Message
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
