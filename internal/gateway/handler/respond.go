package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scholarfinder/reviewflow/internal/scholarfinder"
	"github.com/scholarfinder/reviewflow/internal/workflow"
)

// respondError maps a workflow error onto an HTTP response carrying the
// error kind and retryability so the caller can decide whether to retry
func respondError(c *gin.Context, err error) {
	if errors.Is(err, workflow.ErrPollBudgetExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":     err.Error(),
			"kind":      "POLL_BUDGET_EXCEEDED",
			"retryable": true,
		})
		return
	}
	if errors.Is(err, workflow.ErrPollAborted) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     err.Error(),
			"kind":      "POLL_ABORTED",
			"retryable": false,
		})
		return
	}

	apiErr := &scholarfinder.APIError{}
	if !errors.As(err, &apiErr) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(statusForKind(apiErr.Kind), gin.H{
		"error":     apiErr.Message,
		"kind":      string(apiErr.Kind),
		"retryable": apiErr.Retryable,
	})
}

// statusForKind picks the local HTTP status for a classified failure.
// Client-side precondition failures are 4xx; anything the remote service
// did wrong is a 502 so callers can tell the two apart.
func statusForKind(kind scholarfinder.ErrorKind) int {
	switch kind {
	case scholarfinder.KindFileFormat:
		return http.StatusBadRequest
	case scholarfinder.KindMissingJobID:
		return http.StatusConflict
	case scholarfinder.KindRateLimited:
		return http.StatusTooManyRequests
	case scholarfinder.KindTimeout:
		return http.StatusGatewayTimeout
	case scholarfinder.KindNetwork, scholarfinder.KindExternalAPI, scholarfinder.KindAuthentication:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}
