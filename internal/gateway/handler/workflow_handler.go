package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/scholarfinder/reviewflow/internal/workflow"
)

// CreateWorkflow handles POST /api/v1/workflows
// Issues a fresh workflow instance id for one manuscript review
func (h *WorkflowHandler) CreateWorkflow(c *gin.Context) {
	instance := uuid.New().String()

	h.logger.Info("Workflow instance created",
		slog.String("instance", instance),
	)

	c.JSON(http.StatusCreated, gin.H{
		"instance":     instance,
		"current_step": workflow.StepUpload,
	})
}

// GetWorkflow handles GET /api/v1/workflows/:instance_id
// Reports the instance's current step, job id, and completion flags
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	instance := c.Param("instance_id")
	c.JSON(http.StatusOK, h.coord.Status(c.Request.Context(), instance))
}

// Upload handles POST /api/v1/workflows/:instance_id/upload
// Accepts the manuscript as a multipart "file" part and starts metadata
// extraction on the remote service
func (h *WorkflowHandler) Upload(c *gin.Context) {
	instance := c.Param("instance_id")

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "multipart field 'file' is required",
		})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "failed to read uploaded file",
		})
		return
	}

	meta, err := h.coord.Upload(c.Request.Context(), instance, header.Filename, content)
	if err != nil {
		respondError(c, err)
		return
	}
	if meta == nil {
		// duplicate trigger inside the suppression window
		c.JSON(http.StatusAccepted, gin.H{"suppressed": true})
		return
	}

	c.JSON(http.StatusOK, meta)
}

// GetMetadata handles GET /api/v1/workflows/:instance_id/metadata
func (h *WorkflowHandler) GetMetadata(c *gin.Context) {
	instance := c.Param("instance_id")

	meta, err := h.coord.Metadata(c.Request.Context(), instance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

// EnhanceKeywords handles POST /api/v1/workflows/:instance_id/keywords
func (h *WorkflowHandler) EnhanceKeywords(c *gin.Context) {
	instance := c.Param("instance_id")

	enh, err := h.coord.EnhanceKeywords(c.Request.Context(), instance)
	if err != nil {
		respondError(c, err)
		return
	}
	if enh == nil {
		c.JSON(http.StatusAccepted, gin.H{"suppressed": true})
		return
	}
	c.JSON(http.StatusOK, enh)
}

type keywordStringRequest struct {
	Primary   []string `json:"primary"`
	Secondary []string `json:"secondary"`
}

// GenerateKeywordString handles POST /api/v1/workflows/:instance_id/keyword-string
func (h *WorkflowHandler) GenerateKeywordString(c *gin.Context) {
	instance := c.Param("instance_id")

	var req keywordStringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ks, err := h.coord.GenerateKeywordString(c.Request.Context(), instance, req.Primary, req.Secondary)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ks)
}

type searchRequest struct {
	Websites []string `json:"websites" binding:"required,min=1"`
}

// SearchDatabases handles POST /api/v1/workflows/:instance_id/search
func (h *WorkflowHandler) SearchDatabases(c *gin.Context) {
	instance := c.Param("instance_id")

	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one website is required"})
		return
	}

	results, err := h.coord.SearchDatabases(c.Request.Context(), instance, req.Websites)
	if err != nil {
		respondError(c, err)
		return
	}
	if results == nil {
		c.JSON(http.StatusAccepted, gin.H{"suppressed": true})
		return
	}
	c.JSON(http.StatusOK, results)
}

type manualAuthorRequest struct {
	AuthorName string `json:"author_name" binding:"required"`
}

// SearchManualAuthor handles POST /api/v1/workflows/:instance_id/manual-authors
func (h *WorkflowHandler) SearchManualAuthor(c *gin.Context) {
	instance := c.Param("instance_id")

	var req manualAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "author_name is required"})
		return
	}

	found, err := h.coord.SearchManualAuthor(c.Request.Context(), instance, req.AuthorName)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Validate handles POST /api/v1/workflows/:instance_id/validate
// Starts author validation and blocks until the job reaches a terminal
// state, the polling budget runs out, or the session is aborted
func (h *WorkflowHandler) Validate(c *gin.Context) {
	instance := c.Param("instance_id")

	status, err := h.coord.Validate(c.Request.Context(), instance, func(pct, authors int) {
		h.logger.Debug("Validation progress",
			slog.String("instance", instance),
			slog.Int("progress", pct),
			slog.Int("authors_processed", authors),
		)
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if status == nil {
		c.JSON(http.StatusAccepted, gin.H{"suppressed": true})
		return
	}
	c.JSON(http.StatusOK, status)
}

// AbortValidation handles POST /api/v1/workflows/:instance_id/validate/abort
func (h *WorkflowHandler) AbortValidation(c *gin.Context) {
	instance := c.Param("instance_id")
	h.coord.AbortValidation(instance)
	c.JSON(http.StatusOK, gin.H{"aborted": true})
}

// GetValidationProgress handles GET /api/v1/workflows/:instance_id/validation
// A single point-in-time status read, outside any polling session
func (h *WorkflowHandler) GetValidationProgress(c *gin.Context) {
	instance := c.Param("instance_id")

	status, err := h.coord.ValidationProgress(c.Request.Context(), instance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetReviewers handles GET /api/v1/workflows/:instance_id/reviewers
func (h *WorkflowHandler) GetReviewers(c *gin.Context) {
	instance := c.Param("instance_id")

	recs, err := h.coord.Recommendations(c.Request.Context(), instance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

type advanceRequest struct {
	Step workflow.Step `json:"step" binding:"required"`
}

// Advance handles POST /api/v1/workflows/:instance_id/advance
// Explicitly moves the workflow to the requested step if its guard holds
func (h *WorkflowHandler) Advance(c *gin.Context) {
	instance := c.Param("instance_id")

	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "step is required"})
		return
	}

	advanced := h.coord.Advance(c.Request.Context(), instance, req.Step)
	c.JSON(http.StatusOK, gin.H{
		"advanced":     advanced,
		"current_step": h.coord.Status(c.Request.Context(), instance).Step,
	})
}

// Reset handles POST /api/v1/workflows/:instance_id/reset
// The explicit start-over: clears the job id, caches, and step state
func (h *WorkflowHandler) Reset(c *gin.Context) {
	instance := c.Param("instance_id")

	if err := h.coord.Reset(c.Request.Context(), instance); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance":     instance,
		"current_step": workflow.StepUpload,
	})
}
