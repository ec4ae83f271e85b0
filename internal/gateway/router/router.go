package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/scholarfinder/reviewflow/internal/gateway/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "reviewflow-gateway",
		})
	})

	workflowHandler := handler.NewWorkflowHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		workflows := v1.Group("/workflows")
		{
			// POST /api/v1/workflows - Start a new review workflow instance
			workflows.POST("", workflowHandler.CreateWorkflow)

			// GET /api/v1/workflows/:instance_id - Current step and progress
			workflows.GET("/:instance_id", workflowHandler.GetWorkflow)

			// POST /api/v1/workflows/:instance_id/upload - Upload the manuscript
			workflows.POST("/:instance_id/upload", workflowHandler.Upload)

			// GET /api/v1/workflows/:instance_id/metadata - Extracted metadata
			workflows.GET("/:instance_id/metadata", workflowHandler.GetMetadata)

			// POST /api/v1/workflows/:instance_id/keywords - Keyword enhancement
			workflows.POST("/:instance_id/keywords", workflowHandler.EnhanceKeywords)

			// POST /api/v1/workflows/:instance_id/keyword-string - Boolean search string
			workflows.POST("/:instance_id/keyword-string", workflowHandler.GenerateKeywordString)

			// POST /api/v1/workflows/:instance_id/search - Literature database search
			workflows.POST("/:instance_id/search", workflowHandler.SearchDatabases)

			// POST /api/v1/workflows/:instance_id/manual-authors - Author lookup side branch
			workflows.POST("/:instance_id/manual-authors", workflowHandler.SearchManualAuthor)

			// POST /api/v1/workflows/:instance_id/validate - Run validation to completion
			workflows.POST("/:instance_id/validate", workflowHandler.Validate)

			// POST /api/v1/workflows/:instance_id/validate/abort - Cancel a polling session
			workflows.POST("/:instance_id/validate/abort", workflowHandler.AbortValidation)

			// GET /api/v1/workflows/:instance_id/validation - One-off status read
			workflows.GET("/:instance_id/validation", workflowHandler.GetValidationProgress)

			// GET /api/v1/workflows/:instance_id/reviewers - Recommended reviewers
			workflows.GET("/:instance_id/reviewers", workflowHandler.GetReviewers)

			// POST /api/v1/workflows/:instance_id/advance - Explicit step transition
			workflows.POST("/:instance_id/advance", workflowHandler.Advance)

			// POST /api/v1/workflows/:instance_id/reset - Start over
			workflows.POST("/:instance_id/reset", workflowHandler.Reset)
		}
	}

	return r
}
