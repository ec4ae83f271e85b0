package handler

import (
	"log/slog"

	"github.com/scholarfinder/reviewflow/internal/workflow"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Coordinator *workflow.Coordinator
}

// WorkflowHandler handles review-workflow HTTP requests
type WorkflowHandler struct {
	logger *slog.Logger
	coord  *workflow.Coordinator
}

// NewWorkflowHandler creates a new WorkflowHandler instance
func NewWorkflowHandler(deps *Dependencies) *WorkflowHandler {
	return &WorkflowHandler{
		logger: deps.Logger,
		coord:  deps.Coordinator,
	}
}
