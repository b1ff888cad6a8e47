// Package v1 provides the HTTP handlers for the telemetry engine.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/qontinui/treeline/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run lifecycle
	e.POST("/v1/runs", h.CreateRun)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/complete", h.CompleteRun)
	e.POST("/v1/runs/:run_id/cancel", h.CancelRun)

	// Event ingest and replay
	e.POST("/v1/runs/:run_id/events", h.IngestEvents)
	e.GET("/v1/runs/:run_id/events", h.GetRunEvents)

	// Tree snapshot
	e.GET("/v1/runs/:run_id/tree", h.GetTree)

	// Coverage
	e.GET("/v1/runs/:run_id/coverage", h.GetRunCoverage)
	e.POST("/v1/runs/:run_id/coverage/snapshots", h.TakeCoverageSnapshot)
	e.GET("/v1/runs/:run_id/coverage/snapshots", h.GetCoverageSnapshots)
	e.GET("/v1/workflows/:workflow_id/coverage", h.GetWorkflowCoverage)
	e.GET("/v1/workflows/:workflow_id/coverage/gaps", h.GetCoverageGaps)
	e.GET("/v1/workflows/:workflow_id/coverage/heatmap", h.GetCoverageHeatmap)

	// Reliability
	e.GET("/v1/transitions/:transition_id/reliability", h.GetTransitionReliability)
	e.GET("/v1/workflows/:workflow_id/reliability", h.GetWorkflowReliability)

	// Workflow definitions
	e.PUT("/v1/workflows/:workflow_id", h.RegisterWorkflow)
	e.GET("/v1/workflows/:workflow_id", h.GetWorkflow)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
