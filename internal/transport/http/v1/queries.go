package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qontinui/treeline/internal/domain"
)

// GetTree returns the reconstructed display tree for a run.
func (h *Handler) GetTree(c echo.Context) error {
	tree, err := h.service.TreeSnapshot(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if tree == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, tree)
}

// GetRunCoverage returns the run's current coverage.
func (h *Handler) GetRunCoverage(c echo.Context) error {
	cov, err := h.service.RunCoverage(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if cov == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusOK, cov)
}

// TakeCoverageSnapshot captures a point-in-time coverage record.
func (h *Handler) TakeCoverageSnapshot(c echo.Context) error {
	snap, err := h.service.TakeCoverageSnapshot(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if snap == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	}
	return c.JSON(http.StatusCreated, snap)
}

// GetCoverageSnapshots returns the run's coverage growth series.
func (h *Handler) GetCoverageSnapshots(c echo.Context) error {
	snaps, err := h.service.CoverageSnapshots(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if snaps == nil {
		snaps = []domain.CoverageSnapshot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"snapshots": snaps, "total": len(snaps)})
}

// GetWorkflowCoverage returns aggregate coverage for a workflow.
func (h *Handler) GetWorkflowCoverage(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.WorkflowCoverage(c.Param("workflow_id")))
}

// GetCoverageGaps returns the prioritized coverage gaps for a workflow.
func (h *Handler) GetCoverageGaps(c echo.Context) error {
	gaps := h.service.CoverageGaps(c.Param("workflow_id"))
	if gaps == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "workflow definition not found"})
	}
	return c.JSON(http.StatusOK, gaps)
}

// GetCoverageHeatmap returns per-state visit intensity for a workflow.
func (h *Handler) GetCoverageHeatmap(c echo.Context) error {
	hm := h.service.CoverageHeatmap(c.Param("workflow_id"))
	if hm == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "workflow definition not found"})
	}
	return c.JSON(http.StatusOK, hm)
}

// GetTransitionReliability returns one transition's stats over the
// retained window.
func (h *Handler) GetTransitionReliability(c echo.Context) error {
	stats := h.service.TransitionReliability(c.Param("transition_id"), windowAge(c))
	if stats == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "transition not observed"})
	}
	return c.JSON(http.StatusOK, stats)
}

// GetWorkflowReliability returns a workflow's aggregate reliability plus
// the per-transition breakdown.
func (h *Handler) GetWorkflowReliability(c echo.Context) error {
	workflowID := c.Param("workflow_id")
	age := windowAge(c)

	overall := h.service.WorkflowReliability(workflowID, age)
	if overall == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "workflow has no observed transitions"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workflow_id":         workflowID,
		"overall_reliability": overall,
		"transition_stats":    h.service.WorkflowTransitionReliability(workflowID, age),
	})
}

// RegisterWorkflow registers (or replaces) a workflow definition.
func (h *Handler) RegisterWorkflow(c echo.Context) error {
	var def domain.WorkflowDefinition
	if err := c.Bind(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	def.WorkflowID = c.Param("workflow_id")
	if err := h.service.RegisterWorkflow(&def); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, def)
}

// GetWorkflow returns a registered workflow definition.
func (h *Handler) GetWorkflow(c echo.Context) error {
	def, ok := h.service.GetWorkflow(c.Param("workflow_id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "workflow definition not found"})
	}
	return c.JSON(http.StatusOK, def)
}

// windowAge parses the optional window_hours query parameter.
func windowAge(c echo.Context) time.Duration {
	if w := c.QueryParam("window_hours"); w != "" {
		if val, err := strconv.Atoi(w); err == nil && val > 0 {
			return time.Duration(val) * time.Hour
		}
	}
	return 0
}
