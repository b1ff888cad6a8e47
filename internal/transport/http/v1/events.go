package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/qontinui/treeline/internal/domain"
)

// IngestEvents accepts a batch of tree events for a run.
func (h *Handler) IngestEvents(c echo.Context) error {
	runID := c.Param("run_id")
	var req domain.EventBatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Events) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "events is required"})
	}

	result, err := h.service.IngestBatch(c.Request().Context(), runID, req.Events)
	if err != nil {
		// Ledger faults are retryable; everything else surfaces as
		// per-event rejections inside the result.
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// GetRunEvents replays a run's stored events in sequence order.
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")

	var afterSeq int64
	if a := c.QueryParam("after_seq"); a != "" {
		if val, err := strconv.ParseInt(a, 10, 64); err == nil {
			afterSeq = val
		}
	}
	limit := 500
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}

	// Fetch one past the page: its presence tells whether more events
	// follow, which total alone cannot once after_seq skips a prefix.
	events, total, err := h.service.RunEvents(c.Request().Context(), runID, afterSeq, limit+1)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}
	if events == nil {
		events = []domain.Event{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"events":   events,
		"total":    total,
		"limit":    limit,
		"has_more": hasMore,
	})
}
