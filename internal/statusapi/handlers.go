package statusapi

import (
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/mirrorsync/mirrorsync/internal/sync"
	"github.com/mirrorsync/mirrorsync/internal/version"
)

type statusHandler struct {
	mgr *sync.Manager
}

func newStatusHandler(mgr *sync.Manager) *statusHandler {
	return &statusHandler{mgr: mgr}
}

// Status reports the pair, cycle counters, and per-side reachability.
func (h *statusHandler) Status(c *gin.Context) {
	report := h.mgr.Status()
	c.JSON(http.StatusOK, gin.H{
		"version":    version.Short(),
		"status":     report,
		"bytesHuman": humanize.Bytes(report.Tracker.BytesTotal),
	})
}

// Conflicts returns the most recent resolved conflicts, oldest first.
func (h *statusHandler) Conflicts(c *gin.Context) {
	records := h.mgr.Conflicts()
	c.JSON(http.StatusOK, gin.H{
		"total":     h.mgr.Status().Conflicts,
		"returned":  len(records),
		"conflicts": records,
	})
}

// State dumps the journaled baseline, optionally truncated by ?limit=.
func (h *statusHandler) State(c *gin.Context) {
	records, err := h.mgr.JournalState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	total := len(records)
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"returned": len(records),
		"records":  records,
	})
}
