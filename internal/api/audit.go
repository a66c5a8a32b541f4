// audit.go implements the read-only audit view: chronological listing with
// filters and a per-actor activity summary. There are no write endpoints;
// the trail is populated exclusively by the engine.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
)

// AuditHandlers handles audit trail view endpoints
type AuditHandlers struct {
	entries *repositories.AuditRepository
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(entries *repositories.AuditRepository) *AuditHandlers {
	return &AuditHandlers{entries: entries}
}

// auditEntryResponse is the read-side shape of one trail entry.
type auditEntryResponse struct {
	ID             string                 `json:"id"`
	Actor          string                 `json:"actor"`
	Action         string                 `json:"action"`
	TargetCategory *string                `json:"target_category"`
	TargetID       *string                `json:"target_id"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toAuditResponses(entries []*models.AuditEntry) []auditEntryResponse {
	out := make([]auditEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = auditEntryResponse{
			ID:             e.ID,
			Actor:          e.Actor,
			Action:         e.Action,
			TargetCategory: e.TargetCategory,
			TargetID:       e.TargetID,
			Metadata:       e.Metadata,
			CreatedAt:      e.CreatedAt,
		}
	}
	return out
}

// ListAuditHandler lists audit entries newest-first with optional filters
// GET /api/v1/audit?actor=&action=&category=&start_date=&end_date=&page=&per_page=
func (h *AuditHandlers) ListAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := repositories.AuditFilters{}
		if v := c.Query("actor"); v != "" {
			filters.Actor = &v
		}
		if v := c.Query("action"); v != "" {
			filters.Action = &v
		}
		if v := c.Query("category"); v != "" {
			filters.TargetCategory = &v
		}
		if v := c.Query("start_date"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": "start_date must be formatted as YYYY-MM-DD",
				})
				return
			}
			filters.StartDate = &t
		}
		if v := c.Query("end_date"); v != "" {
			t, err := time.Parse("2006-01-02", v)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": "end_date must be formatted as YYYY-MM-DD",
				})
				return
			}
			// Inclusive: cover the whole end day.
			end := t.AddDate(0, 0, 1).Add(-time.Nanosecond)
			filters.EndDate = &end
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 200 {
			perPage = 50
		}
		offset := (page - 1) * perPage

		entries, total, err := h.entries.ListEntries(c.Request.Context(), filters, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"entries": toAuditResponses(entries),
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// ActorsHandler returns the per-actor activity summary, busiest first
// GET /api/v1/audit/actors
func (h *AuditHandlers) ActorsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		activity, err := h.entries.CountByActor(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to aggregate actor activity"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"actors": activity})
	}
}
