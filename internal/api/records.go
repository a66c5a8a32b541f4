// records.go implements handlers for permission record CRUD. Every write
// runs the conflict detector first: a save whose validity window overlaps an
// existing record for the same (category, subject) is rejected with 409 and
// the conflicting records, so the caller can show exactly what blocks it.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/conflict"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/middleware"
	"github.com/parkeerbeheer/permit-registry/internal/telemetry"
)

// RecordHandlers handles permission record endpoints
type RecordHandlers struct {
	records  *repositories.RecordRepository
	detector *conflict.Detector
	recorder *audit.Recorder
}

// NewRecordHandlers creates a new RecordHandlers instance
func NewRecordHandlers(records *repositories.RecordRepository, detector *conflict.Detector, recorder *audit.Recorder) *RecordHandlers {
	return &RecordHandlers{records: records, detector: detector, recorder: recorder}
}

// recordPayload is the write-side request body. Window bounds are civil
// dates (YYYY-MM-DD); an empty bound means open on that side.
type recordPayload struct {
	Category    string                 `json:"category" binding:"required"`
	Subject     string                 `json:"subject" binding:"required"`
	WindowStart string                 `json:"window_start"`
	WindowEnd   string                 `json:"window_end"`
	Attributes  map[string]interface{} `json:"attributes"`
}

// recordResponse is the read-side shape of one permission record.
type recordResponse struct {
	ID                string                 `json:"id"`
	Category          string                 `json:"category"`
	Subject           string                 `json:"subject"`
	SubjectNormalized string                 `json:"subject_normalized"`
	WindowStart       *string                `json:"window_start"`
	WindowEnd         *string                `json:"window_end"`
	Notified          bool                   `json:"notified"`
	Attributes        map[string]interface{} `json:"attributes,omitempty"`
	CreatedBy         string                 `json:"created_by"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

func toRecordResponse(rec *models.PermissionRecord) recordResponse {
	return recordResponse{
		ID:                rec.ID,
		Category:          string(rec.Category),
		Subject:           rec.Subject,
		SubjectNormalized: rec.SubjectNormalized,
		WindowStart:       formatDate(rec.WindowStart),
		WindowEnd:         formatDate(rec.WindowEnd),
		Notified:          rec.Notified,
		Attributes:        rec.Attributes,
		CreatedBy:         rec.CreatedBy,
		CreatedAt:         rec.CreatedAt,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func toRecordResponses(recs []*models.PermissionRecord) []recordResponse {
	out := make([]recordResponse, len(recs))
	for i, rec := range recs {
		out[i] = toRecordResponse(rec)
	}
	return out
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(conflict.DateLayout)
	return &s
}

// validateAndCheck parses and validates the payload, then runs the conflict
// detector. It writes the error response itself and returns ok=false when
// the request must not proceed.
func (h *RecordHandlers) validateAndCheck(c *gin.Context, req *recordPayload, excludeID string) (conflict.Window, bool) {
	category := models.Category(req.Category)

	window, err := conflict.ParseWindow(req.WindowStart, req.WindowEnd)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return conflict.Window{}, false
	}

	if err := h.detector.Check(c.Request.Context(), category, req.Subject, window, excludeID); err != nil {
		var verr *conflict.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
			return conflict.Window{}, false
		}
		var cerr *conflict.ConflictError
		if errors.As(err, &cerr) {
			telemetry.ConflictsDetectedTotal.WithLabelValues(req.Category).Inc()

			ids := make([]string, len(cerr.Conflicts))
			for i, rec := range cerr.Conflicts {
				ids[i] = rec.ID
			}
			h.writeTrail(c, models.ActionConflictBlocked, &req.Category, nil, gin.H{
				"subject":      req.Subject,
				"conflict_ids": ids,
			})

			c.JSON(http.StatusConflict, gin.H{
				"error":     "Validity window overlaps existing records",
				"conflicts": toRecordResponses(cerr.Conflicts),
			})
			return conflict.Window{}, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Conflict check failed"})
		return conflict.Window{}, false
	}

	return window, true
}

// ListRecordsHandler lists records of one category with pagination
// GET /api/v1/records?category=exception&page=1&per_page=20
func (h *RecordHandlers) ListRecordsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		category := models.Category(c.Query("category"))
		if !category.Valid() {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "Unknown or missing category",
			})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		offset := (page - 1) * perPage

		recs, total, err := h.records.List(c.Request.Context(), category, perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list records"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"records": toRecordResponses(recs),
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}

// GetRecordHandler retrieves one record
// GET /api/v1/records/:id
func (h *RecordHandlers) GetRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := h.records.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve record"})
			return
		}
		c.JSON(http.StatusOK, toRecordResponse(rec))
	}
}

// CreateRecordHandler creates a record after the conflict check passes
// POST /api/v1/records
func (h *RecordHandlers) CreateRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req recordPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		window, ok := h.validateAndCheck(c, &req, "")
		if !ok {
			return
		}

		rec := &models.PermissionRecord{
			Category:          models.Category(req.Category),
			Subject:           req.Subject,
			SubjectNormalized: conflict.NormalizeSubject(req.Subject),
			WindowStart:       window.Start,
			WindowEnd:         window.End,
			Attributes:        req.Attributes,
			CreatedBy:         c.GetString(middleware.UsernameKey),
		}

		if err := h.records.Create(c.Request.Context(), rec); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create record"})
			return
		}

		cat := string(rec.Category)
		h.writeTrail(c, models.ActionInsert, &cat, &rec.ID, gin.H{"subject": rec.Subject})

		c.JSON(http.StatusCreated, toRecordResponse(rec))
	}
}

// UpdateRecordHandler rewrites a record's editable fields, re-running the
// conflict check against everything except the record itself
// PUT /api/v1/records/:id
func (h *RecordHandlers) UpdateRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		existing, err := h.records.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve record"})
			return
		}

		var req recordPayload
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		window, ok := h.validateAndCheck(c, &req, id)
		if !ok {
			return
		}

		existing.Category = models.Category(req.Category)
		existing.Subject = req.Subject
		existing.SubjectNormalized = conflict.NormalizeSubject(req.Subject)
		existing.WindowStart = window.Start
		existing.WindowEnd = window.End
		existing.Attributes = req.Attributes

		if err := h.records.Update(c.Request.Context(), existing); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update record"})
			return
		}

		cat := string(existing.Category)
		h.writeTrail(c, models.ActionUpdate, &cat, &existing.ID, gin.H{"subject": existing.Subject})

		c.JSON(http.StatusOK, toRecordResponse(existing))
	}
}

// DeleteRecordHandler removes a record
// DELETE /api/v1/records/:id
func (h *RecordHandlers) DeleteRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		existing, err := h.records.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve record"})
			return
		}

		if err := h.records.Delete(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record"})
			return
		}

		cat := string(existing.Category)
		h.writeTrail(c, models.ActionDelete, &cat, &id, gin.H{"subject": existing.Subject})

		c.Status(http.StatusNoContent)
	}
}

// FindConflictsHandler exposes the conflict check directly so a client can
// validate a window before attempting a save
// GET /api/v1/records/conflicts?category=...&subject=...&window_start=...&window_end=...&exclude_id=...
func (h *RecordHandlers) FindConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		category := models.Category(c.Query("category"))

		window, err := conflict.ParseWindow(c.Query("window_start"), c.Query("window_end"))
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		conflicts, err := h.detector.FindConflicts(
			c.Request.Context(), category, c.Query("subject"), window, c.Query("exclude_id"))
		if err != nil {
			var verr *conflict.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Conflict check failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"conflicts": toRecordResponses(conflicts),
			"count":     len(conflicts),
		})
	}
}

// writeTrail records the audit entry for a completed mutation. The mutation
// has already been persisted, so a trail write failure does not undo it; the
// recorder logs the failure and the response carries X-Audit-Status: failed
// so the gap is visible to the caller as well.
func (h *RecordHandlers) writeTrail(c *gin.Context, action string, targetCategory, targetID *string, metadata gin.H) {
	md := map[string]interface{}(metadata)
	md["client_ip"] = c.ClientIP()
	if err := h.recorder.Record(c.Request.Context(), action, targetCategory, targetID, md); err != nil {
		c.Header("X-Audit-Status", "failed")
	}
}
