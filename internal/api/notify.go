// notify.go implements the test-notification handler: it pushes one warning
// for a chosen record through the real channel chain without touching the
// record's notified flag, so operators can verify mail delivery end to end.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
)

// testDispatcher is the dispatch surface the handler needs.
type testDispatcher interface {
	Dispatch(ctx context.Context, recipient, subject, body string) notify.DispatchResult
}

// NotifyHandlers handles manual notification endpoints
type NotifyHandlers struct {
	records    *repositories.RecordRepository
	dispatcher testDispatcher
	recorder   *audit.Recorder
	cfg        *config.NotificationsConfig
}

// NewNotifyHandlers creates a new NotifyHandlers instance
func NewNotifyHandlers(records *repositories.RecordRepository, dispatcher testDispatcher, recorder *audit.Recorder, cfg *config.NotificationsConfig) *NotifyHandlers {
	return &NotifyHandlers{records: records, dispatcher: dispatcher, recorder: recorder, cfg: cfg}
}

type testNotificationRequest struct {
	// Recipient overrides the configured operations mailbox for this test.
	Recipient string `json:"recipient"`
}

// TestNotificationHandler sends a test warning for one record. The notified
// flag is not touched: a test delivery must never consume the record's
// single real warning.
// POST /api/v1/records/:id/test-notification
func (h *NotifyHandlers) TestNotificationHandler() gin.HandlerFunc {
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

		var req testNotificationRequest
		_ = c.ShouldBindJSON(&req) // body is optional

		recipient := req.Recipient
		if recipient == "" {
			recipient = h.cfg.Recipient
		}
		if recipient == "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": "No recipient configured or provided",
			})
			return
		}

		subject := "Test notification: " + rec.Subject
		body := "This is a test notification for record " + rec.ID + " (" + string(rec.Category) + "). " +
			"It was triggered manually and does not affect the record's notification state."

		result := h.dispatcher.Dispatch(c.Request.Context(), recipient, subject, body)

		cat := string(rec.Category)
		action := models.ActionNotifySent
		if !result.Success {
			action = models.ActionNotifyFailed
		}
		md := map[string]interface{}{
			"test":      true,
			"recipient": recipient,
		}
		if result.ChannelUsed != "" {
			md["channel"] = result.ChannelUsed
		}
		if result.Reason != "" {
			md["reason"] = result.Reason
		}
		if err := h.recorder.Record(c.Request.Context(), action, &cat, &rec.ID, md); err != nil {
			c.Header("X-Audit-Status", "failed")
		}

		status := http.StatusOK
		if !result.Success {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"success":  result.Success,
			"channel":  result.ChannelUsed,
			"reason":   result.Reason,
			"attempts": result.Attempts,
		})
	}
}
