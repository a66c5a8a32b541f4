// scan.go implements the manual scan trigger. The scan runs in the
// background: a full pass dispatches real mail per due record and can take
// channel-timeout multiples, far too long to hold an HTTP request open.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/parkeerbeheer/permit-registry/internal/jobs"
	"github.com/parkeerbeheer/permit-registry/internal/safego"
)

// ScanHandlers handles manual expiry-scan endpoints
type ScanHandlers struct {
	scanner *jobs.ExpiryScanner
}

// NewScanHandlers creates a new ScanHandlers instance
func NewScanHandlers(scanner *jobs.ExpiryScanner) *ScanHandlers {
	return &ScanHandlers{scanner: scanner}
}

type scanRequest struct {
	// ReferenceDate (YYYY-MM-DD) lets an operator scan as-of another day,
	// e.g. to preview Monday's warnings on Friday. Defaults to today.
	ReferenceDate string `json:"reference_date"`
}

// TriggerScanHandler starts one full scan across all categories
// POST /api/v1/scan
func (h *ScanHandlers) TriggerScanHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req scanRequest
		_ = c.ShouldBindJSON(&req) // body is optional

		reference := time.Now()
		if req.ReferenceDate != "" {
			parsed, err := time.Parse("2006-01-02", req.ReferenceDate)
			if err != nil {
				c.JSON(http.StatusUnprocessableEntity, gin.H{
					"error": "reference_date must be formatted as YYYY-MM-DD",
				})
				return
			}
			reference = parsed
		}

		// Claims make concurrent triggers safe: an overlapping scheduled
		// scan skips records this run is already dispatching.
		safego.Go(func() {
			h.scanner.RunOnce(context.Background(), reference)
		})

		c.JSON(http.StatusAccepted, gin.H{
			"message":        "Scan started",
			"reference_date": reference.UTC().Format("2006-01-02"),
		})
	}
}
