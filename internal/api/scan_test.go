package api

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/parkeerbeheer/permit-registry/internal/db/models"
)

func newScanRouter() *gin.Engine {
	// A nil scanner is fine for the validation path: the handler rejects a
	// malformed reference date before any scan work starts.
	h := NewScanHandlers(nil)
	router := gin.New()
	router.Use(fakeAuth("beheerder", models.RoleAdmin))
	router.POST("/scan", h.TriggerScanHandler())
	return router
}

func TestTriggerScanRejectsBadDate(t *testing.T) {
	router := newScanRouter()

	w := postJSON(router, http.MethodPost, "/scan", gin.H{
		"reference_date": "15-06-2024",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
