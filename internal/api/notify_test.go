package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkeerbeheer/permit-registry/internal/audit"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
)

type stubDispatcher struct {
	result    notify.DispatchResult
	recipient string
}

func (s *stubDispatcher) Dispatch(_ context.Context, recipient, _, _ string) notify.DispatchResult {
	s.recipient = recipient
	return s.result
}

func newNotifyRouter(t *testing.T, disp *stubDispatcher) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	recorder := audit.NewRecorder(repositories.NewAuditRepository(sqlx.NewDb(db, "sqlmock")), 1, slog.Default())
	cfg := &config.NotificationsConfig{Recipient: "handhaving@gemeente.example"}
	h := NewNotifyHandlers(repositories.NewRecordRepository(db), disp, recorder, cfg)

	router := gin.New()
	router.Use(fakeAuth("annelies", models.RoleEditor))
	router.POST("/records/:id/test-notification", h.TestNotificationHandler())
	return router, mock
}

func TestTestNotificationSuccess(t *testing.T) {
	disp := &stubDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "mailclient"}}
	router, mock := newNotifyRouter(t, disp)

	mock.ExpectQuery("SELECT .+ FROM permission_records").
		WithArgs("rec-1").
		WillReturnRows(existingRecordRow("rec-1", "2024-06-01", "2024-06-30"))
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(router, http.MethodPost, "/records/rec-1/test-notification", gin.H{})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "handhaving@gemeente.example", disp.recipient)

	var resp struct {
		Success bool   `json:"success"`
		Channel string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "mailclient", resp.Channel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestNotificationFailure(t *testing.T) {
	disp := &stubDispatcher{result: notify.DispatchResult{Success: false, Reason: "connection refused"}}
	router, mock := newNotifyRouter(t, disp)

	mock.ExpectQuery("SELECT .+ FROM permission_records").
		WithArgs("rec-1").
		WillReturnRows(existingRecordRow("rec-1", "2024-06-01", "2024-06-30"))
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(router, http.MethodPost, "/records/rec-1/test-notification", gin.H{})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestTestNotificationRecipientOverride(t *testing.T) {
	disp := &stubDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "smtp"}}
	router, mock := newNotifyRouter(t, disp)

	mock.ExpectQuery("SELECT .+ FROM permission_records").
		WithArgs("rec-1").
		WillReturnRows(existingRecordRow("rec-1", "2024-06-01", "2024-06-30"))
	mock.ExpectExec("INSERT INTO audit_entries").
		WillReturnResult(sqlmock.NewResult(1, 1))

	w := postJSON(router, http.MethodPost, "/records/rec-1/test-notification", gin.H{
		"recipient": "tester@gemeente.example",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tester@gemeente.example", disp.recipient)
}

func TestTestNotificationRecordMissing(t *testing.T) {
	disp := &stubDispatcher{result: notify.DispatchResult{Success: true}}
	router, mock := newNotifyRouter(t, disp)

	mock.ExpectQuery("SELECT .+ FROM permission_records").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows(recordCols))

	w := postJSON(router, http.MethodPost, "/records/gone/test-notification", gin.H{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
