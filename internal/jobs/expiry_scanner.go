// expiry_scanner.go implements the ExpiryScanner background job, which
// periodically scans each record category for un-notified records whose
// window end falls inside the category's warning window and sends a warning
// mail to the operations mailbox. Notification state is persisted in the
// database (notified column) together with its audit entry in one
// transaction, so warnings are sent once even across server restarts. The
// job is a no-op when notifications.enabled is false or no channel is
// configured, so it is always safe to start regardless of deployment
// environment.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parkeerbeheer/permit-registry/internal/actor"
	"github.com/parkeerbeheer/permit-registry/internal/claim"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
	"github.com/parkeerbeheer/permit-registry/internal/telemetry"
)

// ScannerActorName is the audit identity the scanner acts under.
const ScannerActorName = "expiry-scanner"

// recordStore is the slice of the record repository the scanner needs.
type recordStore interface {
	FindDue(ctx context.Context, category models.Category, from, to time.Time) ([]*models.PermissionRecord, error)
	MarkNotified(ctx context.Context, recordID string, entry *models.AuditEntry) error
}

// auditWriter records dispatch failures; successes are written inside
// MarkNotified's transaction instead.
type auditWriter interface {
	Record(ctx context.Context, action string, targetCategory, targetID *string, metadata map[string]any) error
}

// dispatcher sends one warning through the ordered channel list.
type dispatcher interface {
	Dispatch(ctx context.Context, recipient, subject, body string) notify.DispatchResult
}

// ExpiryScanner periodically warns the operations mailbox about permission
// records approaching their window end.
type ExpiryScanner struct {
	records    recordStore
	dispatcher dispatcher
	claimer    claim.Claimer
	auditor    auditWriter
	cfg        *config.NotificationsConfig
	interval   time.Duration
	stopChan   chan struct{}
	logger     *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewExpiryScanner creates a scanner. ScanIntervalHours controls how often
// the full scan runs (default 24h).
func NewExpiryScanner(
	records recordStore,
	dispatcher dispatcher,
	claimer claim.Claimer,
	auditor auditWriter,
	cfg *config.NotificationsConfig,
	logger *slog.Logger,
) *ExpiryScanner {
	hours := cfg.ScanIntervalHours
	if hours <= 0 {
		hours = 24
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpiryScanner{
		records:    records,
		dispatcher: dispatcher,
		claimer:    claimer,
		auditor:    auditor,
		cfg:        cfg,
		interval:   time.Duration(hours) * time.Hour,
		stopChan:   make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins the background scan loop. It runs an initial scan
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *ExpiryScanner) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("expiry scanner disabled (notifications.enabled=false)")
		return
	}
	if len(s.cfg.Channels) == 0 {
		s.logger.Info("expiry scanner disabled (no notification channels configured)")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry scanner started",
		"interval", s.interval,
		"recipient", s.cfg.Recipient,
		"channels", len(s.cfg.Channels))

	// Run once immediately on startup
	s.RunOnce(ctx, s.now())

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx, s.now())
		case <-s.stopChan:
			s.logger.Info("expiry scanner stopped")
			return
		case <-ctx.Done():
			s.logger.Info("expiry scanner context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *ExpiryScanner) Stop() {
	close(s.stopChan)
}

// ScanDue returns the un-notified records of one category whose window end
// falls within warningDays of the reference date, boundaries included. Pure
// read; the notified flag is only flipped after a confirmed dispatch.
func (s *ExpiryScanner) ScanDue(ctx context.Context, category models.Category, warningDays int, reference time.Time) ([]*models.PermissionRecord, error) {
	if warningDays < 0 {
		warningDays = 0
	}
	from := civilDate(reference)
	to := from.AddDate(0, 0, warningDays)
	return s.records.FindDue(ctx, category, from, to)
}

// RunOnce performs one full scan across all categories against the given
// reference date. Per due record: claim, dispatch, and on success flip the
// notified flag together with its audit entry in one transaction. A failed
// dispatch is audited as notify-failed and the record stays due for the
// next scan.
func (s *ExpiryScanner) RunOnce(ctx context.Context, reference time.Time) {
	timer := time.Now()
	defer func() {
		telemetry.ExpiryScanDuration.Observe(time.Since(timer).Seconds())
	}()

	ctx = actor.WithActor(ctx, actor.System(ScannerActorName))

	for _, category := range models.KnownCategories {
		warningDays := s.cfg.WarningDays(string(category))

		due, err := s.ScanDue(ctx, category, warningDays, reference)
		if err != nil {
			s.logger.Error("expiry scan query failed", "category", category, "error", err)
			continue
		}
		if len(due) == 0 {
			continue
		}
		telemetry.ExpiryScanDueRecords.WithLabelValues(string(category)).Add(float64(len(due)))
		s.logger.Info("expiry scan found due records", "category", category, "count", len(due))

		for _, rec := range due {
			s.processRecord(ctx, rec, warningDays)
		}
	}
}

// processRecord handles one due record end to end. The claim keeps a
// concurrent scan (second instance, overlapping manual trigger) from
// double-dispatching; a claim that is never released expires on its TTL.
func (s *ExpiryScanner) processRecord(ctx context.Context, rec *models.PermissionRecord, warningDays int) {
	ok, err := s.claimer.Claim(ctx, rec.ID)
	if err != nil {
		s.logger.Error("claim failed", "record_id", rec.ID, "error", err)
		return
	}
	if !ok {
		// Another scan is already dispatching this record.
		return
	}
	defer func() {
		if err := s.claimer.Release(ctx, rec.ID); err != nil {
			s.logger.Warn("claim release failed", "record_id", rec.ID, "error", err)
		}
	}()

	subject, body := composeWarning(rec, warningDays)
	result := s.dispatcher.Dispatch(ctx, s.cfg.Recipient, subject, body)

	cat := string(rec.Category)
	if !result.Success {
		s.logger.Warn("expiry notification failed",
			"record_id", rec.ID,
			"category", rec.Category,
			"reason", result.Reason)
		if err := s.auditor.Record(ctx, models.ActionNotifyFailed, &cat, &rec.ID, map[string]any{
			"subject": rec.Subject,
			"reason":  result.Reason,
		}); err != nil {
			s.logger.Error("failed to audit notify failure", "record_id", rec.ID, "error", err)
		}
		return
	}

	entry := &models.AuditEntry{
		Actor:          ScannerActorName,
		Action:         models.ActionNotifySent,
		TargetCategory: &cat,
		TargetID:       &rec.ID,
		Metadata: map[string]any{
			"subject": rec.Subject,
			"channel": result.ChannelUsed,
		},
	}
	if err := s.records.MarkNotified(ctx, rec.ID, entry); err != nil {
		if errors.Is(err, repositories.ErrAlreadyNotified) {
			// A concurrent scan won the race after our claim expired.
			return
		}
		// Flag and audit entry roll back together: the record stays due
		// and the next scan may send a duplicate warning, which is
		// preferred over a notified record without a trail.
		s.logger.Error("failed to mark record notified", "record_id", rec.ID, "error", err)
		return
	}

	s.logger.Info("expiry notification sent",
		"record_id", rec.ID,
		"category", rec.Category,
		"channel", result.ChannelUsed)
}

// composeWarning builds the warning mail for one record.
func composeWarning(rec *models.PermissionRecord, warningDays int) (subject, body string) {
	end := "unknown"
	daysLeft := 0
	if rec.WindowEnd != nil {
		end = rec.WindowEnd.UTC().Format("2006-01-02")
		daysLeft = int(time.Until(*rec.WindowEnd).Hours() / 24)
		if daysLeft < 0 {
			daysLeft = 0
		}
	}

	subject = fmt.Sprintf("Expiry warning: %s '%s' ends on %s", rec.Category, rec.Subject, end)
	body = strings.Join([]string{
		fmt.Sprintf("The %s record for '%s' reaches the end of its validity window on %s (%d day(s) from now).",
			rec.Category, rec.Subject, end, daysLeft),
		"",
		fmt.Sprintf("Record ID: %s", rec.ID),
		fmt.Sprintf("Warning window for this category: %d day(s).", warningDays),
		"",
		"Review the record in the permit registry and extend, renew or close it before the end date.",
		"",
		"— Permit Registry",
	}, "\r\n")
	return subject, body
}

// civilDate truncates a timestamp to midnight UTC, matching how window
// bounds are stored.
func civilDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
