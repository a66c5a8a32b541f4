package jobs

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parkeerbeheer/permit-registry/internal/claim"
	"github.com/parkeerbeheer/permit-registry/internal/config"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
	"github.com/parkeerbeheer/permit-registry/internal/db/repositories"
	"github.com/parkeerbeheer/permit-registry/internal/notify"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu        sync.Mutex
	due       map[models.Category][]*models.PermissionRecord
	findCalls []findCall
	marked    []*models.AuditEntry
	markErr   error
}

type findCall struct {
	category models.Category
	from, to time.Time
}

func (f *fakeStore) FindDue(_ context.Context, category models.Category, from, to time.Time) ([]*models.PermissionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls = append(f.findCalls, findCall{category, from, to})
	return f.due[category], nil
}

func (f *fakeStore) MarkNotified(_ context.Context, recordID string, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	entry.TargetID = &recordID
	f.marked = append(f.marked, entry)
	return nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	result notify.DispatchResult
	sent   []string
}

func (f *fakeDispatcher) Dispatch(_ context.Context, recipient, subject, _ string) notify.DispatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, subject)
	_ = recipient
	return f.result
}

type fakeAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAuditor) Record(_ context.Context, action string, _, _ *string, _ map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, action)
	return nil
}

func scannerConfig() *config.NotificationsConfig {
	return &config.NotificationsConfig{
		Enabled:           true,
		Recipient:         "handhaving@gemeente.example",
		Channels:          []string{"smtp"},
		Categories:        map[string]int{"exception": 14, "roadwork": 7},
		ScanIntervalHours: 24,
	}
}

func newTestScanner(store *fakeStore, disp *fakeDispatcher, auditor *fakeAuditor) *ExpiryScanner {
	return NewExpiryScanner(store, disp, claim.NewMemoryClaimer(claim.DefaultTTL), auditor, scannerConfig(), slog.Default())
}

func dueRecord(id string, category models.Category, end time.Time) *models.PermissionRecord {
	return &models.PermissionRecord{
		ID:        id,
		Category:  category,
		Subject:   "AB-123-C",
		WindowEnd: &end,
	}
}

// ---------------------------------------------------------------------------
// ScanDue — query bounds
// ---------------------------------------------------------------------------

func TestScanDueBounds(t *testing.T) {
	store := &fakeStore{}
	s := newTestScanner(store, &fakeDispatcher{}, &fakeAuditor{})

	ref := time.Date(2024, 6, 15, 17, 42, 3, 0, time.UTC)
	_, err := s.ScanDue(context.Background(), models.CategoryException, 14, ref)
	require.NoError(t, err)
	require.Len(t, store.findCalls, 1)

	call := store.findCalls[0]
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), call.from, "from is the reference civil date")
	assert.Equal(t, time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC), call.to, "to is reference + warning days")
}

func TestScanDueZeroWarningDaysIncludesToday(t *testing.T) {
	store := &fakeStore{}
	s := newTestScanner(store, &fakeDispatcher{}, &fakeAuditor{})

	ref := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)
	_, err := s.ScanDue(context.Background(), models.CategoryRoadwork, 0, ref)
	require.NoError(t, err)
	require.Len(t, store.findCalls, 1)

	// from == to: a record ending exactly on the reference date is still
	// selected, one ending yesterday is not.
	call := store.findCalls[0]
	assert.Equal(t, call.from, call.to)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), call.from)
}

// ---------------------------------------------------------------------------
// RunOnce — dispatch outcomes
// ---------------------------------------------------------------------------

func TestRunOnceSuccessMarksNotified(t *testing.T) {
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{due: map[models.Category][]*models.PermissionRecord{
		models.CategoryException: {dueRecord("rec-1", models.CategoryException, end)},
	}}
	disp := &fakeDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "smtp"}}
	auditor := &fakeAuditor{}
	s := newTestScanner(store, disp, auditor)

	s.RunOnce(context.Background(), time.Date(2024, 6, 15, 8, 0, 0, 0, time.UTC))

	require.Len(t, disp.sent, 1)
	require.Len(t, store.marked, 1)
	entry := store.marked[0]
	assert.Equal(t, ScannerActorName, entry.Actor)
	assert.Equal(t, models.ActionNotifySent, entry.Action)
	assert.Equal(t, "smtp", entry.Metadata["channel"])
	assert.Empty(t, auditor.entries, "success is audited inside the mark-notified transaction")
}

func TestRunOnceFailureAuditsAndLeavesFlagUnset(t *testing.T) {
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{due: map[models.Category][]*models.PermissionRecord{
		models.CategoryException: {dueRecord("rec-1", models.CategoryException, end)},
	}}
	disp := &fakeDispatcher{result: notify.DispatchResult{Success: false, Reason: "all channels failed"}}
	auditor := &fakeAuditor{}
	s := newTestScanner(store, disp, auditor)

	s.RunOnce(context.Background(), time.Now())

	assert.Empty(t, store.marked, "failed dispatch must not flip the flag")
	require.Len(t, auditor.entries, 1)
	assert.Equal(t, models.ActionNotifyFailed, auditor.entries[0])
}

func TestRunOnceSkipsClaimedRecords(t *testing.T) {
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{due: map[models.Category][]*models.PermissionRecord{
		models.CategoryException: {dueRecord("rec-1", models.CategoryException, end)},
	}}
	disp := &fakeDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "smtp"}}
	claimer := claim.NewMemoryClaimer(claim.DefaultTTL)
	s := NewExpiryScanner(store, disp, claimer, &fakeAuditor{}, scannerConfig(), slog.Default())

	// Another scan already holds the claim.
	ok, err := claimer.Claim(context.Background(), "rec-1")
	require.NoError(t, err)
	require.True(t, ok)

	s.RunOnce(context.Background(), time.Now())

	assert.Empty(t, disp.sent, "claimed record must not be dispatched")
	assert.Empty(t, store.marked)
}

func TestRunOnceReleasesClaimAfterDispatch(t *testing.T) {
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{due: map[models.Category][]*models.PermissionRecord{
		models.CategoryException: {dueRecord("rec-1", models.CategoryException, end)},
	}}
	claimer := claim.NewMemoryClaimer(claim.DefaultTTL)
	disp := &fakeDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "smtp"}}
	s := NewExpiryScanner(store, disp, claimer, &fakeAuditor{}, scannerConfig(), slog.Default())

	s.RunOnce(context.Background(), time.Now())

	ok, err := claimer.Claim(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.True(t, ok, "claim should be released after processing")
}

func TestRunOnceToleratesConcurrentWinner(t *testing.T) {
	end := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{
		due: map[models.Category][]*models.PermissionRecord{
			models.CategoryException: {dueRecord("rec-1", models.CategoryException, end)},
		},
		markErr: repositories.ErrAlreadyNotified,
	}
	auditor := &fakeAuditor{}
	disp := &fakeDispatcher{result: notify.DispatchResult{Success: true, ChannelUsed: "smtp"}}
	s := newTestScanner(store, disp, auditor)

	s.RunOnce(context.Background(), time.Now())

	assert.Empty(t, auditor.entries, "losing the mark race is not a failure")
}

func TestRunOnceScansEveryCategory(t *testing.T) {
	store := &fakeStore{}
	s := newTestScanner(store, &fakeDispatcher{}, &fakeAuditor{})

	s.RunOnce(context.Background(), time.Now())

	require.Len(t, store.findCalls, len(models.KnownCategories))
	seen := make(map[models.Category]bool)
	for _, c := range store.findCalls {
		seen[c.category] = true
	}
	for _, cat := range models.KnownCategories {
		assert.True(t, seen[cat], "category %s not scanned", cat)
	}
}

// ---------------------------------------------------------------------------
// Start — no-op guards and lifecycle
// ---------------------------------------------------------------------------

func TestStartNoopWhenDisabled(t *testing.T) {
	cfg := scannerConfig()
	cfg.Enabled = false
	store := &fakeStore{}
	s := NewExpiryScanner(store, &fakeDispatcher{}, claim.NewMemoryClaimer(claim.DefaultTTL), &fakeAuditor{}, cfg, slog.Default())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately when disabled")
	}
	assert.Empty(t, store.findCalls)
}

func TestStartNoopWithoutChannels(t *testing.T) {
	cfg := scannerConfig()
	cfg.Channels = nil
	store := &fakeStore{}
	s := NewExpiryScanner(store, &fakeDispatcher{}, claim.NewMemoryClaimer(claim.DefaultTTL), &fakeAuditor{}, cfg, slog.Default())

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start should return immediately without channels")
	}
	assert.Empty(t, store.findCalls)
}

func TestStartStop(t *testing.T) {
	store := &fakeStore{}
	s := newTestScanner(store, &fakeDispatcher{}, &fakeAuditor{})

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	// The immediate first run fires before the ticker; give it a moment.
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not exit after Stop")
	}

	store.mu.Lock()
	calls := len(store.findCalls)
	store.mu.Unlock()
	assert.Equal(t, len(models.KnownCategories), calls, "exactly one immediate scan before Stop")
}

func TestDefaultScanInterval(t *testing.T) {
	cfg := scannerConfig()
	cfg.ScanIntervalHours = 0
	s := NewExpiryScanner(&fakeStore{}, &fakeDispatcher{}, claim.NewMemoryClaimer(claim.DefaultTTL), &fakeAuditor{}, cfg, slog.Default())
	assert.Equal(t, 24*time.Hour, s.interval)
}

func TestComposeWarning(t *testing.T) {
	end := time.Now().Add(72 * time.Hour)
	rec := dueRecord("rec-1", models.CategoryRoadwork, end)

	subject, body := composeWarning(rec, 7)
	assert.Contains(t, subject, "roadwork")
	assert.Contains(t, subject, "AB-123-C")
	assert.Contains(t, subject, end.UTC().Format("2006-01-02"))
	assert.Contains(t, body, "rec-1")
	assert.Contains(t, body, "7 day(s)")
}
