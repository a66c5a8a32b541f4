// Package audit records who did what to which permission record. Entries
// are append-only: the recorder exposes no update or delete path, and the
// underlying table rejects both at the database level.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/parkeerbeheer/permit-registry/internal/actor"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
)

// ErrWriteFailed is returned when an audit entry could not be persisted
// after all retries. Callers decide whether the triggering operation may
// proceed without its trail entry; lifecycle transitions must not.
var ErrWriteFailed = errors.New("audit: write failed")

// ErrNoActor is returned when the context carries no acting identity.
// Every audited operation must run under either an authenticated user or a
// named system process.
var ErrNoActor = errors.New("audit: no actor in context")

// DefaultWriteRetries is how many times a failed insert is retried before
// the recorder gives up.
const DefaultWriteRetries = 3

const retryBackoff = 100 * time.Millisecond

// entrySink is the subset of the audit repository the recorder needs.
type entrySink interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
}

// Recorder validates and persists audit entries with bounded retries. The
// acting identity is always read from the context, never from a field the
// caller could forget to set.
type Recorder struct {
	sink    entrySink
	retries int
	logger  *slog.Logger
}

// NewRecorder creates a recorder writing to the given sink. retries <= 0
// falls back to DefaultWriteRetries.
func NewRecorder(sink entrySink, retries int, logger *slog.Logger) *Recorder {
	if retries <= 0 {
		retries = DefaultWriteRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, retries: retries, logger: logger}
}

// Record persists a single audit entry for the actor carried in ctx.
// targetCategory and targetID may be nil for actions that do not concern a
// specific record (logins, password changes).
func (r *Recorder) Record(ctx context.Context, action string, targetCategory, targetID *string, metadata map[string]any) error {
	who, ok := actor.FromContext(ctx)
	if !ok || who.Name == "" {
		return ErrNoActor
	}
	if action == "" {
		return fmt.Errorf("audit: action is required")
	}

	entry := &models.AuditEntry{
		Actor:          who.Name,
		Action:         action,
		TargetCategory: targetCategory,
		TargetID:       targetID,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		lastErr = r.sink.Insert(ctx, entry)
		if lastErr == nil {
			return nil
		}
		r.logger.Warn("audit write failed",
			"action", entry.Action,
			"actor", entry.Actor,
			"attempt", attempt,
			"error", lastErr)
		if attempt < r.retries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrWriteFailed, ctx.Err())
			case <-time.After(retryBackoff * time.Duration(attempt)):
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, lastErr)
}
