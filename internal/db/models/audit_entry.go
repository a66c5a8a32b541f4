// audit_entry.go defines the AuditEntry model: an immutable record of one
// state-changing action, capturing actor, action kind, and the affected
// record. The audit_entries table is append-only; no code path may update or
// delete rows.
package models

import "time"

// Audit action kinds. Every state-changing operation writes exactly one entry.
const (
	ActionInsert         = "insert"
	ActionUpdate         = "update"
	ActionDelete         = "delete"
	ActionLogin          = "login"
	ActionPasswordChange = "password-change"
	ActionNotifySent     = "notify-sent"
	ActionNotifyFailed   = "notify-failed"
	// ActionConflictBlocked records a save rejected by the conflict check;
	// the metadata carries the conflicting record IDs.
	ActionConflictBlocked = "conflict-blocked"
)

// AuditEntry represents one row of the audit trail.
type AuditEntry struct {
	ID string
	// Actor is the username or system process that performed the action.
	// Never empty; system-initiated actions use a fixed process identity
	// (e.g. "expiry-scanner").
	Actor  string
	Action string
	// TargetCategory and TargetID identify the affected record. Both are
	// nil for actions without a single target (e.g. login).
	TargetCategory *string
	TargetID       *string
	// Metadata carries action-specific context (channel used, failure
	// reason, client IP). JSONB.
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
