// audit_repository.go implements AuditRepository, the write-once/read-many
// store behind the Audit Recorder. It exposes insert, chronological listing,
// and per-actor aggregation — and deliberately nothing else: the audit trail
// is append-only, so there are no update or delete methods to misuse.
package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
)

// AuditRepository handles audit_entries database operations.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters narrows ListEntries. Nil fields are ignored.
type AuditFilters struct {
	Actor          *string
	Action         *string
	TargetCategory *string
	StartDate      *time.Time
	EndDate        *time.Time
}

// ActorActivity is one row of the per-actor aggregation.
type ActorActivity struct {
	Actor      string    `db:"actor" json:"actor"`
	EntryCount int       `db:"entry_count" json:"entry_count"`
	LastAction time.Time `db:"last_action" json:"last_action"`
}

// Insert appends one audit entry, assigning its ID and timestamp.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditEntry) error {
	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()

	metadata, err := marshalAttributes(entry.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_entries (id, actor, action, target_category, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.Actor, entry.Action,
		entry.TargetCategory, entry.TargetID, metadata, entry.CreatedAt,
	)
	return err
}

// ListEntries retrieves audit entries newest-first with optional filters and
// pagination, plus the total matching count.
func (r *AuditRepository) ListEntries(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditEntry, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_entries WHERE 1=1`
	query := `
		SELECT id, actor, action, target_category, target_id, metadata, created_at
		FROM audit_entries
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.Actor != nil {
		addFilter(` AND actor = $%d`, *filters.Actor)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.TargetCategory != nil {
		addFilter(` AND target_category = $%d`, *filters.TargetCategory)
	}
	if filters.StartDate != nil {
		addFilter(` AND created_at >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND created_at <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	return entries, total, rows.Err()
}

// CountByActor aggregates entry counts and most recent activity per actor,
// busiest actor first. Feeds the audit view's per-actor summary.
func (r *AuditRepository) CountByActor(ctx context.Context) ([]*ActorActivity, error) {
	query := `
		SELECT actor, COUNT(*) AS entry_count, MAX(created_at) AS last_action
		FROM audit_entries
		GROUP BY actor
		ORDER BY entry_count DESC, actor ASC
	`
	activity := make([]*ActorActivity, 0)
	if err := r.db.SelectContext(ctx, &activity, query); err != nil {
		return nil, err
	}
	return activity, nil
}

func scanAuditEntry(row rowScanner) (*models.AuditEntry, error) {
	entry := &models.AuditEntry{}
	var metadata []byte
	err := row.Scan(
		&entry.ID, &entry.Actor, &entry.Action,
		&entry.TargetCategory, &entry.TargetID, &metadata, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != nil {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return entry, nil
}
