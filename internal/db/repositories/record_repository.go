// Package repositories implements the database access layer for the permit
// registry. Repositories own all SQL; engine packages and handlers never see
// query text. All methods take a context and use $n placeholders.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkeerbeheer/permit-registry/internal/db/models"
)

var (
	// ErrNotFound is returned when a record lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyNotified is returned by MarkNotified when the record's
	// notified flag was already set, typically because a concurrent scan
	// dispatched first. The flag transition is false→true exactly once.
	ErrAlreadyNotified = errors.New("record already notified")
)

const recordColumns = `id, category, subject, subject_normalized, window_start, window_end,
	       notified, attributes, created_by, created_at, updated_at`

// RecordRepository handles permission_records database operations.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// Create inserts a new permission record. ID and timestamps are assigned
// here; the caller must have set SubjectNormalized.
func (r *RecordRepository) Create(ctx context.Context, rec *models.PermissionRecord) error {
	rec.ID = uuid.New().String()
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt

	attrs, err := marshalAttributes(rec.Attributes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO permission_records
			(id, category, subject, subject_normalized, window_start, window_end,
			 notified, attributes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.Category, rec.Subject, rec.SubjectNormalized,
		rec.WindowStart, rec.WindowEnd, rec.Notified, attrs,
		rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

// GetByID retrieves a single record, or ErrNotFound.
func (r *RecordRepository) GetByID(ctx context.Context, id string) (*models.PermissionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM permission_records WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// List returns records of a category ordered by window end (soonest-expiring
// first, open-ended last), with the total count for pagination.
func (r *RecordRepository) List(ctx context.Context, category models.Category, limit, offset int) ([]*models.PermissionRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permission_records WHERE category = $1`, category).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE category = $1
		ORDER BY window_end ASC NULLS LAST, created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, category, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recs, err := collectRecords(rows)
	return recs, total, err
}

// ListBySubject returns every record sharing (category, normalized subject).
// This is the conflict detector's candidate set; the interval comparison
// itself happens in the conflict package so open bounds never need sentinel
// dates in SQL.
func (r *RecordRepository) ListBySubject(ctx context.Context, category models.Category, subjectNormalized string) ([]*models.PermissionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE category = $1 AND subject_normalized = $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, category, subjectNormalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Update rewrites the editable fields of a record. The notified flag is
// deliberately not touched here: it is owned by MarkNotified.
func (r *RecordRepository) Update(ctx context.Context, rec *models.PermissionRecord) error {
	attrs, err := marshalAttributes(rec.Attributes)
	if err != nil {
		return err
	}

	query := `
		UPDATE permission_records
		SET subject = $2, subject_normalized = $3, window_start = $4,
		    window_end = $5, attributes = $6, updated_at = $7
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Subject, rec.SubjectNormalized,
		rec.WindowStart, rec.WindowEnd, attrs, time.Now(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record. Only explicit admin action reaches this path; the
// engine never deletes records.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM permission_records WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDue returns un-notified records of a category whose window_end falls in
// [from, to], ordered soonest first. Pure read: repeating the query with the
// same bounds and no intervening dispatch returns the same set.
func (r *RecordRepository) FindDue(ctx context.Context, category models.Category, from, to time.Time) ([]*models.PermissionRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE category = $1
		  AND notified = FALSE
		  AND window_end IS NOT NULL
		  AND window_end >= $2
		  AND window_end <= $3
		ORDER BY window_end ASC
	`
	rows, err := r.db.QueryContext(ctx, query, category, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// MarkNotified flips the notified flag and writes the corresponding audit
// entry in one transaction, so a scan can never observe a notified record
// without its audit trail. Returns ErrAlreadyNotified when the flag was
// already set (a concurrent scan won the race); in that case nothing is
// written. If the audit insert fails the flag flip rolls back too, leaving
// the record due for the next scan — a possible duplicate notification is
// accepted in favour of never losing the trail.
func (r *RecordRepository) MarkNotified(ctx context.Context, recordID string, entry *models.AuditEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark-notified tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE permission_records SET notified = TRUE, updated_at = $2 WHERE id = $1 AND notified = FALSE`,
		recordID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set notified flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyNotified
	}

	entry.ID = uuid.New().String()
	entry.CreatedAt = time.Now()
	metadata, err := marshalAttributes(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO audit_entries (id, actor, action, target_category, target_id, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Actor, entry.Action, entry.TargetCategory, entry.TargetID, metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("write notify audit entry: %w", err)
	}

	return tx.Commit()
}

// marshalAttributes serialises a metadata map for a JSONB column, keeping
// NULL for absent maps.
func marshalAttributes(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.PermissionRecord, error) {
	rec := &models.PermissionRecord{}
	var attrs []byte
	err := row.Scan(
		&rec.ID, &rec.Category, &rec.Subject, &rec.SubjectNormalized,
		&rec.WindowStart, &rec.WindowEnd, &rec.Notified, &attrs,
		&rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if attrs != nil {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]*models.PermissionRecord, error) {
	recs := make([]*models.PermissionRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
