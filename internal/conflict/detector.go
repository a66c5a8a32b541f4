// detector.go implements the Detector, the save-time guard that reports
// existing records whose validity windows overlap a candidate window for the
// same (category, subject). It is a pure read: the CRUD path calls it before
// persisting and blocks the save on a non-empty result.
package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/parkeerbeheer/permit-registry/internal/db/models"
)

// recordSource is the slice of the record store the detector reads.
// *repositories.RecordRepository satisfies it.
type recordSource interface {
	ListBySubject(ctx context.Context, category models.Category, subjectNormalized string) ([]*models.PermissionRecord, error)
}

// ConflictError carries the overlapping records back to the save path so the
// caller can show the user exactly what blocks the save.
type ConflictError struct {
	Conflicts []*models.PermissionRecord
}

func (e *ConflictError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, r := range e.Conflicts {
		ids[i] = r.ID
	}
	return fmt.Sprintf("window overlaps %d existing record(s): %s", len(e.Conflicts), strings.Join(ids, ", "))
}

// Detector finds overlapping permission records.
type Detector struct {
	records recordSource
}

// NewDetector creates a Detector reading from the given record source.
func NewDetector(records recordSource) *Detector {
	return &Detector{records: records}
}

// FindConflicts returns every existing record of the given category whose
// normalized subject matches and whose window overlaps the candidate window.
// excludeID, when non-empty, skips the record being edited so an in-place
// edit does not conflict with itself. The candidate window is validated
// first; a malformed or inverted window returns a *ValidationError.
func (d *Detector) FindConflicts(ctx context.Context, category models.Category, subject string, window Window, excludeID string) ([]*models.PermissionRecord, error) {
	if !category.Valid() {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	normalized := NormalizeSubject(subject)
	if normalized == "" {
		return nil, &ValidationError{Field: "subject", Reason: "subject is empty after normalization"}
	}

	candidates, err := d.records.ListBySubject(ctx, category, normalized)
	if err != nil {
		return nil, fmt.Errorf("list records for conflict check: %w", err)
	}

	var conflicts []*models.PermissionRecord
	for _, rec := range candidates {
		if excludeID != "" && rec.ID == excludeID {
			continue
		}
		existing := Window{Start: rec.WindowStart, End: rec.WindowEnd}
		if window.Overlaps(existing) {
			conflicts = append(conflicts, rec)
		}
	}
	return conflicts, nil
}

// Check runs FindConflicts and turns a non-empty result into a
// *ConflictError, which is what the save path wants: nil means the save may
// proceed.
func (d *Detector) Check(ctx context.Context, category models.Category, subject string, window Window, excludeID string) error {
	conflicts, err := d.FindConflicts(ctx, category, subject, window, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}
	return nil
}
