// Package models defines the database model types for the permit registry.
// Each type corresponds to a database table. Models are pure data types —
// business logic belongs in the engine packages, query logic in the
// repositories layer.
package models

import "time"

// Category identifies the kind of permission record. Each category carries
// its own expiry-warning window, configured in notifications.categories.
type Category string

const (
	CategoryException        Category = "exception"
	CategoryDisabilityPermit Category = "disability-permit"
	CategoryContract         Category = "contract"
	CategoryProject          Category = "project"
	CategoryRoadwork         Category = "roadwork"
)

// KnownCategories lists every category the registry accepts, in a stable order.
var KnownCategories = []Category{
	CategoryException,
	CategoryDisabilityPermit,
	CategoryContract,
	CategoryProject,
	CategoryRoadwork,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range KnownCategories {
		if c == k {
			return true
		}
	}
	return false
}

// PermissionRecord represents one time-bounded permission (a parking
// exception, disability permit, service contract, project, or roadwork).
type PermissionRecord struct {
	ID       string
	Category Category
	// Subject is the entity the record is about, scoped to its category
	// (e.g. a vehicle plate, cardholder name, or supplier name), as entered.
	Subject string
	// SubjectNormalized is the case-folded, separator-stripped form of
	// Subject used for conflict lookups so cosmetic formatting differences
	// do not hide overlaps.
	SubjectNormalized string
	// WindowStart and WindowEnd bound the validity interval. Either may be
	// nil: a nil start means unbounded past, a nil end unbounded future.
	WindowStart *time.Time
	WindowEnd   *time.Time
	// Notified is flipped false→true exactly once, after a confirmed
	// successful expiry notification. It is never reset by the engine.
	Notified bool
	// Attributes holds the CRUD layer's descriptive fields (holder name,
	// location, remarks, ...). JSONB; opaque to the engine.
	Attributes map[string]interface{}
	CreatedBy  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
