// Package conflict implements overlap detection for permission-record
// validity windows. A window is a closed date interval whose bounds may each
// be absent; an absent bound is a true open extreme, compared with a
// dedicated routine rather than sentinel date literals so non-ISO date
// representations can never reorder lexically.
package conflict

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the wire format for window bounds.
const DateLayout = "2006-01-02"

// Window is a closed validity interval [Start, End]. A nil Start means
// unbounded past; a nil End means unbounded future.
type Window struct {
	Start *time.Time
	End   *time.Time
}

// ValidationError reports a malformed or logically inconsistent window.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ParseWindow builds a Window from optional date strings. Empty strings are
// open bounds. Returns a *ValidationError for malformed dates or an inverted
// interval.
func ParseWindow(start, end string) (Window, error) {
	var w Window
	if start != "" {
		t, err := time.Parse(DateLayout, start)
		if err != nil {
			return Window{}, &ValidationError{Field: "window_start", Reason: fmt.Sprintf("not a valid date (want %s): %q", DateLayout, start)}
		}
		w.Start = &t
	}
	if end != "" {
		t, err := time.Parse(DateLayout, end)
		if err != nil {
			return Window{}, &ValidationError{Field: "window_end", Reason: fmt.Sprintf("not a valid date (want %s): %q", DateLayout, end)}
		}
		w.End = &t
	}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate checks the start <= end invariant when both bounds are present.
func (w Window) Validate() error {
	if w.Start != nil && w.End != nil && w.Start.After(*w.End) {
		return &ValidationError{
			Field:  "window_start",
			Reason: fmt.Sprintf("start %s is after end %s", w.Start.Format(DateLayout), w.End.Format(DateLayout)),
		}
	}
	return nil
}

// Overlaps reports whether two closed intervals intersect. Touching
// boundaries (w.End == o.Start) count as an overlap: for two closed
// intervals [aStart,aEnd] and [bStart,bEnd] the test is
// aStart <= bEnd && aEnd >= bStart, with an absent bound satisfying its
// comparison unconditionally.
func (w Window) Overlaps(o Window) bool {
	return lteOpen(w.Start, o.End) && gteOpen(w.End, o.Start)
}

// lteOpen reports start <= end where a nil start is unbounded past and a nil
// end is unbounded future.
func lteOpen(start, end *time.Time) bool {
	if start == nil || end == nil {
		return true
	}
	return !start.After(*end)
}

// gteOpen reports end >= start with the same open-bound semantics.
func gteOpen(end, start *time.Time) bool {
	if end == nil || start == nil {
		return true
	}
	return !end.Before(*start)
}

// NormalizeSubject case-folds a subject identifier and strips every
// non-alphanumeric rune, so "ab-123 c" and "AB123C" compare equal during
// conflict lookups. Normalization is for comparison only; records store the
// subject as entered.
func NormalizeSubject(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
