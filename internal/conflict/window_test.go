package conflict

import (
	"testing"
	"time"
)

func date(s string) *time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func win(start, end string) Window {
	var w Window
	if start != "" {
		w.Start = date(start)
	}
	if end != "" {
		w.End = date(end)
	}
	return w
}

func TestWindowOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{"disjoint with gap", win("2024-01-01", "2024-06-30"), win("2024-07-01", "2024-12-31"), false},
		{"touching boundary counts as overlap", win("2024-01-01", "2024-06-30"), win("2024-06-30", "2024-12-31"), true},
		{"partial overlap", win("2024-01-01", "2024-06-30"), win("2024-06-15", "2024-12-31"), true},
		{"contained", win("2024-01-01", "2024-12-31"), win("2024-03-01", "2024-04-01"), true},
		{"identical", win("2024-01-01", "2024-06-30"), win("2024-01-01", "2024-06-30"), true},
		{"open start overlaps bounded", win("", "2024-06-30"), win("2024-06-01", "2024-12-31"), true},
		{"open start clear of later window", win("", "2024-05-31"), win("2024-06-01", "2024-12-31"), false},
		{"open end overlaps everything after", win("2024-06-01", ""), win("2030-01-01", "2030-12-31"), true},
		{"open end clear of earlier window", win("2024-06-01", ""), win("2024-01-01", "2024-05-31"), false},
		{"both fully open always overlap", Window{}, win("1990-01-01", "1990-01-02"), true},
		{"two fully open windows", Window{}, Window{}, true},
		{"single-day windows touching", win("2024-06-30", "2024-06-30"), win("2024-06-30", "2024-06-30"), true},
		{"single-day windows adjacent", win("2024-06-29", "2024-06-29"), win("2024-06-30", "2024-06-30"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Errorf("a.Overlaps(b) = %v, want %v", got, tc.want)
			}
			// Overlap is symmetric.
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Errorf("b.Overlaps(a) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("2024-01-01", "2024-06-30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Start == nil || w.End == nil {
		t.Fatal("expected both bounds set")
	}

	w, err = ParseWindow("", "")
	if err != nil {
		t.Fatalf("unexpected error for open window: %v", err)
	}
	if w.Start != nil || w.End != nil {
		t.Error("open window should have nil bounds")
	}
}

func TestParseWindow_Malformed(t *testing.T) {
	if _, err := ParseWindow("01-01-2024", ""); err == nil {
		t.Error("expected ValidationError for non-ISO start date")
	}
	if _, err := ParseWindow("", "2024-13-40"); err == nil {
		t.Error("expected ValidationError for impossible end date")
	}
}

func TestParseWindow_Inverted(t *testing.T) {
	_, err := ParseWindow("2024-12-31", "2024-01-01")
	if err == nil {
		t.Fatal("expected ValidationError for start after end")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestWindowValidate_EqualBoundsOK(t *testing.T) {
	if err := win("2024-06-30", "2024-06-30").Validate(); err != nil {
		t.Errorf("single-day window should be valid, got %v", err)
	}
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"AB123C", "ab123c"},
		{"ab-123-c", "ab123c"},
		{"АB 123.c", "аb123c"}, // leading Cyrillic А is kept, folded
		{"Van der Meer, J.", "vandermeerj"},
		{"  ", ""},
		{"--__--", ""},
	}
	for _, tc := range tests {
		if got := NormalizeSubject(tc.in); got != tc.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
