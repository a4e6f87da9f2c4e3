package codec

import (
	"testing"
	"time"
)

func TestLibraryContainsCoreShapes(t *testing.T) {
	t.Parallel()

	want := map[string]bool{
		"2006-01-02":                    false,
		"2006-01-02 15:04:05":           false,
		"2006-01-02T15:04:05Z07:00":     false,
		"02/01/2006":                    false,
		"20060102":                      false,
		"02-Jan-06":                     false,
		"2006-01-02 03:04:05 PM":        false,
		"2006-01-02 15:04:05 -0700":     false,
	}
	for _, p := range DateTimeLibrary() {
		if _, ok := want[p.Key]; ok {
			want[p.Key] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("library missing pattern %q", k)
		}
	}
}

func TestFormatCacheParseOrderDeterministic(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary())
	// Ambiguous between MM-dd-yyyy and dd-MM-yyyy: the MDY shape is earlier
	// in the library, so it must win.
	got, p, ok := c.Parse("03-04-2024")
	if !ok {
		t.Fatal("no pattern matched")
	}
	if p.Key != "01-02-2006" {
		t.Fatalf("winning pattern = %q, want MDY", p.Key)
	}
	if got.Month() != time.March || got.Day() != 4 {
		t.Fatalf("parsed %v, want March 4", got)
	}
}

func TestFormatCachePinnedWins(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary(), "02-01-2006")
	_, p, ok := c.Parse("03-04-2024")
	if !ok {
		t.Fatal("no pattern matched")
	}
	if p.Key != "02-01-2006" {
		t.Fatalf("winning pattern = %q, want pinned DMY", p.Key)
	}
}

func TestFormatCacheFractionalSeconds(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary())
	got, _, ok := c.Parse("2024-01-02 03:04:05.123456")
	if !ok {
		t.Fatal("fractional timestamp did not match")
	}
	if got.Nanosecond() != 123456000 {
		t.Fatalf("nanos = %d", got.Nanosecond())
	}
}

func TestFormatCacheZones(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary())
	got, _, ok := c.Parse("2024-01-02T03:04:05+02:00")
	if !ok {
		t.Fatal("zoned timestamp did not match")
	}
	_, off := got.Zone()
	if off != 2*3600 {
		t.Fatalf("offset = %d", off)
	}
}

func TestFormatCacheCompaction(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary())
	for i := 0; i < 100; i++ {
		if _, _, ok := c.Parse("2024-01-02"); !ok {
			t.Fatal("parse failed")
		}
	}
	if c.Swapped() {
		t.Fatal("must not swap before the row threshold")
	}
	if !c.Compact(30) {
		t.Fatal("compaction expected at 30 rows / 100 hits")
	}
	if !c.Swapped() {
		t.Fatal("Swapped must report true")
	}
	if got := len(c.Patterns()); got != 1 {
		t.Fatalf("live patterns after swap = %d, want 1", got)
	}
	// Still parses via the runtime pattern.
	if _, _, ok := c.Parse("2024-03-04"); !ok {
		t.Fatal("post-swap parse failed")
	}
	// Second compaction is a no-op.
	if c.Compact(1000) {
		t.Fatal("second compaction must be a no-op")
	}
}

func TestFormatCacheNotCompactedBelowHitThreshold(t *testing.T) {
	t.Parallel()

	c := NewFormatCache(DateTimeLibrary())
	for i := 0; i < 99; i++ {
		c.Parse("2024-01-02")
	}
	if c.Compact(99) {
		t.Fatal("must not compact below 100 hits")
	}
}

func TestSlideYearWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	// Window is [1976, 2076).
	in := time.Date(2030, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := slideYear(in, now); got.Year() != 2030 {
		t.Fatalf("2030 -> %d", got.Year())
	}
	in = time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := slideYear(in, now); got.Year() != 1990 {
		t.Fatalf("1990 -> %d", got.Year())
	}
	// A Go-resolved 2070 still lands inside the window.
	in = time.Date(2070, 5, 1, 0, 0, 0, 0, time.UTC)
	if got := slideYear(in, now); got.Year() != 2070 {
		t.Fatalf("2070 -> %d", got.Year())
	}
}

func TestTemporalRoundTrip(t *testing.T) {
	t.Parallel()

	layouts := []string{"2006-01-02", "2006-01-02 15:04:05", "02/01/2006", "2006-01-02T15:04:05Z07:00"}
	v := time.Date(2024, 7, 15, 13, 45, 9, 0, time.FixedZone("", 3600))
	for _, layout := range layouts {
		c := NewFormatCache(DateTimeLibrary())
		s := v.Format(layout)
		got, p, ok := c.Parse(s)
		if !ok {
			t.Fatalf("layout %q: no match for %q", layout, s)
		}
		if got.Format(p.Layout) != s {
			t.Fatalf("layout %q: round-trip %q -> %q", layout, s, got.Format(p.Layout))
		}
	}
}
