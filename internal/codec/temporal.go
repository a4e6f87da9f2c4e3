package codec

import (
	"strings"
	"sync"
	"time"
)

// Pattern is one candidate temporal layout. The Key doubles as the cache key
// and is simply the Go reference layout, which is stable and human-readable.
type Pattern struct {
	Key          string
	Layout       string
	TwoDigitYear bool
	HasZone      bool
}

// The static pattern libraries are built once at process start. A library is
// the cross-product of date shapes, date/time separators, time shapes, and
// zone specifiers; fractional seconds need no dedicated variants because
// time.Parse accepts them after the seconds field regardless of layout.
var (
	libOnce     sync.Once
	dateTimeLib []Pattern
	timeOnlyLib []Pattern
)

func buildLibraries() {
	dateShapes := []struct {
		layout string
		yy     bool
	}{
		{"2006-01-02", false},
		{"01-02-2006", false},
		{"02-01-2006", false},
		{"2006/01/02", false},
		{"01/02/2006", false},
		{"02/01/2006", false},
		{"20060102", false},
		{"2006-Jan-02", false},
		{"Jan-02-2006", false},
		{"02-Jan-2006", false},
		{"2006/Jan/02", false},
		{"02/Jan/2006", false},
		{"02-Jan-06", true}, // vendor two-digit-year shape, sliding window
	}
	seps := []string{" ", "T"}
	timeShapes := []string{"15:04:05", "03:04:05 PM"}
	zones := []string{"", "Z07:00", " Z07:00", "-0700", " -0700"}

	for _, d := range dateShapes {
		dateTimeLib = append(dateTimeLib, Pattern{Key: d.layout, Layout: d.layout, TwoDigitYear: d.yy})
		for _, sep := range seps {
			for _, ts := range timeShapes {
				for _, z := range zones {
					layout := d.layout + sep + ts + z
					dateTimeLib = append(dateTimeLib, Pattern{
						Key:          layout,
						Layout:       layout,
						TwoDigitYear: d.yy,
						HasZone:      z != "",
					})
				}
			}
		}
	}

	for _, ts := range []string{"15:04:05", "03:04:05 PM", "15:04"} {
		for _, z := range zones {
			layout := ts + z
			timeOnlyLib = append(timeOnlyLib, Pattern{Key: layout, Layout: layout, HasZone: z != ""})
		}
	}
}

// DateTimeLibrary returns the shared date/datetime pattern library.
func DateTimeLibrary() []Pattern {
	libOnce.Do(buildLibraries)
	return dateTimeLib
}

// TimeLibrary returns the shared time-only pattern library.
func TimeLibrary() []Pattern {
	libOnce.Do(buildLibraries)
	return timeOnlyLib
}

// Warm-up thresholds for cache compaction: after minRows decoded rows and
// minHits recorded matches, the live pattern list is replaced by the runtime
// list so homogeneous data parses in O(1) amortized.
const (
	compactMinRows = 30
	compactMinHits = 100
)

// FormatCache holds the live, ordered pattern list for one temporal family
// plus the runtime cache of patterns that actually matched. The cache is used
// by a single goroutine; the swap happens between rows only.
type FormatCache struct {
	live    []Pattern
	runtime []Pattern
	seen    map[string]bool
	hits    int
	swapped bool
}

// NewFormatCache builds a cache over a library, optionally prepending pinned
// layouts so they win over every library candidate.
func NewFormatCache(library []Pattern, pinned ...string) *FormatCache {
	live := make([]Pattern, 0, len(pinned)+len(library))
	for _, p := range pinned {
		if p == "" {
			continue
		}
		live = append(live, Pattern{Key: p, Layout: p, HasZone: layoutHasZone(p)})
	}
	live = append(live, library...)
	return &FormatCache{live: live, seen: map[string]bool{}}
}

func layoutHasZone(layout string) bool {
	for _, tok := range []string{"Z07", "-07", "MST"} {
		if strings.Contains(layout, tok) {
			return true
		}
	}
	return false
}

// Patterns returns the live pattern list in trial order.
func (c *FormatCache) Patterns() []Pattern { return c.live }

// Hits returns the number of successful matches recorded so far.
func (c *FormatCache) Hits() int { return c.hits }

// Swapped reports whether compaction has already replaced the live list.
func (c *FormatCache) Swapped() bool { return c.swapped }

// Hit records a successful match of p. The runtime list keeps first-match
// insertion order and never holds duplicates.
func (c *FormatCache) Hit(p Pattern) {
	c.hits++
	if !c.seen[p.Key] {
		c.seen[p.Key] = true
		c.runtime = append(c.runtime, p)
	}
}

// Compact replaces the live list with the runtime cache once the warm-up
// thresholds are met. rows is the number of data rows decoded so far; the
// caller invokes Compact between rows (the quiescent point).
func (c *FormatCache) Compact(rows int) bool {
	if c.swapped || rows < compactMinRows || c.hits < compactMinHits || len(c.runtime) == 0 {
		return false
	}
	c.live = append([]Pattern(nil), c.runtime...)
	c.swapped = true
	return true
}

// Parse tries each live pattern in order and returns the first match along
// with the pattern that produced it. Two-digit years are resolved against a
// 100-year window starting at now-50 years.
func (c *FormatCache) Parse(s string) (time.Time, Pattern, bool) {
	for _, p := range c.live {
		t, err := time.Parse(p.Layout, s)
		if err != nil {
			continue
		}
		if p.TwoDigitYear {
			t = slideYear(t, time.Now())
		}
		c.Hit(p)
		return t, p, true
	}
	return time.Time{}, Pattern{}, false
}

// slideYear reinterprets a parsed two-digit year so it lands in the window
// [now-50y, now+50y).
func slideYear(t time.Time, now time.Time) time.Time {
	base := now.Year() - 50
	yy := t.Year() % 100
	year := base - base%100 + yy
	if year < base {
		year += 100
	}
	return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
