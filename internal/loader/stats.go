package loader

import (
	"strings"
	"time"

	"csvflow/internal/csvio"
)

// Stats carries the loader's monotonic counters plus the last-progress
// snapshots used to pace reporting.
type Stats struct {
	TotalRows   int64 // data rows read from the file
	TotalErrors int64 // rows diverted to the bad file
	TotalBytes  int64 // approximate input bytes processed

	lastProgressBytes int64
	lastProgressRows  int64
	lastProgressTime  time.Time

	Start time.Time
}

// Committed returns the number of successfully loaded rows.
func (s *Stats) Committed() int64 { return s.TotalRows - s.TotalErrors }

// ProgressDue reports whether the byte delta since the last progress line
// has reached the interval. intervalBytes <= 0 disables progress entirely.
func (s *Stats) ProgressDue(intervalBytes int64) bool {
	if intervalBytes <= 0 {
		return false
	}
	return s.TotalBytes-s.lastProgressBytes >= intervalBytes
}

// ProgressTaken snapshots the current counters and returns the deltas since
// the previous snapshot: rows, bytes, and elapsed time.
func (s *Stats) ProgressTaken() (rows, bytes int64, since time.Duration) {
	now := time.Now()
	if s.lastProgressTime.IsZero() {
		s.lastProgressTime = s.Start
	}
	rows = s.TotalRows - s.lastProgressRows
	bytes = s.TotalBytes - s.lastProgressBytes
	since = now.Sub(s.lastProgressTime)
	s.lastProgressRows = s.TotalRows
	s.lastProgressBytes = s.TotalBytes
	s.lastProgressTime = now
	return rows, bytes, since
}

// estimateRowBytes approximates the wire size of one row: one byte per
// delimiter, two per character, two for the line end, two quotes plus one
// per internally escaped character where quoting is required, and a nominal
// two bytes for null fields.
func estimateRowBytes(fields []string, d csvio.Dialect) int64 {
	var n int64
	for i, f := range fields {
		if i > 0 {
			n++
		}
		if f == "" {
			n += 2
			continue
		}
		n += int64(2 * len(f))
		if csvio.NeedsQuoting(f, d) {
			n += 2
			n += int64(strings.Count(f, string(d.Quote)))
			if d.Escape != d.Quote {
				n += int64(strings.Count(f, string(d.Escape)))
			}
		}
	}
	return n + 2
}
