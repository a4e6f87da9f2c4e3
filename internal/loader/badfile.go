package loader

import (
	"fmt"
	"os"
	"strings"

	"csvflow/internal/csvio"
)

// badFile captures rejected rows next to the input as <input>.bad, in the
// same dialect as the input. Each diverted row is preceded by a single-field
// marker row carrying the first line of the error.
type badFile struct {
	path string
	f    *os.File
	w    *csvio.Writer
	rows int64
}

// openBadFile creates (replacing any previous run's file) the sidecar for
// inputPath. When header is non-nil it is written first, mirroring the
// input's header row.
func openBadFile(inputPath string, d csvio.Dialect, header []string) (*badFile, error) {
	path := inputPath + ".bad"
	_ = os.Remove(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bad file: %w", err)
	}
	b := &badFile{path: path, f: f, w: csvio.NewWriter(f, d)}
	if len(header) > 0 {
		if err := b.w.WriteRow(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("bad file header: %w", err)
		}
	}
	return b, nil
}

// firstLine truncates msg at its first line break.
func firstLine(msg string) string {
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		return msg[:i]
	}
	return msg
}

// WriteBadRow emits the error marker followed by the offending row.
func (b *badFile) WriteBadRow(fields []string, msg string) error {
	if b == nil {
		return nil
	}
	if err := b.w.WriteRow([]string{"[ERROR] " + firstLine(msg)}); err != nil {
		return err
	}
	if err := b.w.WriteRow(fields); err != nil {
		return err
	}
	b.rows++
	return nil
}

// Rows returns the number of diverted data rows.
func (b *badFile) Rows() int64 {
	if b == nil {
		return 0
	}
	return b.rows
}

// Close syncs and closes the sidecar.
func (b *badFile) Close() error {
	if b == nil {
		return nil
	}
	if err := b.f.Sync(); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}
