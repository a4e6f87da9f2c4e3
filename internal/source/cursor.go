package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"csvflow/internal/codec"
)

// ErrAborted marks a run stopped by caller cancellation. It is distinct from
// a SourceError so callers can tell an intentional stop from a failure.
var ErrAborted = errors.New("aborted")

// SourceError wraps an upstream cursor or metadata failure. It is fatal: the
// run unwinds after cleanup.
type SourceError struct {
	Op  string
	Err error
}

func (e *SourceError) Error() string { return fmt.Sprintf("source: %s: %v", e.Op, e.Err) }
func (e *SourceError) Unwrap() error { return e.Err }

// Cursor is the minimal surface the row source needs from a driver cursor.
// Adapters exist for database/sql rows and pgx rows; tests provide fakes.
//
// Describe is called exactly once, before the first Next. SetFetchSize is a
// best-effort hint; adapters for drivers without fetch-size control ignore
// it.
type Cursor interface {
	Describe() ([]codec.Descriptor, error)
	Next(ctx context.Context) (bool, error)
	// Values materialises the current row into dst, which has one slot per
	// described column. Implementations may reuse internal buffers between
	// calls; the row source copies what it must.
	Values(ctx context.Context, dst []any) error
	SetFetchSize(n int)
	Close() error
}

// RowSource adapts a Cursor to the pull/prefetch row protocol. It is not
// safe for concurrent use; Prefetch owns the necessary synchronisation
// internally.
type RowSource struct {
	cur       Cursor
	desc      []codec.Descriptor
	fetchHint int
	eof       bool
	closed    bool
}

// Open reads cursor metadata, derives the column descriptors, and applies
// the fetch-size hint. A fetchHint <= 0 falls back to 1000 rows.
func Open(cur Cursor, fetchHint int) (*RowSource, error) {
	if fetchHint <= 0 {
		fetchHint = 1000
	}
	desc, err := cur.Describe()
	if err != nil {
		return nil, &SourceError{Op: "describe", Err: err}
	}
	cur.SetFetchSize(fetchHint)
	return &RowSource{cur: cur, desc: desc, fetchHint: fetchHint}, nil
}

// Descriptors returns the column descriptors discovered at open.
func (rs *RowSource) Descriptors() []codec.Descriptor { return rs.desc }

// Next advances the cursor and materialises one raw row. It returns io.EOF
// once the cursor is exhausted (closing it as a side effect) and keeps
// returning io.EOF afterwards. Every cell reported null by the cursor is
// normalised to nil regardless of what the accessor produced.
func (rs *RowSource) Next(ctx context.Context) (*Row, error) {
	if rs.eof {
		return nil, io.EOF
	}
	ok, err := rs.cur.Next(ctx)
	if err != nil {
		return nil, &SourceError{Op: "advance", Err: err}
	}
	if !ok {
		rs.eof = true
		if cerr := rs.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, io.EOF
	}

	row := GetRow(len(rs.desc))
	if err := rs.cur.Values(ctx, row.V); err != nil {
		row.Free()
		return nil, &SourceError{Op: "fetch", Err: err}
	}
	rs.normalize(row)
	return row, nil
}

// normalize applies the per-tag accessor policy to the freshly fetched row:
// textual tags become strings, temporal strings become time values where the
// driver did not already produce them, and class names resolve lazily.
func (rs *RowSource) normalize(row *Row) {
	for i := range row.V {
		v := row.V[i]
		if v == nil {
			continue
		}
		d := &rs.desc[i]
		if d.ClassName == "" {
			d.ClassName = fmt.Sprintf("%T", v)
		}
		switch d.Tag {
		case codec.TagClob, codec.TagXML, codec.TagJSON, codec.TagString:
			if b, ok := v.([]byte); ok {
				row.V[i] = string(b)
			}
		case codec.TagDate, codec.TagTime, codec.TagTimestamp, codec.TagTimestampTZ:
			switch tv := v.(type) {
			case time.Time:
				// already the right shape
			case *time.Time:
				if tv == nil {
					row.V[i] = nil
				} else {
					row.V[i] = *tv
				}
			case []byte:
				row.V[i] = string(tv)
			}
		case codec.TagRaw, codec.TagBlob:
			if b, ok := v.([]byte); ok {
				// Cursor adapters may reuse the backing array; take a copy so
				// the row survives the next advance.
				nb := make([]byte, len(b))
				copy(nb, b)
				row.V[i] = nb
			}
		}
	}
}

// Close closes the underlying cursor. Safe to call multiple times.
func (rs *RowSource) Close() error {
	if rs.closed {
		return nil
	}
	rs.closed = true
	if err := rs.cur.Close(); err != nil {
		return &SourceError{Op: "close", Err: err}
	}
	return nil
}
