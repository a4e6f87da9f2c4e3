package source

import (
	"context"
	"database/sql"

	"csvflow/internal/codec"
)

// SQLCursor adapts database/sql result rows to the Cursor interface.
// database/sql exposes no fetch-size control, so SetFetchSize is a no-op.
type SQLCursor struct {
	rows *sql.Rows
	scan []any // pre-built *any scan targets, reused per row
}

// NewSQLCursor wraps rows. The caller hands over ownership: Close on the
// cursor closes the rows.
func NewSQLCursor(rows *sql.Rows) *SQLCursor {
	return &SQLCursor{rows: rows}
}

// Describe builds the column descriptors from the driver metadata.
func (c *SQLCursor) Describe() ([]codec.Descriptor, error) {
	types, err := c.rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	desc := make([]codec.Descriptor, len(types))
	for i, ct := range types {
		d := codec.Descriptor{
			Index:    i,
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
			Tag:      codec.TagForTypeName(ct.DatabaseTypeName()),
		}
		if n, ok := ct.Length(); ok {
			d.Size = n
		} else if p, _, ok := ct.DecimalSize(); ok {
			d.Size = p
		}
		desc[i] = d
	}
	c.scan = make([]any, len(types))
	return desc, nil
}

// SetFetchSize is a no-op: database/sql drivers manage their own batching.
func (c *SQLCursor) SetFetchSize(int) {}

// Next advances the row set. The context is honoured between rows only;
// database/sql carries its own context from the originating query.
func (c *SQLCursor) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.rows.Next() {
		return true, nil
	}
	return false, c.rows.Err()
}

// Values scans the current row into dst via interface targets, letting the
// driver deliver its native value types.
func (c *SQLCursor) Values(_ context.Context, dst []any) error {
	for i := range dst {
		dst[i] = nil
		c.scan[i] = &dst[i]
	}
	return c.rows.Scan(c.scan...)
}

// Close releases the row set. database/sql tolerates repeated Close calls.
func (c *SQLCursor) Close() error { return c.rows.Close() }
