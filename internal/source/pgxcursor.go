package source

import (
	"context"

	"github.com/jackc/pgx/v5"

	"csvflow/internal/codec"
)

// pgTypeNames maps the common Postgres type OIDs to the vendor type names
// the codec understands. Array OIDs map to their "_"-prefixed element names,
// which TagForTypeName recognises as arrays. Unknown OIDs fall back to
// "TEXT" so values still export as text.
var pgTypeNames = map[uint32]string{
	16:   "BOOL",
	17:   "BYTEA",
	20:   "INT8",
	21:   "INT2",
	23:   "INT4",
	25:   "TEXT",
	114:  "JSON",
	142:  "XML",
	700:  "FLOAT4",
	701:  "FLOAT8",
	790:  "MONEY",
	1042: "CHAR",
	1043: "VARCHAR",
	1082: "DATE",
	1083: "TIME",
	1114: "TIMESTAMP",
	1184: "TIMESTAMPTZ",
	1186: "INTERVAL",
	1266: "TIMETZ",
	1700: "NUMERIC",
	2950: "UUID",
	3802: "JSONB",
	1000: "_BOOL",
	1005: "_INT2",
	1007: "_INT4",
	1016: "_INT8",
	1009: "_TEXT",
	1015: "_VARCHAR",
	1021: "_FLOAT4",
	1022: "_FLOAT8",
	1231: "_NUMERIC",
}

// PgxCursor adapts pgx.Rows to the Cursor interface so exports can stream
// straight from a pgx or pgxpool query without database/sql in between.
type PgxCursor struct {
	rows pgx.Rows
	vals []any
}

// NewPgxCursor wraps rows. The caller hands over ownership.
func NewPgxCursor(rows pgx.Rows) *PgxCursor {
	return &PgxCursor{rows: rows}
}

// Describe derives descriptors from the field descriptions. pgx reports the
// type as an OID; the name lookup covers the common built-ins.
func (c *PgxCursor) Describe() ([]codec.Descriptor, error) {
	fields := c.rows.FieldDescriptions()
	desc := make([]codec.Descriptor, len(fields))
	for i, f := range fields {
		name := pgTypeNames[f.DataTypeOID]
		if name == "" {
			name = "TEXT"
		}
		desc[i] = codec.Descriptor{
			Index:    i,
			Name:     f.Name,
			TypeName: name,
			Tag:      codec.TagForTypeName(name),
		}
	}
	return desc, nil
}

// SetFetchSize is a no-op: pgx streams rows from the wire as they arrive.
func (c *PgxCursor) SetFetchSize(int) {}

// Next advances the row set.
func (c *PgxCursor) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.rows.Next() {
		return true, nil
	}
	return false, c.rows.Err()
}

// Values copies the decoded row values into dst.
func (c *PgxCursor) Values(_ context.Context, dst []any) error {
	vals, err := c.rows.Values()
	if err != nil {
		return err
	}
	copy(dst, vals)
	return nil
}

// Close releases the row set. pgx.Rows.Close never fails; the row error is
// surfaced through Next.
func (c *PgxCursor) Close() error {
	c.rows.Close()
	return nil
}
