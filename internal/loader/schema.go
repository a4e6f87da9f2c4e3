package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"csvflow/internal/codec"
	"csvflow/internal/config"
	"csvflow/internal/dialect"
)

// SchemaMismatchError reports a CSV header column that matches no database
// column while auto-skip is disabled. It is fatal before any row is bound.
type SchemaMismatchError struct {
	Column string
	Table  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("csv column %q matches no column of %s", e.Column, e.Table)
}

// DBColumn is one target-table column as reported by metadata.
type DBColumn struct {
	Name     string
	TypeName string
	Kind     codec.DecodeKind
	Size     int64
}

// projection binds one CSV slot to one DB column.
type projection struct {
	CSVIndex int // index into the parsed CSV row
	Col      DBColumn
}

// fetchColumns resolves the target table's columns: either via the
// configured COLUMN_INFO_SQL override (which must project COLUMN_NAME,
// DATA_TYPE, TYPE_NAME, COLUMN_SIZE) or by describing an empty result set
// over the table, which works uniformly across drivers.
func fetchColumns(ctx context.Context, db *sql.DB, p dialect.Platform, table, infoSQL string) ([]DBColumn, error) {
	if infoSQL != "" {
		return fetchColumnsSQL(ctx, db, infoSQL)
	}
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+p.QuoteFQN(table)+" WHERE 1=0")
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	cols := make([]DBColumn, len(types))
	for i, ct := range types {
		c := DBColumn{
			Name:     ct.Name(),
			TypeName: ct.DatabaseTypeName(),
			Kind:     codec.KindForTypeName(ct.DatabaseTypeName()),
		}
		if n, ok := ct.Length(); ok {
			c.Size = n
		} else if p, _, ok := ct.DecimalSize(); ok {
			c.Size = p
		}
		cols[i] = c
	}
	return cols, rows.Err()
}

func fetchColumnsSQL(ctx context.Context, db *sql.DB, infoSQL string) ([]DBColumn, error) {
	rows, err := db.QueryContext(ctx, infoSQL)
	if err != nil {
		return nil, fmt.Errorf("column info sql: %w", err)
	}
	defer rows.Close()

	var cols []DBColumn
	for rows.Next() {
		var (
			name     string
			dataType any // numeric type code; unused beyond the contract
			typeName string
			size     sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &typeName, &size); err != nil {
			return nil, fmt.Errorf("column info sql: %w", err)
		}
		cols = append(cols, DBColumn{
			Name:     name,
			TypeName: typeName,
			Kind:     codec.KindForTypeName(typeName),
			Size:     size.Int64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("column info sql: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("column info sql returned no columns")
	}
	return cols, nil
}

// resolveSchema maps the CSV header (or, with no header, the DB column list
// positionally) onto the table's columns, honouring MAP_COLUMN_NAMES and the
// skip policy. It returns the ordered projection used for binding.
func resolveSchema(header []string, dbCols []DBColumn, opt config.LoadOptions, table string) ([]projection, error) {
	byName := make(map[string]DBColumn, len(dbCols))
	for _, c := range dbCols {
		byName[strings.ToLower(c.Name)] = c
	}

	if len(header) == 0 {
		// Positional: CSV slot i feeds DB column i.
		proj := make([]projection, len(dbCols))
		for i, c := range dbCols {
			proj[i] = projection{CSVIndex: i, Col: c}
		}
		return proj, nil
	}

	autoSkip := opt.SkipColumns[config.SkipColumnsAuto]
	var proj []projection
	for i, raw := range header {
		name := strings.TrimSpace(raw)
		lower := strings.ToLower(name)
		if mapped, ok := opt.MapColumnNames[lower]; ok {
			name = mapped
			lower = strings.ToLower(mapped)
		}
		if c, ok := byName[lower]; ok {
			if opt.SkipColumns[lower] {
				continue
			}
			proj = append(proj, projection{CSVIndex: i, Col: c})
			continue
		}
		if autoSkip || opt.SkipColumns[lower] {
			continue
		}
		return nil, &SchemaMismatchError{Column: name, Table: table}
	}
	if len(proj) == 0 {
		return nil, fmt.Errorf("no csv column maps to any column of %s", table)
	}
	return proj, nil
}

// buildInsertSQL renders the INSERT template for the projection with the
// platform's identifier quoting and the configured placeholder style.
func buildInsertSQL(p dialect.Platform, table string, proj []projection, style string) string {
	cols := make([]string, len(proj))
	marks := make([]string, len(proj))
	for i, pr := range proj {
		cols[i] = p.QuoteIdent(pr.Col.Name)
		marks[i] = dialect.Placeholder(style, i+1)
	}
	return "INSERT INTO " + p.QuoteFQN(table) +
		"(" + strings.Join(cols, ",") + ") VALUES (" + strings.Join(marks, ",") + ")"
}
