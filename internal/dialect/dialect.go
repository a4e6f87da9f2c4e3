// Package dialect centralizes the per-database string policy used across the
// writer and loader: identifier quoting, bind-placeholder style, truncate
// statement form, and the type names used by generated DDL.
//
// Keeping this in one place mirrors the single-point-of-control approach used
// for type mapping elsewhere in the codebase: adjusting a platform's policy is
// a one-line change here instead of a scattered edit.
package dialect

import (
	"fmt"
	"strings"
)

// Platform identifies the target database family.
type Platform int

const (
	Generic Platform = iota
	Oracle
	MySQL
	MariaDB
	DB2
	SQLServer
	Sybase
	Postgres
	SQLite
)

// Parse maps a platform option value (case-insensitive) to a Platform.
// "auto" and "" return Generic; the caller is expected to refine Generic
// from the driver name when possible.
func Parse(name string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto", "generic":
		return Generic, nil
	case "oracle":
		return Oracle, nil
	case "mysql":
		return MySQL, nil
	case "mariadb":
		return MariaDB, nil
	case "db2":
		return DB2, nil
	case "mssql", "sqlserver":
		return SQLServer, nil
	case "sybase":
		return Sybase, nil
	case "pgsql", "postgres", "postgresql":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Generic, fmt.Errorf("unknown platform %q", name)
}

// FromDriver guesses the platform from a database/sql driver name. Unknown
// drivers map to Generic.
func FromDriver(driver string) Platform {
	switch strings.ToLower(driver) {
	case "mysql":
		return MySQL
	case "sqlserver", "mssql", "azuresql":
		return SQLServer
	case "pgx", "postgres", "postgresql":
		return Postgres
	case "sqlite", "sqlite3":
		return SQLite
	case "oracle", "godror", "go_ora":
		return Oracle
	}
	return Generic
}

func (p Platform) String() string {
	switch p {
	case Oracle:
		return "oracle"
	case MySQL:
		return "mysql"
	case MariaDB:
		return "mariadb"
	case DB2:
		return "db2"
	case SQLServer:
		return "sqlserver"
	case Sybase:
		return "sybase"
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "generic"
	}
}

// QuoteIdent quotes a single identifier segment for the platform:
// backticks for MySQL/MariaDB, brackets for SQL Server/Sybase, and double
// quotes elsewhere. Embedded closing characters are doubled.
func (p Platform) QuoteIdent(id string) string {
	switch p {
	case MySQL, MariaDB:
		return "`" + strings.ReplaceAll(id, "`", "``") + "`"
	case SQLServer, Sybase:
		return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
	}
}

// QuoteFQN quotes a possibly schema-qualified name like "public.events" to
// its fully quoted form. If no dot is present, a single quoted ident is
// returned.
func (p Platform) QuoteFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, seg := range parts {
		parts[i] = p.QuoteIdent(seg)
	}
	return strings.Join(parts, ".")
}

// QuoteIdents maps a list of column names to their quoted forms.
func (p Platform) QuoteIdents(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = p.QuoteIdent(c)
	}
	return out
}

// Placeholder renders the i-th (1-based) bind placeholder in the requested
// style: "?" for positional, ":" for :1,:2,... (Oracle style). Postgres
// callers going through pgx use $n regardless; that rewrite happens in the
// pgx executor, not here.
func Placeholder(style string, i int) string {
	if style == ":" {
		return fmt.Sprintf(":%d", i)
	}
	return "?"
}

// TruncateSQL returns the platform's statement for clearing a table. SQLite
// has no TRUNCATE; DELETE is its documented equivalent.
func (p Platform) TruncateSQL(table string) string {
	if p == SQLite {
		return "DELETE FROM " + p.QuoteFQN(table)
	}
	return "TRUNCATE TABLE " + p.QuoteFQN(table)
}

// MaxVarcharSize returns the largest portable length for a variable-length
// character column on the platform. Used when COLUMN_SIZE=MAXIMUM.
func (p Platform) MaxVarcharSize() int {
	switch p {
	case Oracle:
		return 4000
	case SQLServer, Sybase:
		return 8000
	case MySQL, MariaDB:
		return 16383
	case DB2:
		return 32672
	default:
		return 65535
	}
}

// TypeName renders the platform-specific DDL type for one of the generic
// inference kinds used by the loader's CREATE support: "boolean", "int",
// "bigint", "decimal", "date", "time", "timestamp", "timestamptz", "binary",
// "string". Size/precision/scale are applied where the platform needs them.
func (p Platform) TypeName(kind string, size, precision, scale int) string {
	switch kind {
	case "boolean":
		switch p {
		case Oracle:
			return "NUMBER(1)"
		case SQLServer, Sybase:
			return "BIT"
		case MySQL, MariaDB:
			return "TINYINT(1)"
		default:
			return "BOOLEAN"
		}
	case "int":
		if p == Oracle {
			return "NUMBER(10)"
		}
		return "INTEGER"
	case "bigint":
		if p == Oracle {
			return "NUMBER(19)"
		}
		return "BIGINT"
	case "decimal":
		if precision <= 0 {
			precision = 38
		}
		if scale < 0 {
			scale = 0
		}
		switch p {
		case Oracle:
			return fmt.Sprintf("NUMBER(%d,%d)", precision, scale)
		default:
			return fmt.Sprintf("DECIMAL(%d,%d)", precision, scale)
		}
	case "date":
		return "DATE"
	case "time":
		switch p {
		case Oracle:
			return "TIMESTAMP"
		case SQLServer:
			return "TIME"
		default:
			return "TIME"
		}
	case "timestamp":
		switch p {
		case SQLServer:
			return "DATETIME2"
		case MySQL, MariaDB:
			return "DATETIME"
		default:
			return "TIMESTAMP"
		}
	case "timestamptz":
		switch p {
		case Oracle:
			return "TIMESTAMP WITH TIME ZONE"
		case SQLServer:
			return "DATETIMEOFFSET"
		case Postgres:
			return "TIMESTAMPTZ"
		default:
			return "TIMESTAMP"
		}
	case "binary":
		switch p {
		case Oracle:
			return "BLOB"
		case SQLServer, Sybase:
			return "VARBINARY(MAX)"
		case Postgres:
			return "BYTEA"
		case MySQL, MariaDB:
			return "LONGBLOB"
		default:
			return "BLOB"
		}
	default: // string
		if size <= 0 {
			size = p.MaxVarcharSize()
		}
		switch p {
		case Oracle:
			return fmt.Sprintf("VARCHAR2(%d)", size)
		case Postgres, SQLite:
			if size >= p.MaxVarcharSize() {
				return "TEXT"
			}
			return fmt.Sprintf("VARCHAR(%d)", size)
		default:
			return fmt.Sprintf("VARCHAR(%d)", size)
		}
	}
}
