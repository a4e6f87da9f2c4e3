package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"csvflow/internal/codec"
)

// ctlType maps a column tag to its loader-control type clause. An empty
// string means "generic field" (NULLIF only); "filler" marks columns the
// loader should skip.
func ctlType(tag codec.TypeTag) string {
	switch tag {
	case codec.TagDate:
		return "date"
	case codec.TagTimestamp:
		return "timestamp"
	case codec.TagTimestampTZ:
		return "timestamptz"
	case codec.TagObject:
		return "filler"
	default:
		return ""
	}
}

// ctlChar renders a separator/quote character for the control file:
// printable characters as 'c', everything else as X'hh'.
func ctlChar(c rune) string {
	if c < 128 && unicode.IsPrint(c) {
		return "'" + string(c) + "'"
	}
	return fmt.Sprintf("X'%02x'", c)
}

// WriteControlFile emits the Oracle SQL*Loader control sidecar next to the
// CSV at csvPath, deriving the column clauses from the write context. rowSep
// optionally pins the loader's record separator ("STR '...'"). Returns the
// sidecar path.
func WriteControlFile(csvPath string, ctx *WriteContext, rowSep []byte) (string, error) {
	base := filepath.Base(csvPath)
	for _, suffix := range []string{".gz", ".zip"} {
		base = strings.TrimSuffix(base, suffix)
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))

	path := filepath.Join(filepath.Dir(csvPath), base+".ctl")

	var b strings.Builder
	b.WriteString("OPTIONS (SKIP=1, ROWS=3000, BINDSIZE=16777216, STREAMSIZE=33554432,\n")
	b.WriteString("         ERRORS=1000, READSIZE=16777216, DIRECT=FALSE)\n")
	b.WriteString("LOAD DATA\n")
	b.WriteString("INFILE      " + base + ".csv")
	if len(rowSep) > 0 {
		b.WriteString(fmt.Sprintf(" \"STR '%s'\"", rowSep))
	}
	b.WriteString("\n")
	b.WriteString("BADFILE     " + base + ".bad\n")
	b.WriteString("DISCARDFILE " + base + ".dsc\n")
	b.WriteString("APPEND INTO TABLE " + base + "\n")
	b.WriteString("FIELDS CSV TERMINATED BY " + ctlChar(ctx.Dialect.Separator))
	b.WriteString(" OPTIONALLY ENCLOSED BY " + ctlChar(ctx.Dialect.Quote) +
		" AND " + ctlChar(ctx.Dialect.Quote) + " TRAILING NULLCOLS\n(\n")

	written := 0
	for _, d := range ctx.Columns {
		if ctx.Excluded(d.Name) {
			continue
		}
		if written > 0 {
			b.WriteString(",\n")
		}
		colName := `"` + d.Name + `"`
		b.WriteString("    ")
		b.WriteString(fmt.Sprintf("%-32s", colName))
		switch t := ctlType(d.Tag); t {
		case "filler":
			b.WriteString("FILLER")
		case "date":
			b.WriteString(fmt.Sprintf("DATE \"YYYY-MM-DD HH24:MI:SS\" NULLIF %s=BLANKS", colName))
		case "timestamp":
			b.WriteString(fmt.Sprintf("TIMESTAMP \"YYYY-MM-DD HH24:MI:SSXFF\" NULLIF %s=BLANKS", colName))
		case "timestamptz":
			b.WriteString(fmt.Sprintf("TIMESTAMP WITH TIME ZONE \"YYYY-MM-DD HH24:MI:SSXFF TZH\" NULLIF %s=BLANKS", colName))
		default:
			b.WriteString(fmt.Sprintf("NULLIF %s=BLANKS", colName))
		}
		written++
	}
	b.WriteString("\n)\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("control file: %w", err)
	}
	return path, nil
}
