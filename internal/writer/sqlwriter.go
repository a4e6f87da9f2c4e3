package writer

import (
	"io"
	"strings"

	"csvflow/internal/codec"
)

// SQLStatementFormatter renders each row as a literal
// "INSERT INTO <table>(<columns>) VALUES (...);" statement. String-typed
// cells are single-quoted with embedded quotes doubled; empty cells on
// numeric and boolean columns emit the null keyword; overlong statements
// break onto a continuation line with a four-space indent.
type SQLStatementFormatter struct {
	prefix string // cached "INSERT INTO t(cols)\n  VALUES (" fragment
}

// Begin caches the statement prefix from the discovered columns.
func (f *SQLStatementFormatter) Begin(ctx *WriteContext, out io.Writer) error {
	cols := make([]string, 0, len(ctx.Columns))
	for _, d := range ctx.Columns {
		if ctx.Excluded(d.Name) {
			continue
		}
		cols = append(cols, d.Name)
	}
	f.prefix = "INSERT INTO " + ctx.Table + "(" + strings.Join(cols, ",") + ")" +
		ctx.Dialect.LineTerminator + "  VALUES ("
	return nil
}

// quotedSQL renders a string literal with embedded single quotes doubled.
func quotedSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// FormatRow renders one INSERT statement.
func (f *SQLStatementFormatter) FormatRow(ctx *WriteContext, cells []any, out io.Writer) error {
	var b strings.Builder
	b.WriteString(f.prefix)
	lineWidth := 2
	written := 0

	for i, d := range ctx.Columns {
		if ctx.Excluded(d.Name) {
			continue
		}
		if written > 0 {
			b.WriteByte(',')
			lineWidth++
		}
		if ctx.MaxLineWidth > 0 && lineWidth > ctx.MaxLineWidth {
			b.WriteString(ctx.Dialect.LineTerminator)
			b.WriteString("    ")
			lineWidth = 4
		}

		text, remapped := ctx.RemapValue(d.Name)
		if !remapped {
			text = CellText(cells[i])
		}

		var lit string
		switch {
		case text == "" && (d.Tag.IsNumeric() || d.Tag == codec.TagBoolean):
			lit = "null"
		case d.Tag.IsNumeric() || d.Tag == codec.TagBoolean:
			lit = text
		default:
			lit = quotedSQL(text)
		}
		b.WriteString(lit)
		lineWidth += len(lit)
		written++
	}

	b.WriteString(");")
	b.WriteString(ctx.Dialect.LineTerminator)
	_, err := io.WriteString(out, b.String())
	return err
}
