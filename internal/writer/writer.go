// Package writer drives the export flows: it glues a row source to the file
// sink through the value codec and a row formatter. Two formatters exist,
// delimited CSV lines and SQL INSERT statements, both implementations of the
// Formatter interface sharing a WriteContext value.
package writer

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"csvflow/internal/codec"
	"csvflow/internal/config"
	"csvflow/internal/csvio"
	"csvflow/internal/metrics"
	"csvflow/internal/sink"
	"csvflow/internal/source"
)

// Config carries the export settings shared by both formatters.
type Config struct {
	Dialect          csvio.Dialect
	IncludeHeader    bool
	ApplyQuotesToAll bool

	// Async enables prefetch: a background producer fills a bounded queue
	// while this goroutine encodes and writes.
	Async     bool
	FetchHint int
	RowLimit  int

	Codec config.CodecConfig

	// OracleControl emits a loader-control sidecar next to the CSV using the
	// discovered column types.
	OracleControl bool

	// LogSidecar pairs the output with a .log companion that records a
	// progress line on every physical flush.
	LogSidecar bool

	// Table names the target table for INSERT-script output.
	Table string
	// MaxLineWidth wraps INSERT statements beyond this width.
	MaxLineWidth int

	Logger *log.Logger
}

// WriteContext is the per-run state both formatters read: the discovered
// columns, the exclude/remap policy, and the dialect.
type WriteContext struct {
	Columns  []codec.Descriptor
	Exclude  map[string]bool   // upper-cased column names
	Remap    map[string]string // upper-cased column name -> replacement value
	Dialect  csvio.Dialect
	QuoteAll bool

	IncludeHeader bool

	Table        string
	MaxLineWidth int
}

// Excluded reports whether the named column is excluded from output.
func (c *WriteContext) Excluded(name string) bool {
	return c.Exclude[strings.ToUpper(strings.TrimSpace(name))]
}

// RemapValue returns the replacement value for the column, if any.
func (c *WriteContext) RemapValue(name string) (string, bool) {
	v, ok := c.Remap[strings.ToUpper(strings.TrimSpace(name))]
	return v, ok
}

// Formatter renders encoded rows into the output stream.
type Formatter interface {
	// Begin writes any per-file framing (header row, file header) before the
	// first data row.
	Begin(ctx *WriteContext, out io.Writer) error
	// FormatRow renders one encoded row.
	FormatRow(ctx *WriteContext, cells []any, out io.Writer) error
}

// Writer streams rows from a cursor into a file sink through a Formatter.
type Writer struct {
	cfg  Config
	out  *sink.FileSink
	fmtr Formatter
	wctx WriteContext
	enc  *codec.Encoder

	totalRows int64
}

// NewDelimited returns a Writer producing CSV output.
func NewDelimited(out *sink.FileSink, cfg Config) *Writer {
	return newWriter(out, cfg, &CSVLineFormatter{})
}

// NewSQLScript returns a Writer producing an INSERT-statement script for
// cfg.Table.
func NewSQLScript(out *sink.FileSink, cfg Config) *Writer {
	if cfg.MaxLineWidth <= 0 {
		cfg.MaxLineWidth = 9999
	}
	return newWriter(out, cfg, &SQLStatementFormatter{})
}

func newWriter(out *sink.FileSink, cfg Config, f Formatter) *Writer {
	if cfg.Dialect.Separator == 0 {
		cfg.Dialect = csvio.DefaultDialect()
	}
	if cfg.Dialect.LineTerminator == "" {
		cfg.Dialect.LineTerminator = "\n"
	}
	return &Writer{
		cfg:  cfg,
		out:  out,
		fmtr: f,
		enc:  codec.NewEncoder(cfg.Codec),
		wctx: WriteContext{
			Exclude:       map[string]bool{},
			Remap:         map[string]string{},
			Dialect:       cfg.Dialect,
			QuoteAll:      cfg.ApplyQuotesToAll,
			IncludeHeader: cfg.IncludeHeader,
			Table:         cfg.Table,
			MaxLineWidth:  cfg.MaxLineWidth,
		},
	}
}

// SetExclude drops the named column from the output when on is true.
func (w *Writer) SetExclude(column string, on bool) {
	w.wctx.Exclude[strings.ToUpper(strings.TrimSpace(column))] = on
}

// SetRemap substitutes a fixed value for every cell of the named column.
// The remap takes priority over the original cell value.
func (w *Writer) SetRemap(column, value string) {
	w.wctx.Remap[strings.ToUpper(strings.TrimSpace(column))] = strings.TrimSpace(value)
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int64 { return w.totalRows }

func (w *Writer) logf(format string, args ...any) {
	if w.cfg.Logger != nil {
		w.cfg.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// WriteAll streams every row from cur into the sink: open the source, emit
// the framing (and the Oracle control sidecar when configured), then drive
// either the prefetch or the pull path. It returns the number of rows
// written. The source is closed before returning; the sink stays open so the
// caller controls teardown.
func (w *Writer) WriteAll(ctx context.Context, cur source.Cursor) (int64, error) {
	start := time.Now()
	rs, err := source.Open(cur, w.cfg.FetchHint)
	if err != nil {
		return 0, err
	}
	defer rs.Close()

	w.wctx.Columns = rs.Descriptors()

	if w.cfg.LogSidecar {
		if _, err := w.out.AttachLog(); err != nil {
			return 0, err
		}
		w.writeLog()
	}
	if w.cfg.OracleControl {
		if _, err := WriteControlFile(w.out.Path(), &w.wctx, nil); err != nil {
			return 0, err
		}
	}
	if err := w.fmtr.Begin(&w.wctx, w.out); err != nil {
		return 0, err
	}

	emit := func(row *source.Row) error {
		cells := row.V
		for i := range cells {
			enc, err := w.enc.Encode(cells[i], &w.wctx.Columns[i])
			if err != nil {
				return err
			}
			cells[i] = enc
		}
		return w.WriteRow(cells)
	}

	if w.cfg.Async {
		if _, err := rs.Prefetch(ctx, emit, source.PrefetchOptions{FetchLimit: w.cfg.RowLimit}); err != nil {
			return w.totalRows, err
		}
	} else {
		for {
			if w.cfg.RowLimit > 0 && w.totalRows >= int64(w.cfg.RowLimit) {
				break
			}
			row, err := rs.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				return w.totalRows, err
			}
			err = emit(row)
			row.Free()
			if err != nil {
				return w.totalRows, err
			}
		}
	}

	if _, err := w.out.Flush(true); err != nil {
		return w.totalRows, err
	}
	w.writeLog()

	elapsed := time.Since(start)
	rps := float64(w.totalRows) / maxSeconds(elapsed)
	w.logf("writer: done rows=%s bytes=%s elapsed=%s rps=%.0f xxh3=%016x",
		humanize.Comma(w.totalRows), humanize.IBytes(uint64(w.out.Accepted())),
		elapsed.Truncate(time.Millisecond), rps, w.out.Checksum())
	metrics.IncCounter(metrics.RowsWritten, float64(w.totalRows), metrics.Labels{"flow": "export"})
	metrics.IncCounter(metrics.BytesWritten, float64(w.out.Accepted()), metrics.Labels{"flow": "export"})
	return w.totalRows, nil
}

func maxSeconds(d time.Duration) float64 {
	s := d.Seconds()
	if s <= 0 {
		return 1e-9
	}
	return s
}

// WriteRow renders one encoded row and lets the sink decide whether a
// physical flush is due. Row-level failures are fatal: a delimited file has
// no partial-row recovery.
func (w *Writer) WriteRow(cells []any) error {
	if err := w.fmtr.FormatRow(&w.wctx, cells, w.out); err != nil {
		return err
	}
	w.totalRows++
	flushed, err := w.out.Flush(false)
	if err != nil {
		return err
	}
	if flushed {
		w.writeLog()
	}
	return nil
}

// writeLog records a progress line in the attached .log sidecar, if any.
func (w *Writer) writeLog() {
	l := w.out.Log()
	if l == nil {
		return
	}
	_ = l.WriteString(fmt.Sprintf("rows=%d bytes=%d position=%d\n",
		w.totalRows, w.out.Accepted(), w.out.Position()))
}

// CellText textualises an encoded cell for output: nil becomes the empty
// string, booleans and integers use their canonical form.
func CellText(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case bool:
		return strconv.FormatBool(c)
	case int32:
		return strconv.FormatInt(int64(c), 10)
	case int64:
		return strconv.FormatInt(c, 10)
	default:
		return fmt.Sprint(c)
	}
}

// CSVLineFormatter renders delimited rows.
type CSVLineFormatter struct{}

// Begin writes the header row of column names when the context asks for one,
// honouring the exclude policy.
func (f *CSVLineFormatter) Begin(ctx *WriteContext, out io.Writer) error {
	if !ctx.IncludeHeader {
		return nil
	}
	var b strings.Builder
	written := 0
	for _, d := range ctx.Columns {
		if ctx.Excluded(d.Name) {
			continue
		}
		if written > 0 {
			b.WriteRune(ctx.Dialect.Separator)
		}
		b.WriteString(csvio.FormatField(d.Name, ctx.Dialect, ctx.QuoteAll))
		written++
	}
	b.WriteString(ctx.Dialect.LineTerminator)
	_, err := io.WriteString(out, b.String())
	return err
}

// FormatRow writes one CSV line: excluded cells vanish, remapped cells use
// their replacement value, and quoting follows the dialect.
func (f *CSVLineFormatter) FormatRow(ctx *WriteContext, cells []any, out io.Writer) error {
	var b strings.Builder
	written := 0
	for i, d := range ctx.Columns {
		if ctx.Excluded(d.Name) {
			continue
		}
		text, ok := ctx.RemapValue(d.Name)
		if !ok {
			text = CellText(cells[i])
		}
		if written > 0 {
			b.WriteRune(ctx.Dialect.Separator)
		}
		b.WriteString(csvio.FormatField(text, ctx.Dialect, ctx.QuoteAll))
		written++
	}
	b.WriteString(ctx.Dialect.LineTerminator)
	_, err := io.WriteString(out, b.String())
	return err
}
