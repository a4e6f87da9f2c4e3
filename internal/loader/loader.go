// Package loader implements the CSV-to-table flow: schema resolution against
// the target table, batched parameterised inserts with per-row error
// isolation, progress reporting, a .bad sidecar for rejected rows, and
// optional DDL generation for new tables.
//
// One Run call walks the state machine
//
//	READY → OPEN → SCHEMA_RESOLVED → (LOAD_BATCH ↺)* → DONE | ABORTED
//
// Per-row and per-batch failures are recovered locally (error counter, bad
// row, continue) until the configured error cap; everything else unwinds
// after cleanup.
package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"csvflow/internal/charset"
	"csvflow/internal/codec"
	"csvflow/internal/config"
	"csvflow/internal/csvio"
	"csvflow/internal/dialect"
	"csvflow/internal/metrics"
)

// ErrTooManyErrors is the hard stop raised when the per-row error cap is
// exceeded.
var ErrTooManyErrors = errors.New("error cap exceeded")

// Loader owns one load invocation's state.
type Loader struct {
	db       *sql.DB
	exec     BatchExecutor
	platform dialect.Platform
	table    string
	opt      config.LoadOptions

	dec   *codec.Decoder
	stats Stats
	cols  []DBColumn

	bad    *badFile
	logger *log.Logger

	// batchRows retains the parsed fields of each bound row so a failed
	// execute can divert exactly those rows.
	batchRows [][]string
}

// New builds a Loader over a database/sql handle. The executor defaults to
// the generic SQL batch executor; SetExecutor swaps in a driver-specific one
// (e.g. the pgx batch executor).
func New(db *sql.DB, table string, opt config.LoadOptions) (*Loader, error) {
	p, err := dialect.Parse(opt.Platform)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		db:       db,
		exec:     NewSQLBatchExecutor(db),
		platform: p,
		table:    table,
		opt:      opt,
		logger:   opt.Logger,
	}
	if l.logger == nil {
		l.logger = log.New(os.Stdout, "", log.LstdFlags)
	}
	return l, nil
}

// SetExecutor replaces the batch executor. Call before Run.
func (l *Loader) SetExecutor(e BatchExecutor) { l.exec = e }

// SetColumns supplies the target-table columns, skipping the metadata query.
// Required when Run drives a non-database/sql executor (e.g. pgx) and the
// db handle is nil.
func (l *Loader) SetColumns(cols []DBColumn) { l.cols = cols }

// Stats exposes the counters; valid after Run returns.
func (l *Loader) Stats() *Stats { return &l.stats }

func (l *Loader) logf(format string, args ...any) { l.logger.Printf(format, args...) }

// handleError accounts one recovered row error and enforces the cap.
// The cap is the number of tolerated errors: ERRORS=0 stops on the first.
func (l *Loader) handleError(msg string) error {
	l.stats.TotalErrors++
	metrics.IncCounter(metrics.RowsFailed, 1, metrics.Labels{"flow": "load"})
	if l.opt.ErrorLimit >= 0 && l.stats.TotalErrors > int64(l.opt.ErrorLimit) {
		return fmt.Errorf("%w: %d errors (cap %d): last: %s",
			ErrTooManyErrors, l.stats.TotalErrors, l.opt.ErrorLimit, firstLine(msg))
	}
	return nil
}

// openInput opens the CSV input with charset handling and positions it past
// the configured skip lines.
func (l *Loader) openInput(path string) (io.ReadCloser, *csvio.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open input: %w", err)
	}

	var r io.Reader
	enc := l.opt.Encoding
	if enc == "" || enc == "auto" {
		name, dec, derr := charset.DetectReader(f)
		if derr != nil {
			f.Close()
			return nil, nil, fmt.Errorf("charset detect: %w", derr)
		}
		l.logf("loader: detected charset=%s file=%s", name, path)
		r = dec
	} else {
		dec, derr := charset.NewReader(f, enc)
		if derr != nil {
			f.Close()
			return nil, nil, derr
		}
		r = dec
	}

	cr := csvio.NewReader(r, csvio.Dialect{
		Separator: l.opt.Delimiter,
		Quote:     l.opt.Enclosure,
		Escape:    l.opt.Escape,
	})
	if l.opt.SkipRows > 0 {
		if err := cr.Skip(l.opt.SkipRows); err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("skip rows: %w", err)
		}
	}
	return f, cr, nil
}

// Run executes the load and returns the number of successfully committed
// rows. Cleanup (bad file, input, executor) happens on every exit path;
// secondary errors during cleanup attach to the primary via errors.Join.
func (l *Loader) Run(ctx context.Context, path string) (committed int64, err error) {
	l.stats.Start = time.Now()

	if st, serr := os.Stat(path); serr != nil {
		return 0, fmt.Errorf("input: %w", serr)
	} else if st.IsDir() {
		return 0, fmt.Errorf("input %s is a directory", path)
	}

	// OPEN
	in, cr, err := l.openInput(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	// Optional CREATE: infer a table definition from a sample pass before
	// the main read.
	if l.opt.Create {
		if err := l.createTable(ctx, path); err != nil {
			return 0, err
		}
	}
	if l.opt.Truncate {
		if err := l.truncate(ctx); err != nil {
			return 0, err
		}
	}

	// Header
	var header []string
	if l.opt.HasHeader {
		h, herr := cr.ReadNext()
		if herr == io.EOF {
			return 0, fmt.Errorf("input %s is empty", path)
		}
		if herr != nil {
			return 0, fmt.Errorf("read header: %w", herr)
		}
		header = h
	}

	// SCHEMA_RESOLVED
	dbCols := l.cols
	if dbCols == nil {
		dbCols, err = fetchColumns(ctx, l.db, l.platform, l.table, l.opt.ColumnInfoSQL)
		if err != nil {
			return 0, err
		}
	}
	proj, err := resolveSchema(header, dbCols, l.opt, l.table)
	if err != nil {
		return 0, err
	}
	insertSQL := buildInsertSQL(l.platform, l.table, proj, l.opt.VariableFormat)
	if l.opt.Show.ShowsDML() {
		l.logf("loader: DML: %s", insertSQL)
	}
	if err := l.exec.Prepare(ctx, insertSQL); err != nil {
		return 0, err
	}
	defer func() {
		if cerr := l.exec.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	l.bad, err = openBadFile(path, csvio.Dialect{
		Separator: l.opt.Delimiter, Quote: l.opt.Enclosure, Escape: l.opt.Escape,
	}, header)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := l.bad.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	l.dec = codec.NewDecoder(l.opt.Codec(),
		l.opt.DateFormat, l.opt.TimestampFormat, l.opt.TimestampTZFormat)

	// LOAD_BATCH loop
	dialectForBytes := csvio.Dialect{Separator: l.opt.Delimiter, Quote: l.opt.Enclosure, Escape: l.opt.Escape}
	progressInterval := int64(l.opt.ReportMB) << 20

	for {
		if err := ctx.Err(); err != nil {
			return l.stats.Committed(), errors.Join(err, l.flushTail(ctx))
		}
		if l.opt.RowLimit > 0 && l.stats.TotalRows >= int64(l.opt.RowLimit) {
			break
		}

		fields, rerr := cr.ReadNext()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			// A structurally broken row is a per-row error.
			l.stats.TotalRows++
			if herr := l.handleError(rerr.Error()); herr != nil {
				return l.stats.Committed(), errors.Join(herr, l.flushTail(ctx))
			}
			_ = l.bad.WriteBadRow(nil, rerr.Error())
			continue
		}

		l.stats.TotalRows++
		l.stats.TotalBytes += estimateRowBytes(fields, dialectForBytes)

		params, bindErr := l.bindRow(fields, proj)
		if bindErr != nil {
			if herr := l.handleError(bindErr.Error()); herr != nil {
				return l.stats.Committed(), errors.Join(herr, l.flushTail(ctx))
			}
			if werr := l.bad.WriteBadRow(fields, bindErr.Error()); werr != nil {
				return l.stats.Committed(), werr
			}
			continue
		}

		if !l.opt.Show.ShowsDML() {
			l.exec.Add(params)
			l.batchRows = append(l.batchRows, fields)
			if l.exec.Len() >= l.opt.BatchRows {
				if err := l.executeBatch(ctx); err != nil {
					return l.stats.Committed(), err
				}
				if l.stats.ProgressDue(progressInterval) {
					l.progress()
				}
			}
		}

		l.dec.RowDone()
	}

	// Drain tail.
	if err := l.flushTail(ctx); err != nil {
		return l.stats.Committed(), err
	}

	// DONE
	l.summary()
	return l.stats.Committed(), nil
}

// bindRow decodes the projected CSV fields into bind parameters.
func (l *Loader) bindRow(fields []string, proj []projection) ([]any, error) {
	params := make([]any, len(proj))
	for i, pr := range proj {
		var cell string
		if pr.CSVIndex < len(fields) {
			cell = fields[pr.CSVIndex]
		}
		v, err := l.dec.Decode(cell, pr.Col.Kind)
		if err != nil {
			return nil, err
		}
		params[i] = v
	}
	return params, nil
}

// executeBatch runs the pending batch, diverting failed rows on a partial
// failure and propagating everything else.
func (l *Loader) executeBatch(ctx context.Context) error {
	rows := l.batchRows
	l.batchRows = l.batchRows[:0]

	start := time.Now()
	err := l.exec.Exec(ctx)
	metrics.ObserveHistogram(metrics.BatchSeconds, time.Since(start).Seconds(), metrics.Labels{"flow": "load"})
	if err == nil {
		return nil
	}

	var be *BatchError
	if !errors.As(err, &be) {
		return err
	}

	l.logf("loader: %s", firstLine(be.Error()))
	for i, rowErr := range be.PerRow {
		if rowErr == nil || i >= len(rows) {
			continue
		}
		if herr := l.handleError(rowErr.Error()); herr != nil {
			return herr
		}
		if werr := l.bad.WriteBadRow(rows[i], rowErr.Error()); werr != nil {
			return werr
		}
	}
	return nil
}

// flushTail executes the final partial batch.
func (l *Loader) flushTail(ctx context.Context) error {
	if l.exec.Len() == 0 {
		return nil
	}
	return l.executeBatch(ctx)
}

// progress emits one progress line with byte and row deltas.
func (l *Loader) progress() {
	rows, bytes, since := l.stats.ProgressTaken()
	rps := float64(rows) / maxSeconds(since)
	l.logf("loader: progress rows=%s errors=%d read=%s delta=%s rps=%.0f",
		humanize.Comma(l.stats.TotalRows), l.stats.TotalErrors,
		humanize.IBytes(uint64(l.stats.TotalBytes)), humanize.IBytes(uint64(bytes)), rps)
}

func maxSeconds(d time.Duration) float64 {
	s := d.Seconds()
	if s <= 0 {
		return 1e-9
	}
	return s
}

// summary emits the final line.
func (l *Loader) summary() {
	elapsed := time.Since(l.stats.Start)
	mib := float64(l.stats.TotalBytes) / (1 << 20)
	rate := mib / maxSeconds(elapsed)
	l.logf("loader: done elapsed=%s rows=%s ok=%s failed=%d size=%.1fMiB throughput=%.1fMiB/s",
		elapsed.Truncate(time.Millisecond),
		humanize.Comma(l.stats.TotalRows),
		humanize.Comma(l.stats.Committed()),
		l.stats.TotalErrors, mib, rate)
	metrics.IncCounter(metrics.RowsRead, float64(l.stats.TotalRows), metrics.Labels{"flow": "load"})
	_ = metrics.Flush()
}

// createTable samples the input, infers a definition, and executes (or, under
// SHOW, prints) the CREATE TABLE statement.
func (l *Loader) createTable(ctx context.Context, path string) error {
	in, cr, err := l.openInput(path)
	if err != nil {
		return err
	}
	defer in.Close()

	var header []string
	if l.opt.HasHeader {
		h, herr := cr.ReadNext()
		if herr != nil {
			return fmt.Errorf("sample header: %w", herr)
		}
		header = h
	}

	scan := l.opt.ScanRows
	if scan <= 0 {
		scan = 200
	}
	var sample [][]string
	for len(sample) < scan {
		row, rerr := cr.ReadNext()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			continue
		}
		empty := true
		for _, f := range row {
			if strings.TrimSpace(f) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		if len(header) == 0 {
			header = make([]string, len(row))
			for i := range header {
				header[i] = fmt.Sprintf("col_%d", i+1)
			}
			sample = append(sample, row)
			continue
		}
		sample = append(sample, row)
	}

	defs := InferTable(header, sample)
	ddl := CreateTableSQL(l.platform, l.table, defs, l.opt.ColumnSize)
	if l.opt.Show.ShowsDDL() {
		l.logf("loader: DDL: %s", ddl)
		return nil
	}
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	l.logf("loader: created table %s (%d columns)", l.table, len(defs))
	return nil
}

// truncate clears the target table (or prints the statement under SHOW).
func (l *Loader) truncate(ctx context.Context) error {
	stmt := l.platform.TruncateSQL(l.table)
	if l.opt.Show.ShowsDML() {
		l.logf("loader: DML: %s", stmt)
		return nil
	}
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}
