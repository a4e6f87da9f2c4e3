package loader

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"csvflow/internal/codec"
	"csvflow/internal/config"
	"csvflow/internal/csvio"
)

// fakeExecutor records batches instead of touching a database.
type fakeExecutor struct {
	sql     string
	pending [][]any
	execs   [][]int // sizes of executed batches
	rows    [][]any // all rows "committed"

	// failRows marks 0-based absolute row indexes that fail per-row on the
	// exec that contains them.
	failRows map[int]error
	seen     int
}

func (f *fakeExecutor) Prepare(_ context.Context, s string) error { f.sql = s; return nil }
func (f *fakeExecutor) Add(p []any)                               { f.pending = append(f.pending, p) }
func (f *fakeExecutor) Len() int                                  { return len(f.pending) }
func (f *fakeExecutor) Close() error                              { return nil }

func (f *fakeExecutor) Exec(_ context.Context) error {
	batch := f.pending
	f.pending = nil
	f.execs = append(f.execs, []int{len(batch)})

	perRow := make([]error, len(batch))
	var first error
	for i := range batch {
		abs := f.seen + i
		if err, ok := f.failRows[abs]; ok {
			perRow[i] = err
			if first == nil {
				first = err
			}
			continue
		}
		f.rows = append(f.rows, batch[i])
	}
	f.seen += len(batch)
	if first != nil {
		return &BatchError{PerRow: perRow, First: first}
	}
	return nil
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return path
}

func quietOptions(t *testing.T) config.LoadOptions {
	t.Helper()
	opt := config.DefaultLoadOptions()
	opt.Logger = log.New(io.Discard, "", 0)
	return opt
}

var testColumns = []DBColumn{
	{Name: "id", TypeName: "INTEGER", Kind: codec.KindInt},
	{Name: "amount", TypeName: "DECIMAL(10,2)", Kind: codec.KindDecimal, Size: 10},
}

func newTestLoader(t *testing.T, opt config.LoadOptions) (*Loader, *fakeExecutor) {
	t.Helper()
	l, err := New(nil, "accounts", opt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	fe := &fakeExecutor{}
	l.SetExecutor(fe)
	l.SetColumns(testColumns)
	return l, fe
}

func TestLoaderHappyPath(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,10.50\n2,20.00\n3,30\n4,40.5\n")
	opt := quietOptions(t)
	opt.BatchRows = 3

	l, fe := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 4 {
		t.Fatalf("committed = %d, want 4", committed)
	}
	st := l.Stats()
	if st.TotalRows != 4 || st.TotalErrors != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if len(fe.execs) != 2 || fe.execs[0][0] != 3 || fe.execs[1][0] != 1 {
		t.Fatalf("batch sizes = %v, want [3] [1]", fe.execs)
	}
	// Spot-check one bound parameter shape.
	if fe.rows[0][0] != int64(1) {
		t.Fatalf("id param = %v (%T)", fe.rows[0][0], fe.rows[0][0])
	}
	if fe.rows[0][1] != codec.Decimal("10.5") {
		t.Fatalf("amount param = %v (%T)", fe.rows[0][1], fe.rows[0][1])
	}
	if !strings.Contains(fe.sql, `INSERT INTO "accounts"("id","amount") VALUES (?,?)`) {
		t.Fatalf("insert sql = %q", fe.sql)
	}
}

func TestLoaderPerRowBindFailure(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,10.50\n2,not_a_number\n3,30\n4,40.5\n")
	opt := quietOptions(t)
	opt.BatchRows = 3

	l, fe := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 3 {
		t.Fatalf("committed = %d, want 3", committed)
	}
	st := l.Stats()
	if st.TotalRows != 4 || st.TotalErrors != 1 {
		t.Fatalf("stats = %+v", st)
	}

	bad, rerr := os.ReadFile(path + ".bad")
	if rerr != nil {
		t.Fatalf("bad file: %v", rerr)
	}
	text := string(bad)
	if !strings.HasPrefix(text, "id,amount\n") {
		t.Fatalf("bad file must start with the header: %q", text)
	}
	if !strings.Contains(text, "[ERROR] ") || !strings.Contains(text, "not_a_number") {
		t.Fatalf("bad file content: %q", text)
	}
	if !strings.Contains(text, "2,not_a_number\n") {
		t.Fatalf("diverted row missing: %q", text)
	}
	if got := len(fe.rows); got != 3 {
		t.Fatalf("committed rows in executor = %d", got)
	}
}

func TestLoaderBatchFailureDivertsRow(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,1\n2,2\n3,3\n")
	opt := quietOptions(t)
	opt.BatchRows = 3

	l, fe := newTestLoader(t, opt)
	fe.failRows = map[int]error{2: errors.New("constraint violated")}

	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 2 {
		t.Fatalf("committed = %d, want 2", committed)
	}
	st := l.Stats()
	if st.TotalRows != 3 || st.TotalErrors != 1 {
		t.Fatalf("stats = %+v", st)
	}
	bad, _ := os.ReadFile(path + ".bad")
	if !strings.Contains(string(bad), "[ERROR] constraint violated") {
		t.Fatalf("bad file content: %q", bad)
	}
	if !strings.Contains(string(bad), "3,3\n") {
		t.Fatalf("offending row missing: %q", bad)
	}
}

func TestLoaderErrorCapZeroHardStops(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,1\n2,2\n3,3\n")
	opt := quietOptions(t)
	opt.BatchRows = 3
	opt.ErrorLimit = 0

	l, fe := newTestLoader(t, opt)
	fe.failRows = map[int]error{2: errors.New("boom")}

	_, err := l.Run(context.Background(), path)
	if !errors.Is(err, ErrTooManyErrors) {
		t.Fatalf("want ErrTooManyErrors, got %v", err)
	}
}

func TestLoaderRowLimit(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,1\n2,2\n3,3\n4,4\n")
	opt := quietOptions(t)
	opt.RowLimit = 2

	l, fe := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 2 || len(fe.rows) != 2 {
		t.Fatalf("committed = %d, executor rows = %d", committed, len(fe.rows))
	}
}

func TestLoaderSkipRowsAndNoHeader(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "garbage line\n1,1\n2,2\n")
	opt := quietOptions(t)
	opt.SkipRows = 1
	opt.HasHeader = false

	l, fe := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 2 {
		t.Fatalf("committed = %d", committed)
	}
	// Positional mapping: both DB columns bound from slots 0 and 1.
	if len(fe.rows[0]) != 2 {
		t.Fatalf("params = %v", fe.rows[0])
	}
}

func TestLoaderMapColumnNamesAndSkip(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "ident,extra,amount\n1,x,2.5\n")
	opt := quietOptions(t)
	opt.MapColumnNames = map[string]string{"ident": "id"}
	// default SKIP_COLUMNS=auto silently drops "extra"

	l, fe := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if committed != 1 {
		t.Fatalf("committed = %d", committed)
	}
	if fe.rows[0][0] != int64(1) || fe.rows[0][1] != codec.Decimal("2.5") {
		t.Fatalf("params = %v", fe.rows[0])
	}
}

func TestLoaderSchemaMismatchWithoutAutoSkip(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,mystery\n1,x\n")
	opt := quietOptions(t)
	opt.SkipColumns = map[string]bool{} // SKIP_COLUMNS=off

	l, _ := newTestLoader(t, opt)
	_, err := l.Run(context.Background(), path)
	var sm *SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("want SchemaMismatchError, got %v", err)
	}
	if sm.Column != "mystery" {
		t.Fatalf("column = %q", sm.Column)
	}
}

func TestLoaderShowDMLSkipsExecution(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,1\n")
	opt := quietOptions(t)
	opt.Show = config.ShowDML

	var sb strings.Builder
	opt.Logger = log.New(&sb, "", 0)

	l, fe := newTestLoader(t, opt)
	if _, err := l.Run(context.Background(), path); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(fe.rows) != 0 || len(fe.execs) != 0 {
		t.Fatal("SHOW=DML must not execute")
	}
	if !strings.Contains(sb.String(), "INSERT INTO") {
		t.Fatalf("DML not shown: %q", sb.String())
	}
}

func TestLoaderAccountingInvariant(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "in.csv", "id,amount\n1,1\nbad,2\n3,x\n4,4\n")
	opt := quietOptions(t)

	l, _ := newTestLoader(t, opt)
	committed, err := l.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := l.Stats()
	if st.TotalRows != committed+st.TotalErrors {
		t.Fatalf("invariant broken: rows=%d committed=%d errors=%d",
			st.TotalRows, committed, st.TotalErrors)
	}
	if st.TotalErrors != 2 {
		t.Fatalf("errors = %d, want 2", st.TotalErrors)
	}
	if l.bad.Rows() != st.TotalErrors {
		t.Fatalf("bad rows = %d, errors = %d", l.bad.Rows(), st.TotalErrors)
	}
}

func TestResolveSchemaPositional(t *testing.T) {
	t.Parallel()

	proj, err := resolveSchema(nil, testColumns, config.DefaultLoadOptions(), "t")
	if err != nil {
		t.Fatalf("resolveSchema: %v", err)
	}
	if len(proj) != 2 || proj[0].CSVIndex != 0 || proj[1].CSVIndex != 1 {
		t.Fatalf("projection = %+v", proj)
	}
}

func TestBuildInsertSQLPlaceholderStyles(t *testing.T) {
	t.Parallel()

	proj := []projection{
		{CSVIndex: 0, Col: testColumns[0]},
		{CSVIndex: 1, Col: testColumns[1]},
	}
	got := buildInsertSQL(mustPlatform(t, "mysql"), "db.t", proj, "?")
	if got != "INSERT INTO `db`.`t`(`id`,`amount`) VALUES (?,?)" {
		t.Fatalf("mysql sql = %q", got)
	}
	got = buildInsertSQL(mustPlatform(t, "oracle"), "t", proj, ":")
	if got != `INSERT INTO "t"("id","amount") VALUES (:1,:2)` {
		t.Fatalf("oracle sql = %q", got)
	}
}

func TestEstimateRowBytes(t *testing.T) {
	t.Parallel()

	d := csvio.DefaultDialect()
	// "ab","" -> 2*2 chars + 1 delimiter + 2 null + 2 line end = 9
	if got := estimateRowBytes([]string{"ab", ""}, d); got != 9 {
		t.Fatalf("estimate = %d, want 9", got)
	}
	// quoted field adds 2 quotes + 1 per internal quote
	if got := estimateRowBytes([]string{`a"b`}, d); got != 2*3+2+1+2 {
		t.Fatalf("quoted estimate = %d", got)
	}
}

func TestRewritePlaceholders(t *testing.T) {
	t.Parallel()

	in := `INSERT INTO "t?"("a") VALUES (?,?)`
	want := `INSERT INTO "t?"("a") VALUES ($1,$2)`
	if got := rewritePlaceholders(in); got != want {
		t.Fatalf("rewrite = %q, want %q", got, want)
	}
}
