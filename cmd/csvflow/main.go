// Command csvflow moves tabular rows between live query cursors, delimited
// files, and database tables.
//
// Three subcommands compose the same primitives:
//
//	csvflow export -driver pgx -dsn ... -query "SELECT ..." -out data.csv.gz
//	csvflow script -driver mysql -dsn ... -query "SELECT ..." -table t -out t.sql
//	csvflow load   -driver sqlite -dsn file.db -table t -file data.csv -o BATCH_ROWS=4096
//
// Loader options (-o KEY=VALUE, repeatable) follow the documented option
// table; names and enumerated values are case-insensitive.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	// Database drivers registered for database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"csvflow/internal/config"
	"csvflow/internal/csvio"
	"csvflow/internal/loader"
	"csvflow/internal/metrics"
	"csvflow/internal/metrics/datadog"
	"csvflow/internal/metrics/prompush"
	"csvflow/internal/sink"
	"csvflow/internal/source"
	"csvflow/internal/writer"
)

func main() {
	log.SetFlags(log.LstdFlags)
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "export":
		err = runExport(ctx, os.Args[2:], false)
	case "script":
		err = runExport(ctx, os.Args[2:], true)
	case "load":
		err = runLoad(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  csvflow export -driver <name> -dsn <dsn> -query <sql> -out <file[.gz|.zip]> [flags]
  csvflow script -driver <name> -dsn <dsn> -query <sql> -table <t> -out <file> [flags]
  csvflow load   -driver <name> -dsn <dsn> -table <t> -file <csv> [-o KEY=VALUE]... [flags]`)
}

func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(1)
}

// kvFlags collects repeatable -o KEY=VALUE options.
type kvFlags []string

func (k *kvFlags) String() string     { return strings.Join(*k, ",") }
func (k *kvFlags) Set(s string) error { *k = append(*k, s); return nil }

// setupMetrics wires the optional metrics backend: pushgateway, datadog, or
// none (default).
func setupMetrics(backendName, gatewayURL, statsdAddr, job string) error {
	switch strings.ToLower(backendName) {
	case "", "none":
		return nil
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gatewayURL)
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	case "datadog":
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: statsdAddr, Namespace: "csvflow."})
		if err != nil {
			return err
		}
		metrics.SetBackend(b)
	default:
		return fmt.Errorf("unknown metrics backend %q", backendName)
	}
	return nil
}

func runExport(ctx context.Context, args []string, script bool) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	var (
		driver   = fs.String("driver", "pgx", "database/sql driver (pgx, mysql, sqlserver, sqlite)")
		dsn      = fs.String("dsn", "", "connection string")
		query    = fs.String("query", "", "SELECT statement producing the rows")
		out      = fs.String("out", "", "output path; .gz/.zip enables compression")
		table    = fs.String("table", "", "target table name for INSERT scripts")
		header   = fs.Bool("header", true, "emit a header row (export only)")
		async    = fs.Bool("async", false, "prefetch rows on a background producer")
		fetch    = fs.Int("fetch", 1000, "cursor fetch hint")
		limit    = fs.Int("limit", 0, "stop after N rows (0 = all)")
		trim     = fs.Bool("trim", false, "trim encoded values")
		quoteAll = fs.Bool("quote-all", false, "quote every field")
		sep      = fs.String("delimiter", ",", "field separator")
		quote    = fs.String("enclosure", `"`, "quote character")
		escape   = fs.String("escape", `"`, "escape character")
		crlf     = fs.Bool("crlf", false, "terminate lines with CRLF")
		ctl      = fs.Bool("oracle-ctl", false, "emit an Oracle loader control sidecar")
		logSide  = fs.Bool("log", false, "write a .log progress sidecar next to the output")
		bufMB    = fs.Int("buffer-mb", 8, "sink buffer size in MiB")
		width    = fs.Int("max-line-width", 9999, "INSERT statement wrap width (script only)")
		usePgx   = fs.Bool("pgx", false, "stream through the native pgx cursor")

		mBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway, datadog, none")
		mGateway = fs.String("pushgateway-url", "", "Pushgateway base URL")
		mStatsd  = fs.String("dogstatsd-addr", "", "DogStatsD address")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" || *query == "" || *out == "" {
		return fmt.Errorf("export: -dsn, -query and -out are required")
	}
	if script && *table == "" {
		return fmt.Errorf("script: -table is required")
	}
	if err := setupMetrics(*mBackend, *mGateway, *mStatsd, "csvflow_export"); err != nil {
		return err
	}

	dialect := csvio.Dialect{
		Separator:      firstRune(*sep, ','),
		Quote:          firstRune(*quote, '"'),
		Escape:         firstRune(*escape, '"'),
		LineTerminator: "\n",
	}
	if *crlf {
		dialect.LineTerminator = "\r\n"
	}

	ext := ".csv"
	if script {
		ext = ".sql"
	}
	out2, err := sink.New(*out, *bufMB<<20, ext)
	if err != nil {
		return err
	}
	defer out2.Close()

	cc := config.DefaultCodecConfig()
	cc.Trim = *trim

	cfg := writer.Config{
		Dialect:          dialect,
		IncludeHeader:    *header && !script,
		ApplyQuotesToAll: *quoteAll,
		Async:            *async,
		FetchHint:        *fetch,
		RowLimit:         *limit,
		Codec:            cc,
		OracleControl:    *ctl,
		LogSidecar:       *logSide,
		Table:            *table,
		MaxLineWidth:     *width,
	}

	var w *writer.Writer
	if script {
		w = writer.NewSQLScript(out2, cfg)
	} else {
		w = writer.NewDelimited(out2, cfg)
	}

	cur, cleanup, err := openCursor(ctx, *driver, *dsn, *query, *usePgx)
	if err != nil {
		return err
	}
	defer cleanup()

	rows, err := w.WriteAll(ctx, cur)
	if err != nil {
		return err
	}
	if err := out2.Close(); err != nil {
		return err
	}
	_ = metrics.Flush()
	log.Printf("export: wrote %d rows to %s", rows, *out)
	return nil
}

// openCursor builds a source.Cursor from either database/sql or a native pgx
// pool, returning a cleanup function for the underlying handles.
func openCursor(ctx context.Context, driver, dsn, query string, usePgx bool) (source.Cursor, func(), error) {
	if usePgx || driver == "pgxpool" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("pgxpool: %w", err)
		}
		rows, err := pool.Query(ctx, query)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("query: %w", err)
		}
		return source.NewPgxCursor(rows), func() { pool.Close() }, nil
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("query: %w", err)
	}
	return source.NewSQLCursor(rows), func() { db.Close() }, nil
}

func runLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	var (
		driver = fs.String("driver", "pgx", "database/sql driver (pgx, mysql, sqlserver, sqlite)")
		dsn    = fs.String("dsn", "", "connection string")
		table  = fs.String("table", "", "target table")
		file   = fs.String("file", "", "input CSV path")
		usePgx = fs.Bool("pgx", false, "execute batches through the native pgx batch API")
		opts   kvFlags

		mBackend = fs.String("metrics-backend", "", "metrics backend: pushgateway, datadog, none")
		mGateway = fs.String("pushgateway-url", "", "Pushgateway base URL")
		mStatsd  = fs.String("dogstatsd-addr", "", "DogStatsD address")
	)
	fs.Var(&opts, "o", "loader option KEY=VALUE (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" || *table == "" || *file == "" {
		return fmt.Errorf("load: -dsn, -table and -file are required")
	}
	if err := setupMetrics(*mBackend, *mGateway, *mStatsd, "csvflow_load"); err != nil {
		return err
	}

	bag := config.Options{}
	for _, kv := range opts {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad option %q, want KEY=VALUE", kv)
		}
		bag.Set(k, v)
	}
	opt, err := config.ParseLoadOptions(bag)
	if err != nil {
		return err
	}
	if opt.Platform == "auto" || opt.Platform == "" {
		opt.Platform = platformFromDriver(*driver)
	}

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", *driver, err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	l, err := loader.New(db, *table, opt)
	if err != nil {
		return err
	}
	if *usePgx {
		pool, perr := pgxpool.New(ctx, *dsn)
		if perr != nil {
			return fmt.Errorf("pgxpool: %w", perr)
		}
		defer pool.Close()
		l.SetExecutor(loader.NewPgxBatchExecutor(pool))
	}
	committed, err := l.Run(ctx, *file)
	if err != nil {
		return err
	}
	log.Printf("load: committed %d rows into %s", committed, *table)
	return nil
}

// platformFromDriver resolves PLATFORM=auto from the driver name.
func platformFromDriver(driver string) string {
	switch strings.ToLower(driver) {
	case "pgx", "pgxpool", "postgres":
		return "postgres"
	case "mysql":
		return "mysql"
	case "sqlserver", "mssql":
		return "mssql"
	case "sqlite", "sqlite3":
		return "sqlite"
	}
	return ""
}

func firstRune(s string, def rune) rune {
	if s == "" {
		return def
	}
	return []rune(s)[0]
}
