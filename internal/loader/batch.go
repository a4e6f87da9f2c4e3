package loader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BatchError reports a batch whose execution partially failed: PerRow holds
// one entry per bound row, nil for rows the database accepted. The loader
// diverts the failed rows and keeps the successes.
type BatchError struct {
	PerRow []error
	First  error
}

func (e *BatchError) Error() string {
	failed := 0
	for _, err := range e.PerRow {
		if err != nil {
			failed++
		}
	}
	return fmt.Sprintf("batch: %d of %d rows failed: %v", failed, len(e.PerRow), e.First)
}

func (e *BatchError) Unwrap() error { return e.First }

// BatchExecutor abstracts the parameterised batch surface the loader drives:
// bind rows, execute, commit. Implementations exist for database/sql and for
// pgx; tests provide fakes.
//
// Exec returns a *BatchError when one or more rows failed individually,
// including the case where every row failed; the rows the database accepted
// are committed. Any other non-nil error is a whole-batch failure. Either way
// the batch is cleared.
type BatchExecutor interface {
	Prepare(ctx context.Context, insertSQL string) error
	Add(params []any)
	Len() int
	Exec(ctx context.Context) error
	Close() error
}

// SQLBatchExecutor drives a *sql.DB: the batch executes row-by-row inside a
// transaction; if any row fails, the transaction is rolled back and every
// row re-executes individually in autocommit so the successes stick and the
// failures are attributed exactly.
type SQLBatchExecutor struct {
	db    *sql.DB
	sql   string
	batch [][]any
}

// NewSQLBatchExecutor wraps db.
func NewSQLBatchExecutor(db *sql.DB) *SQLBatchExecutor {
	return &SQLBatchExecutor{db: db}
}

// Prepare records the INSERT template. Statement preparation happens per
// transaction because several drivers bind prepared statements to their
// connection.
func (e *SQLBatchExecutor) Prepare(_ context.Context, insertSQL string) error {
	e.sql = insertSQL
	return nil
}

// Add binds one row.
func (e *SQLBatchExecutor) Add(params []any) { e.batch = append(e.batch, params) }

// Len returns the number of bound rows since the last Exec.
func (e *SQLBatchExecutor) Len() int { return len(e.batch) }

// Exec runs the batch. On success the transaction commits and the batch
// clears. On partial failure it returns a *BatchError after retrying rows
// individually.
func (e *SQLBatchExecutor) Exec(ctx context.Context) error {
	if len(e.batch) == 0 {
		return nil
	}
	batch := e.batch
	e.batch = e.batch[:0]

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, e.sql)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}

	var failed bool
	for _, row := range batch {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			failed = true
			break
		}
	}
	if !failed {
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("stmt close: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	}

	// Partial failure: fall back to per-row autocommit so good rows stick.
	_ = stmt.Close()
	_ = tx.Rollback()
	return e.execIndividually(ctx, batch)
}

func (e *SQLBatchExecutor) execIndividually(ctx context.Context, batch [][]any) error {
	perRow := make([]error, len(batch))
	var first error
	stmt, err := e.db.PrepareContext(ctx, e.sql)
	if err != nil {
		return fmt.Errorf("prepare retry: %w", err)
	}
	defer stmt.Close()

	for i, row := range batch {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			perRow[i] = err
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		return nil
	}
	return &BatchError{PerRow: perRow, First: first}
}

// Close releases nothing for database/sql; the caller owns the DB handle.
func (e *SQLBatchExecutor) Close() error { return nil }

// PgxBatchExecutor drives a pgx pool with pgx.Batch, which reports per-
// statement results natively. Placeholders are rewritten to Postgres $n
// form at Prepare time.
type PgxBatchExecutor struct {
	pool  *pgxpool.Pool
	sql   string
	batch [][]any
}

// NewPgxBatchExecutor wraps pool.
func NewPgxBatchExecutor(pool *pgxpool.Pool) *PgxBatchExecutor {
	return &PgxBatchExecutor{pool: pool}
}

// Prepare records the INSERT template, rewriting "?" placeholders to $n.
func (e *PgxBatchExecutor) Prepare(_ context.Context, insertSQL string) error {
	e.sql = rewritePlaceholders(insertSQL)
	return nil
}

// Add binds one row.
func (e *PgxBatchExecutor) Add(params []any) { e.batch = append(e.batch, params) }

// Len returns the number of bound rows since the last Exec.
func (e *PgxBatchExecutor) Len() int { return len(e.batch) }

// Exec sends the batch in one round trip. A failed statement aborts the
// batch's implicit transaction, so on failure the rows re-run individually
// in autocommit, mirroring the database/sql executor.
func (e *PgxBatchExecutor) Exec(ctx context.Context) error {
	if len(e.batch) == 0 {
		return nil
	}
	batch := e.batch
	e.batch = e.batch[:0]

	b := &pgx.Batch{}
	for _, row := range batch {
		b.Queue(e.sql, row...)
	}
	br := e.pool.SendBatch(ctx, b)
	var execErr error
	for range batch {
		if _, err := br.Exec(); err != nil && execErr == nil {
			execErr = err
		}
	}
	if cerr := br.Close(); cerr != nil && execErr == nil {
		execErr = cerr
	}
	if execErr == nil {
		return nil
	}

	perRow := make([]error, len(batch))
	var first error
	for i, row := range batch {
		if _, err := e.pool.Exec(ctx, e.sql, row...); err != nil {
			perRow[i] = err
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		return nil
	}
	return &BatchError{PerRow: perRow, First: first}
}

// Close releases nothing; the caller owns the pool.
func (e *PgxBatchExecutor) Close() error { return nil }

// rewritePlaceholders converts "?" markers to $1..$n outside quoted regions.
// The loader's templates carry no string literals, so the scan only guards
// against quoted identifiers.
func rewritePlaceholders(s string) string {
	var out []byte
	n := 0
	inIdent := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inIdent = !inIdent
			out = append(out, c)
		case c == '?' && !inIdent:
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
		default:
			out = append(out, c)
		}
	}
	return string(out)
}

// IsPgError reports whether err is a Postgres server error, exposing detail
// for log lines the way the pgconn error formats it.
func IsPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
