package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"csvflow/internal/codec"
)

// fakeCursor is an in-memory Cursor for tests. It optionally fails at a
// given row index.
type fakeCursor struct {
	desc     []codec.Descriptor
	rows     [][]any
	pos      int
	failAt   int // 1-based row whose advance fails; 0 = never
	closed   int
	fetchSet int
}

func (f *fakeCursor) Describe() ([]codec.Descriptor, error) { return f.desc, nil }
func (f *fakeCursor) SetFetchSize(n int)                    { f.fetchSet = n }
func (f *fakeCursor) Close() error                          { f.closed++; return nil }

func (f *fakeCursor) Next(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if f.failAt > 0 && f.pos+1 == f.failAt {
		return false, errors.New("boom")
	}
	if f.pos >= len(f.rows) {
		return false, nil
	}
	f.pos++
	return true, nil
}

func (f *fakeCursor) Values(_ context.Context, dst []any) error {
	copy(dst, f.rows[f.pos-1])
	return nil
}

func intCursor(n int) *fakeCursor {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{int64(i), fmt.Sprintf("name-%d", i)}
	}
	return &fakeCursor{
		desc: []codec.Descriptor{
			{Index: 0, Name: "id", TypeName: "INT8", Tag: codec.TagLong},
			{Index: 1, Name: "name", TypeName: "VARCHAR", Tag: codec.TagString},
		},
		rows: rows,
	}
}

func TestOpenAppliesFetchHint(t *testing.T) {
	t.Parallel()

	cur := intCursor(1)
	rs, err := Open(cur, 500)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if cur.fetchSet != 500 {
		t.Fatalf("fetch hint = %d, want 500", cur.fetchSet)
	}
	if len(rs.Descriptors()) != 2 {
		t.Fatalf("descriptors = %d", len(rs.Descriptors()))
	}
}

func TestNextRowWidthMatchesDescriptors(t *testing.T) {
	t.Parallel()

	rs, err := Open(intCursor(3), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	for {
		row, err := rs.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(row.V) != len(rs.Descriptors()) {
			t.Fatalf("row width %d != %d descriptors", len(row.V), len(rs.Descriptors()))
		}
		row.Free()
	}
}

func TestNextEOFIsIdempotentAndCloses(t *testing.T) {
	t.Parallel()

	cur := intCursor(1)
	rs, _ := Open(cur, 0)
	ctx := context.Background()

	if _, err := rs.Next(ctx); err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if _, err := rs.Next(ctx); err != io.EOF {
		t.Fatalf("want io.EOF, got %v", err)
	}
	if cur.closed != 1 {
		t.Fatalf("cursor closed %d times, want 1", cur.closed)
	}
	if _, err := rs.Next(ctx); err != io.EOF {
		t.Fatalf("EOF must be sticky, got %v", err)
	}
	// Close again: no-op.
	if err := rs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if cur.closed != 1 {
		t.Fatalf("repeated Close must not reach the cursor, closed=%d", cur.closed)
	}
}

func TestNextWrapsCursorErrors(t *testing.T) {
	t.Parallel()

	cur := intCursor(5)
	cur.failAt = 3
	rs, _ := Open(cur, 0)
	ctx := context.Background()

	var got error
	for i := 0; i < 5; i++ {
		_, err := rs.Next(ctx)
		if err != nil {
			got = err
			break
		}
	}
	var se *SourceError
	if !errors.As(got, &se) {
		t.Fatalf("want SourceError, got %v", got)
	}
}

func TestNormalizeNullStaysNull(t *testing.T) {
	t.Parallel()

	cur := &fakeCursor{
		desc: []codec.Descriptor{{Index: 0, Name: "b", TypeName: "BYTEA", Tag: codec.TagRaw}},
		rows: [][]any{{nil}},
	}
	rs, _ := Open(cur, 0)
	row, err := rs.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if row.V[0] != nil {
		t.Fatalf("null cell = %v, want nil", row.V[0])
	}
}

func TestNormalizeTextualBytes(t *testing.T) {
	t.Parallel()

	cur := &fakeCursor{
		desc: []codec.Descriptor{{Index: 0, Name: "s", TypeName: "VARCHAR", Tag: codec.TagString}},
		rows: [][]any{{[]byte("hello")}},
	}
	rs, _ := Open(cur, 0)
	row, _ := rs.Next(context.Background())
	if row.V[0] != "hello" {
		t.Fatalf("cell = %v (%T), want string", row.V[0], row.V[0])
	}
	if rs.Descriptors()[0].ClassName == "" {
		t.Fatal("ClassName must resolve from the first non-null cell")
	}
}

func TestQueueCapacity(t *testing.T) {
	t.Parallel()

	if got := queueCapacity(0, 100); got != 210 {
		t.Fatalf("unlimited: %d, want 210", got)
	}
	if got := queueCapacity(5, 100); got != 20 {
		t.Fatalf("limited: %d, want 20", got)
	}
	if got := queueCapacity(1000, 10); got != 30 {
		t.Fatalf("hint-bound: %d, want 30", got)
	}
}

func TestPrefetchPreservesOrder(t *testing.T) {
	t.Parallel()

	const n = 10000
	rs, _ := Open(intCursor(n), 100)

	next := int64(0)
	delivered, err := rs.Prefetch(context.Background(), func(r *Row) error {
		if r.V[0] != next {
			return fmt.Errorf("row %d out of order: %v", next, r.V[0])
		}
		next++
		return nil
	}, PrefetchOptions{})
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if delivered != n {
		t.Fatalf("delivered = %d, want %d", delivered, n)
	}
}

func TestPrefetchFetchLimit(t *testing.T) {
	t.Parallel()

	rs, _ := Open(intCursor(100), 10)
	delivered, err := rs.Prefetch(context.Background(), func(*Row) error { return nil },
		PrefetchOptions{FetchLimit: 7})
	if err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if delivered != 7 {
		t.Fatalf("delivered = %d, want 7", delivered)
	}
}

func TestPrefetchAbort(t *testing.T) {
	t.Parallel()

	rs, _ := Open(intCursor(100000), 50)
	ctx, cancel := context.WithCancel(context.Background())

	var seen int64
	delivered, err := rs.Prefetch(ctx, func(r *Row) error {
		seen++
		if seen == 500 {
			cancel()
		}
		return nil
	}, PrefetchOptions{})

	if !errors.Is(err, ErrAborted) {
		t.Fatalf("want ErrAborted, got %v", err)
	}
	// Everything already queued may still be delivered, bounded by the queue.
	if delivered < 500 || delivered > 500+int64(queueCapacity(0, 50))+1 {
		t.Fatalf("delivered = %d, want within [500, 500+queue]", delivered)
	}
}

func TestPrefetchLatchesProducerError(t *testing.T) {
	t.Parallel()

	cur := intCursor(50)
	cur.failAt = 20
	rs, _ := Open(cur, 5)

	var seen int
	_, err := rs.Prefetch(context.Background(), func(*Row) error { seen++; return nil },
		PrefetchOptions{})
	var se *SourceError
	if !errors.As(err, &se) {
		t.Fatalf("want latched SourceError, got %v", err)
	}
	if seen != 19 {
		t.Fatalf("consumer saw %d rows before the latched error, want 19", seen)
	}
}

func TestPrefetchCallbackErrorCancelsProducer(t *testing.T) {
	t.Parallel()

	rs, _ := Open(intCursor(100000), 10)
	wantErr := errors.New("sink full")

	start := time.Now()
	_, err := rs.Prefetch(context.Background(), func(r *Row) error {
		if r.V[0] == int64(3) {
			return wantErr
		}
		return nil
	}, PrefetchOptions{})
	if err == nil {
		t.Fatal("want error")
	}
	if !errors.Is(err, wantErr) && !errors.Is(err, ErrAborted) {
		t.Fatalf("unexpected error %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("producer did not stop promptly")
	}
}

func TestRowClone(t *testing.T) {
	t.Parallel()

	r := GetRow(2)
	r.V[0] = []byte{1, 2}
	r.V[1] = "x"
	c := r.Clone()
	r.V[0].([]byte)[0] = 9
	if c.V[0].([]byte)[0] != 1 {
		t.Fatal("Clone must deep-copy byte slices")
	}
	r.Free()
}
