// Package source presents a database row-cursor as a finite pull sequence of
// raw typed rows, with optional single-producer prefetch into a bounded queue.
//
// The package owns the cursor exclusively: downstream stages only ever see
// rows. Rows are pooled to reduce heap churn on multi-million-row exports;
// see the Row contract below.
package source

import "sync"

// Row is a pooled container holding one positional raw row.
//
// Contract:
//   - The producing stage writes into r.V[0:colCount] (no re-slice growth).
//   - After the row has been fully consumed, the consumer must call r.Free()
//     to return it to the pool.
//   - Do not retain references to r or r.V beyond the consuming callback;
//     use Clone when a row must outlive it.
type Row struct {
	V []any
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length colCount and all cells zeroed.
func GetRow(colCount int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.V) < colCount {
			r.V = make([]any, colCount)
		}
		r.V = r.V[:colCount]
		for i := range r.V {
			r.V[i] = nil
		}
		return r
	}
	return &Row{V: make([]any, colCount)}
}

// Free returns the Row to the pool. The caller must not use r after Free().
func (r *Row) Free() {
	rowPool.Put(r)
}

// Clone returns an independent copy of the row for callers that need to
// retain it past the consuming callback. Cell values are shared; byte slices
// are copied because cursor adapters may reuse their backing arrays.
func (r *Row) Clone() *Row {
	c := &Row{V: make([]any, len(r.V))}
	for i, v := range r.V {
		if b, ok := v.([]byte); ok {
			nb := make([]byte, len(b))
			copy(nb, b)
			c.V[i] = nb
			continue
		}
		c.V[i] = v
	}
	return c
}
