package source

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"
)

// PrefetchOptions tunes the background producer.
type PrefetchOptions struct {
	// FetchLimit caps the number of rows produced; <= 0 means unlimited.
	FetchLimit int
}

// queueCapacity derives the bounded-queue size from the row limit and the
// cursor fetch hint: min(limit*2+10, 2*hint+10), with an unlimited row limit
// leaving the hint term in charge.
func queueCapacity(fetchLimit, fetchHint int) int {
	byHint := 2*fetchHint + 10
	if fetchLimit <= 0 {
		return byHint
	}
	byLimit := 2*fetchLimit + 10
	if byLimit < byHint {
		return byLimit
	}
	return byHint
}

// Prefetch spawns a single background producer that drains the cursor into a
// bounded FIFO queue while the calling goroutine consumes rows through
// callback, preserving cursor order exactly.
//
// The producer checks ctx before every advance; on cancellation the consumer
// observes an error wrapping ErrAborted. The producer latches its first
// error, closes the queue (the EOF sentinel), and exits; the consumer
// finishes draining, joins the producer, and returns the latched error.
//
// callback borrows the row for the duration of the call: Prefetch frees it
// afterwards, so callbacks that retain a row must Clone it. Returns the
// number of rows delivered to callback.
func (rs *RowSource) Prefetch(ctx context.Context, callback func(*Row) error, opts PrefetchOptions) (int64, error) {
	queue := make(chan *Row, queueCapacity(opts.FetchLimit, rs.fetchHint))

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)

	// Producer: the only goroutine touching the cursor.
	g.Go(func() error {
		defer close(queue)
		produced := 0
		for {
			if opts.FetchLimit > 0 && produced >= opts.FetchLimit {
				return nil
			}
			if err := gctx.Err(); err != nil {
				_ = rs.Close()
				return errors.Join(ErrAborted, err)
			}
			row, err := rs.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				// A cancellation racing the advance is an abort, not a
				// source failure.
				if cerr := gctx.Err(); cerr != nil {
					_ = rs.Close()
					return errors.Join(ErrAborted, cerr)
				}
				return err
			}
			select {
			case queue <- row:
				produced++
			case <-gctx.Done():
				row.Free()
				_ = rs.Close()
				return errors.Join(ErrAborted, gctx.Err())
			}
		}
	})

	// Consumer: encode/emit in cursor order.
	var delivered int64
	var cbErr error
	for row := range queue {
		if cbErr != nil {
			// A failed callback cancels the producer; keep draining so it can
			// exit, freeing rows as they arrive.
			row.Free()
			continue
		}
		if err := callback(row); err != nil {
			cbErr = err
			cancel()
		}
		row.Free()
		if cbErr == nil {
			delivered++
		}
	}

	err := g.Wait()
	if cbErr != nil {
		// The consumer failure caused the cancellation; it is the primary.
		return delivered, cbErr
	}
	return delivered, err
}
