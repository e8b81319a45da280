package mwclient

import (
	"context"
	"errors"

	"github.com/Kenny2github/mw-api-client/internal"
)

// ErrDone is returned by Iterator.Next when the result set is exhausted.
var ErrDone = errors.New("mwclient: no more results")

// Iterator walks one paginated result set lazily: a network round trip
// happens only when the current page's buffer runs out. Iterators are
// single-use, since continuation state is consumed in place; iterating again
// means calling the owning fetch method again. An iterator must be driven
// from one goroutine.
type Iterator[T any] struct {
	pager *internal.Pager
	// decode expands one raw record into zero or more entities. Most result
	// shapes are one entity per record; the nested all-revisions shapes
	// expand a page record into its revision list.
	decode func(context.Context, internal.Record) ([]T, error)

	buffer []T
	idx    int
	err    error
}

func newIterator[T any](pager *internal.Pager, decode func(context.Context, internal.Record) (T, error)) *Iterator[T] {
	return &Iterator[T]{
		pager: pager,
		decode: func(ctx context.Context, rec internal.Record) ([]T, error) {
			one, err := decode(ctx, rec)
			if err != nil {
				return nil, err
			}
			return []T{one}, nil
		},
	}
}

func newFlatIterator[T any](pager *internal.Pager, decode func(context.Context, internal.Record) ([]T, error)) *Iterator[T] {
	return &Iterator[T]{pager: pager, decode: decode}
}

// HasNext reports whether another item may be available. It never performs a
// network call, so it can report true and the following Next can still end
// the iteration with ErrDone or a fetch error.
func (it *Iterator[T]) HasNext() bool {
	if it.err != nil {
		return false
	}
	return it.idx < len(it.buffer) || !it.pager.Done()
}

// Next returns the next entity in server order. It returns ErrDone once the
// result set is exhausted. Any transport, API, or decode error terminates
// the iteration; the same error is returned on every subsequent call.
func (it *Iterator[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if it.err != nil {
		return zero, it.err
	}

	for it.idx >= len(it.buffer) {
		if it.pager.Done() {
			it.err = ErrDone
			return zero, it.err
		}
		records, err := it.pager.NextPage(ctx)
		if err != nil {
			it.err = err
			return zero, it.err
		}
		it.buffer = it.buffer[:0]
		it.idx = 0
		for _, rec := range records {
			items, err := it.decode(ctx, rec)
			if err != nil {
				it.err = err
				return zero, it.err
			}
			it.buffer = append(it.buffer, items...)
		}
	}

	item := it.buffer[it.idx]
	it.idx++
	return item, nil
}

// Err returns the error that terminated the iteration, if any. ErrDone is
// not reported here: normal exhaustion is not an error.
func (it *Iterator[T]) Err() error {
	if errors.Is(it.err, ErrDone) {
		return nil
	}
	return it.err
}

// Collect drains the iterator into a slice, up to max items (max <= 0 means
// everything). It stops cleanly at exhaustion and returns any other error
// together with the items fetched before it.
func (it *Iterator[T]) Collect(ctx context.Context, max int) ([]T, error) {
	var items []T
	for max <= 0 || len(items) < max {
		item, err := it.Next(ctx)
		if errors.Is(err, ErrDone) {
			return items, nil
		}
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}
