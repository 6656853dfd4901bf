package pager

import (
	"context"
	"fmt"
	"iter"
)

// Page is one response: its items plus the cursor of the following page.
type Page[T any] struct {
	Items []T
	Next  Cursor
}

// FetchFunc requests the page addressed by cursor.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// Pages yields pages starting at start until a page reports End. Each
// iteration issues exactly one request. The first error is yielded once and
// ends the sequence; stopping the range loop stops further requests.
func Pages[T any](ctx context.Context, start Cursor, fetch FetchFunc[T]) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		cursor := start
		for !cursor.IsEnd() {
			if err := ctx.Err(); err != nil {
				yield(Page[T]{}, fmt.Errorf("paging canceled: %w", err))
				return
			}
			page, err := fetch(ctx, cursor)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !yield(page, nil) {
				return
			}
			cursor = page.Next
		}
	}
}

// Items flattens Pages into individual items in emission order.
func Items[T any](ctx context.Context, start Cursor, fetch FetchFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for page, err := range Pages(ctx, start, fetch) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Map converts every item of seq with fn; a conversion error ends the sequence.
func Map[In, Out any](seq iter.Seq2[In, error], fn func(In) (Out, error)) iter.Seq2[Out, error] {
	return func(yield func(Out, error) bool) {
		var zero Out
		for in, err := range seq {
			if err != nil {
				yield(zero, err)
				return
			}
			out, err := fn(in)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// FlatMap runs inner for every outer item, sequentially: the inner sequence of
// item k+1 does not start until the one of item k is exhausted.
func FlatMap[Outer, Inner any](
	outer iter.Seq2[Outer, error],
	inner func(Outer) iter.Seq2[Inner, error],
) iter.Seq2[Inner, error] {
	return func(yield func(Inner, error) bool) {
		var zero Inner
		for o, err := range outer {
			if err != nil {
				yield(zero, err)
				return
			}
			for item, err := range inner(o) {
				if err != nil {
					yield(zero, err)
					return
				}
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Materialize drains seq completely before yielding anything, so a failure
// anywhere in it surfaces before the first item is handed out.
func Materialize[T any](seq iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		items, err := Collect(seq)
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains seq into a slice. On error nothing collected so far is returned.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// First returns the first item of seq and whether one existed.
func First[T any](seq iter.Seq2[T, error]) (T, bool, error) {
	var zero T
	for item, err := range seq {
		if err != nil {
			return zero, false, err
		}
		return item, true, nil
	}
	return zero, false, nil
}
