package ingest

import (
	"context"
	"iter"
)

// Page is one response from a source
type Page[T any] struct {
	Items    []T
	Failures []Failure
}

// Fetcher returns everything in one call
type Fetcher[T, Q any] interface {
	Fetch(ctx context.Context, query Q) (Page[T], error)
}

// PageFetcher returns page n (0-based) of a numbered listing
type PageFetcher[T, Q any] interface {
	FetchPage(ctx context.Context, query Q, page int) (Page[T], error)
}

// Streamer yields records until exhausted. A non-nil error ends the stream.
type Streamer[T, Q any] interface {
	Stream(ctx context.Context, query Q) iter.Seq2[T, error]
}

// FetchFunc adapts a function to Fetcher
type FetchFunc[T, Q any] func(ctx context.Context, query Q) (Page[T], error)

func (f FetchFunc[T, Q]) Fetch(ctx context.Context, query Q) (Page[T], error) {
	return f(ctx, query)
}

// PageFetchFunc adapts a function to PageFetcher
type PageFetchFunc[T, Q any] func(ctx context.Context, query Q, page int) (Page[T], error)

func (f PageFetchFunc[T, Q]) FetchPage(ctx context.Context, query Q, page int) (Page[T], error) {
	return f(ctx, query, page)
}

// StreamFunc adapts a function to Streamer
type StreamFunc[T, Q any] func(ctx context.Context, query Q) iter.Seq2[T, error]

func (f StreamFunc[T, Q]) Stream(ctx context.Context, query Q) iter.Seq2[T, error] {
	return f(ctx, query)
}
