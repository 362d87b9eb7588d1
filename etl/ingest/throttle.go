package ingest

import (
	"context"
	"iter"

	"golang.org/x/time/rate"

	"github.com/linuxautomates/gitsei-sub052/errors"
)

// NewLimiter returns a limiter allowing rps requests per second with a
// burst of one, or nil when rps is not positive (unlimited).
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// ThrottleFetcher waits on limiter before each call. A nil limiter returns src.
func ThrottleFetcher[T, Q any](src Fetcher[T, Q], limiter *rate.Limiter) Fetcher[T, Q] {
	if limiter == nil {
		return src
	}
	return FetchFunc[T, Q](func(ctx context.Context, query Q) (Page[T], error) {
		if err := limiter.Wait(ctx); err != nil {
			return Page[T]{}, errors.Wrap(err, "rate limiter wait")
		}
		return src.Fetch(ctx, query)
	})
}

// ThrottlePages waits on limiter before each page request. A nil limiter returns src.
func ThrottlePages[T, Q any](src PageFetcher[T, Q], limiter *rate.Limiter) PageFetcher[T, Q] {
	if limiter == nil {
		return src
	}
	return PageFetchFunc[T, Q](func(ctx context.Context, query Q, page int) (Page[T], error) {
		if err := limiter.Wait(ctx); err != nil {
			return Page[T]{}, errors.Wrap(err, "rate limiter wait")
		}
		return src.FetchPage(ctx, query, page)
	})
}

// ThrottleStream waits on limiter before every batch records of the
// stream. A limiter wait failure ends the stream with that error, which
// Streamed treats as resumable.
func ThrottleStream[T, Q any](src Streamer[T, Q], limiter *rate.Limiter, batch int) Streamer[T, Q] {
	if limiter == nil {
		return src
	}
	if batch <= 0 {
		batch = 1
	}
	return StreamFunc[T, Q](func(ctx context.Context, query Q) iter.Seq2[T, error] {
		return func(yield func(T, error) bool) {
			n := 0
			for item, err := range src.Stream(ctx, query) {
				if err == nil && n%batch == 0 {
					if waitErr := limiter.Wait(ctx); waitErr != nil {
						var zero T
						yield(zero, errors.Wrap(waitErr, "rate limiter wait"))
						return
					}
				}
				n++
				if !yield(item, err) {
					return
				}
			}
		}
	})
}
