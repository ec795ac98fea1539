package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrHalted is returned when onBeforeBatch stopped the throttle before a chunk.
var ErrHalted = errors.New("throttle halted before next window")

// Window is the vendor's documented request ceiling: at most Permitted
// requests in any Duration-long interval.
type Window struct {
	Permitted int
	Duration  time.Duration
}

// BatchFunc executes one window-sized chunk and returns the completion
// timestamps of the requests that succeeded.
type BatchFunc[T any] func(ctx context.Context, chunk []T) ([]time.Time, error)

// Throttle splits items into window-sized chunks (in input order) and hands
// each chunk to exec. Before every chunk onBeforeBatch is polled; when it
// returns true no further chunks are admitted and ErrHalted is returned.
//
// The wait before the next chunk is anchored to the earliest completion of
// the previous chunk, not to its dispatch time. processed counts the items of
// every chunk handed to exec, including a chunk that failed.
func Throttle[T any](ctx context.Context, items []T, w Window, onBeforeBatch func() bool, exec BatchFunc[T]) (processed int, err error) {
	if len(items) == 0 {
		return 0, nil
	}
	size := w.Permitted
	if size <= 0 {
		size = len(items)
	}

	for start, chunkNo := 0, 1; start < len(items); start, chunkNo = start+size, chunkNo+1 {
		if onBeforeBatch != nil && onBeforeBatch() {
			windowHaltsTotal.Inc()
			return processed, fmt.Errorf("%w: %d of %d items admitted", ErrHalted, processed, len(items))
		}

		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]

		dispatchedAt := time.Now()
		completed, err := exec(ctx, chunk)
		processed += len(chunk)
		if err != nil {
			return processed, err
		}

		if end >= len(items) || w.Duration <= 0 {
			continue
		}

		anchor := dispatchedAt
		if first, ok := earliest(completed); ok && first.After(anchor) {
			anchor = first
		}
		wait := time.Until(anchor.Add(w.Duration))
		if wait <= 0 {
			continue
		}

		windowWaitSeconds.Observe(wait.Seconds())
		select {
		case <-ctx.Done():
			return processed, ctx.Err()
		case <-time.After(wait):
		}
	}

	return processed, nil
}

func earliest(ts []time.Time) (time.Time, bool) {
	if len(ts) == 0 {
		return time.Time{}, false
	}
	first := ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
	}
	return first, true
}
