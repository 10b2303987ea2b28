package watermark

import (
	"time"
)

// Boundary suppresses the record at the watermark, which every provider
// returns again because its API is inclusive of the window start. Nothing is
// suppressed on a cold start.
type Boundary[T any] interface {
	Apply(items []T, w Window) []T
}

// Position drops the first item of a non-cold-start window. Used when the
// provider always returns the watermark record first.
type Position[T any] struct{}

func (Position[T]) Apply(items []T, w Window) []T {
	if w.ColdStart || len(items) == 0 {
		return items
	}
	return items[1:]
}

// EqualTime drops every item whose time, truncated to Precision, equals the
// window start. Items in the same second as the watermark but with a
// different timestamp are kept.
type EqualTime[T any] struct {
	At        func(T) time.Time
	Precision time.Duration
}

func (b EqualTime[T]) Apply(items []T, w Window) []T {
	if w.ColdStart {
		return items
	}
	start := w.Start.Truncate(b.Precision)
	out := items[:0:0]
	for _, it := range items {
		if b.At(it).Truncate(b.Precision).Equal(start) {
			continue
		}
		out = append(out, it)
	}
	return out
}

// AtOrBefore drops every item at or before the window start. Used when the
// provider only filters by day and returns earlier records of that day too.
type AtOrBefore[T any] struct {
	At func(T) time.Time
}

func (b AtOrBefore[T]) Apply(items []T, w Window) []T {
	if w.ColdStart {
		return items
	}
	out := items[:0:0]
	for _, it := range items {
		if !b.At(it).After(w.Start) {
			continue
		}
		out = append(out, it)
	}
	return out
}
