package watermark

import (
	"time"
)

// MaxSpan is the widest window requested from a provider. Upstream APIs
// refuse ranges of roughly a month or more.
const MaxSpan = 25 * 24 * time.Hour

// Window is the [Start, End) range requested from a provider in one fetch.
type Window struct {
	Start     time.Time
	End       time.Time
	ColdStart bool
}

// Plan clamps [watermark, now) to MaxSpan. Repeated runs advance the window
// until End catches up with now.
func Plan(wm Watermark, now time.Time) Window {
	return PlanWithSpan(wm, now, MaxSpan)
}

// PlanWithSpan is Plan with a custom maximum span.
func PlanWithSpan(wm Watermark, now time.Time, span time.Duration) Window {
	end := now.UTC()
	if end.Sub(wm.At) > span {
		end = wm.At.Add(span).UTC()
	}
	return Window{Start: wm.At.UTC(), End: end, ColdStart: wm.ColdStart}
}

// CaughtUp reports whether the window reaches now, i.e. it was not clamped.
func (w Window) CaughtUp(now time.Time) bool {
	return !w.End.Before(now.UTC())
}
