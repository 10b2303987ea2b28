package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type item struct {
	id string
	at time.Time
}

func itemAt(i item) time.Time { return i.at }

func ids(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.id)
	}
	return out
}

var (
	start = time.Date(2022, 8, 1, 10, 0, 0, 0, time.UTC)
	feed  = []item{
		{"boundary", start},
		{"same-second", start.Add(400 * time.Millisecond)},
		{"later", start.Add(time.Minute)},
		{"latest", start.Add(time.Hour)},
	}
)

func TestBoundaries(t *testing.T) {
	warm := Window{Start: start, End: start.Add(24 * time.Hour)}
	cold := Window{Start: start, End: start.Add(24 * time.Hour), ColdStart: true}

	tests := []struct {
		name     string
		boundary Boundary[item]
		items    []item
		window   Window
		want     []string
	}{
		{"position keeps everything on cold start", Position[item]{}, feed, cold, []string{"boundary", "same-second", "later", "latest"}},
		{"position drops exactly the first", Position[item]{}, feed, warm, []string{"same-second", "later", "latest"}},
		{"position on empty page", Position[item]{}, nil, warm, []string{}},

		{"equal keeps everything on cold start", EqualTime[item]{At: itemAt}, feed, cold, []string{"boundary", "same-second", "later", "latest"}},
		{"equal drops only the exact instant", EqualTime[item]{At: itemAt}, feed, warm, []string{"same-second", "later", "latest"}},
		{"equal at second precision drops the whole second", EqualTime[item]{At: itemAt, Precision: time.Second}, feed, warm, []string{"later", "latest"}},
		{"equal keeps feed without boundary", EqualTime[item]{At: itemAt}, feed[2:], warm, []string{"later", "latest"}},

		{"at-or-before keeps everything on cold start", AtOrBefore[item]{At: itemAt}, feed, cold, []string{"boundary", "same-second", "later", "latest"}},
		{"at-or-before drops earlier records of the day", AtOrBefore[item]{At: itemAt},
			append([]item{{"earlier", start.Add(-time.Hour)}}, feed...), warm, []string{"same-second", "later", "latest"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.boundary.Apply(tt.items, tt.window)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestBoundaryDoesNotMutateInput(t *testing.T) {
	in := append([]item(nil), feed...)
	warm := Window{Start: start}

	EqualTime[item]{At: itemAt}.Apply(in, warm)
	AtOrBefore[item]{At: itemAt}.Apply(in, warm)

	assert.Equal(t, ids(feed), ids(in))
}
