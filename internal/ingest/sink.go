package ingest

import (
	"context"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/rs/zerolog"
)

// summaryTimeLayout renders window bounds in the run summary.
const summaryTimeLayout = "2006-01-02 15:04:05-07:00"

// Sink writes normalized batches to the store.
type Sink struct {
	writer store.Writer
}

// NewSink creates a Sink.
func NewSink(writer store.Writer) *Sink {
	return &Sink{writer: writer}
}

// WriteWithSummary inserts records in one atomic call and logs
// "{start} - {end} | {source} | Wrote N rows", or "... | No data" for an
// empty batch. A nil window is rendered as "None - None".
func (s *Sink) WriteWithSummary(ctx context.Context, records []domain.DonationRecord, source string, w *watermark.Window) (int, error) {
	log := logger.FromContext(ctx)
	prefix := Summary(source, w)

	if len(records) == 0 {
		withWindow(log.Info(), source, 0, w).Msg(prefix + " No data")
		return 0, nil
	}

	if err := s.writer.InsertMany(ctx, records); err != nil {
		return 0, fmt.Errorf("WriteWithSummary: %s: %w", source, err)
	}
	metrics.RowsWrittenTotal.WithLabelValues(source).Add(float64(len(records)))

	withWindow(log.Info(), source, len(records), w).Msgf("%s Wrote %d rows", prefix, len(records))
	return len(records), nil
}

// Summary returns the "{start} - {end} | {source} |" prefix of a run summary.
func Summary(source string, w *watermark.Window) string {
	start, end := "None", "None"
	if w != nil {
		start = w.Start.UTC().Format(summaryTimeLayout)
		end = w.End.UTC().Format(summaryTimeLayout)
	}
	return fmt.Sprintf("%s - %s | %s |", start, end, source)
}

func withWindow(e *zerolog.Event, source string, rows int, w *watermark.Window) *zerolog.Event {
	e = e.Str("source", source).Int("rows", rows)
	if w != nil {
		e = e.Time("window_start", w.Start).Time("window_end", w.End)
	}
	return e
}
