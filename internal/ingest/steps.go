package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/sources"
	"github.com/dvloznov/donation-tracker/internal/watermark"
)

// AdapterFactory builds source adapters.
type AdapterFactory interface {
	Build(ctx context.Context, src config.Source) (sources.Adapter, error)
	BuildManual(src config.Source, path string) (sources.Adapter, error)
}

// WatermarkResolver derives the watermark of a source.
type WatermarkResolver interface {
	Resolve(ctx context.Context, source string) (watermark.Watermark, error)
}

// BuildAdapterStep builds the adapter of the state's source.
type BuildAdapterStep struct {
	Factory AdapterFactory
}

func (s *BuildAdapterStep) Execute(ctx context.Context, state *PipelineState) error {
	adapter, err := s.Factory.Build(ctx, state.Source)
	if err != nil {
		return err
	}
	state.Adapter = adapter
	return nil
}

// ResolveWatermarkStep reads the source's watermark from the store.
type ResolveWatermarkStep struct {
	Resolver WatermarkResolver
}

func (s *ResolveWatermarkStep) Execute(ctx context.Context, state *PipelineState) error {
	wm, err := s.Resolver.Resolve(ctx, state.Source.Name)
	if err != nil {
		return err
	}
	state.Watermark = wm
	return nil
}

// PlanWindowStep clamps [watermark, now) to MaxSpan.
type PlanWindowStep struct {
	MaxSpan time.Duration
}

func (s *PlanWindowStep) Execute(ctx context.Context, state *PipelineState) error {
	span := s.MaxSpan
	if span <= 0 {
		span = watermark.MaxSpan
	}
	w := watermark.PlanWithSpan(state.Watermark, state.Now, span)
	state.Window = &w

	log := logger.FromContext(ctx)
	log.Debug().
		Time("window_start", w.Start).
		Time("window_end", w.End).
		Bool("cold_start", w.ColdStart).
		Bool("caught_up", w.CaughtUp(state.Now)).
		Msg("Planned window")
	return nil
}

// FetchStep pulls the window from the adapter.
type FetchStep struct{}

func (s *FetchStep) Execute(ctx context.Context, state *PipelineState) error {
	if state.Adapter == nil {
		return fmt.Errorf("FetchStep: no adapter for source %q", state.Source.Name)
	}
	var w watermark.Window
	if state.Window != nil {
		w = *state.Window
	}
	records, err := state.Adapter.Fetch(ctx, w)
	if err != nil {
		return err
	}
	state.Records = records
	return nil
}

// NormalizeStep fills the derived fields of every fetched record.
type NormalizeStep struct {
	Normalizer *Normalizer
}

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	records, err := s.Normalizer.Normalize(ctx, state.Records, state.Source.Name, state.Mode)
	if err != nil {
		return err
	}
	state.Records = records
	return nil
}

// WriteStep persists the batch and logs the run summary.
type WriteStep struct {
	Sink *Sink
}

func (s *WriteStep) Execute(ctx context.Context, state *PipelineState) error {
	n, err := s.Sink.WriteWithSummary(ctx, state.Records, state.Source.Name, state.Window)
	if err != nil {
		return err
	}
	state.Written = n
	return nil
}
