package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/sources"
	"github.com/dvloznov/donation-tracker/internal/watermark"
)

// PipelineStep represents a single step of a per-source run.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across the steps of one run.
type PipelineState struct {
	Source config.Source
	Mode   domain.InsertionMode
	Now    time.Time

	Adapter   sources.Adapter
	Watermark watermark.Watermark
	// Window is nil for file imports.
	Window  *watermark.Window
	Records []domain.DonationRecord
	Written int
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// NewSourcePipeline creates the pipeline of a scheduled source run:
// build adapter, resolve watermark, plan window, fetch, normalize, write.
func NewSourcePipeline(factory AdapterFactory, resolver WatermarkResolver, maxSpan time.Duration, normalizer *Normalizer, sink *Sink) *Pipeline {
	return NewPipeline(
		&BuildAdapterStep{Factory: factory},
		&ResolveWatermarkStep{Resolver: resolver},
		&PlanWindowStep{MaxSpan: maxSpan},
		&FetchStep{},
		&NormalizeStep{Normalizer: normalizer},
		&WriteStep{Sink: sink},
	)
}

// NewImportPipeline creates the pipeline of a file import. The adapter is
// set on the state by the caller and no window is planned.
func NewImportPipeline(normalizer *Normalizer, sink *Sink) *Pipeline {
	return NewPipeline(
		&FetchStep{},
		&NormalizeStep{Normalizer: normalizer},
		&WriteStep{Sink: sink},
	)
}
