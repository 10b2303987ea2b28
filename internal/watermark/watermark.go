package watermark

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
)

// Watermark separates already-ingested data from new data for one source.
type Watermark struct {
	At        time.Time
	ColdStart bool // no record of the source has been persisted yet
}

// LatestFinder is the read side of the donations store.
type LatestFinder interface {
	FindLatest(ctx context.Context, source string) (*domain.DonationRecord, error)
}

// SourceLookup resolves a source config by name.
type SourceLookup interface {
	Source(name string) (config.Source, error)
}

// Resolver derives watermarks from the store and the source configs.
type Resolver struct {
	store   LatestFinder
	sources SourceLookup
}

// NewResolver creates a Resolver.
func NewResolver(store LatestFinder, sources SourceLookup) *Resolver {
	return &Resolver{store: store, sources: sources}
}

// Resolve returns the datetime of the latest persisted record of the source,
// or the source's creation date on a cold start. An unknown source is a
// configuration error.
func (r *Resolver) Resolve(ctx context.Context, source string) (Watermark, error) {
	src, err := r.sources.Source(source)
	if err != nil {
		return Watermark{}, fmt.Errorf("Resolve: %w", err)
	}

	latest, err := r.store.FindLatest(ctx, source)
	if err != nil {
		return Watermark{}, fmt.Errorf("Resolve: finding latest record of %s: %w", source, err)
	}
	if latest == nil {
		if src.CreationDate.IsZero() {
			return Watermark{}, fmt.Errorf("Resolve: %w: source %q has no creation_date", domain.ErrConfiguration, source)
		}
		return Watermark{At: src.CreationDate.UTC(), ColdStart: true}, nil
	}
	return Watermark{At: latest.Datetime.UTC(), ColdStart: false}, nil
}
