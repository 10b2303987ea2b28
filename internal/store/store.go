package store

import (
	"context"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// Reader is the read side used to derive watermarks.
type Reader interface {
	// FindLatest returns the record of the source with the greatest datetime,
	// or nil when the source has no persisted record.
	FindLatest(ctx context.Context, source string) (*domain.DonationRecord, error)
}

// Writer is the write side used by the sink.
type Writer interface {
	// InsertMany persists all records or none. A record that fails the schema
	// rejects the whole batch with an error matching domain.ErrSchemaViolation.
	InsertMany(ctx context.Context, records []domain.DonationRecord) error
}

// SchemaEnforcer installs the donationSource enum on the store.
type SchemaEnforcer interface {
	// EnforceSchema replaces the allowed donationSource values.
	EnforceSchema(ctx context.Context, sources []string) error
}

// Store is a donations store.
type Store interface {
	Reader
	Writer
	SchemaEnforcer
	Close() error
}
