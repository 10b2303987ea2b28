package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
)

// Repository is the BigQuery donations store. It holds a shared client.
type Repository struct {
	client *bigquery.Client
	ref    TableRef
	schema *store.Schema
	now    func() time.Time
}

var _ store.Store = (*Repository)(nil)

// NewRepository creates a Repository over the configured table. Records are
// validated against the schema before every insert.
func NewRepository(ctx context.Context, cfg config.BigQueryConfig, sources []string) (*Repository, error) {
	if cfg.Project == "" || cfg.Dataset == "" {
		return nil, fmt.Errorf("NewRepository: %w: store.bigquery needs project and dataset", domain.ErrConfiguration)
	}
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{
		client: client,
		ref:    TableRef{Project: cfg.Project, Dataset: cfg.Dataset, Table: cfg.Table},
		schema: store.NewSchema(sources),
		now:    time.Now,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// FindLatest implements store.Reader.
func (r *Repository) FindLatest(ctx context.Context, source string) (*domain.DonationRecord, error) {
	return FindLatestWithClient(ctx, r.client, r.ref, source)
}

// InsertMany implements store.Writer.
func (r *Repository) InsertMany(ctx context.Context, records []domain.DonationRecord) error {
	rows, err := Rows(r.schema, records, r.now())
	if err != nil {
		return fmt.Errorf("InsertMany: %w", err)
	}
	return InsertDonationsWithClient(ctx, r.client, r.ref, rows)
}

// EnforceSchema implements store.SchemaEnforcer.
func (r *Repository) EnforceSchema(ctx context.Context, sources []string) error {
	if err := EnforceSchemaWithClient(ctx, r.client, r.ref, sources); err != nil {
		return err
	}
	r.schema.SetSources(sources)
	return nil
}

// Rows validates the whole batch and maps it to table rows.
func Rows(schema *store.Schema, records []domain.DonationRecord, insertedAt time.Time) ([]*DonationRow, error) {
	if err := schema.ValidateAll(records); err != nil {
		return nil, err
	}
	rows := make([]*DonationRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, ToRow(rec, insertedAt))
	}
	return rows, nil
}
