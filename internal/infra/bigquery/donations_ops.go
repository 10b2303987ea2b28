package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// TableRef locates the donations table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// FullName is the backquoted project.dataset.table name used in SQL.
func (t TableRef) FullName() string {
	return fmt.Sprintf("`%s.%s.%s`", t.Project, t.Dataset, t.Table)
}

func (t TableRef) handle(client *bigquery.Client) *bigquery.Table {
	return client.DatasetInProject(t.Project, t.Dataset).Table(t.Table)
}

// FindLatestQuery selects the newest row of one source.
func FindLatestQuery(ref TableRef) string {
	return fmt.Sprintf(`
		SELECT *
		FROM %s
		WHERE donation_source = @source
		ORDER BY datetime DESC
		LIMIT 1
	`, ref.FullName())
}

// FindLatestWithClient returns the newest record of source, or nil when the
// source has no rows.
func FindLatestWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, source string) (*domain.DonationRecord, error) {
	q := client.Query(FindLatestQuery(ref))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "source", Value: source},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindLatest: query read: %w", err)
	}

	var row DonationRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindLatest: iter next: %w", err)
	}

	r := row.Record()
	return &r, nil
}

// InsertDonationsWithClient streams rows in a single insert request, keyed
// by fresh insert ids. BigQuery rejects the whole request when any row is
// invalid; such rejections are reported as schema violations.
func InsertDonationsWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, rows []*DonationRow) error {
	if len(rows) == 0 {
		return nil
	}

	savers := make([]*bigquery.StructSaver, 0, len(rows))
	for _, row := range rows {
		savers = append(savers, &bigquery.StructSaver{
			Struct:   row,
			InsertID: uuid.NewString(),
		})
	}

	inserter := ref.handle(client).Inserter()
	if err := inserter.Put(ctx, savers); err != nil {
		return fmt.Errorf("InsertDonations: inserting rows: %w", classifyInsertError(err))
	}
	return nil
}

// classifyInsertError turns per-row rejections into a SchemaViolationError
// for the first rejected row.
func classifyInsertError(err error) error {
	var multi bigquery.PutMultiError
	if !errors.As(err, &multi) || len(multi) == 0 {
		return err
	}

	first := multi[0]
	for _, rowErr := range multi[1:] {
		if rowErr.RowIndex < first.RowIndex {
			first = rowErr
		}
	}
	return &domain.SchemaViolationError{
		Index:  first.RowIndex,
		Field:  "row",
		Reason: first.Errors.Error(),
	}
}

// EnforceSchemaWithClient creates the donations table if it is missing and
// otherwise updates its schema, recording the allowed donation_source values.
func EnforceSchemaWithClient(ctx context.Context, client *bigquery.Client, ref TableRef, sources []string) error {
	table := ref.handle(client)
	schema := DonationsSchema(sources)

	meta, err := table.Metadata(ctx)
	if err != nil {
		if !IsNotFound(err) {
			return fmt.Errorf("EnforceSchema: reading table metadata: %w", err)
		}
		err = table.Create(ctx, &bigquery.TableMetadata{
			Schema:           schema,
			TimePartitioning: &bigquery.TimePartitioning{Type: bigquery.MonthPartitioningType, Field: "datetime"},
			Clustering:       &bigquery.Clustering{Fields: []string{"donation_source"}},
		})
		if err != nil {
			return fmt.Errorf("EnforceSchema: creating table: %w", err)
		}
		return nil
	}

	update := bigquery.TableMetadataToUpdate{
		Schema:      mergeSchema(meta.Schema, schema),
		Description: fmt.Sprintf("Donations. Updated %s", time.Now().UTC().Format(time.RFC3339)),
	}
	if _, err := table.Update(ctx, update, meta.ETag); err != nil {
		return fmt.Errorf("EnforceSchema: updating table: %w", err)
	}
	return nil
}

// mergeSchema keeps existing fields in place, refreshes the descriptions of
// known ones and appends new ones. BigQuery only allows additive changes.
func mergeSchema(existing, desired bigquery.Schema) bigquery.Schema {
	byName := make(map[string]*bigquery.FieldSchema, len(desired))
	for _, f := range desired {
		byName[f.Name] = f
	}

	out := make(bigquery.Schema, 0, len(desired))
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		field := *f
		if d, ok := byName[f.Name]; ok {
			field.Description = d.Description
		}
		out = append(out, &field)
		seen[f.Name] = true
	}
	for _, f := range desired {
		if seen[f.Name] {
			continue
		}
		added := *f
		added.Required = false
		out = append(out, &added)
	}
	return out
}

// SourceEnumDescription renders the allowed donation_source values.
func SourceEnumDescription(sources []string) string {
	sorted := append([]string(nil), sources...)
	sort.Strings(sorted)
	return "One of: " + strings.Join(sorted, ", ")
}

// IsNotFound reports whether err is a BigQuery 404.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
