package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes reported as schema violations.
const (
	codeNotNullViolation     = "23502"
	codeCheckViolation       = "23514"
	codeInvalidTextRepr      = "22P02"
	codeStringDataTruncation = "22001"
)

const sourceConstraint = "donations_source_enum"

// Store is the Postgres donations store. Inserts run in one transaction.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	schema *store.Schema
}

var _ store.Store = (*Store)(nil)

// NewStore creates a Store over an open pool.
func NewStore(pool *pgxpool.Pool, table string, sources []string) *Store {
	return &Store{pool: pool, table: table, schema: store.NewSchema(sources)}
}

// Open connects to databaseURL and returns a Store owning the pool.
func Open(ctx context.Context, databaseURL, table string, sources []string) (*Store, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return NewStore(pool, table, sources), nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// FindLatest implements store.Reader.
func (s *Store) FindLatest(ctx context.Context, source string) (*domain.DonationRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT sender_name, sender_name_censored, sender_email, currency, amount_original,
       amount_usd, sender_note, datetime, donation_source, insertion_mode, country_code
FROM `+s.ident()+`
WHERE donation_source = $1
ORDER BY datetime DESC
LIMIT 1;
`, source)

	var (
		r    domain.DonationRecord
		mode string
	)
	err := row.Scan(
		&r.SenderName,
		&r.SenderNameCensored,
		&r.SenderEmail,
		&r.Currency,
		&r.AmountOriginal,
		&r.AmountUSD,
		&r.SenderNote,
		&r.Datetime,
		&r.DonationSource,
		&mode,
		&r.CountryCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindLatest: %w", err)
	}
	r.InsertionMode = domain.InsertionMode(mode)
	r.Datetime = r.Datetime.UTC()
	return &r, nil
}

// InsertMany implements store.Writer. The batch is validated up front and
// then sent as one pgx.Batch inside a transaction.
func (s *Store) InsertMany(ctx context.Context, records []domain.DonationRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.schema.ValidateAll(records); err != nil {
		return fmt.Errorf("InsertMany: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("InsertMany: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insertedAt := time.Now().UTC()
	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(`INSERT INTO `+s.ident()+`
			(sender_name, sender_name_censored, sender_email, currency, amount_original,
			 amount_usd, sender_note, datetime, donation_source, insertion_mode, country_code, inserted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			r.SenderName, r.SenderNameCensored, r.SenderEmail, r.Currency, r.AmountOriginal,
			r.AmountUSD, r.SenderNote, r.Datetime.UTC(), r.DonationSource, string(r.InsertionMode), r.CountryCode, insertedAt,
		)
	}

	br := tx.SendBatch(ctx, b)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("InsertMany: %w", classify(i, err))
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("InsertMany: %w", classify(-1, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("InsertMany: commit: %w", err)
	}
	return nil
}

// EnforceSchema implements store.SchemaEnforcer. It creates the table when
// missing and replaces the donation_source CHECK constraint atomically.
func (s *Store) EnforceSchema(ctx context.Context, sources []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("EnforceSchema: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, stmt := range EnforceSchemaSQL(s.table, sources) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("EnforceSchema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("EnforceSchema: commit: %w", err)
	}

	s.schema.SetSources(sources)
	return nil
}

// EnforceSchemaSQL returns the DDL installing the donations table and its
// constraints for the given source enum.
func EnforceSchemaSQL(table string, sources []string) []string {
	ident := pgx.Identifier{table}.Sanitize()
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
    id                   BIGSERIAL PRIMARY KEY,
    sender_name          TEXT,
    sender_name_censored TEXT NOT NULL,
    sender_email         TEXT,
    currency             CHAR(3) NOT NULL CHECK (currency ~ '^[A-Z]{3}$'),
    amount_original      DOUBLE PRECISION NOT NULL CHECK (amount_original >= 0),
    amount_usd           DOUBLE PRECISION NOT NULL CHECK (amount_usd >= 0),
    sender_note          TEXT NOT NULL DEFAULT '',
    datetime             TIMESTAMPTZ NOT NULL,
    donation_source      TEXT NOT NULL,
    insertion_mode       TEXT NOT NULL CHECK (insertion_mode IN ('Auto', 'Manual')),
    country_code         CHAR(2),
    inserted_at          TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{table + "_source_datetime_idx"}.Sanitize() +
			` ON ` + ident + ` (donation_source, datetime DESC)`,
		`ALTER TABLE ` + ident + ` DROP CONSTRAINT IF EXISTS ` + sourceConstraint,
		`ALTER TABLE ` + ident + ` ADD CONSTRAINT ` + sourceConstraint +
			` CHECK (donation_source IN (` + literalList(sources) + `)) NOT VALID`,
	}
}

func literalList(values []string) string {
	if len(values) == 0 {
		return "NULL"
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	quoted := make([]string, 0, len(sorted))
	for _, v := range sorted {
		quoted = append(quoted, "'"+strings.ReplaceAll(v, "'", "''")+"'")
	}
	return strings.Join(quoted, ", ")
}

// classify maps constraint failures to a SchemaViolationError; i is the
// batch index of the failing statement, -1 when unknown.
func classify(i int, err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeNotNullViolation, codeCheckViolation, codeInvalidTextRepr, codeStringDataTruncation:
		field := pgErr.ColumnName
		if field == "" {
			field = pgErr.ConstraintName
		}
		return &domain.SchemaViolationError{Index: i, Field: field, Reason: pgErr.Message}
	}
	return err
}
