package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/store"
)

// Store is an in-memory donations store, safe for concurrent use.
// Data is lost on restart.
type Store struct {
	mu      sync.RWMutex
	records []domain.DonationRecord
	schema  *store.Schema
}

var _ store.Store = (*Store)(nil)

// NewStore creates an empty store allowing the given source names.
func NewStore(sources []string) *Store {
	return &Store{schema: store.NewSchema(sources)}
}

// FindLatest implements store.Reader.
func (s *Store) FindLatest(ctx context.Context, source string) (*domain.DonationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.DonationRecord
	for i := range s.records {
		r := &s.records[i]
		if r.DonationSource != source {
			continue
		}
		if latest == nil || r.Datetime.After(latest.Datetime) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

// InsertMany implements store.Writer. The batch is validated before any
// record is appended.
func (s *Store) InsertMany(ctx context.Context, records []domain.DonationRecord) error {
	if err := s.schema.ValidateAll(records); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

// EnforceSchema implements store.SchemaEnforcer.
func (s *Store) EnforceSchema(ctx context.Context, sources []string) error {
	s.schema.SetSources(sources)
	return nil
}

// Records returns a copy of the records of a source ("" for all), ordered by datetime.
func (s *Store) Records(source string) []domain.DonationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.DonationRecord
	for _, r := range s.records {
		if source == "" || r.DonationSource == source {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Datetime.Before(out[j].Datetime) })
	return out
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }
