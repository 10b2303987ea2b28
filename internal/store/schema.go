package store

import (
	"math"
	"sort"
	"sync"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// Schema validates records before they are persisted. It mirrors the
// constraints every backend enforces: all fields present, non-negative
// amounts, and the donationSource and insertionMode enums.
type Schema struct {
	mu      sync.RWMutex
	sources map[string]bool
}

// NewSchema creates a Schema allowing the given source names.
func NewSchema(sources []string) *Schema {
	s := &Schema{}
	s.SetSources(sources)
	return s
}

// SetSources replaces the donationSource enum.
func (s *Schema) SetSources(sources []string) {
	m := make(map[string]bool, len(sources))
	for _, name := range sources {
		m[name] = true
	}
	s.mu.Lock()
	s.sources = m
	s.mu.Unlock()
}

// Sources returns the donationSource enum, sorted.
func (s *Schema) Sources() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.sources))
	for name := range s.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ValidateAll checks every record and returns the first violation.
func (s *Schema) ValidateAll(records []domain.DonationRecord) error {
	for i := range records {
		if err := s.Validate(i, records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks one record; i is its position in the batch.
func (s *Schema) Validate(i int, r domain.DonationRecord) error {
	violation := func(field, reason string) error {
		return &domain.SchemaViolationError{Index: i, Field: field, Reason: reason}
	}

	if !validCurrency(r.Currency) {
		return violation("currency", "must be a 3-letter code")
	}
	if r.Datetime.IsZero() {
		return violation("datetime", "is required")
	}
	if !nonNegative(r.AmountOriginal) {
		return violation("amountOriginal", "must be a non-negative number")
	}
	if r.AmountUSD == nil {
		return violation("amountUSD", "is required")
	}
	if !nonNegative(*r.AmountUSD) {
		return violation("amountUSD", "must be a non-negative number")
	}
	if r.SenderName == nil && r.SenderNameCensored != "" {
		return violation("senderNameCensored", "must be empty when senderName is null")
	}
	if !r.InsertionMode.Valid() {
		return violation("insertionMode", "can only be one of Manual, Auto")
	}

	s.mu.RLock()
	allowed := s.sources[r.DonationSource]
	s.mu.RUnlock()
	if !allowed {
		return violation("donationSource", "can only be one of the configured sources, got "+r.DonationSource)
	}
	return nil
}

func nonNegative(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f >= 0
}

func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
