package domain

import (
	"time"
)

// InsertionMode tells whether a record came from a scheduled pull or a file import.
type InsertionMode string

const (
	InsertionModeAuto   InsertionMode = "Auto"
	InsertionModeManual InsertionMode = "Manual"
)

// Valid reports whether m is one of the two allowed literals.
func (m InsertionMode) Valid() bool {
	return m == InsertionModeAuto || m == InsertionModeManual
}

// DonationRecord is one canonical donation, the shape every source is mapped into
// before it reaches the store.
// Records are never updated once persisted.
type DonationRecord struct {
	SenderName         *string       // raw display name, nil when not derivable
	SenderNameCensored string        // MaskName(SenderName)
	SenderEmail        *string       // provided by the provider or extracted from the note
	Currency           string        // ISO 4217 code of AmountOriginal
	AmountOriginal     float64       // >= 0, in Currency
	AmountUSD          *float64      // >= 0, nil until converted
	SenderNote         string        // "" when absent
	Datetime           time.Time     // UTC
	DonationSource     string        // configured source name
	InsertionMode      InsertionMode // Auto or Manual
	CountryCode        *string       // 2-letter code or nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 {
	return &f
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
