package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks an unknown source or a missing required config field.
	ErrConfiguration = errors.New("configuration error")
	// ErrCurrencyUnavailable is returned when no rate source, including the default, can convert an amount.
	ErrCurrencyUnavailable = errors.New("currency unavailable")
	// ErrSchemaViolation marks a bulk write rejected by the store schema.
	ErrSchemaViolation = errors.New("schema violation")
	// ErrProvider marks any failure talking to an upstream provider.
	ErrProvider = errors.New("provider error")
)

// ProviderError is a non-success upstream response or an undecodable body.
// Body holds the raw response for diagnosis.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v: %s", e.Provider, e.StatusCode, e.Err, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// SchemaViolationError describes the first offending field of a rejected batch.
type SchemaViolationError struct {
	Index  int // position of the record in the batch, -1 when the store could not tell
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("schema violation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("schema violation: record %d: %s: %s", e.Index, e.Field, e.Reason)
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }
