package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// CurrencyConverter converts an amount into the reference currency.
type CurrencyConverter interface {
	Convert(ctx context.Context, amount float64, currency string, date time.Time) (float64, error)
}

// Normalizer fills the fields every record gets regardless of its source.
type Normalizer struct {
	converter CurrencyConverter
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(converter CurrencyConverter) *Normalizer {
	return &Normalizer{converter: converter}
}

// Normalize returns copies of records with amountUSD computed where unset,
// donationSource and insertionMode stamped and the sender name masked.
// The first conversion failure aborts the batch.
func (n *Normalizer) Normalize(ctx context.Context, records []domain.DonationRecord, source string, mode domain.InsertionMode) ([]domain.DonationRecord, error) {
	out := make([]domain.DonationRecord, 0, len(records))
	for i, r := range records {
		r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))

		if r.AmountUSD == nil {
			usd, err := n.converter.Convert(ctx, r.AmountOriginal, r.Currency, r.Datetime)
			if err != nil {
				return nil, fmt.Errorf("Normalize: record %d: %w", i, err)
			}
			r.AmountUSD = domain.Float64Ptr(usd)
		}

		r.DonationSource = source
		r.InsertionMode = mode
		r.SenderNameCensored = domain.MaskName(r.SenderName)
		out = append(out, r)
	}
	return out, nil
}
