package currency

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
)

// CrossRateSource returns today's price of one unit of the base currency in
// the quote currency, both given as ISO 4217 numeric codes.
type CrossRateSource interface {
	CrossRate(ctx context.Context, base, quote int) (float64, error)
}

// MonobankRates reads the public Monobank /bank/currency feed.
type MonobankRates struct {
	baseURL string
	client  *httpx.Client
}

// NewMonobankRates creates a CrossRateSource over the Monobank API at baseURL.
func NewMonobankRates(baseURL string, client *httpx.Client) *MonobankRates {
	return &MonobankRates{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type monobankRate struct {
	CurrencyCodeA int     `json:"currencyCodeA"`
	CurrencyCodeB int     `json:"currencyCodeB"`
	RateSell      float64 `json:"rateSell"`
	RateCross     float64 `json:"rateCross"`
}

// CrossRate returns rateSell for the pair, or rateCross when the bank does not
// sell it directly.
func (m *MonobankRates) CrossRate(ctx context.Context, base, quote int) (float64, error) {
	var rates []monobankRate
	if err := m.client.GetJSON(ctx, m.baseURL+"/bank/currency", nil, &rates); err != nil {
		return 0, fmt.Errorf("CrossRate: %w", err)
	}
	for _, r := range rates {
		if r.CurrencyCodeA != base || r.CurrencyCodeB != quote {
			continue
		}
		if r.RateSell > 0 {
			return r.RateSell, nil
		}
		if r.RateCross > 0 {
			return r.RateCross, nil
		}
	}
	return 0, fmt.Errorf("CrossRate: %w: pair %d/%d not quoted", domain.ErrCurrencyUnavailable, base, quote)
}
