package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/shopspring/decimal"
)

// TableLoader fetches the historical reference table.
type TableLoader func(ctx context.Context) (*Table, error)

// lazy computes a value on first use and publishes it to every later caller.
// The first caller's context is the one used for the computation.
type lazy[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (l *lazy[T]) get(fn func() (T, error)) (T, error) {
	l.once.Do(func() { l.val, l.err = fn() })
	return l.val, l.err
}

// Converter converts amounts into the reference currency.
//
// Currencies listed as realtime use one cross rate fetched on first use and
// reused for every date; all others use the historical table. Both values
// are computed at most once per Converter and are safe for concurrent use.
type Converter struct {
	reference        string
	referenceNumeric int

	loadTable TableLoader
	table     lazy[*Table]

	rates    CrossRateSource
	realtime map[string]*realtimeRate
}

type realtimeRate struct {
	cfg  config.RealtimeCurrency
	rate lazy[float64]
}

// NewConverter builds a Converter. rates may be nil when no realtime currency
// is configured or only default rates should be used.
func NewConverter(cfg config.CurrencyConfig, loadTable TableLoader, rates CrossRateSource) *Converter {
	c := &Converter{
		reference:        strings.ToUpper(cfg.Reference),
		referenceNumeric: cfg.ReferenceNumeric,
		loadTable:        loadTable,
		rates:            rates,
		realtime:         make(map[string]*realtimeRate, len(cfg.Realtime)),
	}
	for _, rt := range cfg.Realtime {
		c.realtime[strings.ToUpper(rt.Code)] = &realtimeRate{cfg: rt}
	}
	return c
}

// Reference returns the reference currency code.
func (c *Converter) Reference() string { return c.reference }

// Convert returns amount, given in currency on date, in the reference
// currency rounded to 2 decimals. The reference currency itself is returned
// unchanged and unrounded.
func (c *Converter) Convert(ctx context.Context, amount float64, currency string, date time.Time) (float64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == c.reference {
		return amount, nil
	}

	if rt, ok := c.realtime[currency]; ok {
		rate, err := c.crossRate(ctx, rt)
		if err != nil {
			return 0, err
		}
		return Round2(decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(rate))), nil
	}

	table, err := c.table.get(func() (*Table, error) {
		if c.loadTable == nil {
			return nil, fmt.Errorf("%w: no historical rate table configured", domain.ErrCurrencyUnavailable)
		}
		return c.loadTable(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("Convert: loading rate table: %w", wrapUnavailable(err))
	}
	if !table.Covers(currency) {
		return 0, fmt.Errorf("Convert: %w: %s is neither in the reference table nor configured as realtime", domain.ErrCurrencyUnavailable, currency)
	}

	from, err := table.Rate(currency, date)
	if err != nil {
		return 0, fmt.Errorf("Convert: %w", err)
	}
	to, err := table.Rate(c.reference, date)
	if err != nil {
		return 0, fmt.Errorf("Convert: %w", err)
	}

	eur := decimal.NewFromFloat(amount).Div(decimal.NewFromFloat(from))
	return Round2(eur.Mul(decimal.NewFromFloat(to))), nil
}

// crossRate returns the memoized realtime rate. A failed fetch falls back to
// the configured default; without one the currency is unavailable.
func (c *Converter) crossRate(ctx context.Context, rt *realtimeRate) (float64, error) {
	return rt.rate.get(func() (float64, error) {
		log := logger.FromContext(ctx)

		fetchErr := errors.New("no cross rate source")
		if c.rates != nil {
			rate, err := c.rates.CrossRate(ctx, c.referenceNumeric, rt.cfg.Numeric)
			if err == nil && rate > 0 {
				log.Info().Str("currency", rt.cfg.Code).Float64("rate", rate).Msg("Fetched realtime cross rate")
				return rate, nil
			}
			if err != nil {
				fetchErr = err
			} else {
				fetchErr = fmt.Errorf("non-positive rate %v", rate)
			}
		}

		if rt.cfg.DefaultRate > 0 {
			log.Warn().Err(fetchErr).
				Str("currency", rt.cfg.Code).
				Float64("default_rate", rt.cfg.DefaultRate).
				Msg("Realtime cross rate unavailable, using default rate")
			metrics.CurrencyFallbacksTotal.WithLabelValues(rt.cfg.Code).Inc()
			return rt.cfg.DefaultRate, nil
		}
		return 0, fmt.Errorf("crossRate: %w: %s: %v", domain.ErrCurrencyUnavailable, rt.cfg.Code, fetchErr)
	})
}

// Round2 rounds half away from zero to 2 decimals.
func Round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrCurrencyUnavailable, err)
}

// FromConfig builds a Converter over the ECB history archive and the
// Monobank public rates. Each call returns a fresh memo, so callers create
// one per run.
func FromConfig(cfg *config.Config, opts ...httpx.Option) *Converter {
	ecbURL := cfg.Currency.ECBURL
	if ecbURL == "" {
		ecbURL = ECBHistoryURL
	}
	ecb := httpx.New("ecb", opts...)
	rates := NewMonobankRates(cfg.Monobank.BaseURL, httpx.New("monobank", opts...))

	return NewConverter(cfg.Currency, func(ctx context.Context) (*Table, error) {
		return LoadECBTable(ctx, ecb, ecbURL)
	}, rates)
}
