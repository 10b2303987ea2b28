package currency

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ecbFixture = `Date,USD,JPY,GBP,PLN,
2022-08-22,0.9986,137.05,0.8460,4.7405,
2022-08-19,1.0035,137.93,0.8450,N/A,
2022-08-18,1.0178,136.70,0.8437,4.7170,
`

func fixtureTable(t *testing.T) *Table {
	t.Helper()
	table, err := ParseECBCSV(strings.NewReader(ecbFixture))
	require.NoError(t, err)
	return table
}

type fakeRates struct {
	rate  float64
	err   error
	calls atomic.Int32
}

func (f *fakeRates) CrossRate(ctx context.Context, base, quote int) (float64, error) {
	f.calls.Add(1)
	return f.rate, f.err
}

func newTestConverter(t *testing.T, rates CrossRateSource, realtime ...config.RealtimeCurrency) (*Converter, *atomic.Int32) {
	t.Helper()
	table := fixtureTable(t)
	var loads atomic.Int32
	loader := func(ctx context.Context) (*Table, error) {
		loads.Add(1)
		return table, nil
	}
	cfg := config.CurrencyConfig{Reference: "USD", ReferenceNumeric: 840, Realtime: realtime}
	return NewConverter(cfg, loader, rates), &loads
}

var uah = config.RealtimeCurrency{Code: "UAH", Numeric: 980, DefaultRate: 40.0}

func TestConvert_ReferenceIsIdentity(t *testing.T) {
	c, loads := newTestConverter(t, nil)

	for _, amount := range []float64{0, 1, 10.005, 123.456789} {
		got, err := c.Convert(context.Background(), amount, "USD", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, amount, got)
	}
	assert.Equal(t, int32(0), loads.Load(), "identity conversion must not load the table")
}

func TestConvert_Historical(t *testing.T) {
	c, loads := newTestConverter(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		amount   float64
		currency string
		date     time.Time
		want     float64
	}{
		{"weekend uses nearest quoted day", 10, "EUR", time.Date(2022, 8, 20, 0, 0, 0, 0, time.UTC), 10.04},
		{"exact day", 100, "GBP", time.Date(2022, 8, 19, 15, 0, 0, 0, time.UTC), 118.76},
		{"missing quote falls back to nearest day", 100, "PLN", time.Date(2022, 8, 19, 0, 0, 0, 0, time.UTC), 21.27},
		{"before table clamps to first day", 10, "EUR", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), 10.18},
		{"after table clamps to last day", 10, "EUR", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 9.99},
		{"lowercase code", 10, "eur", time.Date(2022, 8, 22, 0, 0, 0, 0, time.UTC), 9.99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Convert(ctx, tt.amount, tt.currency, tt.date)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, int32(1), loads.Load(), "table must be loaded once")
}

func TestConvert_UnknownCurrency(t *testing.T) {
	c, _ := newTestConverter(t, nil)

	_, err := c.Convert(context.Background(), 10, "XYZ", time.Now())
	assert.True(t, errors.Is(err, domain.ErrCurrencyUnavailable))
}

func TestConvert_RealtimeRateFetchedOnce(t *testing.T) {
	rates := &fakeRates{rate: 41.0}
	c, loads := newTestConverter(t, rates, uah)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]float64, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Convert(ctx, 1000, "UAH", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))
			assert.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, 24.39, got)
	}
	assert.Equal(t, int32(1), rates.calls.Load())
	assert.Equal(t, int32(0), loads.Load(), "realtime currencies do not use the table")
}

func TestConvert_RealtimeFallsBackToDefault(t *testing.T) {
	rates := &fakeRates{err: errors.New("monobank down")}
	c, _ := newTestConverter(t, rates, uah)

	got, err := c.Convert(context.Background(), 1000, "UAH", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 25.0, got)

	got, err = c.Convert(context.Background(), 100, "UAH", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)
	assert.Equal(t, int32(1), rates.calls.Load(), "fallback is memoized too")
}

func TestConvert_NoDefaultSurfacesUnavailable(t *testing.T) {
	rates := &fakeRates{err: errors.New("monobank down")}
	c, _ := newTestConverter(t, rates, config.RealtimeCurrency{Code: "UAH", Numeric: 980})

	_, err := c.Convert(context.Background(), 1000, "UAH", time.Now())
	assert.True(t, errors.Is(err, domain.ErrCurrencyUnavailable))
}

func TestConvert_TableLoadFailure(t *testing.T) {
	loader := func(ctx context.Context) (*Table, error) { return nil, errors.New("ecb unreachable") }
	c := NewConverter(config.CurrencyConfig{Reference: "USD", ReferenceNumeric: 840}, loader, nil)

	_, err := c.Convert(context.Background(), 10, "EUR", time.Now())
	assert.True(t, errors.Is(err, domain.ErrCurrencyUnavailable))
}

func TestLoadECBTable(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("eurofxref-hist.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(ecbFixture))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	table, err := LoadECBTable(context.Background(), httpx.New("ecb"), srv.URL)
	require.NoError(t, err)
	assert.True(t, table.Covers("JPY"))
	assert.False(t, table.Covers("UAH"))

	rate, err := table.Rate("JPY", time.Date(2022, 8, 18, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 136.70, rate)
}

func TestMonobankRates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bank/currency", r.URL.Path)
		w.Write([]byte(`[
			{"currencyCodeA": 978, "currencyCodeB": 980, "rateSell": 44.1, "rateBuy": 43.2},
			{"currencyCodeA": 840, "currencyCodeB": 980, "rateSell": 41.45, "rateBuy": 40.9},
			{"currencyCodeA": 985, "currencyCodeB": 980, "rateCross": 10.5}
		]`))
	}))
	defer srv.Close()

	rates := NewMonobankRates(srv.URL+"/", httpx.New("monobank"))

	rate, err := rates.CrossRate(context.Background(), 840, 980)
	require.NoError(t, err)
	assert.Equal(t, 41.45, rate)

	rate, err = rates.CrossRate(context.Background(), 985, 980)
	require.NoError(t, err)
	assert.Equal(t, 10.5, rate)

	_, err = rates.CrossRate(context.Background(), 826, 980)
	assert.True(t, errors.Is(err, domain.ErrCurrencyUnavailable))
}
