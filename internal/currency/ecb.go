package currency

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
)

// ECBHistoryURL is the zipped CSV of every euro reference rate since 1999.
const ECBHistoryURL = "https://www.ecb.europa.eu/stats/eurofxref/eurofxref-hist.zip"

// Table holds euro reference rates indexed by date, oldest first.
type Table struct {
	dates []time.Time
	rates []map[string]float64
	known map[string]bool
}

// Covers reports whether the table has any rate for the currency.
func (t *Table) Covers(currency string) bool {
	return currency == "EUR" || t.known[currency]
}

// Rate returns units of currency per euro on date. Dates outside the table
// are clamped to its first or last day; a day without a quote for the
// currency falls back to the nearest quoted day, preferring the earlier one
// on a tie.
func (t *Table) Rate(currency string, date time.Time) (float64, error) {
	if currency == "EUR" {
		return 1, nil
	}
	if !t.known[currency] || len(t.dates) == 0 {
		return 0, fmt.Errorf("%w: %s is not in the reference table", domain.ErrCurrencyUnavailable, currency)
	}

	day := truncateDay(date)
	i := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(day) })

	// i is the first row on or after day; walk outwards from it.
	lo, hi := i-1, i
	for lo >= 0 || hi < len(t.dates) {
		var loDist, hiDist time.Duration = -1, -1
		if lo >= 0 {
			loDist = day.Sub(t.dates[lo])
		}
		if hi < len(t.dates) {
			hiDist = t.dates[hi].Sub(day)
		}
		if hiDist >= 0 && (loDist < 0 || hiDist < loDist) {
			if r, ok := t.rates[hi][currency]; ok {
				return r, nil
			}
			hi++
			continue
		}
		if r, ok := t.rates[lo][currency]; ok {
			return r, nil
		}
		lo--
	}
	return 0, fmt.Errorf("%w: no quote for %s", domain.ErrCurrencyUnavailable, currency)
}

// ParseECBCSV reads the ECB history CSV: a Date column followed by one column
// per currency, "N/A" for missing quotes.
func ParseECBCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ParseECBCSV: reading header: %w", err)
	}
	if len(header) == 0 || !strings.EqualFold(strings.TrimSpace(header[0]), "Date") {
		return nil, fmt.Errorf("ParseECBCSV: unexpected header %v", header)
	}

	type row struct {
		date  time.Time
		rates map[string]float64
	}
	var rows []row
	known := make(map[string]bool)

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ParseECBCSV: %w", err)
		}
		date, err := time.Parse("2006-01-02", strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("ParseECBCSV: parsing date %q: %w", rec[0], err)
		}
		rates := make(map[string]float64)
		for j := 1; j < len(rec) && j < len(header); j++ {
			code := strings.TrimSpace(header[j])
			v := strings.TrimSpace(rec[j])
			if code == "" || v == "" || v == "N/A" {
				continue
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f <= 0 {
				continue
			}
			rates[code] = f
			known[code] = true
		}
		rows = append(rows, row{date: date, rates: rates})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].date.Before(rows[j].date) })

	t := &Table{known: known}
	for _, r := range rows {
		t.dates = append(t.dates, r.date)
		t.rates = append(t.rates, r.rates)
	}
	return t, nil
}

// LoadECBTable downloads and parses the zipped ECB history.
func LoadECBTable(ctx context.Context, client *httpx.Client, url string) (*Table, error) {
	if url == "" {
		url = ECBHistoryURL
	}
	body, err := client.Get(ctx, url, http.Header{"Content-Type": {"application/zip"}})
	if err != nil {
		return nil, fmt.Errorf("LoadECBTable: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("LoadECBTable: opening zip: %w", err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("LoadECBTable: opening %s: %w", f.Name, err)
		}
		defer rc.Close()
		return ParseECBCSV(rc)
	}
	return nil, fmt.Errorf("LoadECBTable: no csv file in archive")
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
