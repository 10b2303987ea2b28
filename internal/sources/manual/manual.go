package manual

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/gcsuploader"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/shopspring/decimal"
)

// Columns of a manual import file. Only datetime, currency and amountOriginal
// are mandatory; the others may be absent or blank.
const (
	colDatetime       = "datetime"
	colSenderName     = "senderName"
	colSenderEmail    = "senderEmail"
	colCurrency       = "currency"
	colAmountUSD      = "amountUSD"
	colAmountOriginal = "amountOriginal"
	colSenderNote     = "senderNote"
	colCountryCode    = "countryCode"
)

var requiredColumns = []string{colDatetime, colCurrency, colAmountOriginal}

// nullTokens are cell values read as a missing value.
var nullTokens = map[string]bool{
	"": true, "nan": true, "NaN": true, "NAN": true, "null": true, "NULL": true,
	"None": true, "N/A": true, "NA": true, "#N/A": true, "<NA>": true,
}

var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// FileFetcher reads gs:// objects.
type FileFetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// Adapter reads a fully formed batch of records from a CSV file. It does not
// use the window: whatever the file holds is imported.
type Adapter struct {
	path    string
	fetcher FileFetcher
}

// New creates an Adapter over a local path or a gs:// URI. fetcher may be
// nil when only local files are used.
func New(path string, fetcher FileFetcher) *Adapter {
	return &Adapter{path: path, fetcher: fetcher}
}

// Fetch implements the source adapter capability; the window is ignored.
func (a *Adapter) Fetch(ctx context.Context, _ watermark.Window) ([]domain.DonationRecord, error) {
	data, err := a.read(ctx)
	if err != nil {
		return nil, err
	}
	return Parse(bytes.NewReader(data))
}

func (a *Adapter) read(ctx context.Context) ([]byte, error) {
	if gcsuploader.IsGCSURI(a.path) {
		if a.fetcher == nil {
			return nil, fmt.Errorf("read: %w: no storage client for %s", domain.ErrConfiguration, a.path)
		}
		return a.fetcher.FetchFromGCS(ctx, a.path)
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return data, nil
}

// Parse reads manual records from CSV. Missing notes become "", other missing
// values become null. A row that cannot be read fails the whole file.
func Parse(r io.Reader) ([]domain.DonationRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("Parse: reading header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("Parse: %w", &domain.SchemaViolationError{Index: -1, Field: col, Reason: "column is missing"})
		}
	}

	var records []domain.DonationRecord
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("Parse: %w", err)
		}

		cell := func(col string) *string {
			i, ok := idx[col]
			if !ok || i >= len(rec) {
				return nil
			}
			v := strings.TrimSpace(rec[i])
			if nullTokens[v] {
				return nil
			}
			return &v
		}

		dr, err := parseRow(row, cell)
		if err != nil {
			return nil, fmt.Errorf("Parse: %w", err)
		}
		records = append(records, dr)
	}
}

func parseRow(row int, cell func(string) *string) (domain.DonationRecord, error) {
	violation := func(field, reason string) error {
		return &domain.SchemaViolationError{Index: row, Field: field, Reason: reason}
	}

	dt := cell(colDatetime)
	if dt == nil {
		return domain.DonationRecord{}, violation(colDatetime, "is required")
	}
	at, err := parseDatetime(*dt)
	if err != nil {
		return domain.DonationRecord{}, violation(colDatetime, err.Error())
	}

	cur := cell(colCurrency)
	if cur == nil {
		return domain.DonationRecord{}, violation(colCurrency, "is required")
	}

	orig := cell(colAmountOriginal)
	if orig == nil {
		return domain.DonationRecord{}, violation(colAmountOriginal, "is required")
	}
	amountOriginal, err := decimal.NewFromString(*orig)
	if err != nil {
		return domain.DonationRecord{}, violation(colAmountOriginal, "is not a number")
	}

	var amountUSD *float64
	if v := cell(colAmountUSD); v != nil {
		d, err := decimal.NewFromString(*v)
		if err != nil {
			return domain.DonationRecord{}, violation(colAmountUSD, "is not a number")
		}
		amountUSD = domain.Float64Ptr(d.InexactFloat64())
	}

	note := ""
	if v := cell(colSenderNote); v != nil {
		note = *v
	}

	return domain.DonationRecord{
		SenderName:     cell(colSenderName),
		SenderEmail:    cell(colSenderEmail),
		Currency:       strings.ToUpper(*cur),
		AmountOriginal: amountOriginal.InexactFloat64(),
		AmountUSD:      amountUSD,
		SenderNote:     note,
		Datetime:       at,
		CountryCode:    cell(colCountryCode),
	}, nil
}

func parseDatetime(s string) (time.Time, error) {
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised datetime %q", s)
}
