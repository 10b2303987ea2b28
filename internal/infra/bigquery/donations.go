package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/donation-tracker/internal/domain"
)

// DonationRow is one row of the donations table.
type DonationRow struct {
	SenderName         bigquery.NullString  `bigquery:"sender_name"`          // NULLABLE
	SenderNameCensored string               `bigquery:"sender_name_censored"` // REQUIRED, "" when sender_name is NULL
	SenderEmail        bigquery.NullString  `bigquery:"sender_email"`         // NULLABLE
	Currency           string               `bigquery:"currency"`             // REQUIRED
	AmountOriginal     float64              `bigquery:"amount_original"`      // REQUIRED, >= 0
	AmountUSD          bigquery.NullFloat64 `bigquery:"amount_usd"`           // REQUIRED on insert, >= 0
	SenderNote         string               `bigquery:"sender_note"`          // REQUIRED, may be ""
	Datetime           time.Time            `bigquery:"datetime"`             // REQUIRED
	DonationSource     string               `bigquery:"donation_source"`      // REQUIRED, configured source name
	InsertionMode      string               `bigquery:"insertion_mode"`       // REQUIRED, Auto or Manual
	CountryCode        bigquery.NullString  `bigquery:"country_code"`         // NULLABLE

	InsertedTS time.Time `bigquery:"inserted_ts"` // REQUIRED
}

// DonationsSchema is the table schema installed by migrations and EnforceSchema.
func DonationsSchema(sources []string) bigquery.Schema {
	return bigquery.Schema{
		{Name: "sender_name", Type: bigquery.StringFieldType},
		{Name: "sender_name_censored", Type: bigquery.StringFieldType, Required: true},
		{Name: "sender_email", Type: bigquery.StringFieldType},
		{Name: "currency", Type: bigquery.StringFieldType, Required: true, MaxLength: 3},
		{Name: "amount_original", Type: bigquery.FloatFieldType, Required: true},
		{Name: "amount_usd", Type: bigquery.FloatFieldType, Required: true},
		{Name: "sender_note", Type: bigquery.StringFieldType, Required: true},
		{Name: "datetime", Type: bigquery.TimestampFieldType, Required: true},
		{Name: "donation_source", Type: bigquery.StringFieldType, Required: true, Description: SourceEnumDescription(sources)},
		{Name: "insertion_mode", Type: bigquery.StringFieldType, Required: true, Description: "One of: Auto, Manual"},
		{Name: "country_code", Type: bigquery.StringFieldType, MaxLength: 2},
		{Name: "inserted_ts", Type: bigquery.TimestampFieldType, Required: true},
	}
}

// ToRow maps a normalized record to a table row.
func ToRow(r domain.DonationRecord, insertedAt time.Time) *DonationRow {
	row := &DonationRow{
		SenderName:         nullString(r.SenderName),
		SenderNameCensored: r.SenderNameCensored,
		SenderEmail:        nullString(r.SenderEmail),
		Currency:           r.Currency,
		AmountOriginal:     r.AmountOriginal,
		SenderNote:         r.SenderNote,
		Datetime:           r.Datetime.UTC(),
		DonationSource:     r.DonationSource,
		InsertionMode:      string(r.InsertionMode),
		CountryCode:        nullString(r.CountryCode),
		InsertedTS:         insertedAt.UTC(),
	}
	if r.AmountUSD != nil {
		row.AmountUSD = bigquery.NullFloat64{Float64: *r.AmountUSD, Valid: true}
	}
	return row
}

// Record maps a table row back to a record.
func (row *DonationRow) Record() domain.DonationRecord {
	r := domain.DonationRecord{
		SenderName:         stringPtr(row.SenderName),
		SenderNameCensored: row.SenderNameCensored,
		SenderEmail:        stringPtr(row.SenderEmail),
		Currency:           row.Currency,
		AmountOriginal:     row.AmountOriginal,
		SenderNote:         row.SenderNote,
		Datetime:           row.Datetime.UTC(),
		DonationSource:     row.DonationSource,
		InsertionMode:      domain.InsertionMode(row.InsertionMode),
		CountryCode:        stringPtr(row.CountryCode),
	}
	if row.AmountUSD.Valid {
		r.AmountUSD = domain.Float64Ptr(row.AmountUSD.Float64)
	}
	return r
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

func stringPtr(s bigquery.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.StringVal
	return &v
}
