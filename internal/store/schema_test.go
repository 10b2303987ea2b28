package store

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

func validRecord() domain.DonationRecord {
	return domain.DonationRecord{
		SenderName:         domain.StringPtr("Test Person"),
		SenderNameCensored: "Te** Pe****",
		Currency:           "EUR",
		AmountOriginal:     10,
		AmountUSD:          domain.Float64Ptr(10.04),
		Datetime:           time.Date(2022, 8, 20, 0, 0, 0, 0, time.UTC),
		DonationSource:     "PayPal-Main",
		InsertionMode:      domain.InsertionModeAuto,
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *domain.DonationRecord)
		wantField string
	}{
		{"valid", func(r *domain.DonationRecord) {}, ""},
		{"null name with empty censored name", func(r *domain.DonationRecord) { r.SenderName = nil; r.SenderNameCensored = "" }, ""},
		{"zero amounts", func(r *domain.DonationRecord) { r.AmountOriginal = 0; r.AmountUSD = domain.Float64Ptr(0) }, ""},
		{"unknown source", func(r *domain.DonationRecord) { r.DonationSource = "Venmo" }, "donationSource"},
		{"bad insertion mode", func(r *domain.DonationRecord) { r.InsertionMode = "Batch" }, "insertionMode"},
		{"negative original", func(r *domain.DonationRecord) { r.AmountOriginal = -1 }, "amountOriginal"},
		{"NaN original", func(r *domain.DonationRecord) { r.AmountOriginal = math.NaN() }, "amountOriginal"},
		{"missing usd", func(r *domain.DonationRecord) { r.AmountUSD = nil }, "amountUSD"},
		{"negative usd", func(r *domain.DonationRecord) { r.AmountUSD = domain.Float64Ptr(-0.01) }, "amountUSD"},
		{"missing datetime", func(r *domain.DonationRecord) { r.Datetime = time.Time{} }, "datetime"},
		{"bad currency", func(r *domain.DonationRecord) { r.Currency = "eu" }, "currency"},
		{"censored without name", func(r *domain.DonationRecord) { r.SenderName = nil }, "senderNameCensored"},
	}

	schema := NewSchema([]string{"PayPal-Main"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRecord()
			tt.mutate(&r)

			err := schema.Validate(3, r)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected valid record, got %v", err)
				}
				return
			}

			var sv *domain.SchemaViolationError
			if !errors.As(err, &sv) {
				t.Fatalf("expected SchemaViolationError, got %v", err)
			}
			if sv.Field != tt.wantField || sv.Index != 3 {
				t.Errorf("got field %q index %d, want %q index 3", sv.Field, sv.Index, tt.wantField)
			}
			if !errors.Is(err, domain.ErrSchemaViolation) {
				t.Error("expected error to match ErrSchemaViolation")
			}
		})
	}
}

func TestSchemaSetSources(t *testing.T) {
	schema := NewSchema([]string{"b", "a"})
	if got := schema.Sources(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Sources() = %v", got)
	}

	schema.SetSources([]string{"c"})
	r := validRecord()
	r.DonationSource = "a"
	if err := schema.Validate(0, r); !errors.Is(err, domain.ErrSchemaViolation) {
		t.Errorf("expected removed source to be rejected, got %v", err)
	}
}
