package monobank

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/shopspring/decimal"
)

const (
	// senderMarker precedes the sender name in a statement description ("From: ").
	senderMarker = "Від: "

	// statementPageLimit is the most items one statement call returns.
	statementPageLimit = 500
)

// Config holds the settings of one Monobank account.
type Config struct {
	BaseURL   string
	AccountID string
	Currency  string // currency of the account, the API reports only numeric codes
	Token     string
}

// Adapter fetches incoming transfers from the Monobank personal statement API.
type Adapter struct {
	cfg    Config
	client *httpx.Client
}

// New creates an Adapter.
func New(cfg Config, client *httpx.Client) *Adapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Currency = strings.ToUpper(cfg.Currency)
	return &Adapter{cfg: cfg, client: client}
}

type statementItem struct {
	ID           string `json:"id"`
	Time         int64  `json:"time"`
	Description  string `json:"description"`
	Comment      string `json:"comment"`
	Amount       int64  `json:"amount"` // minor units
	CurrencyCode int    `json:"currencyCode"`
}

func (it statementItem) at() time.Time { return time.Unix(it.Time, 0).UTC() }

// Fetch returns the incoming transfers in the window, oldest first. Outside
// a cold start, items in the same second as the watermark are already stored.
func (a *Adapter) Fetch(ctx context.Context, w watermark.Window) ([]domain.DonationRecord, error) {
	log := logger.FromContext(ctx)

	items, err := a.statement(ctx, w.Start.Unix(), w.End.Unix())
	if err != nil {
		return nil, err
	}
	slices.Reverse(items)

	items = watermark.EqualTime[statementItem]{At: statementItem.at, Precision: time.Second}.Apply(items, w)

	records := make([]domain.DonationRecord, 0, len(items))
	for _, it := range items {
		amount := decimal.New(it.Amount, -2)
		if !amount.IsPositive() {
			continue
		}
		records = append(records, domain.DonationRecord{
			SenderName:     senderName(it.Description),
			SenderEmail:    domain.ExtractEmail(it.Comment),
			Currency:       a.cfg.Currency,
			AmountOriginal: amount.InexactFloat64(),
			SenderNote:     it.Comment,
			Datetime:       it.at(),
		})
	}

	log.Debug().Int("fetched", len(items)).Int("kept", len(records)).Msg("Monobank statement mapped")
	return records, nil
}

// statement returns every item in [from, to], newest first. A full page
// means more items may exist before the oldest one returned.
func (a *Adapter) statement(ctx context.Context, from, to int64) ([]statementItem, error) {
	header := http.Header{"X-Token": {a.cfg.Token}}
	seen := make(map[string]bool)

	var all []statementItem
	for {
		url := fmt.Sprintf("%s/personal/statement/%s/%d/%d", a.cfg.BaseURL, a.cfg.AccountID, from, to)

		var page []statementItem
		if err := a.client.GetJSON(ctx, url, header, &page); err != nil {
			return nil, fmt.Errorf("statement: %w", err)
		}
		for _, it := range page {
			if it.ID != "" && seen[it.ID] {
				continue
			}
			seen[it.ID] = true
			all = append(all, it)
		}

		if len(page) < statementPageLimit {
			return all, nil
		}
		oldest := page[len(page)-1].Time
		if oldest <= from || oldest >= to {
			return all, nil
		}
		to = oldest
	}
}

// senderName returns the name following the sender marker, or nil when the
// description has none. A marker with nothing after it gives "".
func senderName(description string) *string {
	_, after, found := strings.Cut(description, senderMarker)
	if !found {
		return nil
	}
	name, _, _ := strings.Cut(after, senderMarker)
	name = strings.TrimSpace(name)
	return &name
}
