package privatbank

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/shopspring/decimal"
)

const (
	creditType = "C"

	// transitMarker marks a counterparty that is a bank transit account, not a person.
	transitMarker = "Транз.рах."

	// foreignMarker starts the one copy of a SWIFT transfer that is kept; the
	// feed carries every foreign transfer twice.
	foreignMarker = "From"

	startDateLayout = "02-01-2006"
	dateTimeLayout  = "02.01.2006 15:04:05"
)

// Config holds the settings of one Privatbank business account.
type Config struct {
	BaseURL          string
	Token            string
	Limit            int
	ExcludedMarkers  []string // narratives containing any of these are not donations
	DomesticCurrency string
	LocalCountry     string
}

// Adapter fetches incoming payments from the Privatbank business statement API.
type Adapter struct {
	cfg    Config
	client *httpx.Client
}

// New creates an Adapter.
func New(cfg Config, client *httpx.Client) *Adapter {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Adapter{cfg: cfg, client: client}
}

type statementResponse struct {
	Status        string        `json:"status"`
	ExistNextPage bool          `json:"exist_next_page"`
	NextPageID    string        `json:"next_page_id"`
	Transactions  []transaction `json:"transactions"`
}

type transaction struct {
	ID               string          `json:"ID"`
	TranType         string          `json:"TRANTYPE"`
	Narrative        string          `json:"OSND"`
	DateTime         string          `json:"DATE_TIME_DAT_OD_TIM_P"`
	Currency         string          `json:"CCY"`
	CounterpartyName string          `json:"AUT_CNTR_NAM"`
	Sum              decimal.Decimal `json:"SUM"`
}

type credit struct {
	transaction
	at time.Time
}

func (c credit) when() time.Time { return c.at }

// Fetch returns the credits in the window. The API filters by start day only,
// so records at or before the watermark and at or after the window end are
// dropped here.
func (a *Adapter) Fetch(ctx context.Context, w watermark.Window) ([]domain.DonationRecord, error) {
	log := logger.FromContext(ctx)

	txs, err := a.fetchAll(ctx, w.Start)
	if err != nil {
		return nil, err
	}

	var credits []credit
	for _, tx := range txs {
		if tx.TranType != creditType || a.excluded(tx.Narrative) {
			continue
		}
		at, err := time.Parse(dateTimeLayout, strings.TrimSpace(tx.DateTime))
		if err != nil {
			return nil, &domain.ProviderError{
				Provider: a.client.Provider(),
				Body:     tx.DateTime,
				Err:      fmt.Errorf("transaction %s: parsing DATE_TIME_DAT_OD_TIM_P: %w", tx.ID, err),
			}
		}
		if !w.End.IsZero() && !at.Before(w.End) {
			continue
		}
		credits = append(credits, credit{transaction: tx, at: at.UTC()})
	}
	sort.SliceStable(credits, func(i, j int) bool { return credits[i].at.Before(credits[j].at) })

	credits = watermark.AtOrBefore[credit]{At: credit.when}.Apply(credits, w)

	records := make([]domain.DonationRecord, 0, len(credits))
	for _, c := range credits {
		rec, ok := a.toRecord(c)
		if ok {
			records = append(records, rec)
		}
	}

	log.Debug().Int("fetched", len(txs)).Int("kept", len(records)).Msg("Privatbank statement mapped")
	return records, nil
}

func (a *Adapter) fetchAll(ctx context.Context, start time.Time) ([]transaction, error) {
	header := http.Header{"token": {a.cfg.Token}}

	var all []transaction
	followID := ""
	for {
		q := url.Values{}
		q.Set("startDate", start.UTC().Format(startDateLayout))
		q.Set("limit", strconv.Itoa(a.cfg.Limit))
		if followID != "" {
			q.Set("followId", followID)
		}

		var resp statementResponse
		if err := a.client.GetJSON(ctx, a.cfg.BaseURL+"/statements/transactions?"+q.Encode(), header, &resp); err != nil {
			return nil, fmt.Errorf("fetchAll: %w", err)
		}
		all = append(all, resp.Transactions...)

		if !resp.ExistNextPage || resp.NextPageID == "" || resp.NextPageID == followID {
			return all, nil
		}
		followID = resp.NextPageID
	}
}

func (a *Adapter) excluded(narrative string) bool {
	for _, m := range a.cfg.ExcludedMarkers {
		if m != "" && strings.Contains(narrative, m) {
			return true
		}
	}
	return false
}

// toRecord maps a credit, reporting false for the duplicate copy of a SWIFT transfer.
func (a *Adapter) toRecord(c credit) (domain.DonationRecord, bool) {
	var (
		name    *string
		country *string
	)
	if c.Currency == a.cfg.DomesticCurrency {
		if !strings.Contains(c.CounterpartyName, transitMarker) {
			name = domain.StringPtr(strings.TrimSpace(c.CounterpartyName))
		}
		country = domain.StringPtr(a.cfg.LocalCountry)
	} else {
		words := strings.Fields(c.Narrative)
		if len(words) == 0 || words[0] != foreignMarker {
			return domain.DonationRecord{}, false
		}
		end := min(3, len(words))
		name = domain.StringPtr(strings.ReplaceAll(strings.Join(words[1:end], " "), "1/", ""))
	}

	return domain.DonationRecord{
		SenderName:     name,
		SenderEmail:    domain.ExtractEmail(c.Narrative),
		Currency:       strings.ToUpper(c.Currency),
		AmountOriginal: c.Sum.InexactFloat64(),
		SenderNote:     c.Narrative,
		Datetime:       c.at,
		CountryCode:    country,
	}, true
}
