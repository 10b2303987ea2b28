package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	queryTimeLayout = "2006-01-02T15:04:05Z"
	successStatus   = "S"
	requestedFields = "transaction_info,payer_info"
)

// Config holds the PayPal settings shared by every PayPal source.
type Config struct {
	BaseURL           string
	PageSize          int
	AllowedEventCodes []string
	OwnEmails         []string // payments from these accounts are internal transfers
}

// Adapter fetches completed incoming payments from the PayPal transaction search API.
type Adapter struct {
	cfg     Config
	client  *httpx.Client
	allowed map[string]bool
	own     map[string]bool
}

// New creates an Adapter. client must attach a PayPal bearer token, see NewHTTPClient.
func New(cfg Config, client *httpx.Client) *Adapter {
	a := &Adapter{
		cfg:     cfg,
		client:  client,
		allowed: make(map[string]bool, len(cfg.AllowedEventCodes)),
		own:     make(map[string]bool, len(cfg.OwnEmails)),
	}
	a.cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	for _, c := range cfg.AllowedEventCodes {
		a.allowed[c] = true
	}
	for _, e := range cfg.OwnEmails {
		a.own[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return a
}

// NewHTTPClient returns an http.Client that obtains and refreshes a
// client-credentials token from {baseURL}/oauth2/token.
func NewHTTPClient(ctx context.Context, baseURL, clientID, secret string) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     strings.TrimRight(baseURL, "/") + "/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	hc := cc.Client(ctx)
	hc.Timeout = 60 * time.Second
	return hc
}

type transactionsResponse struct {
	TransactionDetails []transactionDetail `json:"transaction_details"`
	Page               int                 `json:"page"`
	TotalPages         int                 `json:"total_pages"`
}

type transactionDetail struct {
	TransactionInfo transactionInfo `json:"transaction_info"`
	PayerInfo       payerInfo       `json:"payer_info"`
}

type transactionInfo struct {
	TransactionID   string `json:"transaction_id"`
	EventCode       string `json:"transaction_event_code"`
	InitiationDate  string `json:"transaction_initiation_date"`
	Amount          money  `json:"transaction_amount"`
	TransactionNote string `json:"transaction_note"`
}

type money struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payerInfo struct {
	EmailAddress string `json:"email_address"`
	PayerName    struct {
		AlternateFullName string `json:"alternate_full_name"`
	} `json:"payer_name"`
}

// Fetch returns the payments in the window. Outside a cold start the API
// returns the already persisted watermark payment first, and it is dropped.
func (a *Adapter) Fetch(ctx context.Context, w watermark.Window) ([]domain.DonationRecord, error) {
	log := logger.FromContext(ctx)

	details, err := a.fetchAll(ctx, w)
	if err != nil {
		return nil, err
	}
	details = watermark.Position[transactionDetail]{}.Apply(details, w)

	records := make([]domain.DonationRecord, 0, len(details))
	for _, d := range details {
		rec, ok, err := a.toRecord(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	log.Debug().Int("fetched", len(details)).Int("kept", len(records)).Msg("PayPal transactions mapped")
	return records, nil
}

func (a *Adapter) fetchAll(ctx context.Context, w watermark.Window) ([]transactionDetail, error) {
	header := http.Header{"Accept-Language": {"en_US"}}

	var all []transactionDetail
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("start_date", w.Start.UTC().Format(queryTimeLayout))
		q.Set("end_date", w.End.UTC().Format(queryTimeLayout))
		q.Set("page_size", strconv.Itoa(a.cfg.PageSize))
		q.Set("transaction_status", successStatus)
		q.Set("fields", requestedFields)
		q.Set("page", strconv.Itoa(page))

		var resp transactionsResponse
		if err := a.client.GetJSON(ctx, a.cfg.BaseURL+"/reporting/transactions?"+q.Encode(), header, &resp); err != nil {
			return nil, fmt.Errorf("fetchAll: page %d: %w", page, err)
		}
		all = append(all, resp.TransactionDetails...)

		if resp.TotalPages <= page || len(resp.TransactionDetails) == 0 {
			return all, nil
		}
	}
}

// toRecord maps one transaction, reporting false for transactions that are
// not donations: other event codes, non-positive amounts and own transfers.
func (a *Adapter) toRecord(d transactionDetail) (domain.DonationRecord, bool, error) {
	info := d.TransactionInfo
	if !a.allowed[info.EventCode] {
		return domain.DonationRecord{}, false, nil
	}

	amount, err := decimal.NewFromString(info.Amount.Value)
	if err != nil {
		return domain.DonationRecord{}, false, &domain.ProviderError{
			Provider: a.client.Provider(),
			Body:     info.Amount.Value,
			Err:      fmt.Errorf("transaction %s: parsing amount: %w", info.TransactionID, err),
		}
	}
	if !amount.IsPositive() {
		return domain.DonationRecord{}, false, nil
	}

	email := strings.TrimSpace(d.PayerInfo.EmailAddress)
	if a.own[strings.ToLower(email)] {
		return domain.DonationRecord{}, false, nil
	}

	at, err := parseInitiationDate(info.InitiationDate)
	if err != nil {
		return domain.DonationRecord{}, false, &domain.ProviderError{
			Provider: a.client.Provider(),
			Body:     info.InitiationDate,
			Err:      fmt.Errorf("transaction %s: %w", info.TransactionID, err),
		}
	}

	return domain.DonationRecord{
		SenderName:     domain.StringPtr(strings.TrimSpace(d.PayerInfo.PayerName.AlternateFullName)),
		SenderEmail:    domain.StringPtr(email),
		Currency:       strings.ToUpper(info.Amount.CurrencyCode),
		AmountOriginal: amount.InexactFloat64(),
		SenderNote:     info.TransactionNote,
		Datetime:       at,
	}, true, nil
}

func parseInitiationDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05-0700", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing transaction_initiation_date %q", s)
}
