package sources

import (
	"context"
	"fmt"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/httpx"
	"github.com/dvloznov/donation-tracker/internal/sources/manual"
	"github.com/dvloznov/donation-tracker/internal/sources/monobank"
	"github.com/dvloznov/donation-tracker/internal/sources/paypal"
	"github.com/dvloznov/donation-tracker/internal/sources/privatbank"
	"github.com/dvloznov/donation-tracker/internal/watermark"
	"golang.org/x/time/rate"
)

// Adapter fetches one window of a source and maps it to canonical records.
// Adapters suppress the boundary record themselves.
type Adapter interface {
	Fetch(ctx context.Context, w watermark.Window) ([]domain.DonationRecord, error)
}

var (
	_ Adapter = (*paypal.Adapter)(nil)
	_ Adapter = (*monobank.Adapter)(nil)
	_ Adapter = (*privatbank.Adapter)(nil)
	_ Adapter = (*manual.Adapter)(nil)
)

// Secret fields looked up under a source's creds_key.
const (
	SecretPayPalClientID = "CLIENT_ID"
	SecretPayPalSecret   = "SECRET_ID"
	SecretMonobankToken  = "X_TOKEN"
	SecretPrivatbankKey  = "TOKEN"
)

// Factory builds adapters from source configs.
type Factory struct {
	cfg      *config.Config
	secrets  config.Secrets
	files    manual.FileFetcher
	httpOpts []httpx.Option

	// one limiter for every Monobank account, the API throttles per client
	monobankLimiter *rate.Limiter
}

// NewFactory creates a Factory. files may be nil when manual imports read
// only local files. opts apply to every provider HTTP client.
func NewFactory(cfg *config.Config, secrets config.Secrets, files manual.FileFetcher, opts ...httpx.Option) *Factory {
	f := &Factory{
		cfg:      cfg,
		secrets:  secrets,
		files:    files,
		httpOpts: append([]httpx.Option{httpx.WithBackoff(cfg.Ingest.RateLimitBackoff)}, opts...),
	}
	if cfg.Monobank.MinRequestInterval > 0 {
		f.monobankLimiter = rate.NewLimiter(rate.Every(cfg.Monobank.MinRequestInterval), 1)
	}
	return f
}

// Build returns the adapter of a scheduled source. Missing fields or secrets
// are configuration errors for that source only.
func (f *Factory) Build(ctx context.Context, src config.Source) (Adapter, error) {
	switch src.Type {
	case config.KindPayPal:
		return f.buildPayPal(ctx, src)
	case config.KindMonobank:
		return f.buildMonobank(src)
	case config.KindPrivatbank:
		return f.buildPrivatbank(src)
	case config.KindManual:
		return nil, fmt.Errorf("Build: %w: source %q is imported from files, not scheduled", domain.ErrConfiguration, src.Name)
	default:
		return nil, fmt.Errorf("Build: %w: source %q has unknown type %q", domain.ErrConfiguration, src.Name, src.Type)
	}
}

// BuildManual returns an adapter importing path (local or gs://) into src.
func (f *Factory) BuildManual(src config.Source, path string) (Adapter, error) {
	if path == "" {
		return nil, fmt.Errorf("BuildManual: %w: no file given for source %q", domain.ErrConfiguration, src.Name)
	}
	return manual.New(path, f.files), nil
}

func (f *Factory) buildPayPal(ctx context.Context, src config.Source) (Adapter, error) {
	clientID, err := f.secrets.Lookup(src.CredsKey, SecretPayPalClientID)
	if err != nil {
		return nil, fmt.Errorf("buildPayPal: source %q: %w", src.Name, err)
	}
	secret, err := f.secrets.Lookup(src.CredsKey, SecretPayPalSecret)
	if err != nil {
		return nil, fmt.Errorf("buildPayPal: source %q: %w", src.Name, err)
	}

	hc := paypal.NewHTTPClient(ctx, f.cfg.PayPal.BaseURL, clientID, secret)
	client := httpx.New("paypal", append([]httpx.Option{httpx.WithHTTPClient(hc)}, f.httpOpts...)...)

	return paypal.New(paypal.Config{
		BaseURL:           f.cfg.PayPal.BaseURL,
		PageSize:          f.cfg.PayPal.PageSize,
		AllowedEventCodes: f.cfg.PayPal.AllowedEventCodes,
		OwnEmails:         f.cfg.OwnPayPalEmails(),
	}, client), nil
}

func (f *Factory) buildMonobank(src config.Source) (Adapter, error) {
	if err := src.Require("account_id", src.AccountID, "currency", src.Currency); err != nil {
		return nil, fmt.Errorf("buildMonobank: %w", err)
	}
	token, err := f.secrets.Lookup(src.CredsKey, SecretMonobankToken)
	if err != nil {
		return nil, fmt.Errorf("buildMonobank: source %q: %w", src.Name, err)
	}

	opts := append([]httpx.Option{httpx.WithLimiter(f.monobankLimiter)}, f.httpOpts...)
	return monobank.New(monobank.Config{
		BaseURL:   f.cfg.Monobank.BaseURL,
		AccountID: src.AccountID,
		Currency:  src.Currency,
		Token:     token,
	}, httpx.New("monobank", opts...)), nil
}

func (f *Factory) buildPrivatbank(src config.Source) (Adapter, error) {
	token, err := f.secrets.Lookup(src.CredsKey, SecretPrivatbankKey)
	if err != nil {
		return nil, fmt.Errorf("buildPrivatbank: source %q: %w", src.Name, err)
	}

	return privatbank.New(privatbank.Config{
		BaseURL:          f.cfg.Privatbank.BaseURL,
		Token:            token,
		Limit:            f.cfg.Privatbank.Limit,
		ExcludedMarkers:  f.cfg.Privatbank.ExcludedMarkers,
		DomesticCurrency: f.cfg.Privatbank.DomesticCurrency,
		LocalCountry:     f.cfg.Privatbank.LocalCountry,
	}, httpx.New("privatbank", f.httpOpts...)), nil
}
