package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"gopkg.in/yaml.v3"
)

// Defaults used when config.yml leaves a field empty.
const (
	DefaultReferenceCurrency = "USD"
	DefaultReferenceNumeric  = 840

	DefaultPayPalBaseURL   = "https://api-m.paypal.com/v1"
	DefaultPayPalPageSize  = 500
	DefaultMonobankBaseURL = "https://api.monobank.ua"

	DefaultPrivatbankBaseURL = "https://acp.privatbank.ua/api"
	DefaultPrivatbankLimit   = 500

	DefaultMaxWindow        = 25 * 24 * time.Hour
	DefaultRateLimitBackoff = 60 * time.Second
	DefaultWorkers          = 4
	DefaultSchedule         = time.Hour
)

// Config is the deployment configuration, loaded once per run.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Store      StoreConfig      `yaml:"store"`
	Currency   CurrencyConfig   `yaml:"currency"`
	PayPal     PayPalConfig     `yaml:"paypal"`
	Monobank   MonobankConfig   `yaml:"monobank"`
	Privatbank PrivatbankConfig `yaml:"privatbank"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Imports    ImportsConfig    `yaml:"imports"`
	Sources    []Source         `yaml:"sources"`
}

// StoreConfig selects and configures the donations store.
type StoreConfig struct {
	Backend  string         `yaml:"backend"` // bigquery, postgres or memory
	BigQuery BigQueryConfig `yaml:"bigquery"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type BigQueryConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`
}

type PostgresConfig struct {
	URLEnv string `yaml:"url_env"` // environment variable holding the DSN
	Table  string `yaml:"table"`
}

// CurrencyConfig configures the reference currency and the currencies that
// the historical table does not cover.
type CurrencyConfig struct {
	Reference        string             `yaml:"reference"`
	ReferenceNumeric int                `yaml:"reference_numeric"`
	ECBURL           string             `yaml:"ecb_url"`
	Realtime         []RealtimeCurrency `yaml:"realtime"`
}

// RealtimeCurrency is converted with today's cross rate instead of a historical one.
type RealtimeCurrency struct {
	Code        string  `yaml:"code"`
	Numeric     int     `yaml:"numeric"`
	DefaultRate float64 `yaml:"default_rate"` // 0 disables the fallback
}

type PayPalConfig struct {
	BaseURL           string   `yaml:"base_url"`
	PageSize          int      `yaml:"page_size"`
	AllowedEventCodes []string `yaml:"allowed_event_codes"`
	OwnEmails         []string `yaml:"own_emails"`
}

type MonobankConfig struct {
	BaseURL            string        `yaml:"base_url"`
	MinRequestInterval time.Duration `yaml:"min_request_interval"`
}

type PrivatbankConfig struct {
	BaseURL          string   `yaml:"base_url"`
	Limit            int      `yaml:"limit"`
	ExcludedMarkers  []string `yaml:"excluded_markers"`
	DomesticCurrency string   `yaml:"domestic_currency"`
	LocalCountry     string   `yaml:"local_country"`
}

type IngestConfig struct {
	Workers          int           `yaml:"workers"`
	MaxWindow        time.Duration `yaml:"max_window"`
	RateLimitBackoff time.Duration `yaml:"rate_limit_backoff"`
	Schedule         time.Duration `yaml:"schedule"`
}

// ImportsConfig controls where uploaded manual CSVs are archived.
type ImportsConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("Parse: %w: %v", domain.ErrConfiguration, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "bigquery"
	}
	if c.Store.BigQuery.Table == "" {
		c.Store.BigQuery.Table = "donations"
	}
	if c.Store.Postgres.URLEnv == "" {
		c.Store.Postgres.URLEnv = "DATABASE_URL"
	}
	if c.Store.Postgres.Table == "" {
		c.Store.Postgres.Table = "donations"
	}
	if c.Currency.Reference == "" {
		c.Currency.Reference = DefaultReferenceCurrency
	}
	if c.Currency.ReferenceNumeric == 0 {
		c.Currency.ReferenceNumeric = DefaultReferenceNumeric
	}
	if c.Currency.Realtime == nil {
		c.Currency.Realtime = []RealtimeCurrency{{Code: "UAH", Numeric: 980, DefaultRate: 40.0}}
	}
	if c.PayPal.BaseURL == "" {
		c.PayPal.BaseURL = DefaultPayPalBaseURL
	}
	if c.PayPal.PageSize == 0 {
		c.PayPal.PageSize = DefaultPayPalPageSize
	}
	if c.PayPal.AllowedEventCodes == nil {
		c.PayPal.AllowedEventCodes = []string{"T0000", "T0011"}
	}
	if c.Monobank.BaseURL == "" {
		c.Monobank.BaseURL = DefaultMonobankBaseURL
	}
	if c.Privatbank.BaseURL == "" {
		c.Privatbank.BaseURL = DefaultPrivatbankBaseURL
	}
	if c.Privatbank.Limit == 0 {
		c.Privatbank.Limit = DefaultPrivatbankLimit
	}
	if c.Privatbank.ExcludedMarkers == nil {
		c.Privatbank.ExcludedMarkers = []string{"Гривнi вiд продажу"}
	}
	if c.Privatbank.DomesticCurrency == "" {
		c.Privatbank.DomesticCurrency = "UAH"
	}
	if c.Privatbank.LocalCountry == "" {
		c.Privatbank.LocalCountry = "UA"
	}
	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = DefaultWorkers
	}
	if c.Ingest.MaxWindow == 0 {
		c.Ingest.MaxWindow = DefaultMaxWindow
	}
	if c.Ingest.RateLimitBackoff == 0 {
		c.Ingest.RateLimitBackoff = DefaultRateLimitBackoff
	}
	if c.Ingest.Schedule == 0 {
		c.Ingest.Schedule = DefaultSchedule
	}
}

// Validate checks the structure of the config. Provider-specific fields are
// checked when the adapter for a source is built, so one broken source does
// not stop the others.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "bigquery", "postgres", "memory":
	default:
		return fmt.Errorf("Validate: %w: unknown store backend %q", domain.ErrConfiguration, c.Store.Backend)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("Validate: %w: ingest.workers must be at least 1", domain.ErrConfiguration)
	}
	if c.Ingest.MaxWindow <= 0 {
		return fmt.Errorf("Validate: %w: ingest.max_window must be positive", domain.ErrConfiguration)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("Validate: %w: sources[%d] has no name", domain.ErrConfiguration, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("Validate: %w: duplicate source name %q", domain.ErrConfiguration, s.Name)
		}
		seen[s.Name] = true
		if !s.Type.Valid() {
			return fmt.Errorf("Validate: %w: source %q has unknown type %q", domain.ErrConfiguration, s.Name, s.Type)
		}
		if s.Type != KindManual && s.CreationDate.IsZero() {
			return fmt.Errorf("Validate: %w: source %q has no creation_date", domain.ErrConfiguration, s.Name)
		}
	}
	return nil
}

// Source returns the config of the named source.
func (c *Config) Source(name string) (Source, error) {
	for _, s := range c.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return Source{}, fmt.Errorf("%w: no config is found for source %q", domain.ErrConfiguration, name)
}

// SourceNames lists every configured source name in config order.
// It is the allowed donationSource enum of the store schema.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		names = append(names, s.Name)
	}
	return names
}

// SourcesOfKind returns the sources of one adapter kind in config order.
func (c *Config) SourcesOfKind(k Kind) []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Type == k {
			out = append(out, s)
		}
	}
	return out
}

// ScheduledSources returns every source pulled by the scheduler, i.e. all but Manual ones.
func (c *Config) ScheduledSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Type != KindManual {
			out = append(out, s)
		}
	}
	return out
}

// OwnPayPalEmails returns the deployment's own PayPal account emails: the
// explicit paypal.own_emails list plus the emails of every PayPal source.
func (c *Config) OwnPayPalEmails() []string {
	emails := append([]string(nil), c.PayPal.OwnEmails...)
	for _, s := range c.SourcesOfKind(KindPayPal) {
		emails = append(emails, s.Emails...)
	}
	return emails
}

// PostgresURL reads the Postgres DSN from the configured environment variable.
func (c *Config) PostgresURL() (string, error) {
	v := getEnv(c.Store.Postgres.URLEnv, "")
	if v == "" {
		return "", fmt.Errorf("PostgresURL: %w: %s is not set", domain.ErrConfiguration, c.Store.Postgres.URLEnv)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
