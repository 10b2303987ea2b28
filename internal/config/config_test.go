package config

import (
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
store:
  backend: memory
paypal:
  own_emails: [treasury@example.org]
sources:
  - name: PayPal-Main
    type: PayPal
    creds_key: PAYPAL_MAIN
    creation_date: 2022-03-01
    emails: [donate@example.org]
  - name: Mono-UAH
    type: Monobank
    creds_key: MONO
    creation_date: 2022-03-01T10:00:00Z
    account_id: acc-1
    currency: UAH
  - name: Cash
    type: Manual
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.Currency.Reference)
	assert.Equal(t, []string{"T0000", "T0011"}, cfg.PayPal.AllowedEventCodes)
	assert.Equal(t, 500, cfg.PayPal.PageSize)
	assert.Equal(t, 25*24*time.Hour, cfg.Ingest.MaxWindow)
	assert.Equal(t, 60*time.Second, cfg.Ingest.RateLimitBackoff)
	require.Len(t, cfg.Currency.Realtime, 1)
	assert.Equal(t, 40.0, cfg.Currency.Realtime[0].DefaultRate)
	assert.Equal(t, time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Sources[0].CreationDate.UTC())
}

func TestSourceLookup(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	src, err := cfg.Source("Mono-UAH")
	require.NoError(t, err)
	assert.Equal(t, KindMonobank, src.Type)

	_, err = cfg.Source("Unknown")
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	assert.Equal(t, []string{"PayPal-Main", "Mono-UAH", "Cash"}, cfg.SourceNames())
	assert.Len(t, cfg.ScheduledSources(), 2)
	assert.ElementsMatch(t, []string{"treasury@example.org", "donate@example.org"}, cfg.OwnPayPalEmails())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"duplicate names", `
store: {backend: memory}
sources:
  - {name: A, type: PayPal, creation_date: 2022-01-01}
  - {name: A, type: Monobank, creation_date: 2022-01-01}
`},
		{"unknown type", `
store: {backend: memory}
sources:
  - {name: A, type: Venmo, creation_date: 2022-01-01}
`},
		{"missing creation date", `
store: {backend: memory}
sources:
  - {name: A, type: PayPal}
`},
		{"unknown backend", `
store: {backend: mongo}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
		})
	}
}

func TestSourceRequire(t *testing.T) {
	src := Source{Name: "Mono", AccountID: "acc"}
	assert.NoError(t, src.Require("account_id", src.AccountID))

	err := src.Require("account_id", src.AccountID, "currency", src.Currency)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.Contains(t, err.Error(), "currency")
}

func TestSecretsLookup(t *testing.T) {
	secrets := MapSecrets{"PAYPAL_MAIN_CLIENT_ID": "id-123"}

	v, err := secrets.Lookup("paypal-main", "client_id")
	require.NoError(t, err)
	assert.Equal(t, "id-123", v)

	_, err = secrets.Lookup("paypal-main", "secret_id")
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
	assert.NotContains(t, err.Error(), "id-123")
}

func TestLoadEnvSecretsWithoutDotenv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MONO_X_TOKEN", "tok")

	secrets, err := LoadEnvSecrets()
	require.NoError(t, err)

	v, err := secrets.Lookup("MONO", "X_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok", v)
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load("../../config.example.yml")
	require.NoError(t, err)

	assert.Equal(t, "bigquery", cfg.Store.Backend)
	assert.Equal(t, 25*24*time.Hour, cfg.Ingest.MaxWindow)
	assert.Equal(t, time.Minute, cfg.Monobank.MinRequestInterval)
	assert.Len(t, cfg.ScheduledSources(), 3)
	assert.Equal(t, []string{"treasury@example.org", "donate@example.org"}, cfg.OwnPayPalEmails())
}
