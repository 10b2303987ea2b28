package sources

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/donation-tracker/internal/config"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/sources/monobank"
	"github.com/dvloznov/donation-tracker/internal/sources/paypal"
	"github.com/dvloznov/donation-tracker/internal/sources/privatbank"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const factoryConfig = `
store: {backend: memory}
monobank: {min_request_interval: 1m}
sources:
  - {name: PP, type: PayPal, creds_key: PP, creation_date: 2022-01-01}
  - {name: Mono, type: Monobank, creds_key: MONO, creation_date: 2022-01-01, account_id: acc, currency: UAH}
  - {name: MonoBroken, type: Monobank, creds_key: MONO, creation_date: 2022-01-01}
  - {name: Privat, type: Privatbank, creds_key: PRIVAT, creation_date: 2022-01-01}
  - {name: Cash, type: Manual}
`

func newFactory(t *testing.T, secrets config.MapSecrets) (*Factory, *config.Config) {
	t.Helper()
	cfg, err := config.Parse([]byte(factoryConfig))
	require.NoError(t, err)
	return NewFactory(cfg, secrets, nil), cfg
}

func TestFactoryBuild(t *testing.T) {
	f, cfg := newFactory(t, config.MapSecrets{
		"PP_CLIENT_ID": "id",
		"PP_SECRET_ID": "secret",
		"MONO_X_TOKEN": "tok",
		"PRIVAT_TOKEN": "tok",
	})
	ctx := context.Background()

	tests := []struct {
		source string
		check  func(t *testing.T, a Adapter)
	}{
		{"PP", func(t *testing.T, a Adapter) { assert.IsType(t, &paypal.Adapter{}, a) }},
		{"Mono", func(t *testing.T, a Adapter) { assert.IsType(t, &monobank.Adapter{}, a) }},
		{"Privat", func(t *testing.T, a Adapter) { assert.IsType(t, &privatbank.Adapter{}, a) }},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			src, err := cfg.Source(tt.source)
			require.NoError(t, err)
			a, err := f.Build(ctx, src)
			require.NoError(t, err)
			tt.check(t, a)
		})
	}
}

func TestFactoryBuild_ConfigurationErrors(t *testing.T) {
	f, cfg := newFactory(t, config.MapSecrets{"MONO_X_TOKEN": "tok"})
	ctx := context.Background()

	for _, name := range []string{"PP", "MonoBroken", "Privat", "Cash"} {
		t.Run(name, func(t *testing.T) {
			src, err := cfg.Source(name)
			require.NoError(t, err)
			_, err = f.Build(ctx, src)
			assert.True(t, errors.Is(err, domain.ErrConfiguration), "got %v", err)
		})
	}
}

func TestFactoryBuildManual(t *testing.T) {
	f, cfg := newFactory(t, nil)
	src, err := cfg.Source("Cash")
	require.NoError(t, err)

	_, err = f.BuildManual(src, "")
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	a, err := f.BuildManual(src, "/tmp/cash.csv")
	require.NoError(t, err)
	assert.NotNil(t, a)
}
