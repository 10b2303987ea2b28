package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/joho/godotenv"
)

// Secrets resolves provider credentials from a source's creds_key.
type Secrets interface {
	Lookup(credsKey, field string) (string, error)
}

// EnvSecrets reads credentials from environment variables named
// <CREDS_KEY>_<FIELD>, e.g. PAYPAL_MAIN_CLIENT_ID.
type EnvSecrets struct {
	lookup func(string) (string, bool)
}

// LoadEnvSecrets loads the given dotenv files (".env" when none are given)
// into the process environment and returns an EnvSecrets over it.
// A missing default .env file is not an error.
func LoadEnvSecrets(files ...string) (*EnvSecrets, error) {
	if err := godotenv.Load(files...); err != nil {
		if len(files) > 0 || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("LoadEnvSecrets: %w", err)
		}
	}
	return &EnvSecrets{lookup: os.LookupEnv}, nil
}

// NewEnvSecrets returns an EnvSecrets over a custom lookup function.
func NewEnvSecrets(lookup func(string) (string, bool)) *EnvSecrets {
	return &EnvSecrets{lookup: lookup}
}

// Lookup returns the secret or ErrConfiguration if it is unset.
func (s *EnvSecrets) Lookup(credsKey, field string) (string, error) {
	if credsKey == "" {
		return "", fmt.Errorf("%w: empty creds_key for %s", domain.ErrConfiguration, field)
	}
	key := EnvKey(credsKey, field)
	v, ok := s.lookup(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: secret %s is not set", domain.ErrConfiguration, key)
	}
	return v, nil
}

// EnvKey builds the environment variable name for a credential field.
func EnvKey(credsKey, field string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return strings.ToUpper(r.Replace(credsKey + "_" + field))
}

// MapSecrets is a fixed Secrets map keyed by EnvKey, handy for tests and one-off tools.
type MapSecrets map[string]string

func (m MapSecrets) Lookup(credsKey, field string) (string, error) {
	return NewEnvSecrets(func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}).Lookup(credsKey, field)
}
