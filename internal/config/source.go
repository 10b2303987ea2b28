package config

import (
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// Kind is the closed set of adapter kinds a source can use.
type Kind string

const (
	KindPayPal     Kind = "PayPal"
	KindMonobank   Kind = "Monobank"
	KindPrivatbank Kind = "Privatbank"
	KindManual     Kind = "Manual"
)

// Valid reports whether k is a known adapter kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPayPal, KindMonobank, KindPrivatbank, KindManual:
		return true
	}
	return false
}

// Source is the static definition of one donation source.
type Source struct {
	Name         string    `yaml:"name"`
	Type         Kind      `yaml:"type"`
	CredsKey     string    `yaml:"creds_key"`
	CreationDate time.Time `yaml:"creation_date"`

	AccountID string   `yaml:"account_id"` // Monobank
	Currency  string   `yaml:"currency"`   // Monobank account currency
	Emails    []string `yaml:"emails"`     // PayPal account emails
}

// Require returns ErrConfiguration naming the first empty field among pairs of
// (field name, value).
func (s Source) Require(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("%w: source %q is missing %s", domain.ErrConfiguration, s.Name, fields[i])
		}
	}
	return nil
}
