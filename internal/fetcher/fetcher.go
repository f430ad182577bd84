package fetcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates missing credentials or endpoints.
	ErrNotConfigured = errors.New("fetcher: not configured")
	// ErrMalformed indicates an upstream response that could not be interpreted.
	ErrMalformed = errors.New("fetcher: malformed response")
)

// Currency is one of the two reporting currencies.
type Currency string

const (
	USD Currency = "USD"
	RUB Currency = "RUB"
)

// Category groups sources into report sections.
type Category string

const (
	CategoryBank   Category = "bank"
	CategoryCrypto Category = "crypto"
	CategoryStocks Category = "stocks"
)

// Kind tags the shape of a provider's result.
type Kind int

const (
	// SingleCurrency providers report one USD figure.
	SingleCurrency Kind = iota
	// DualCurrency providers report a RUB total together with its USD value.
	DualCurrency
)

func (k Kind) String() string {
	switch k {
	case SingleCurrency:
		return "single"
	case DualCurrency:
		return "dual"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Balance is one provider's figure for one fetch cycle. USD is only
// meaningful for DualCurrency providers, whose Amount is in RUB.
type Balance struct {
	Amount   decimal.Decimal
	Currency Currency
	USD      decimal.Decimal
}

// Provider retrieves the current balance of one external source.
type Provider interface {
	FetchBalance(ctx context.Context) (Balance, error)
}

// Source binds a provider to its identity and normalisation tag.
type Source struct {
	ID       string
	Label    string
	Category Category
	Kind     Kind
	Provider Provider
}

// Error is the typed failure of a single source.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}
