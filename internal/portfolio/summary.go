package portfolio

import (
	"github.com/shopspring/decimal"

	"portfolio-bot/internal/fetcher"
)

// Reading is one source's result for one fetch cycle. Exactly one of a
// numeric amount or Err is meaningful.
type Reading struct {
	Source   fetcher.Source
	Amount   decimal.Decimal
	Currency fetcher.Currency
	// USD accompanies Amount for dual-currency sources.
	USD decimal.Decimal
	Err string
}

// Failed reports whether the source errored this cycle.
func (r Reading) Failed() bool { return r.Err != "" }

// Summary is the aggregation result of one fetch cycle.
type Summary struct {
	// Readings follow the configured source order.
	Readings []Reading
	// Errors maps source id to message for every failed source.
	Errors map[string]string

	CryptoUSD decimal.Decimal
	StocksUSD decimal.Decimal
	BankRUB   decimal.Decimal
	BankUSD   decimal.Decimal

	// Rate is the USD->RUB rate applied to USD-only sources.
	Rate decimal.Decimal
	// RateFallback is set when Rate is the configured constant rather than
	// implied by the bank figures.
	RateFallback bool

	TotalUSD decimal.Decimal
	TotalRUB decimal.Decimal
}

// Amount returns the native-currency amount of a source that succeeded.
func (s Summary) Amount(sourceID string) (decimal.Decimal, bool) {
	for _, r := range s.Readings {
		if r.Source.ID == sourceID && !r.Failed() {
			return r.Amount, true
		}
	}
	return decimal.Decimal{}, false
}

// HasCategory reports whether any configured source belongs to c.
func (s Summary) HasCategory(c fetcher.Category) bool {
	for _, r := range s.Readings {
		if r.Source.Category == c {
			return true
		}
	}
	return false
}

// computeTotals fills the derived fields. Failed readings contribute zero.
func (s *Summary) computeTotals(fallbackRate decimal.Decimal) {
	s.CryptoUSD = decimal.Zero
	s.StocksUSD = decimal.Zero
	s.BankRUB = decimal.Zero
	s.BankUSD = decimal.Zero

	for _, r := range s.Readings {
		if r.Failed() {
			continue
		}
		switch r.Source.Kind {
		case fetcher.DualCurrency:
			s.BankRUB = s.BankRUB.Add(r.Amount)
			s.BankUSD = s.BankUSD.Add(r.USD)
		default:
			if r.Source.Category == fetcher.CategoryStocks {
				s.StocksUSD = s.StocksUSD.Add(r.Amount)
			} else {
				s.CryptoUSD = s.CryptoUSD.Add(r.Amount)
			}
		}
	}

	s.Rate = fallbackRate
	s.RateFallback = true
	if s.BankUSD.IsPositive() {
		s.Rate = s.BankRUB.Div(s.BankUSD)
		s.RateFallback = false
	}

	usdOnly := s.CryptoUSD.Add(s.StocksUSD)
	s.TotalUSD = usdOnly.Add(s.BankUSD)
	s.TotalRUB = s.BankRUB.Add(usdOnly.Mul(s.Rate))
}
