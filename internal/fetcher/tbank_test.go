package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func tbankServer(t *testing.T, lastPrices string, portfolios map[string]string) string {
	t.Helper()
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Fatalf("bearer token missing")
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "UsersService/GetAccounts"):
			_, _ = w.Write([]byte(`{"accounts":[{"id":"a1","name":"main"},{"id":"a2","name":"iis"}]}`))
		case strings.HasSuffix(r.URL.Path, "MarketDataService/GetLastPrices"):
			if lastPrices == "" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(lastPrices))
		case strings.HasSuffix(r.URL.Path, "OperationsService/GetPortfolio"):
			var body struct {
				AccountID string `json:"accountId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			_, _ = w.Write([]byte(portfolios[body.AccountID]))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	return srv.URL
}

func TestTBankMissingToken(t *testing.T) {
	tb := NewTBank(TBankOptions{}, noopLogger())
	if _, err := tb.FetchBalance(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestTBankSumsAccounts(t *testing.T) {
	base := tbankServer(t,
		`{"lastPrices":[{"figi":"BBG0013HGFT4","price":{"units":"100","nano":0}}]}`,
		map[string]string{
			"a1": `{"totalAmountPortfolio":{"currency":"rub","units":"150000","nano":500000000}}`,
			"a2": `{"totalAmountPortfolio":{"currency":"usd","units":"100","nano":0}}`,
		})

	tb := NewTBank(TBankOptions{Token: "token", BaseURL: base}, noopLogger())
	bal, err := tb.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("fetch should succeed: %v", err)
	}

	if bal.Currency != RUB {
		t.Fatalf("expected RUB amount, got %s", bal.Currency)
	}
	if !bal.Amount.Equal(decimal.RequireFromString("160000.5")) {
		t.Fatalf("unexpected rub total %s", bal.Amount)
	}
	if !bal.USD.Equal(decimal.RequireFromString("1600.01")) {
		t.Fatalf("unexpected usd total %s", bal.USD)
	}
}

func TestTBankFallsBackToDefaultRate(t *testing.T) {
	base := tbankServer(t, "", map[string]string{
		"a1": `{"totalAmountPortfolio":{"currency":"rub","units":"9000","nano":0}}`,
		"a2": `{"totalAmountPortfolio":{"currency":"rub","units":"0","nano":0}}`,
	})

	tb := NewTBank(TBankOptions{Token: "token", BaseURL: base}, noopLogger())
	bal, err := tb.FetchBalance(context.Background())
	if err != nil {
		t.Fatalf("rate failure must not fail the fetch: %v", err)
	}
	if !bal.USD.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("9000 RUB at fallback 90 should be 100 USD, got %s", bal.USD)
	}
}

func TestTBankAccountsError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":16,"message":"authentication token is missing or invalid"}`))
	})

	tb := NewTBank(TBankOptions{Token: "token", BaseURL: srv.URL}, noopLogger())
	if _, err := tb.FetchBalance(context.Background()); err == nil {
		t.Fatal("401 should be an error")
	}
}

func TestQuotationDecimal(t *testing.T) {
	q := tbankQuotation{Units: "-12", Nano: -500000000}
	got, err := q.decimal()
	if err != nil {
		t.Fatalf("decimal: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("-12.5")) {
		t.Fatalf("expected -12.5, got %s", got)
	}
}
