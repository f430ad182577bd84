package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	tbankServicePrefix = "/tinkoff.public.invest.api.contract.v1."
	tbankAccountsPath  = tbankServicePrefix + "UsersService/GetAccounts"
	tbankPortfolioPath = tbankServicePrefix + "OperationsService/GetPortfolio"
	tbankLastPrices    = tbankServicePrefix + "MarketDataService/GetLastPrices"
)

var nanoDivisor = decimal.New(1, 9)

// TBankOptions parameterise the T-Invest REST fetcher.
type TBankOptions struct {
	Token        string
	BaseURL      string
	USDRUBFigi   string
	FallbackRate decimal.Decimal
	Timeout      time.Duration
}

// TBank sums every brokerage account and reports the total in RUB and USD.
type TBank struct {
	opts    TBankOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewTBank constructs a T-Bank fetcher.
func NewTBank(opts TBankOptions, logger zerolog.Logger) *TBank {
	if opts.USDRUBFigi == "" {
		opts.USDRUBFigi = "BBG0013HGFT4"
	}
	if !opts.FallbackRate.IsPositive() {
		opts.FallbackRate = decimal.NewFromInt(90)
	}
	return &TBank{
		opts:    opts,
		logger:  logger.With().Str("component", "tbank_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://invest-public-api.tinkoff.ru/rest"),
	}
}

// FetchBalance returns the RUB total with its USD equivalent.
func (t *TBank) FetchBalance(ctx context.Context) (Balance, error) {
	if t.opts.Token == "" {
		return Balance{}, fmt.Errorf("tbank token: %w", ErrNotConfigured)
	}

	var accounts tbankAccountsResponse
	if err := t.call(ctx, tbankAccountsPath, map[string]any{}, &accounts); err != nil {
		return Balance{}, fmt.Errorf("get accounts: %w", err)
	}

	rate := t.usdRubRate(ctx)

	totalRUB := decimal.Zero
	for _, account := range accounts.Accounts {
		var portfolio tbankPortfolioResponse
		body := map[string]any{"accountId": account.ID, "currency": "RUB"}
		if err := t.call(ctx, tbankPortfolioPath, body, &portfolio); err != nil {
			return Balance{}, fmt.Errorf("get portfolio %s: %w", account.ID, err)
		}

		value := portfolio.TotalAmountPortfolio
		amount, err := value.decimal()
		if err != nil {
			return Balance{}, malformed("tbank portfolio %s: %v", account.ID, err)
		}

		switch strings.ToUpper(value.Currency) {
		case "RUB":
			totalRUB = totalRUB.Add(amount)
		case "USD":
			totalRUB = totalRUB.Add(amount.Mul(rate))
		default:
			t.logger.Warn().Str("account", account.ID).Str("currency", value.Currency).
				Msg("skipping portfolio in unsupported currency")
		}
	}

	return Balance{
		Amount:   totalRUB.Round(2),
		Currency: RUB,
		USD:      totalRUB.Div(rate).Round(2),
	}, nil
}

// usdRubRate reads the last USD/RUB price, degrading to the fallback rate.
func (t *TBank) usdRubRate(ctx context.Context) decimal.Decimal {
	var res tbankLastPricesResponse
	body := map[string]any{"figi": []string{t.opts.USDRUBFigi}}
	if err := t.call(ctx, tbankLastPrices, body, &res); err != nil {
		t.logger.Error().Err(err).Msg("usd/rub rate unavailable; using fallback")
		return t.opts.FallbackRate
	}
	if len(res.LastPrices) == 0 {
		t.logger.Warn().Msg("no usd/rub last price; using fallback")
		return t.opts.FallbackRate
	}
	price, err := res.LastPrices[0].Price.decimal()
	if err != nil || !price.IsPositive() {
		t.logger.Warn().Msg("invalid usd/rub last price; using fallback")
		return t.opts.FallbackRate
	}
	return price
}

func (t *TBank) call(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+t.opts.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	payload, err := do(t.client, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return malformed("tbank: %v", err)
	}
	return nil
}

// tbankQuotation mirrors the units/nano pair used for MoneyValue and Quotation.
type tbankQuotation struct {
	Currency string      `json:"currency"`
	Units    json.Number `json:"units"`
	Nano     int64       `json:"nano"`
}

func (q tbankQuotation) decimal() (decimal.Decimal, error) {
	units := decimal.Zero
	if q.Units != "" {
		parsed, err := decimal.NewFromString(q.Units.String())
		if err != nil {
			return decimal.Decimal{}, err
		}
		units = parsed
	}
	return units.Add(decimal.NewFromInt(q.Nano).Div(nanoDivisor)), nil
}

type tbankAccountsResponse struct {
	Accounts []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"accounts"`
}

type tbankPortfolioResponse struct {
	TotalAmountPortfolio tbankQuotation `json:"totalAmountPortfolio"`
}

type tbankLastPricesResponse struct {
	LastPrices []struct {
		Figi  string         `json:"figi"`
		Price tbankQuotation `json:"price"`
	} `json:"lastPrices"`
}

var _ Provider = (*TBank)(nil)
