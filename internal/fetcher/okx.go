package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const okxBalancePath = "/api/v5/account/balance"

// OKXOptions parameterise the OKX V5 fetcher.
type OKXOptions struct {
	APIKey     string
	APISecret  string
	Passphrase string
	BaseURL    string
	Simulated  bool
	Timeout    time.Duration
}

// OKX reads the total account equity.
type OKX struct {
	opts    OKXOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewOKX constructs an OKX fetcher.
func NewOKX(opts OKXOptions, logger zerolog.Logger) *OKX {
	return &OKX{
		opts:    opts,
		logger:  logger.With().Str("component", "okx_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://www.okx.com"),
		now:     time.Now,
	}
}

// FetchBalance returns the account equity in USD.
func (o *OKX) FetchBalance(ctx context.Context) (Balance, error) {
	if o.opts.APIKey == "" || o.opts.APISecret == "" || o.opts.Passphrase == "" {
		return Balance{}, fmt.Errorf("okx credentials: %w", ErrNotConfigured)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+okxBalancePath, nil)
	if err != nil {
		return Balance{}, err
	}

	timestamp := o.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", o.opts.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", o.sign(timestamp+http.MethodGet+okxBalancePath))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", o.opts.Passphrase)
	req.Header.Set("Accept", "application/json")
	if o.opts.Simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	payload, err := do(o.client, req)
	if err != nil {
		return Balance{}, fmt.Errorf("okx account balance: %w", err)
	}

	var res okxBalanceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Balance{}, malformed("okx: %v", err)
	}
	if res.Code != "0" {
		return Balance{}, fmt.Errorf("okx api error: %s (code %s)", res.Msg, res.Code)
	}
	if len(res.Data) == 0 {
		o.logger.Warn().Msg("no data in balance response")
		return Balance{Amount: decimal.Zero, Currency: USD}, nil
	}

	equity, err := parseAmount(res.Data[0].TotalEq)
	if err != nil {
		return Balance{}, malformed("okx totalEq: %v", err)
	}
	return Balance{Amount: equity, Currency: USD}, nil
}

func (o *OKX) sign(prehash string) string {
	mac := hmac.New(sha256.New, []byte(o.opts.APISecret))
	mac.Write([]byte(prehash))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type okxBalanceResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		TotalEq string `json:"totalEq"`
	} `json:"data"`
}

var _ Provider = (*OKX)(nil)
