package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const bybitWalletPath = "/v5/account/wallet-balance"

// BybitOptions parameterise the Bybit V5 fetcher.
type BybitOptions struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	AccountType string
	RecvWindow  int
	Timeout     time.Duration
}

// Bybit reads the total equity of a unified trading account.
type Bybit struct {
	opts    BybitOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewBybit constructs a Bybit fetcher.
func NewBybit(opts BybitOptions, logger zerolog.Logger) *Bybit {
	if opts.AccountType == "" {
		opts.AccountType = "UNIFIED"
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = 5000
	}
	return &Bybit{
		opts:    opts,
		logger:  logger.With().Str("component", "bybit_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: trimBase(opts.BaseURL, "https://api.bybit.com"),
		now:     time.Now,
	}
}

// FetchBalance returns the account equity in USD.
func (b *Bybit) FetchBalance(ctx context.Context) (Balance, error) {
	if b.opts.APIKey == "" || b.opts.APISecret == "" {
		return Balance{}, fmt.Errorf("bybit credentials: %w", ErrNotConfigured)
	}

	query := url.Values{"accountType": {b.opts.AccountType}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+bybitWalletPath+"?"+query, nil)
	if err != nil {
		return Balance{}, err
	}

	timestamp := strconv.FormatInt(b.now().UnixMilli(), 10)
	recvWindow := strconv.Itoa(b.opts.RecvWindow)
	req.Header.Set("X-BAPI-API-KEY", b.opts.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp+b.opts.APIKey+recvWindow+query))

	payload, err := do(b.client, req)
	if err != nil {
		return Balance{}, fmt.Errorf("bybit wallet balance: %w", err)
	}

	var res bybitWalletResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return Balance{}, malformed("bybit: %v", err)
	}
	if res.RetCode != 0 {
		return Balance{}, fmt.Errorf("bybit api error %d: %s", res.RetCode, res.RetMsg)
	}
	if len(res.Result.List) == 0 {
		b.logger.Warn().Msg("no accounts in wallet balance response")
		return Balance{Amount: decimal.Zero, Currency: USD}, nil
	}

	equity, err := parseAmount(res.Result.List[0].TotalEquity)
	if err != nil {
		return Balance{}, malformed("bybit totalEquity: %v", err)
	}
	return Balance{Amount: equity, Currency: USD}, nil
}

func (b *Bybit) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(b.opts.APISecret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

type bybitWalletResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			AccountType string `json:"accountType"`
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	} `json:"result"`
}

// parseAmount treats an empty field as zero, the way exchanges report idle accounts.
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

var _ Provider = (*Bybit)(nil)
