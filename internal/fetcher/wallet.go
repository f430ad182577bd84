package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const erc20ABIJSON = `[
{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// contractCaller is the subset of ethclient.Client the wallet needs.
type contractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// WalletOptions parameterise the on-chain fetcher.
type WalletOptions struct {
	RPCURL  string
	Address string
	// Tokens are USD stablecoin contracts valued 1:1.
	Tokens  []string
	Timeout time.Duration
}

// Wallet sums ERC-20 stablecoin balances held by one address.
type Wallet struct {
	opts      WalletOptions
	logger    zerolog.Logger
	caller    contractCaller
	clientMux sync.Mutex
	decimals  map[common.Address]int32
}

// NewWallet builds a new on-chain wallet fetcher.
func NewWallet(opts WalletOptions, logger zerolog.Logger) *Wallet {
	return &Wallet{
		opts:     opts,
		logger:   logger.With().Str("component", "wallet_fetcher").Logger(),
		decimals: make(map[common.Address]int32),
	}
}

// FetchBalance returns the summed token balance in USD.
func (w *Wallet) FetchBalance(ctx context.Context) (Balance, error) {
	if w.opts.RPCURL == "" {
		return Balance{}, fmt.Errorf("ethereum rpc url: %w", ErrNotConfigured)
	}
	if !common.IsHexAddress(w.opts.Address) {
		return Balance{}, fmt.Errorf("wallet address: %w", ErrNotConfigured)
	}
	if len(w.opts.Tokens) == 0 {
		return Balance{}, fmt.Errorf("wallet tokens: %w", ErrNotConfigured)
	}

	timeout := w.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	caller, err := w.getCaller(ctx)
	if err != nil {
		return Balance{}, err
	}

	owner := common.HexToAddress(w.opts.Address)
	total := decimal.Zero
	for _, raw := range w.opts.Tokens {
		if !common.IsHexAddress(raw) {
			return Balance{}, fmt.Errorf("token %q is not an address: %w", raw, ErrNotConfigured)
		}
		token := common.HexToAddress(raw)

		amount, err := w.tokenBalance(ctx, caller, token, owner)
		if err != nil {
			return Balance{}, fmt.Errorf("token %s: %w", token.Hex(), err)
		}
		total = total.Add(amount)
	}

	return Balance{Amount: total, Currency: USD}, nil
}

func (w *Wallet) tokenBalance(ctx context.Context, caller contractCaller, token, owner common.Address) (decimal.Decimal, error) {
	dec, err := w.tokenDecimals(ctx, caller, token)
	if err != nil {
		return decimal.Decimal{}, err
	}

	out, err := w.call(ctx, caller, token, "balanceOf", owner)
	if err != nil {
		return decimal.Decimal{}, err
	}
	balance, ok := out.(*big.Int)
	if !ok {
		return decimal.Decimal{}, malformed("failed to decode balanceOf output")
	}
	return decimal.NewFromBigInt(balance, -dec), nil
}

func (w *Wallet) tokenDecimals(ctx context.Context, caller contractCaller, token common.Address) (int32, error) {
	w.clientMux.Lock()
	dec, ok := w.decimals[token]
	w.clientMux.Unlock()
	if ok {
		return dec, nil
	}

	out, err := w.call(ctx, caller, token, "decimals")
	if err != nil {
		return 0, err
	}
	raw, ok := out.(uint8)
	if !ok {
		return 0, malformed("failed to decode decimals output")
	}

	w.clientMux.Lock()
	w.decimals[token] = int32(raw)
	w.clientMux.Unlock()
	return int32(raw), nil
}

func (w *Wallet) call(ctx context.Context, caller contractCaller, to common.Address, method string, args ...any) (any, error) {
	payload, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	res, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, malformed("%s: %v", method, err)
	}
	if len(outputs) != 1 {
		return nil, errors.New("unexpected " + method + " response")
	}
	return outputs[0], nil
}

func (w *Wallet) getCaller(ctx context.Context) (contractCaller, error) {
	w.clientMux.Lock()
	defer w.clientMux.Unlock()

	if w.caller != nil {
		return w.caller, nil
	}

	client, err := ethclient.DialContext(ctx, w.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	w.caller = client
	return client, nil
}

var _ Provider = (*Wallet)(nil)
