package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"portfolio-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	FX        FXConfig        `mapstructure:"fx"`
	Providers ProvidersConfig `mapstructure:"providers"`
	History   HistoryConfig   `mapstructure:"history"`
	Chart     ChartConfig     `mapstructure:"chart"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TelegramConfig describes the bot transport. ChatID is the only identity
// allowed to issue commands and the destination of scheduled reports.
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	APIBase        string        `mapstructure:"api_base"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SendRatePerSec float64       `mapstructure:"send_rate_per_sec"`
	SendBurst      int           `mapstructure:"send_burst"`
}

// ScheduleConfig governs the reporting cadence and quiet hours.
type ScheduleConfig struct {
	PollIntervalMinutes int           `mapstructure:"poll_interval_minutes"`
	WindowStartHour     int           `mapstructure:"window_start_hour"`
	WindowEndHour       int           `mapstructure:"window_end_hour"`
	Timezone            string        `mapstructure:"timezone"`
	FirstRunDelay       time.Duration `mapstructure:"first_run_delay"`
}

// FXConfig holds the USD/RUB fallback used when no implied rate exists.
type FXConfig struct {
	FallbackRate float64 `mapstructure:"fallback_rate"`
}

// ProvidersConfig lists the credentials of each balance source.
type ProvidersConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Bybit          BybitConfig   `mapstructure:"bybit"`
	OKX            OKXConfig     `mapstructure:"okx"`
	TBank          TBankConfig   `mapstructure:"tbank"`
	IBKR           IBKRConfig    `mapstructure:"ibkr"`
	Wallet         WalletConfig  `mapstructure:"wallet"`
}

// BybitConfig captures Bybit V5 API access.
type BybitConfig struct {
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	BaseURL     string `mapstructure:"base_url"`
	AccountType string `mapstructure:"account_type"`
	RecvWindow  int    `mapstructure:"recv_window"`
}

// OKXConfig captures OKX V5 API access.
type OKXConfig struct {
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`
	BaseURL    string `mapstructure:"base_url"`
	Simulated  bool   `mapstructure:"simulated"`
}

// TBankConfig captures T-Invest API access.
type TBankConfig struct {
	Token      string `mapstructure:"token"`
	BaseURL    string `mapstructure:"base_url"`
	USDRUBFigi string `mapstructure:"usd_rub_figi"`
}

// IBKRConfig captures Flex Web Service access.
type IBKRConfig struct {
	FlexToken string `mapstructure:"flex_token"`
	QueryID   string `mapstructure:"query_id"`
	BaseURL   string `mapstructure:"base_url"`
	Version   string `mapstructure:"version"`
}

// WalletConfig covers on-chain stablecoin holdings.
type WalletConfig struct {
	RPCURL  string   `mapstructure:"rpc_url"`
	Address string   `mapstructure:"address"`
	Tokens  []string `mapstructure:"tokens"`
}

// HistoryConfig selects the snapshot backend.
type HistoryConfig struct {
	Backend    string `mapstructure:"backend"`
	Path       string `mapstructure:"path"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Days       int    `mapstructure:"days"`
}

// ChartConfig sets the rendered image size.
type ChartConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

const (
	// BackendJSON stores snapshots in a human-readable JSON document.
	BackendJSON = "json"
	// BackendSQLite stores snapshots in a local SQLite database.
	BackendSQLite = "sqlite"
)

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PORTFOLIOBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "portfoliobot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.poll_timeout", "30s")
	v.SetDefault("telegram.request_timeout", "45s")
	v.SetDefault("telegram.send_rate_per_sec", 1.0)
	v.SetDefault("telegram.send_burst", 3)

	v.SetDefault("schedule.poll_interval_minutes", 120)
	v.SetDefault("schedule.window_start_hour", 8)
	v.SetDefault("schedule.window_end_hour", 20)
	v.SetDefault("schedule.timezone", "Europe/Paris")
	v.SetDefault("schedule.first_run_delay", "10s")

	v.SetDefault("fx.fallback_rate", 90.0)

	v.SetDefault("providers.request_timeout", "10s")

	// Credentials need a registered key for AutomaticEnv to reach them in Unmarshal.
	v.SetDefault("providers.bybit.api_key", "")
	v.SetDefault("providers.bybit.api_secret", "")
	v.SetDefault("providers.bybit.base_url", "https://api.bybit.com")
	v.SetDefault("providers.bybit.account_type", "UNIFIED")
	v.SetDefault("providers.bybit.recv_window", 5000)

	v.SetDefault("providers.okx.api_key", "")
	v.SetDefault("providers.okx.api_secret", "")
	v.SetDefault("providers.okx.passphrase", "")
	v.SetDefault("providers.okx.base_url", "https://www.okx.com")
	v.SetDefault("providers.okx.simulated", false)

	v.SetDefault("providers.tbank.token", "")
	v.SetDefault("providers.tbank.base_url", "https://invest-public-api.tinkoff.ru/rest")
	v.SetDefault("providers.tbank.usd_rub_figi", "BBG0013HGFT4")

	v.SetDefault("providers.ibkr.flex_token", "")
	v.SetDefault("providers.ibkr.query_id", "")
	v.SetDefault("providers.ibkr.base_url", "https://www.interactivebrokers.com/Universal/servlet")
	v.SetDefault("providers.ibkr.version", "3")

	v.SetDefault("providers.wallet.rpc_url", "")
	v.SetDefault("providers.wallet.address", "")
	v.SetDefault("providers.wallet.tokens", []string{})

	v.SetDefault("history.backend", BackendJSON)
	v.SetDefault("history.path", "data/portfolio_history.json")
	v.SetDefault("history.sqlite_path", "data/portfolio_history.db")
	v.SetDefault("history.days", 30)

	v.SetDefault("chart.width", 1080)
	v.SetDefault("chart.height", 480)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	s := c.Schedule
	if s.PollIntervalMinutes < 1 {
		return fmt.Errorf("schedule.poll_interval_minutes must be at least 1")
	}
	if s.WindowStartHour < 0 || s.WindowStartHour > 23 {
		return fmt.Errorf("schedule.window_start_hour must be within 0-23")
	}
	if s.WindowEndHour < 0 || s.WindowEndHour > 23 {
		return fmt.Errorf("schedule.window_end_hour must be within 0-23")
	}
	if s.WindowStartHour > s.WindowEndHour {
		return fmt.Errorf("schedule.window_start_hour cannot be after window_end_hour")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if s.FirstRunDelay < 0 {
		return fmt.Errorf("schedule.first_run_delay cannot be negative")
	}
	if c.FX.FallbackRate <= 0 {
		return fmt.Errorf("fx.fallback_rate must be greater than zero")
	}
	if c.Providers.RequestTimeout <= 0 {
		return fmt.Errorf("providers.request_timeout must be greater than zero")
	}
	switch c.History.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("history.backend must be %q or %q", BackendJSON, BackendSQLite)
	}
	if c.History.Days <= 0 {
		return fmt.Errorf("history.days must be greater than zero")
	}
	if c.Chart.Width <= 0 || c.Chart.Height <= 0 {
		return fmt.Errorf("chart.width and chart.height must be greater than zero")
	}
	return nil
}

// ValidateBot checks the settings only the long-running bot needs.
func (c *Config) ValidateBot() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token must be configured")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id must be configured")
	}
	return nil
}

// Location resolves the configured reporting timezone. Validate has already
// rejected unknown names, so UTC is only a fallback for unvalidated configs.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// PollInterval converts the configured minutes to a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Schedule.PollIntervalMinutes) * time.Minute
}

// BybitEnabled reports whether Bybit credentials are present.
func (c *Config) BybitEnabled() bool {
	b := c.Providers.Bybit
	return b.APIKey != "" && b.APISecret != ""
}

// OKXEnabled reports whether OKX credentials are present.
func (c *Config) OKXEnabled() bool {
	o := c.Providers.OKX
	return o.APIKey != "" && o.APISecret != "" && o.Passphrase != ""
}

// TBankEnabled reports whether a T-Invest token is present.
func (c *Config) TBankEnabled() bool {
	return c.Providers.TBank.Token != ""
}

// IBKREnabled reports whether Flex credentials are present.
func (c *Config) IBKREnabled() bool {
	i := c.Providers.IBKR
	return i.FlexToken != "" && i.QueryID != ""
}

// WalletEnabled reports whether an on-chain wallet is configured.
func (c *Config) WalletEnabled() bool {
	w := c.Providers.Wallet
	return w.RPCURL != "" && w.Address != "" && len(w.Tokens) > 0
}

// Secrets lists credentials that must never reach the logs.
func (c *Config) Secrets() []string {
	p := c.Providers
	return []string{
		c.Telegram.BotToken,
		p.Bybit.APIKey,
		p.Bybit.APISecret,
		p.OKX.APIKey,
		p.OKX.APISecret,
		p.OKX.Passphrase,
		p.TBank.Token,
		p.IBKR.FlexToken,
	}
}
