// Package config loads process configuration: an optional static
// config.yaml layered under environment variables applied on top via
// ApplyEnv. Environment variables always take precedence over the file,
// which only seeds the defaults a local developer would otherwise have to
// export by hand.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's runtime configuration.
type Config struct {
	ProfileAddress string `yaml:"profile_address"`
	Port           string `yaml:"port"`

	PollIntervalMs       int64   `yaml:"poll_interval_ms"`
	StartFromNow         bool    `yaml:"start_from_now"`
	FixedCopyPct         float64 `yaml:"fixed_copy_pct"`
	FixedAmountUSD       float64 `yaml:"fixed_amount_usd"`
	MinOrderSizeShares   float64 `yaml:"min_order_size_shares"`
	EnableTradeFilters   bool    `yaml:"enable_trade_filters"`
	ExpectedEdge         float64 `yaml:"expected_edge"`
	SlippageDelayPenalty float64 `yaml:"slippage_delay_penalty"`
	SkipActivePositions  bool    `yaml:"skip_active_positions"`

	DebugLogs bool `yaml:"debug_logs"`

	Telegram TelegramConfig `yaml:"telegram"`
	DataDir  string         `yaml:"data_dir"`
	LogDir   string         `yaml:"log_dir"`
}

// TelegramConfig gates the optional out-of-band alert channel. Off unless
// both fields are set.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Default returns the runtime defaults: 1s polling, 10% copy sizing, and
// trade filters on.
func Default() Config {
	return Config{
		Port:                 "8080",
		PollIntervalMs:       1000,
		StartFromNow:         true,
		FixedCopyPct:         0.10,
		FixedAmountUSD:       10,
		MinOrderSizeShares:   1,
		EnableTradeFilters:   true,
		ExpectedEdge:         0.06,
		SlippageDelayPenalty: 0.003,
		SkipActivePositions:  false,
		DataDir:              "data",
		LogDir:               "logs",
	}
}

// LoadFile reads an optional config.yaml over Default(). A missing,
// unreadable or unparsable file returns the error together with the
// defaults, so the caller can log it and continue with them.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv layers environment variables over the file-loaded config. Env
// always wins.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("PROFILE_ADDRESS")); v != "" {
		c.ProfileAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		c.Port = v
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.PollIntervalMs = n
		}
	}
	if v := os.Getenv("EXPECTED_EDGE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ExpectedEdge = f
		}
	}
	if v := os.Getenv("SLIPPAGE_DELAY_PENALTY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.SlippageDelayPenalty = f
		}
	}
	if v := os.Getenv("FIXED_COPY_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.FixedCopyPct = f
		}
	}
	if v := os.Getenv("MIN_ORDER_SIZE_SHARES"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.MinOrderSizeShares = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("START_FROM_NOW")); v != "" {
		c.StartFromNow = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("DEBUG_LOGS")); v != "" {
		c.DebugLogs = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")); v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	c.Telegram.Enabled = c.Telegram.Enabled && c.Telegram.BotToken != "" && c.Telegram.ChatID != 0
}

// PollInterval converts the configured millisecond interval to a Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
