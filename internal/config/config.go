package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Chain struct {
		Network  string `yaml:"network"`
		BaseURL  string `yaml:"base_url"`
		APIKey   string `yaml:"api_key"`
		Contract string `yaml:"contract"` // strategy contract, base58 or hex
		Trader   string `yaml:"trader"`   // only reconcile this wallet's events, empty = all
	} `yaml:"chain"`
	Candles struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"candles"`
	Schedule struct {
		SignalCron  string `yaml:"signal_cron"`
		IngestCron  string `yaml:"ingest_cron"`
		PriceCron   string `yaml:"price_cron"`
		SweepCron   string `yaml:"sweep_cron"`
		BarsPerScan int    `yaml:"bars_per_scan"`
	} `yaml:"schedule"`
	Confirm struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"confirm"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("TRONGRID_BASE_URL"); v != "" {
		cfg.Chain.BaseURL = v
	}
	if v := os.Getenv("TRONGRID_API_KEY"); v != "" {
		cfg.Chain.APIKey = v
	}
	if v := os.Getenv("STRATEGY_CONTRACT"); v != "" {
		cfg.Chain.Contract = v
	}
	if v := os.Getenv("TRADER_ADDRESS"); v != "" {
		cfg.Chain.Trader = v
	}
	if v := os.Getenv("CANDLES_BASE_URL"); v != "" {
		cfg.Candles.BaseURL = v
	}
	if v := os.Getenv("CANDLES_API_KEY"); v != "" {
		cfg.Candles.APIKey = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}

	// Defaults
	if cfg.Chain.Network == "" {
		cfg.Chain.Network = "tron"
	}
	if cfg.Chain.BaseURL == "" {
		cfg.Chain.BaseURL = "https://api.trongrid.io"
	}
	if cfg.Schedule.SignalCron == "" {
		cfg.Schedule.SignalCron = "0 * * * * *" // every minute
	}
	if cfg.Schedule.IngestCron == "" {
		cfg.Schedule.IngestCron = "30 * * * * *" // every minute, offset from scans
	}
	if cfg.Schedule.PriceCron == "" {
		cfg.Schedule.PriceCron = "0 */5 * * * *" // every 5 minutes
	}
	if cfg.Schedule.SweepCron == "" {
		cfg.Schedule.SweepCron = "15 * * * * *"
	}
	if cfg.Schedule.BarsPerScan == 0 {
		cfg.Schedule.BarsPerScan = 100
	}
	if cfg.Confirm.TTLSeconds == 0 {
		cfg.Confirm.TTLSeconds = 60
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/tradewarden.db"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if c.Telegram.ChatID == "" {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if c.Candles.BaseURL == "" {
		return fmt.Errorf("candles.base_url is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("chain.contract is required")
	}
	return nil
}

// ConfirmTTL returns the confirmation window as a duration.
func (c *Config) ConfirmTTL() time.Duration {
	return time.Duration(c.Confirm.TTLSeconds) * time.Second
}
