package infra

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every externally supplied parameter of the quoting client.
// Secrets are overridden from the environment after the file is parsed.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Exchange struct {
		BaseURL       string `yaml:"base_url"`
		WSURL         string `yaml:"ws_url"`
		Symbol        string `yaml:"symbol"`
		AccountIndex  int64  `yaml:"account_index"`
		APIKeyIndex   int64  `yaml:"api_key_index"`
		APIPrivateKey string `yaml:"api_private_key"`
	} `yaml:"exchange"`

	Trading struct {
		Spread            float64 `yaml:"spread"`              // static fallback spread fraction
		BaseAmount        float64 `yaml:"base_amount"`         // static fallback order size
		UseDynamicSizing  bool    `yaml:"use_dynamic_sizing"`  //
		CapitalUsage      float64 `yaml:"capital_usage"`       // fraction of usable capital per order
		SafetyMargin      float64 `yaml:"safety_margin"`       // fraction of capital held back
		OrderTimeoutSec   int     `yaml:"order_timeout_sec"`   // reconciliation window
		MinNotionalUSD    float64 `yaml:"min_notional_usd"`    // below this a sell is skipped
		CloseLongOnStart  bool    `yaml:"close_long_on_start"` // auto-liquidate at startup
		RequireParams     bool    `yaml:"require_params"`      // strict-parameters mode
		ParamsDir         string  `yaml:"params_dir"`
		ParamsRefreshSec  int     `yaml:"params_refresh_sec"`
		MinOrderSizeFloor float64 `yaml:"min_order_size_floor"`
	} `yaml:"trading"`

	Storage struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies defaults,
// environment overrides, and validates the result.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills every field a bare config file would leave zero.
func (c *Config) applyDefaults() {
	c.App.Name = "quoter"
	c.Exchange.BaseURL = "https://mainnet.zklighter.elliot.ai"
	c.Exchange.WSURL = "wss://mainnet.zklighter.elliot.ai/stream"
	c.Exchange.Symbol = "PAXG"
	c.Trading.Spread = 0.035 / 100.0
	c.Trading.BaseAmount = 0.047
	c.Trading.UseDynamicSizing = true
	c.Trading.CapitalUsage = 0.99
	c.Trading.SafetyMargin = 0.01
	c.Trading.OrderTimeoutSec = 90
	c.Trading.MinNotionalUSD = 15.0
	c.Trading.ParamsDir = "params"
	c.Trading.ParamsRefreshSec = 900
	c.Trading.MinOrderSizeFloor = 0.001
	c.Storage.DBPath = "data/quoter.db"
	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Exchange.Symbol == "" {
		return fmt.Errorf("exchange symbol is required")
	}
	if c.Exchange.BaseURL == "" || c.Exchange.WSURL == "" {
		return fmt.Errorf("exchange base_url and ws_url are required")
	}
	if !hasPrefix(c.Exchange.WSURL, "ws://") && !hasPrefix(c.Exchange.WSURL, "wss://") {
		return fmt.Errorf("invalid WS URL: %s", c.Exchange.WSURL)
	}
	if c.Trading.Spread < 0 {
		return fmt.Errorf("spread must be non-negative")
	}
	if c.Trading.OrderTimeoutSec <= 0 {
		return fmt.Errorf("order timeout must be positive")
	}
	if c.Trading.CapitalUsage <= 0 || c.Trading.CapitalUsage > 1 {
		return fmt.Errorf("capital_usage must be in (0, 1]")
	}
	if c.Trading.SafetyMargin < 0 || c.Trading.SafetyMargin >= 1 {
		return fmt.Errorf("safety_margin must be in [0, 1)")
	}
	if c.Trading.ParamsRefreshSec <= 0 {
		return fmt.Errorf("params refresh interval must be positive")
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv applies environment variables on top of the file values.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("QUOTER_API_PRIVATE_KEY"); key != "" {
		cfg.Exchange.APIPrivateKey = key
	}
	if sym := os.Getenv("QUOTER_MARKET_SYMBOL"); sym != "" {
		cfg.Exchange.Symbol = sym
	}
	if idx := os.Getenv("QUOTER_ACCOUNT_INDEX"); idx != "" {
		if v, err := strconv.ParseInt(idx, 10, 64); err == nil {
			cfg.Exchange.AccountIndex = v
		}
	}
	if idx := os.Getenv("QUOTER_API_KEY_INDEX"); idx != "" {
		if v, err := strconv.ParseInt(idx, 10, 64); err == nil {
			cfg.Exchange.APIKeyIndex = v
		}
	}
	if v := os.Getenv("QUOTER_REQUIRE_PARAMS"); v != "" {
		cfg.Trading.RequireParams = v == "true" || v == "1"
	}
	if v := os.Getenv("QUOTER_CLOSE_LONG_ON_START"); v != "" {
		cfg.Trading.CloseLongOnStart = v == "true" || v == "1"
	}
	if dir := os.Getenv("QUOTER_PARAMS_DIR"); dir != "" {
		cfg.Trading.ParamsDir = dir
	}
	if dir := os.Getenv("QUOTER_LOG_DIR"); dir != "" {
		cfg.Logging.Dir = dir
	}
}
