// Package config loads and validates the bot's YAML configuration. The
// engine consumes the result as a read-only snapshot; changing
// configuration means restarting the process.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tradeflow/models"
)

type Config struct {
	Tradeflow  TradeflowConfig  `yaml:"tradeflow"`
	Engine     EngineConfig     `yaml:"engine"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Markets    []MarketConfig   `yaml:"markets"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// EngineConfig is the control-loop section. EmergencyStopBalance is kept
// as a string in YAML so the threshold survives as an exact decimal.
type EngineConfig struct {
	TradeCycleIntervalSecs int    `yaml:"trade_cycle_interval"`
	EmergencyStopCurrency  string `yaml:"emergency_stop_currency"`
	EmergencyStopBalance   string `yaml:"emergency_stop_balance"`

	emergencyStopBalance decimal.Decimal
}

// TradeCycleInterval returns the cycle interval as a duration.
func (e EngineConfig) TradeCycleInterval() time.Duration {
	return time.Duration(e.TradeCycleIntervalSecs) * time.Second
}

// EmergencyStopBalanceDecimal returns the parsed threshold. Valid only
// after LoadConfig succeeded.
func (e EngineConfig) EmergencyStopBalanceDecimal() decimal.Decimal {
	return e.emergencyStopBalance
}

type ExchangeConfig struct {
	// Adapter selects the registered exchange adapter ("binance",
	// "paper", ...).
	Adapter        string            `yaml:"adapter"`
	Authentication map[string]string `yaml:"authentication"`
	Network        NetworkConfig     `yaml:"network"`
	Other          map[string]string `yaml:"other"`
}

type NetworkConfig struct {
	ConnectionTimeoutSecs int      `yaml:"connection_timeout"`
	NonFatalErrorCodes    []int    `yaml:"non_fatal_error_codes"`
	NonFatalErrorMessages []string `yaml:"non_fatal_error_messages"`
}

// ConnectionTimeout returns the timeout as a duration.
func (n NetworkConfig) ConnectionTimeout() time.Duration {
	return time.Duration(n.ConnectionTimeoutSecs) * time.Second
}

type MarketConfig struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	BaseCurrency    string `yaml:"base_currency"`
	CounterCurrency string `yaml:"counter_currency"`
	Enabled         bool   `yaml:"enabled"`
	Strategy        string `yaml:"strategy"`
}

// Market converts the configuration entry into the canonical market value.
func (m MarketConfig) Market() models.Market {
	return models.Market{
		ID:              m.ID,
		Name:            m.Name,
		BaseCurrency:    m.BaseCurrency,
		CounterCurrency: m.CounterCurrency,
	}
}

type StrategyConfig struct {
	ID     string            `yaml:"id"`
	Impl   string            `yaml:"impl"`
	Config map[string]string `yaml:"config"`
}

type AlertsConfig struct {
	SMTP       SMTPAlertConfig       `yaml:"smtp"`
	CloudWatch CloudWatchAlertConfig `yaml:"cloudwatch"`
}

type SMTPAlertConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type CloudWatchAlertConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// LoadConfig reads, parses and validates the configuration file. Secrets
// may be overridden from the environment so they can stay out of the
// file: EXCHANGE_API_KEY, EXCHANGE_API_SECRET and SMTP_PASSWORD.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		if config.Exchange.Authentication == nil {
			config.Exchange.Authentication = map[string]string{}
		}
		config.Exchange.Authentication["key"] = strings.TrimSpace(v)
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		if config.Exchange.Authentication == nil {
			config.Exchange.Authentication = map[string]string{}
		}
		config.Exchange.Authentication["secret"] = strings.TrimSpace(v)
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		config.Alerts.SMTP.Password = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Tradeflow.Name == "" {
		return fmt.Errorf("tradeflow.name is required")
	}
	if cfg.Tradeflow.Version == "" {
		return fmt.Errorf("tradeflow.version is required")
	}

	if cfg.Engine.TradeCycleIntervalSecs <= 0 {
		return fmt.Errorf("engine.trade_cycle_interval must be greater than 0")
	}
	if cfg.Engine.EmergencyStopCurrency != "" {
		if cfg.Engine.EmergencyStopBalance == "" {
			return fmt.Errorf("engine.emergency_stop_balance is required when emergency_stop_currency is set")
		}
		balance, err := decimal.NewFromString(cfg.Engine.EmergencyStopBalance)
		if err != nil {
			return fmt.Errorf("engine.emergency_stop_balance %q is not a decimal", cfg.Engine.EmergencyStopBalance)
		}
		if balance.IsNegative() {
			return fmt.Errorf("engine.emergency_stop_balance must not be negative")
		}
		cfg.Engine.emergencyStopBalance = balance
	}

	if cfg.Exchange.Adapter == "" {
		return fmt.Errorf("exchange.adapter is required")
	}

	strategies := make(map[string]StrategyConfig, len(cfg.Strategies))
	for _, s := range cfg.Strategies {
		if s.ID == "" {
			return fmt.Errorf("every strategy needs an id")
		}
		if s.Impl == "" {
			return fmt.Errorf("strategy %s: impl is required", s.ID)
		}
		if _, dup := strategies[s.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", s.ID)
		}
		strategies[s.ID] = s
	}

	seen := make(map[string]struct{}, len(cfg.Markets))
	enabled := 0
	for _, m := range cfg.Markets {
		if m.ID == "" {
			return fmt.Errorf("every market needs an id")
		}
		// Duplicate ids are a fatal configuration error, never a silent
		// drop: two markets with the same id would trade against each
		// other's state.
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("duplicate market id %q", m.ID)
		}
		seen[m.ID] = struct{}{}

		if !m.Enabled {
			continue
		}
		enabled++
		if m.BaseCurrency == "" || m.CounterCurrency == "" {
			return fmt.Errorf("market %s: base_currency and counter_currency are required", m.ID)
		}
		if m.Strategy == "" {
			return fmt.Errorf("market %s: strategy binding is required", m.ID)
		}
		if _, ok := strategies[m.Strategy]; !ok {
			return fmt.Errorf("market %s is bound to unknown strategy %q", m.ID, m.Strategy)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one enabled market is required")
	}

	if cfg.Alerts.SMTP.Enabled {
		if cfg.Alerts.SMTP.Host == "" || cfg.Alerts.SMTP.Port <= 0 {
			return fmt.Errorf("alerts.smtp.host and alerts.smtp.port are required when SMTP is enabled")
		}
		if cfg.Alerts.SMTP.From == "" || len(cfg.Alerts.SMTP.To) == 0 {
			return fmt.Errorf("alerts.smtp.from and alerts.smtp.to are required when SMTP is enabled")
		}
	}
	if cfg.Alerts.CloudWatch.Enabled && cfg.Alerts.CloudWatch.Namespace == "" {
		return fmt.Errorf("alerts.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	return nil
}

// StrategyByID returns the strategy description for the given id.
func (c *Config) StrategyByID(id string) (StrategyConfig, bool) {
	for _, s := range c.Strategies {
		if s.ID == id {
			return s, true
		}
	}
	return StrategyConfig{}, false
}

// EnabledMarkets returns the enabled markets in configuration order.
func (c *Config) EnabledMarkets() []MarketConfig {
	markets := make([]MarketConfig, 0, len(c.Markets))
	for _, m := range c.Markets {
		if m.Enabled {
			markets = append(markets, m)
		}
	}
	return markets
}
