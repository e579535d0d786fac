package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Risk     RiskConfig     `yaml:"risk"`
	Rollover RolloverConfig `yaml:"rollover"`
	Market   MarketConfig   `yaml:"market"`
	Report   ReportConfig   `yaml:"report"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
	// DefaultAccountID is the account every request acts on when auth is disabled.
	DefaultAccountID uint     `yaml:"default_account_id"`
	AdminUsers       []string `yaml:"admin_users"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RiskConfig holds validation policy and new-account defaults.
type RiskConfig struct {
	SurvivalRunwayDays float64         `yaml:"survival_runway_days"`
	SurvivalSizeFactor decimal.Decimal `yaml:"survival_size_factor"`
	FeeBufferRate      decimal.Decimal `yaml:"fee_buffer_rate"`
	ModelRetries       int             `yaml:"model_retries"`
	ModelRetryBackoff  time.Duration   `yaml:"model_retry_backoff"`
	ModelTimeout       time.Duration   `yaml:"model_timeout"`
	ExecuteAttempts    int             `yaml:"execute_attempts"`
	StoreRetries       int             `yaml:"store_retries"`
	StoreRetryBackoff  time.Duration   `yaml:"store_retry_backoff"`
	PriceRetries       int             `yaml:"price_retries"`
	PriceRetryBackoff  time.Duration   `yaml:"price_retry_backoff"`

	DefaultBalance         decimal.Decimal `yaml:"default_balance"`
	DefaultMaxDailyLoss    decimal.Decimal `yaml:"default_max_daily_loss"`
	DefaultMaxTradesPerDay int             `yaml:"default_max_trades_per_day"`
	DefaultTimezone        string          `yaml:"default_timezone"`
}

type RolloverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"`
}

type MarketConfig struct {
	// Feed selects the mark price source: binance or manual.
	Feed              string        `yaml:"feed"`
	Symbols           []string      `yaml:"symbols"`
	PriceTTL          time.Duration `yaml:"price_ttl"`
	ExitCheckInterval time.Duration `yaml:"exit_check_interval"`
}

type ReportConfig struct {
	PDFTimeout time.Duration `yaml:"pdf_timeout"`
	// ChromePath overrides the browser binary used to print PDFs.
	ChromePath string `yaml:"chrome_path"`
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Override with environment variables if present
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used for unset keys
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, Mode: "debug"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "risk.db", Port: 5432, SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379},
		JWT:      JWTConfig{ExpireHours: 24},
		Auth:     AuthConfig{Enabled: true, DefaultAccountID: 1},
		Log:      LogConfig{Level: "info", Encoding: "json", MaxSizeMB: 10, MaxBackups: 30, MaxAgeDays: 30},
		Risk: RiskConfig{
			SurvivalRunwayDays:     5,
			SurvivalSizeFactor:     decimal.NewFromFloat(0.5),
			FeeBufferRate:          decimal.Zero,
			ModelRetries:           3,
			ModelRetryBackoff:      100 * time.Millisecond,
			ModelTimeout:           2 * time.Second,
			ExecuteAttempts:        3,
			StoreRetries:           2,
			StoreRetryBackoff:      50 * time.Millisecond,
			PriceRetries:           2,
			PriceRetryBackoff:      100 * time.Millisecond,
			DefaultBalance:         decimal.NewFromInt(10000),
			DefaultMaxDailyLoss:    decimal.NewFromInt(500),
			DefaultMaxTradesPerDay: 10,
			DefaultTimezone:        "UTC",
		},
		Rollover: RolloverConfig{Enabled: true, Schedule: "0 * * * * *"},
		Market: MarketConfig{
			Feed:              "binance",
			PriceTTL:          5 * time.Second,
			ExitCheckInterval: time.Second,
		},
		Report: ReportConfig{PDFTimeout: 30 * time.Second},
	}
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.Auth.Enabled && c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required when auth is enabled"))
	}
	if c.Risk.SurvivalRunwayDays < 0 {
		errs = append(errs, errors.New("risk.survival_runway_days must not be negative"))
	}
	if c.Risk.SurvivalSizeFactor.IsNegative() || c.Risk.SurvivalSizeFactor.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, errors.New("risk.survival_size_factor must be within [0,1]"))
	}
	if c.Risk.FeeBufferRate.IsNegative() {
		errs = append(errs, errors.New("risk.fee_buffer_rate must not be negative"))
	}
	if c.Risk.ExecuteAttempts < 1 {
		errs = append(errs, errors.New("risk.execute_attempts must be at least 1"))
	}
	if c.Risk.ModelRetries < 0 {
		errs = append(errs, errors.New("risk.model_retries must not be negative"))
	}
	if c.Risk.StoreRetries < 0 {
		errs = append(errs, errors.New("risk.store_retries must not be negative"))
	}
	if c.Risk.PriceRetries < 0 {
		errs = append(errs, errors.New("risk.price_retries must not be negative"))
	}
	if _, err := time.LoadLocation(c.Risk.DefaultTimezone); err != nil {
		errs = append(errs, fmt.Errorf("risk.default_timezone: %w", err))
	}
	switch c.Market.Feed {
	case "binance", "manual":
	default:
		errs = append(errs, fmt.Errorf("market.feed must be binance or manual, got %q", c.Market.Feed))
	}
	return errors.Join(errs...)
}

// IsAdmin reports whether username is configured as an administrator
func (c *AuthConfig) IsAdmin(username string) bool {
	for _, u := range c.AdminUsers {
		if u == username {
			return true
		}
	}
	return false
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("SERVER_MODE"); v != "" {
		c.Server.Mode = v
	}

	// Database
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.DBName = v
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = enabled
		}
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}

	// JWT
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	if v := os.Getenv("JWT_EXPIRE_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil {
			c.JWT.ExpireHours = hours
		}
	}

	// Auth
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = enabled
		}
	}

	// Log
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Log.Dir = v
	}

	// Market
	if v := os.Getenv("MARKET_FEED"); v != "" {
		c.Market.Feed = v
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.DBName +
		" sslmode=" + c.SSLMode
}
