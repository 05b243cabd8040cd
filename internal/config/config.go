package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	PriceFeed PriceFeedConfig `yaml:"price_feed"`
}

// PriceFeedConfig selects the mark price provider. Provider "binance" streams
// live marks; "sim" serves operator-set prices for offline runs.
type PriceFeedConfig struct {
	Provider string   `yaml:"provider"`
	Symbols  []string `yaml:"symbols"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpireHours int    `yaml:"expire_hours"`
}

type LogConfig struct {
	Dir string `yaml:"dir"`
}

// RiskLevelConfig bounds leverage and position concentration for one risk tier.
type RiskLevelConfig struct {
	MaxLeverage         int     `yaml:"max_leverage"`
	MaxConcentrationPct float64 `yaml:"max_concentration_pct"`
}

// EngineConfig holds the immutable trading limits handed to the ledger at
// construction.
type EngineConfig struct {
	MinTradeAmount    float64                    `yaml:"min_trade_amount"`
	MaxTradeAmount    float64                    `yaml:"max_trade_amount"`
	InitialBalance    float64                    `yaml:"initial_balance"`
	PricePrecision    int32                      `yaml:"price_precision"`
	QuantityPrecision int32                      `yaml:"quantity_precision"`
	MaxLeverage       int                        `yaml:"max_leverage"`
	RiskLevel         string                     `yaml:"risk_level"`
	RiskLevels        map[string]RiskLevelConfig `yaml:"risk_levels"`
}

// MinAmount returns the minimum trade notional as a decimal.
func (e EngineConfig) MinAmount() decimal.Decimal {
	return decimal.NewFromFloat(e.MinTradeAmount)
}

// MaxAmount returns the maximum trade notional as a decimal.
func (e EngineConfig) MaxAmount() decimal.Decimal {
	return decimal.NewFromFloat(e.MaxTradeAmount)
}

// StartingBalance returns the simulated balance granted to a new account.
func (e EngineConfig) StartingBalance() decimal.Decimal {
	return decimal.NewFromFloat(e.InitialBalance)
}

// ActiveRiskLevel resolves the configured risk tier, falling back to the hard
// leverage cap with no concentration bound when the tier is unknown.
func (e EngineConfig) ActiveRiskLevel() RiskLevelConfig {
	if lvl, ok := e.RiskLevels[e.RiskLevel]; ok {
		return lvl
	}
	return RiskLevelConfig{MaxLeverage: e.MaxLeverage, MaxConcentrationPct: 100}
}

type SchedulerConfig struct {
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
	DailyCheckSeconds      int `yaml:"daily_check_seconds"`
}

// RefreshInterval returns the cadence of the fast reconciliation jobs.
func (s SchedulerConfig) RefreshInterval() time.Duration {
	if s.RefreshIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.RefreshIntervalSeconds) * time.Second
}

// DailyCheckInterval returns how often the daily jobs poll for a day rollover.
func (s SchedulerConfig) DailyCheckInterval() time.Duration {
	if s.DailyCheckSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(s.DailyCheckSeconds) * time.Second
}

// Load loads configuration from file and environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration used as the base for Load.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MinTradeAmount:    1,
			MaxTradeAmount:    10_000_000,
			InitialBalance:    100_000,
			PricePrecision:    8,
			QuantityPrecision: 8,
			MaxLeverage:       50,
			RiskLevel:         "MEDIUM",
			RiskLevels: map[string]RiskLevelConfig{
				"LOW":    {MaxLeverage: 5, MaxConcentrationPct: 10},
				"MEDIUM": {MaxLeverage: 20, MaxConcentrationPct: 25},
				"HIGH":   {MaxLeverage: 50, MaxConcentrationPct: 50},
			},
		},
		Scheduler: SchedulerConfig{
			RefreshIntervalSeconds: 30,
			DailyCheckSeconds:      60,
		},
		Log: LogConfig{Dir: "logs"},
		PriceFeed: PriceFeedConfig{
			Provider: "binance",
			Symbols:  []string{"BTCUSDT", "ETHUSDT"},
		},
	}
}

func (c *Config) validate() error {
	if c.Engine.MinTradeAmount < 0 || c.Engine.MaxTradeAmount <= c.Engine.MinTradeAmount {
		return fmt.Errorf("config: invalid trade amount bounds [%v, %v]", c.Engine.MinTradeAmount, c.Engine.MaxTradeAmount)
	}
	if c.Engine.MaxLeverage < 1 {
		return fmt.Errorf("config: max leverage must be at least 1, got %d", c.Engine.MaxLeverage)
	}
	return nil
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

	// Engine
	if v := os.Getenv("ENGINE_RISK_LEVEL"); v != "" {
		c.Engine.RiskLevel = v
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
