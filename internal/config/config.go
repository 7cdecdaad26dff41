package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted while resolving configuration.
const (
	EnvConfigPath  = "MEMBERLEDGER_CONFIG"
	EnvDatabaseDSN = "MEMBERLEDGER_DATABASE_DSN"
	EnvJWTSecret   = "MEMBERLEDGER_JWT_SECRET"
	EnvRedisAddr   = "MEMBERLEDGER_REDIS_ADDR"
	EnvLogLevel    = "MEMBERLEDGER_LOG_LEVEL"

	defaultConfigPath = "config.yaml"
)

// AppConfig carries process-level options supplied on the command line.
type AppConfig struct {
	ConfigPath string
}

// Config is the YAML configuration file.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	JWT        JWTConfig        `yaml:"jwt"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Commission CommissionConfig `yaml:"commission"`
	Withdrawal WithdrawalConfig `yaml:"withdrawal"`
	Graph      GraphConfig      `yaml:"graph"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Mode            string        `yaml:"mode"`
	ReadTimeout     time.Duration `yaml:"read-timeout"`
	WriteTimeout    time.Duration `yaml:"write-timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the ledger store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max-open-conns"`
	MaxIdleConns    int           `yaml:"max-idle-conns"`
	ConnMaxLifetime time.Duration `yaml:"conn-max-lifetime"`
	SlowThreshold   time.Duration `yaml:"slow-threshold"`
	LogLevel        string        `yaml:"log-level"`
}

// RedisConfig configures the optional downline cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Enabled reports whether a Redis address is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// LoggingConfig configures logrus output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
	Compress   bool   `yaml:"compress"`
}

// JWTConfig holds the shared secret used to verify member and admin tokens.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LedgerConfig tunes the balance mutator.
type LedgerConfig struct {
	MaxRetries int `yaml:"max-retries"`
}

// CommissionConfig tunes the commission engine.
type CommissionConfig struct {
	MaxDepth       int   `yaml:"max-depth"`
	CreditInactive *bool `yaml:"credit-inactive"`
}

// CreditInactiveAncestors reports whether inactive ancestors receive balance credits.
func (c CommissionConfig) CreditInactiveAncestors() bool {
	if c.CreditInactive == nil {
		return true
	}
	return *c.CreditInactive
}

// WithdrawalConfig tunes the withdrawal state machine.
type WithdrawalConfig struct {
	FeeRate   decimal.Decimal `yaml:"-"`
	MinAmount decimal.Decimal `yaml:"-"`

	RawFeeRate   string `yaml:"fee-rate"`
	RawMinAmount string `yaml:"min-amount"`
}

// GraphConfig tunes the referral graph snapshot.
type GraphConfig struct {
	SnapshotTTL time.Duration `yaml:"snapshot-ttl"`
}

// ResolveConfigPath picks the config file path from the flag, environment or default.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return trimmed
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return defaultConfigPath
}

// ConfigExists reports whether the config file is present.
func ConfigExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Load reads .env (when present), the YAML file (when present), environment
// overrides and defaults, in that order.
func Load(path string) (*Config, error) {
	if errEnv := godotenv.Load(); errEnv != nil && !errors.Is(errEnv, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", errEnv)
	}

	cfg := &Config{}
	if ConfigExists(path) {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	}

	applyEnvOverrides(cfg)
	if errDefaults := applyDefaults(cfg); errDefaults != nil {
		return nil, errDefaults
	}
	return cfg, nil
}

// LoadDatabaseDSN returns only the database DSN from the config file.
func LoadDatabaseDSN(path string) (string, error) {
	cfg, err := Load(path)
	if err != nil {
		return "", err
	}
	return cfg.Database.DSN, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseDSN)); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRedisAddr)); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = v
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8318
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 20 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 20 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = "file:data/memberledger.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "memberledger:"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Ledger.MaxRetries <= 0 {
		cfg.Ledger.MaxRetries = 3
	}
	if cfg.Commission.MaxDepth <= 0 {
		cfg.Commission.MaxDepth = 10
	}
	if cfg.Commission.MaxDepth > 10 {
		return fmt.Errorf("config: commission.max-depth must be at most 10, got %d", cfg.Commission.MaxDepth)
	}
	if cfg.Graph.SnapshotTTL <= 0 {
		cfg.Graph.SnapshotTTL = 30 * time.Second
	}

	feeRate, errFee := parseDecimalOr(cfg.Withdrawal.RawFeeRate, "0.10")
	if errFee != nil {
		return fmt.Errorf("config: withdrawal.fee-rate: %w", errFee)
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("config: withdrawal.fee-rate must be in [0,1), got %s", feeRate)
	}
	minAmount, errMin := parseDecimalOr(cfg.Withdrawal.RawMinAmount, "0")
	if errMin != nil {
		return fmt.Errorf("config: withdrawal.min-amount: %w", errMin)
	}
	cfg.Withdrawal.FeeRate = feeRate
	cfg.Withdrawal.MinAmount = minAmount
	return nil
}

func parseDecimalOr(raw, fallback string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	return decimal.NewFromString(raw)
}
