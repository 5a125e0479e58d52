package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sync engine
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Sync      SyncConfig      `yaml:"sync"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds the daemon status API settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WarehouseConfig holds Snowflake credentials and the source table contract.
// The table and column names are a versioned external contract; renames
// upstream are breaking changes, not silent failures.
type WarehouseConfig struct {
	Account             string `yaml:"account"`
	User                string `yaml:"user"`
	Password            string `yaml:"password"`
	Database            string `yaml:"database"`
	Schema              string `yaml:"schema"`
	Warehouse           string `yaml:"warehouse"`
	SourceTable         string `yaml:"source_table"`
	MaxConnections      int    `yaml:"max_connections"`
	IdleTimeoutMillis   int    `yaml:"idle_timeout_ms"`
	QueryTimeoutSeconds int    `yaml:"query_timeout_seconds"`
}

// StoreConfig holds the operational Postgres store settings
type StoreConfig struct {
	DatabaseURL  string `yaml:"database_url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the optional Redis connection for distributed locking.
// When Addr is empty the scheduler falls back to PG advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SyncConfig holds extraction and load tuning
type SyncConfig struct {
	BatchSize    int    `yaml:"batch_size"`
	LookbackDays int    `yaml:"lookback_days"`
	SummaryTable string `yaml:"summary_table"`
	PeriodType   string `yaml:"period_type"`
}

// SchedulerConfig holds the recurring trigger settings
type SchedulerConfig struct {
	CronExpression     string `yaml:"cron_expression"`
	RetryAttempts      int    `yaml:"retry_attempts"`
	RetryDelayMs       int    `yaml:"retry_delay_ms"`
	LockTTLSeconds     int    `yaml:"lock_ttl_seconds"`
	RefreshViews       bool   `yaml:"refresh_views"`
	RunQualityChecks   bool   `yaml:"run_quality_checks"`
	AttemptTimeoutMins int    `yaml:"attempt_timeout_minutes"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML config (if present) then applies environment
// overrides. A missing file is not an error; env-only deployments are valid.
func LoadFromEnv(path string) (*Config, error) {
	// Best-effort .env for local development
	_ = godotenv.Load()

	var cfg *Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	} else {
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("SNOWFLAKE_ACCOUNT"); v != "" {
		cfg.Warehouse.Account = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Warehouse.User = v
	}
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Warehouse.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_DATABASE"); v != "" {
		cfg.Warehouse.Database = v
	}
	if v := os.Getenv("SNOWFLAKE_SCHEMA"); v != "" {
		cfg.Warehouse.Schema = v
	}
	if v := os.Getenv("SNOWFLAKE_WAREHOUSE"); v != "" {
		cfg.Warehouse.Warehouse = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SYNC_CRON"); v != "" {
		cfg.Scheduler.CronExpression = v
	}
	if v := os.Getenv("SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("SYNC_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.RetryAttempts = n
		}
	}

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8085
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}

	// Warehouse defaults
	if cfg.Warehouse.Database == "" {
		cfg.Warehouse.Database = "IGNITE_DATA_LAKE"
	}
	if cfg.Warehouse.Schema == "" {
		cfg.Warehouse.Schema = "AMAZON"
	}
	if cfg.Warehouse.SourceTable == "" {
		cfg.Warehouse.SourceTable = "SEARCH_QUERY_PERFORMANCE"
	}
	if cfg.Warehouse.MaxConnections == 0 {
		cfg.Warehouse.MaxConnections = 5
	}
	if cfg.Warehouse.IdleTimeoutMillis == 0 {
		cfg.Warehouse.IdleTimeoutMillis = 60000
	}
	if cfg.Warehouse.QueryTimeoutSeconds == 0 {
		cfg.Warehouse.QueryTimeoutSeconds = 300
	}

	if cfg.Store.MaxOpenConns == 0 {
		cfg.Store.MaxOpenConns = 10
	}
	if cfg.Store.MaxIdleConns == 0 {
		cfg.Store.MaxIdleConns = 2
	}

	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 1000
	}
	if cfg.Sync.LookbackDays == 0 {
		cfg.Sync.LookbackDays = 90
	}
	if cfg.Sync.SummaryTable == "" {
		cfg.Sync.SummaryTable = "sqp_weekly_summary"
	}
	if cfg.Sync.PeriodType == "" {
		cfg.Sync.PeriodType = "weekly"
	}

	if cfg.Scheduler.CronExpression == "" {
		// Monday 06:00, after the warehouse has landed the previous week
		cfg.Scheduler.CronExpression = "0 6 * * 1"
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelayMs == 0 {
		cfg.Scheduler.RetryDelayMs = 5000
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 1800
	}
	if cfg.Scheduler.AttemptTimeoutMins == 0 {
		cfg.Scheduler.AttemptTimeoutMins = 30
	}
}

// Validate checks that required credentials are present. Missing credentials
// are a fatal configuration error, never deferred to first use.
func (cfg *Config) Validate() error {
	if cfg.Warehouse.Account == "" || cfg.Warehouse.User == "" || cfg.Warehouse.Password == "" {
		return fmt.Errorf("warehouse credentials incomplete: account, user and password are required")
	}
	if cfg.Store.DatabaseURL == "" {
		return fmt.Errorf("store database_url is required")
	}
	switch cfg.Sync.PeriodType {
	case "weekly", "monthly", "quarterly", "yearly":
	default:
		return fmt.Errorf("invalid period_type %q", cfg.Sync.PeriodType)
	}
	return nil
}
