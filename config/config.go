package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Driftflow DriftflowConfig `yaml:"driftflow"`
	Source    SourceConfig    `yaml:"source"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Pass      PassConfig      `yaml:"pass"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type DriftflowConfig struct {
	Name    string   `yaml:"name"`
	Version string   `yaml:"version"`
	Markets []string `yaml:"markets"`
}

type SourceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	UserAgent      string               `yaml:"user_agent"`
	Timeout        time.Duration        `yaml:"timeout"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type FetchConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BanSleepFallback time.Duration `yaml:"ban_sleep_fallback"`
	RequestInterval  time.Duration `yaml:"request_interval"`
	MaxRecordsPerDay int           `yaml:"max_records_per_day"`
}

type SchedulerConfig struct {
	DefaultLookbackDays   int `yaml:"default_lookback_days"`
	CompleteHourThreshold int `yaml:"complete_hour_threshold"`
}

type PassConfig struct {
	IdleSleep time.Duration `yaml:"idle_sleep"`
	BusySleep time.Duration `yaml:"busy_sleep"`
}

type StorageConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
}

type MySQLConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	Params          string        `yaml:"params"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level      string           `yaml:"level"`
	Format     string           `yaml:"format"`
	Output     string           `yaml:"output"`
	MaxAge     int              `yaml:"max_age"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Region        string `yaml:"region"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

// DSN builds the MySQL connection string for the configured database.
// parseTime is required so DATETIME columns scan into time.Time.
func (m MySQLConfig) DSN() string {
	params := m.Params
	if params == "" {
		params = "charset=utf8mb4&parseTime=True&loc=UTC"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		m.User, m.Password, m.Host, m.Port, m.Database, params)
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Fetch: FetchConfig{
			MaxRecordsPerDay: 10000,
		},
		Scheduler: SchedulerConfig{
			CompleteHourThreshold: 20,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployments inject database coordinates without
// editing the config file. godotenv loads .env before this runs.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		cfg.Storage.MySQL.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("MYSQL_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Storage.MySQL.Port = port
		}
	}
	if v := os.Getenv("MYSQL_USER"); v != "" {
		cfg.Storage.MySQL.User = strings.TrimSpace(v)
	}
	if v := os.Getenv("MYSQL_PASSWORD"); v != "" {
		cfg.Storage.MySQL.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("MYSQL_DATABASE"); v != "" {
		cfg.Storage.MySQL.Database = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Logging.CloudWatch.Region = strings.TrimSpace(v)
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Driftflow.Name == "" {
		return fmt.Errorf("driftflow.name is required")
	}

	if cfg.Driftflow.Version == "" {
		return fmt.Errorf("driftflow.version is required")
	}

	if len(cfg.Driftflow.Markets) == 0 {
		return fmt.Errorf("driftflow.markets must list at least one market")
	}
	for _, m := range cfg.Driftflow.Markets {
		if strings.TrimSpace(m) == "" {
			return fmt.Errorf("driftflow.markets must not contain empty entries")
		}
	}

	if cfg.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}

	if cfg.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than 0")
	}

	if cfg.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be greater than 0")
	}
	if cfg.Fetch.BaseDelay <= 0 {
		return fmt.Errorf("fetch.base_delay must be greater than 0")
	}
	if cfg.Fetch.MaxDelay < cfg.Fetch.BaseDelay {
		return fmt.Errorf("fetch.max_delay must not be smaller than fetch.base_delay")
	}
	if cfg.Fetch.BanSleepFallback <= 0 {
		return fmt.Errorf("fetch.ban_sleep_fallback must be greater than 0")
	}
	if cfg.Fetch.RequestInterval <= 0 {
		return fmt.Errorf("fetch.request_interval must be greater than 0")
	}
	if cfg.Fetch.MaxRecordsPerDay <= 0 {
		return fmt.Errorf("fetch.max_records_per_day must be greater than 0")
	}

	if cfg.Scheduler.DefaultLookbackDays <= 0 {
		return fmt.Errorf("scheduler.default_lookback_days must be greater than 0")
	}
	if cfg.Scheduler.CompleteHourThreshold <= 0 || cfg.Scheduler.CompleteHourThreshold > 24 {
		return fmt.Errorf("scheduler.complete_hour_threshold must be between 1 and 24")
	}

	if cfg.Pass.IdleSleep <= 0 {
		return fmt.Errorf("pass.idle_sleep must be greater than 0")
	}
	if cfg.Pass.BusySleep <= 0 {
		return fmt.Errorf("pass.busy_sleep must be greater than 0")
	}

	mysql := cfg.Storage.MySQL
	if mysql.Host == "" {
		return fmt.Errorf("storage.mysql.host is required")
	}
	if mysql.Port <= 0 {
		return fmt.Errorf("storage.mysql.port must be greater than 0")
	}
	if mysql.User == "" {
		return fmt.Errorf("storage.mysql.user is required")
	}
	if mysql.Database == "" {
		return fmt.Errorf("storage.mysql.database is required")
	}

	if cfg.Logging.CloudWatch.Enabled && cfg.Logging.CloudWatch.Namespace == "" {
		return fmt.Errorf("logging.cloudwatch.namespace is required when CloudWatch is enabled")
	}

	return nil
}
