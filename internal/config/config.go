package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	JWT          JWTConfig          `yaml:"jwt"`
	Log          LogConfig          `yaml:"log"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	RentalStatus RentalStatusConfig `yaml:"rental_status"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig contains admin HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig contains PostgreSQL connection settings
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "postgres" or "memory"
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds the connection for the batch run lock. An empty Addr
// disables locking.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// JWTConfig contains admin token settings
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// TelemetryConfig controls the OpenTelemetry trace and metric exporters.
type TelemetryConfig struct {
	Enabled               bool    `yaml:"enabled"`
	ServiceName           string  `yaml:"service_name"`
	Environment           string  `yaml:"environment"`
	OTLPEndpoint          string  `yaml:"otlp_endpoint"` // empty exports to stdout
	Insecure              bool    `yaml:"insecure"`
	SampleRatio           float64 `yaml:"sample_ratio"`
	MetricIntervalSeconds int     `yaml:"metric_interval_seconds"`
}

// MetricInterval is the push period of the metric reader.
func (t TelemetryConfig) MetricInterval() time.Duration {
	if t.MetricIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(t.MetricIntervalSeconds) * time.Second
}

// RentalStatusConfig drives the status engine and its nightly batch.
type RentalStatusConfig struct {
	Enabled            bool    `yaml:"enabled"`
	UpdateTime         string  `yaml:"update_time"` // "HH:MM"
	Timezone           string  `yaml:"timezone"`
	LogRetentionDays   int     `yaml:"log_retention_days"`
	BatchWorkers       int     `yaml:"batch_workers"`
	BatchPageSize      int     `yaml:"batch_page_size"`
	MaxConflictRetries int     `yaml:"max_conflict_retries"`
	MaxItemsPerSecond  float64 `yaml:"max_items_per_second"` // 0 means unthrottled
}

// SchedulerConfig contains cron schedule overrides. Empty specs are derived
// from rental_status.update_time.
type SchedulerConfig struct {
	RecomputeRentalStatuses string `yaml:"recompute_rental_statuses"`
	PurgeStatusLogs         string `yaml:"purge_status_logs"`
}

// Defaults returns a Config holding the values used when a key is absent
// from the file.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", Port: 5432, SSLMode: "disable", MaxOpenConns: 10},
		Redis:    RedisConfig{LockTTLSeconds: 3600},
		Log:      LogConfig{Level: "info", Format: "text"},
		Telemetry: TelemetryConfig{
			ServiceName:           "rental-status",
			SampleRatio:           1,
			MetricIntervalSeconds: 60,
		},
		RentalStatus: RentalStatusConfig{
			Enabled:            true,
			UpdateTime:         "00:00",
			Timezone:           "UTC",
			LogRetentionDays:   365,
			BatchWorkers:       4,
			BatchPageSize:      500,
			MaxConflictRetries: 3,
		},
	}
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes on top of Defaults, then applies
// environment overrides and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}

	// Redis
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		c.Redis.Addr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		c.Redis.Password = val
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}

	// Telemetry
	if val := os.Getenv("OTEL_ENABLED"); val != "" {
		c.Telemetry.Enabled = parseBool(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Telemetry.OTLPEndpoint = val
	}

	// Rental status
	if val := os.Getenv("RENTAL_STATUS_ENABLED"); val != "" {
		c.RentalStatus.Enabled = parseBool(val)
	}
	if val := os.Getenv("RENTAL_STATUS_UPDATE_TIME"); val != "" {
		c.RentalStatus.UpdateTime = val
	}
	if val := os.Getenv("RENTAL_STATUS_TIMEZONE"); val != "" {
		c.RentalStatus.Timezone = val
	}
	if val := os.Getenv("RENTAL_STATUS_LOG_RETENTION_DAYS"); val != "" {
		fmt.Sscanf(val, "%d", &c.RentalStatus.LogRetentionDays)
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Database validation
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}

	// JWT validation
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}

	if c.Redis.LockTTLSeconds <= 0 {
		c.Redis.LockTTLSeconds = 3600
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0, 1]: %v", c.Telemetry.SampleRatio)
	}

	// Rental status validation
	rs := &c.RentalStatus
	if _, _, err := rs.UpdateClock(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(rs.Timezone); err != nil {
		return fmt.Errorf("invalid rental status timezone %q: %w", rs.Timezone, err)
	}
	if rs.LogRetentionDays < 0 {
		return fmt.Errorf("log retention days must not be negative: %d", rs.LogRetentionDays)
	}
	if rs.LogRetentionDays == 0 {
		rs.LogRetentionDays = 365
	}
	if rs.BatchWorkers <= 0 {
		rs.BatchWorkers = 4
	}
	if rs.BatchPageSize <= 0 {
		rs.BatchPageSize = 500
	}
	if rs.MaxConflictRetries < 0 {
		return fmt.Errorf("max conflict retries must not be negative: %d", rs.MaxConflictRetries)
	}
	if rs.MaxItemsPerSecond < 0 {
		return fmt.Errorf("max items per second must not be negative: %v", rs.MaxItemsPerSecond)
	}

	return nil
}

// UpdateClock parses update_time into hour and minute.
func (r RentalStatusConfig) UpdateClock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", r.UpdateTime)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid rental status update time %q, want HH:MM", r.UpdateTime)
	}
	return t.Hour(), t.Minute(), nil
}

// Location returns the timezone the daily update and as-of dates use.
func (r RentalStatusConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LogRetention is the age after which status log entries may be purged.
func (r RentalStatusConfig) LogRetention() time.Duration {
	return time.Duration(r.LogRetentionDays) * 24 * time.Hour
}

// RecomputeCronSpec is the seconds-field cron spec for the nightly recompute.
func (c *Config) RecomputeCronSpec() string {
	if c.Scheduler.RecomputeRentalStatuses != "" {
		return c.Scheduler.RecomputeRentalStatuses
	}
	hour, minute, _ := c.RentalStatus.UpdateClock()
	return fmt.Sprintf("0 %d %d * * *", minute, hour)
}

// PurgeCronSpec defaults to one hour after the recompute.
func (c *Config) PurgeCronSpec() string {
	if c.Scheduler.PurgeStatusLogs != "" {
		return c.Scheduler.PurgeStatusLogs
	}
	hour, minute, _ := c.RentalStatus.UpdateClock()
	return fmt.Sprintf("0 %d %d * * *", minute, (hour+1)%24)
}

// GetDatabaseConnectionString returns a PostgreSQL connection string
func (c *Config) GetDatabaseConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the admin HTTP server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Redis.LockTTLSeconds) * time.Second
}
