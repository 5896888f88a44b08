// Package config loads platform configuration from defaults, an optional
// YAML file, and CACHE_-prefixed environment variables, in that order of
// precedence (lowest to highest).
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the root configuration for the caching platform
type Config struct {
	PlatformName string `mapstructure:"platform_name"`
	Environment  string `mapstructure:"environment"`
	LogLevel     string `mapstructure:"log_level"`

	Redis      RedisConfig      `mapstructure:"redis"`
	Scaling    ScalingConfig    `mapstructure:"scaling"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
	Tenants    TenantConfig     `mapstructure:"tenants"`
	API        APIConfig        `mapstructure:"api"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Password          string        `mapstructure:"password"`
	DB                int           `mapstructure:"db"`
	MaxConnections    int           `mapstructure:"max_connections"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	RetryOnTimeout    bool          `mapstructure:"retry_on_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
}

// ScalingConfig holds auto-scaler settings
type ScalingConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MinNodes           int           `mapstructure:"min_nodes"`
	MaxNodes           int           `mapstructure:"max_nodes"`
	ScaleUpThreshold   float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold float64       `mapstructure:"scale_down_threshold"`
	ScaleUpCooldown    time.Duration `mapstructure:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `mapstructure:"scale_down_cooldown"`
	PredictionWindow   time.Duration `mapstructure:"prediction_window"`
}

// MonitoringConfig holds health-monitor settings. A non-empty
// EscalationQueueURL routes critical alerts to SQS instead of the log.
type MonitoringConfig struct {
	MetricsInterval     time.Duration      `mapstructure:"metrics_interval"`
	HealthCheckInterval time.Duration      `mapstructure:"health_check_interval"`
	AlertThresholds     map[string]float64 `mapstructure:"alert_thresholds"`
	EscalationQueueURL  string             `mapstructure:"escalation_queue_url"`
	EscalationRegion    string             `mapstructure:"escalation_region"`
}

// SecurityConfig holds API authentication settings
type SecurityConfig struct {
	AuthenticationEnabled bool   `mapstructure:"authentication_enabled"`
	JWTSecret             string `mapstructure:"jwt_secret"`
	JWTExpiryHours        int    `mapstructure:"jwt_expiry_hours"`
}

// TenantConfig holds defaults applied to newly created tenants
type TenantConfig struct {
	DefaultMemoryMB          int `mapstructure:"default_memory_mb"`
	DefaultRequestsPerSecond int `mapstructure:"default_requests_per_second"`
	DefaultConnections       int `mapstructure:"default_connections"`
}

// APIConfig holds the HTTP command-surface settings
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// BackupConfig holds backup-store settings
type BackupConfig struct {
	Store     string `mapstructure:"store"` // "file" or "s3"
	Directory string `mapstructure:"directory"`
	S3Bucket  string `mapstructure:"s3_bucket"`
	S3Prefix  string `mapstructure:"s3_prefix"`
	S3Region  string `mapstructure:"s3_region"`
}

// MetricsConfig holds metrics-exposition settings
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from defaults, the optional config file named by
// CACHE_CONFIG_FILE (or ./configs/config.yaml), and environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configFile := os.Getenv("CACHE_CONFIG_FILE")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults plus env cover it.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints that viper cannot express
func (c *Config) Validate() error {
	if c.Scaling.MinNodes < 1 {
		return errors.New("scaling.min_nodes must be at least 1")
	}
	if c.Scaling.MaxNodes < c.Scaling.MinNodes {
		return errors.New("scaling.max_nodes must be >= scaling.min_nodes")
	}
	if c.Scaling.ScaleDownThreshold >= c.Scaling.ScaleUpThreshold {
		return errors.New("scaling.scale_down_threshold must be below scale_up_threshold")
	}
	if c.Redis.MaxConnections < 1 {
		return errors.New("redis.max_connections must be at least 1")
	}
	switch c.Backup.Store {
	case "file", "s3":
	default:
		return errors.Errorf("backup.store must be file or s3, got %q", c.Backup.Store)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("platform_name", "caching-platform")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "INFO")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_connections", 100)
	v.SetDefault("redis.connection_timeout", "5s")
	v.SetDefault("redis.read_timeout", "30s")
	v.SetDefault("redis.write_timeout", "30s")
	v.SetDefault("redis.retry_on_timeout", true)
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("scaling.enabled", true)
	v.SetDefault("scaling.min_nodes", 3)
	v.SetDefault("scaling.max_nodes", 20)
	v.SetDefault("scaling.scale_up_threshold", 85.0)
	v.SetDefault("scaling.scale_down_threshold", 30.0)
	v.SetDefault("scaling.scale_up_cooldown", "5m")
	v.SetDefault("scaling.scale_down_cooldown", "10m")
	v.SetDefault("scaling.prediction_window", "1h")

	v.SetDefault("monitoring.metrics_interval", "30s")
	v.SetDefault("monitoring.health_check_interval", "10s")
	v.SetDefault("monitoring.escalation_queue_url", "")
	v.SetDefault("monitoring.escalation_region", "")
	v.SetDefault("monitoring.alert_thresholds", map[string]float64{
		"cpu_usage":     85.0,
		"memory_usage":  90.0,
		"response_time": 100.0,
		"error_rate":    5.0,
	})

	v.SetDefault("security.authentication_enabled", false)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_expiry_hours", 24)

	v.SetDefault("tenants.default_memory_mb", 512)
	v.SetDefault("tenants.default_requests_per_second", 100)
	v.SetDefault("tenants.default_connections", 50)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_addr", ":8080")

	v.SetDefault("backup.store", "file")
	v.SetDefault("backup.directory", "./backups")
	v.SetDefault("backup.s3_prefix", "backups/")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "caching_platform")
}
