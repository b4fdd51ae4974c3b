package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Config holds the complete configuration for the contract monitor service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Alerting      AlertingConfig      `mapstructure:"alerting"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Lineage       LineageConfig       `mapstructure:"lineage"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	Name            string        `mapstructure:"name" validate:"required"`
	Username        string        `mapstructure:"username" validate:"required"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN builds the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Name, c.Username, c.Password, c.SSLMode)
}

// RedisConfig contains the optional Redis configuration used for shared
// alert-dedup state across replicas.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Addr returns host:port for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringConfig bounds check execution
type MonitoringConfig struct {
	CheckTimeoutSeconds       int `mapstructure:"check_timeout_seconds" validate:"min=1"`
	ClockSkewToleranceSeconds int `mapstructure:"clock_skew_tolerance_seconds" validate:"min=0"`
	DefaultIntervalSeconds    int `mapstructure:"default_interval_seconds" validate:"min=1"`
}

// DefaultInterval returns the default check interval.
func (c MonitoringConfig) DefaultInterval() time.Duration {
	return time.Duration(c.DefaultIntervalSeconds) * time.Second
}

// ToModel converts the section into the core monitoring config.
func (c MonitoringConfig) ToModel() model.MonitoringConfig {
	return model.MonitoringConfig{
		CheckTimeoutSeconds:       c.CheckTimeoutSeconds,
		ClockSkewToleranceSeconds: c.ClockSkewToleranceSeconds,
	}
}

// RoutingRuleConfig is one severity-gated route to a named channel
type RoutingRuleConfig struct {
	Channel        string `mapstructure:"channel" validate:"required"`
	MinSeverity    string `mapstructure:"min_severity" validate:"required,oneof=INFO WARNING ERROR CRITICAL"`
	ContractFilter string `mapstructure:"contract_filter"`
}

// AlertingConfig contains alert routing configuration
type AlertingConfig struct {
	RoutingRules           []RoutingRuleConfig `mapstructure:"routing_rules" validate:"dive"`
	DedupWindowMinutes     int                 `mapstructure:"dedup_window_minutes" validate:"min=0"`
	RateLimitWindowMinutes int                 `mapstructure:"rate_limit_window_minutes" validate:"min=1"`
	RateLimitPerContract   int                 `mapstructure:"rate_limit_per_contract" validate:"min=1"`
}

// ToModel converts the section into the core alert config.
func (c AlertingConfig) ToModel() (model.AlertConfig, error) {
	out := model.AlertConfig{
		DedupWindowMinutes:     c.DedupWindowMinutes,
		RateLimitWindowMinutes: c.RateLimitWindowMinutes,
		RateLimitPerContract:   c.RateLimitPerContract,
	}
	for _, rule := range c.RoutingRules {
		severity, err := model.ParseSeverity(rule.MinSeverity)
		if err != nil {
			return model.AlertConfig{}, fmt.Errorf("routing rule for channel %s: %w", rule.Channel, err)
		}
		out.RoutingRules = append(out.RoutingRules, model.RoutingRule{
			ChannelName:    rule.Channel,
			MinSeverity:    severity,
			ContractFilter: rule.ContractFilter,
		})
	}
	return out, nil
}

// NotificationsConfig contains alert channel configuration
type NotificationsConfig struct {
	Email        EmailConfig        `mapstructure:"email"`
	SMS          SMSConfig          `mapstructure:"sms"`
	Slack        SlackConfig        `mapstructure:"slack"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	Alertmanager AlertmanagerConfig `mapstructure:"alertmanager"`
}

// EmailConfig contains email channel configuration
type EmailConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Provider       string   `mapstructure:"provider"` // sendgrid, smtp
	SendGridAPIKey string   `mapstructure:"sendgrid_api_key"`
	SMTPHost       string   `mapstructure:"smtp_host"`
	SMTPPort       int      `mapstructure:"smtp_port"`
	SMTPUsername   string   `mapstructure:"smtp_username"`
	SMTPPassword   string   `mapstructure:"smtp_password"`
	FromAddress    string   `mapstructure:"from_address"`
	FromName       string   `mapstructure:"from_name"`
	Recipients     []string `mapstructure:"recipients"`
}

// SMSConfig contains Twilio SMS channel configuration
type SMSConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	AccountSID string   `mapstructure:"account_sid"`
	AuthToken  string   `mapstructure:"auth_token"`
	FromNumber string   `mapstructure:"from_number"`
	Recipients []string `mapstructure:"recipients"`
}

// SlackConfig contains Slack channel configuration
type SlackConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Channel    string        `mapstructure:"channel"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// WebhookConfig contains generic webhook channel configuration
type WebhookConfig struct {
	Enabled       bool              `mapstructure:"enabled"`
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	SigningSecret string            `mapstructure:"signing_secret"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	RetryCount    int               `mapstructure:"retry_count"`
}

// AlertmanagerConfig contains Prometheus Alertmanager channel configuration
type AlertmanagerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LineageConfig contains lineage event emission configuration
type LineageConfig struct {
	Namespace    string        `mapstructure:"namespace"`
	ProducerName string        `mapstructure:"producer_name"`
	HTTPEndpoint string        `mapstructure:"http_endpoint"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
	KafkaBrokers []string      `mapstructure:"kafka_brokers"`
	KafkaTopic   string        `mapstructure:"kafka_topic"`
}

// MaintenanceConfig contains housekeeping job configuration
type MaintenanceConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	DedupCleanupSchedule string        `mapstructure:"dedup_cleanup_schedule"`
	DailyRollupSchedule  string        `mapstructure:"daily_rollup_schedule"`
	RetentionSchedule    string        `mapstructure:"retention_schedule"`
	DedupRetention       time.Duration `mapstructure:"dedup_retention"`
	ResultRetentionDays  int           `mapstructure:"result_retention_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // json, text
	IncludeSource bool   `mapstructure:"include_source"`
}

// Load loads configuration from environment variables and config files
func Load(path string) (Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/contract-monitor")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CONTRACT_MONITOR")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8087)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "20s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "contract_monitor")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Monitoring
	viper.SetDefault("monitoring.check_timeout_seconds", 30)
	viper.SetDefault("monitoring.clock_skew_tolerance_seconds", 60)
	viper.SetDefault("monitoring.default_interval_seconds", 300)

	// Alerting
	viper.SetDefault("alerting.dedup_window_minutes", 60)
	viper.SetDefault("alerting.rate_limit_window_minutes", 60)
	viper.SetDefault("alerting.rate_limit_per_contract", 10)

	// Notifications
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.provider", "sendgrid")
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.slack.enabled", false)
	viper.SetDefault("notifications.slack.timeout", "15s")
	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "30s")
	viper.SetDefault("notifications.webhook.retry_count", 2)
	viper.SetDefault("notifications.alertmanager.enabled", false)
	viper.SetDefault("notifications.alertmanager.timeout", "15s")

	// Lineage
	viper.SetDefault("lineage.namespace", "contract-monitoring")
	viper.SetDefault("lineage.producer_name", "contract-monitor")
	viper.SetDefault("lineage.http_timeout", "10s")
	viper.SetDefault("lineage.kafka_topic", "contract-violations")

	// Maintenance
	viper.SetDefault("maintenance.enabled", true)
	viper.SetDefault("maintenance.dedup_cleanup_schedule", "*/30 * * * *")
	viper.SetDefault("maintenance.daily_rollup_schedule", "15 0 * * *")
	viper.SetDefault("maintenance.retention_schedule", "45 2 * * *")
	viper.SetDefault("maintenance.dedup_retention", "24h")
	viper.SetDefault("maintenance.result_retention_days", 30)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.include_source", false)
}
