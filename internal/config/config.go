package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox"`
	Intake   IntakeConfig   `mapstructure:"intake"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Reply    ReplyConfig    `mapstructure:"reply"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig holds the Redis connection configuration. Redis backs the
// lease manager, the optional idempotency store, and the queue handoff.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// MailboxConfig holds mailbox access configuration for both the IMAP and
// Gmail API scanners.
type MailboxConfig struct {
	UseIMAP           bool   `mapstructure:"use_imap"`
	IMAPHost          string `mapstructure:"imap_host"`
	IMAPPort          int    `mapstructure:"imap_port"`
	IMAPUser          string `mapstructure:"imap_user"`
	IMAPPassword      string `mapstructure:"imap_password"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecret      string `mapstructure:"client_secret"`
	RefreshToken      string `mapstructure:"refresh_token"`
	UserEmail         string `mapstructure:"user_email"`
	Folder            string `mapstructure:"folder"`
	DeleteAfterCommit bool   `mapstructure:"delete_after_commit"`
}

// IntakeConfig holds coordinator and poll loop configuration
type IntakeConfig struct {
	PollIntervalSeconds int           `mapstructure:"poll_interval_seconds"`
	Lookback            time.Duration `mapstructure:"lookback"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	LeaseTTL            time.Duration `mapstructure:"lease_ttl"`
	StoreBackend        string        `mapstructure:"store_backend"` // db, redis
	RetentionCount      int           `mapstructure:"retention_count"`
}

// ThrottleConfig holds outbound reply throttling configuration
type ThrottleConfig struct {
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxWait     time.Duration `mapstructure:"max_wait"`
}

// PipelineConfig selects and configures the downstream handoff
type PipelineConfig struct {
	Handoff          string        `mapstructure:"handoff"` // agent, taskproc, queue
	AgentURL         string        `mapstructure:"agent_url"`
	TaskProcessorURL string        `mapstructure:"task_processor_url"`
	QueueName        string        `mapstructure:"queue_name"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
}

// ReplyConfig configures the reply sender
type ReplyConfig struct {
	Transport string `mapstructure:"transport"` // gmail, smtp, none
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	From      string `mapstructure:"from"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("redis.url", "redis://localhost:6379/0")

	viper.SetDefault("mailbox.use_imap", true)
	viper.SetDefault("mailbox.imap_host", "imap.gmail.com")
	viper.SetDefault("mailbox.imap_port", 993)
	viper.SetDefault("mailbox.folder", "INBOX")
	viper.SetDefault("mailbox.delete_after_commit", false)

	viper.SetDefault("intake.poll_interval_seconds", 30)
	viper.SetDefault("intake.lookback", "24h")
	viper.SetDefault("intake.max_attempts", 3)
	viper.SetDefault("intake.lease_ttl", "60s")
	viper.SetDefault("intake.store_backend", "db")
	viper.SetDefault("intake.retention_count", 1000)

	viper.SetDefault("throttle.min_interval", "3s")
	viper.SetDefault("throttle.max_wait", "10s")

	viper.SetDefault("pipeline.handoff", "agent")
	viper.SetDefault("pipeline.queue_name", "task-emails")
	viper.SetDefault("pipeline.timeout", "30s")
	viper.SetDefault("pipeline.max_attempts", 3)

	viper.SetDefault("reply.transport", "none")
	viper.SetDefault("reply.smtp_host", "smtp.gmail.com")
	viper.SetDefault("reply.smtp_port", 465)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	// Server
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	// Database
	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	// Redis
	viper.BindEnv("redis.url", "REDIS_URL")

	// Mailbox
	viper.BindEnv("mailbox.use_imap", "MAILBOX_USE_IMAP")
	viper.BindEnv("mailbox.imap_host", "MAILBOX_IMAP_HOST")
	viper.BindEnv("mailbox.imap_port", "MAILBOX_IMAP_PORT")
	viper.BindEnv("mailbox.imap_user", "MAILBOX_IMAP_USER")
	viper.BindEnv("mailbox.imap_password", "MAILBOX_IMAP_PASSWORD")
	viper.BindEnv("mailbox.client_id", "GMAIL_CLIENT_ID")
	viper.BindEnv("mailbox.client_secret", "GMAIL_CLIENT_SECRET")
	viper.BindEnv("mailbox.refresh_token", "GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mailbox.user_email", "GMAIL_USER_EMAIL")
	viper.BindEnv("mailbox.folder", "MAILBOX_FOLDER")
	viper.BindEnv("mailbox.delete_after_commit", "MAILBOX_DELETE_AFTER_COMMIT")

	// Intake
	viper.BindEnv("intake.poll_interval_seconds", "INTAKE_POLL_INTERVAL_SECONDS")
	viper.BindEnv("intake.lookback", "INTAKE_LOOKBACK")
	viper.BindEnv("intake.max_attempts", "INTAKE_MAX_ATTEMPTS")
	viper.BindEnv("intake.lease_ttl", "INTAKE_LEASE_TTL")
	viper.BindEnv("intake.store_backend", "INTAKE_STORE_BACKEND")
	viper.BindEnv("intake.retention_count", "INTAKE_RETENTION_COUNT")

	// Throttle
	viper.BindEnv("throttle.min_interval", "THROTTLE_MIN_INTERVAL")
	viper.BindEnv("throttle.max_wait", "THROTTLE_MAX_WAIT")

	// Pipeline
	viper.BindEnv("pipeline.handoff", "PIPELINE_HANDOFF")
	viper.BindEnv("pipeline.agent_url", "PIPELINE_AGENT_URL")
	viper.BindEnv("pipeline.task_processor_url", "PIPELINE_TASK_PROCESSOR_URL")
	viper.BindEnv("pipeline.queue_name", "PIPELINE_QUEUE_NAME")
	viper.BindEnv("pipeline.timeout", "PIPELINE_TIMEOUT")
	viper.BindEnv("pipeline.max_attempts", "PIPELINE_MAX_ATTEMPTS")

	// Reply
	viper.BindEnv("reply.transport", "REPLY_TRANSPORT")
	viper.BindEnv("reply.smtp_host", "REPLY_SMTP_HOST")
	viper.BindEnv("reply.smtp_port", "REPLY_SMTP_PORT")
	viper.BindEnv("reply.from", "REPLY_FROM")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	if c.Mailbox.UseIMAP {
		if c.Mailbox.IMAPUser == "" || c.Mailbox.IMAPPassword == "" {
			return fmt.Errorf("IMAP credentials are required when using IMAP")
		}
	} else {
		if c.Mailbox.ClientID == "" || c.Mailbox.ClientSecret == "" || c.Mailbox.RefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	}

	if c.Intake.PollIntervalSeconds <= 0 {
		return fmt.Errorf("intake poll interval must be greater than 0")
	}
	if c.Intake.MaxAttempts <= 0 {
		return fmt.Errorf("intake max attempts must be greater than 0")
	}
	if c.Intake.LeaseTTL <= 0 {
		return fmt.Errorf("intake lease ttl must be greater than 0")
	}
	if c.Intake.StoreBackend != "db" && c.Intake.StoreBackend != "redis" {
		return fmt.Errorf("unknown intake store backend: %s", c.Intake.StoreBackend)
	}
	if c.Intake.RetentionCount < 0 {
		return fmt.Errorf("intake retention count must not be negative")
	}

	if c.Throttle.MinInterval < 0 {
		return fmt.Errorf("throttle min interval must not be negative")
	}

	switch c.Pipeline.Handoff {
	case "agent":
		if c.Pipeline.AgentURL == "" {
			return fmt.Errorf("pipeline agent_url is required for the agent handoff")
		}
	case "taskproc":
		if c.Pipeline.TaskProcessorURL == "" {
			return fmt.Errorf("pipeline task_processor_url is required for the taskproc handoff")
		}
	case "queue":
		if c.Pipeline.QueueName == "" {
			return fmt.Errorf("pipeline queue_name is required for the queue handoff")
		}
	default:
		return fmt.Errorf("unknown pipeline handoff: %s", c.Pipeline.Handoff)
	}

	switch c.Reply.Transport {
	case "gmail", "none":
	case "smtp":
		if c.Reply.From == "" {
			return fmt.Errorf("reply from address is required for the smtp transport")
		}
	default:
		return fmt.Errorf("unknown reply transport: %s", c.Reply.Transport)
	}

	return nil
}
