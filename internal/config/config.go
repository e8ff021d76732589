package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/richardliu001/notification-outbox/internal/logger"
	"github.com/richardliu001/notification-outbox/internal/model"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       logger.Options  `yaml:"log"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Senders   SendersConfig   `yaml:"senders"`
	Directory DirectoryConfig `yaml:"directory"`
}

type ServerConfig struct {
	Port        int `yaml:"port"`
	MetricsPort int `yaml:"metrics_port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PreferenceTTL time.Duration `yaml:"preference_ttl"`
}

// KafkaConfig enables the event relay when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RabbitMQConfig enables the AMQP event relay when URL is set.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// DirectoryConfig points at the user directory service that knows recipients and contacts.
type DirectoryConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// PollerTier is one cadence of the event dispatch poller.
type PollerTier struct {
	Enabled   *bool         `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Age       time.Duration `yaml:"age"` // fresh window for the fast tier, stuck cutoff for the slow tier
	BatchSize int           `yaml:"batch_size"`
}

// On reports whether the tier runs; unset means on.
func (t PollerTier) On() bool { return t.Enabled == nil || *t.Enabled }

type EventPollerConfig struct {
	Fast       PollerTier `yaml:"fast"`
	Slow       PollerTier `yaml:"slow"`
	MaxRetries int        `yaml:"max_retries"`
}

type NotificationPollerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type ChannelPollerConfig struct {
	Channels       []string      `yaml:"channels"`
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxRetries     int           `yaml:"max_retries"`
	Workers        int           `yaml:"workers"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
	SendRPS        float64       `yaml:"send_rps"`
	BreakerFails   uint32        `yaml:"breaker_failures"`
	BreakerOpen    time.Duration `yaml:"breaker_open"`
}

type RetentionConfig struct {
	Interval time.Duration `yaml:"interval"`
	Events   time.Duration `yaml:"events"`
	Outbox   time.Duration `yaml:"outbox"`
	Channels time.Duration `yaml:"channels"`
	Ledger   time.Duration `yaml:"ledger"`
}

type PipelineConfig struct {
	Events        EventPollerConfig        `yaml:"events"`
	Notifications NotificationPollerConfig `yaml:"notifications"`
	Channels      ChannelPollerConfig      `yaml:"channels"`
	Retention     RetentionConfig          `yaml:"retention"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type PushConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type WebSocketConfig struct {
	ChannelPrefix string `yaml:"channel_prefix"`
}

type SendersConfig struct {
	SMTP      SMTPConfig      `yaml:"smtp"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Push      PushConfig      `yaml:"push"`
	Slack     SlackConfig     `yaml:"slack"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

// Load reads yaml file, then applies .env and environment overrides and defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	overrideEnv(&cfg.Redis.Password, "REDIS_PASSWORD")
	overrideEnv(&cfg.Senders.Twilio.AccountSID, "TWILIO_ACCOUNT_SID")
	overrideEnv(&cfg.Senders.Twilio.AuthToken, "TWILIO_AUTH_TOKEN")
	overrideEnv(&cfg.Senders.SMTP.Password, "SMTP_PASSWORD")
	overrideEnv(&cfg.Senders.Push.Token, "PUSH_API_TOKEN")
	overrideEnv(&cfg.Senders.Slack.WebhookURL, "SLACK_WEBHOOK_URL")

	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setInt(i *int, def int) {
	if *i == 0 {
		*i = def
	}
}

// Defaults fills every zero field.
func (c *Config) Defaults() {
	setInt(&c.Server.Port, 8080)
	setInt(&c.Server.MetricsPort, 9102)
	setDuration(&c.Redis.PreferenceTTL, 5*time.Minute)
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "notification-events"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "notification.events"
	}
	setInt(&c.RateLimit.RPS, 50)
	setInt(&c.RateLimit.Burst, 100)

	ev := &c.Pipeline.Events
	setDuration(&ev.Fast.Interval, time.Second)
	setDuration(&ev.Fast.Age, 10*time.Second)
	setInt(&ev.Fast.BatchSize, 100)
	setDuration(&ev.Slow.Interval, 30*time.Second)
	setDuration(&ev.Slow.Age, 60*time.Second)
	setInt(&ev.Slow.BatchSize, 100)
	setInt(&ev.MaxRetries, 3)

	np := &c.Pipeline.Notifications
	setDuration(&np.Interval, 2*time.Second)
	setInt(&np.BatchSize, 100)
	setInt(&np.MaxRetries, 3)

	cp := &c.Pipeline.Channels
	if len(cp.Channels) == 0 {
		for _, ch := range model.AllChannels {
			cp.Channels = append(cp.Channels, string(ch))
		}
	}
	setDuration(&cp.Interval, 10*time.Second)
	setInt(&cp.BatchSize, 50)
	setInt(&cp.MaxRetries, 3)
	setInt(&cp.Workers, 8)
	setDuration(&cp.AttemptTimeout, 15*time.Second)
	setDuration(&cp.BackoffBase, 30*time.Second)
	setDuration(&cp.BackoffMax, 30*time.Minute)
	if cp.BreakerFails == 0 {
		cp.BreakerFails = 5
	}
	setDuration(&cp.BreakerOpen, 30*time.Second)

	rt := &c.Pipeline.Retention
	setDuration(&rt.Interval, time.Hour)
	setDuration(&rt.Events, 7*24*time.Hour)
	setDuration(&rt.Outbox, 7*24*time.Hour)
	setDuration(&rt.Channels, 30*24*time.Hour)
	setDuration(&rt.Ledger, 30*24*time.Hour)

	if c.Directory.URL == "" {
		c.Directory.URL = "http://localhost:8081"
	}
	setDuration(&c.Directory.Timeout, 5*time.Second)

	if c.Senders.WebSocket.ChannelPrefix == "" {
		c.Senders.WebSocket.ChannelPrefix = "notifications"
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	ev := c.Pipeline.Events
	cp := c.Pipeline.Channels
	np := c.Pipeline.Notifications
	switch {
	case ev.Fast.Interval <= 0 || ev.Slow.Interval <= 0 || np.Interval <= 0 || cp.Interval <= 0:
		return errors.New("poller intervals must be positive")
	case ev.Fast.BatchSize <= 0 || ev.Slow.BatchSize <= 0 || np.BatchSize <= 0 || cp.BatchSize <= 0:
		return errors.New("batch sizes must be positive")
	case ev.MaxRetries < 1 || np.MaxRetries < 1 || cp.MaxRetries < 1:
		return errors.New("max_retries must be at least 1")
	case cp.Workers < 1:
		return errors.New("channel workers must be at least 1")
	case c.Pipeline.Retention.Ledger > 0 &&
		(c.Pipeline.Retention.Events == 0 || c.Pipeline.Retention.Ledger < c.Pipeline.Retention.Events):
		return errors.New("ledger retention must not be shorter than event retention")
	}
	for _, raw := range cp.Channels {
		if _, err := model.ParseChannel(raw); err != nil {
			return err
		}
	}
	return nil
}

// EnabledChannels returns the parsed channel list.
func (c *Config) EnabledChannels() []model.ChannelType {
	out := make([]model.ChannelType, 0, len(c.Pipeline.Channels.Channels))
	for _, raw := range c.Pipeline.Channels.Channels {
		if ch, err := model.ParseChannel(raw); err == nil {
			out = append(out, ch)
		}
	}
	return out
}
