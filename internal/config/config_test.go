package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.Pipeline.Events.Fast.Interval)
	assert.Equal(t, 60*time.Second, cfg.Pipeline.Events.Slow.Age)
	assert.True(t, cfg.Pipeline.Events.Slow.On())
	assert.Equal(t, 3, cfg.Pipeline.Channels.MaxRetries)
	assert.Len(t, cfg.EnabledChannels(), 5)
}

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	path := writeConfig(t, "postgres:\n  dsn: \"host=db\"\npipeline:\n  events:\n    slow:\n      enabled: false\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "host=db password=s3cret", cfg.Postgres.DSN)
	assert.Equal(t, "tok", cfg.Senders.Twilio.AuthToken)
	assert.False(t, cfg.Pipeline.Events.Slow.On())
	assert.Equal(t, 100, cfg.Pipeline.Events.Fast.BatchSize)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Channels.BackoffMax)
	assert.Equal(t, model.AllChannels, cfg.EnabledChannels())
	assert.Equal(t, "http://localhost:8081", cfg.Directory.URL)
	assert.Equal(t, 5*time.Second, cfg.Directory.Timeout)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"ledger shorter than events": func(c *Config) { c.Pipeline.Retention.Ledger = time.Hour },
		"ledger swept, events kept": func(c *Config) {
			c.Pipeline.Retention.Events = 0
			c.Pipeline.Retention.Ledger = 720 * time.Hour
		},
		"unknown channel": func(c *Config) { c.Pipeline.Channels.Channels = []string{"PIGEON"} },
		"zero retries":    func(c *Config) { c.Pipeline.Channels.MaxRetries = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			var c Config
			c.Defaults()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	var ok Config
	ok.Defaults()
	assert.NoError(t, ok.Validate())

	// zero keeps rows forever
	ok.Pipeline.Retention.Ledger = 0
	assert.NoError(t, ok.Validate())
	ok.Pipeline.Retention.Events = 0
	assert.NoError(t, ok.Validate())
}
