package main

import (
	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/notification-outbox/internal/config"
	"github.com/richardliu001/notification-outbox/internal/directory"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/pipeline"
	"github.com/richardliu001/notification-outbox/internal/sender"
	"go.uber.org/zap"
)

// buildSenders registers a guarded sender for every enabled channel whose provider is
// configured, and returns the contact lookup each one needs. Channels without a provider
// are skipped with a warning.
func buildSenders(cfg *config.Config, rdb *redis.Client, dir *directory.Client, log *zap.SugaredLogger) (*sender.Registry, map[model.ChannelType]pipeline.ContactResolver) {
	sc := cfg.Senders
	timeout := cfg.Pipeline.Channels.AttemptTimeout
	reg := sender.NewRegistry()
	lookups := map[model.ChannelType]pipeline.ContactResolver{}
	for _, ch := range cfg.EnabledChannels() {
		var (
			s        sender.Sender
			contacts pipeline.ContactResolver = dir
		)
		switch ch {
		case model.ChannelEmail:
			if sc.SMTP.Host != "" {
				s = sender.NewSMTPEmail(sc.SMTP.Host, sc.SMTP.Port, sc.SMTP.Username, sc.SMTP.Password, sc.SMTP.From)
			}
		case model.ChannelSMS:
			if sc.Twilio.AccountSID != "" {
				s = sender.NewTwilioSMS(sc.Twilio.AccountSID, sc.Twilio.AuthToken, sc.Twilio.From, timeout)
			}
		case model.ChannelPush:
			if sc.Push.URL != "" {
				s = sender.NewPushGateway(sc.Push.URL, sc.Push.Token, timeout)
			}
		case model.ChannelSlack:
			if sc.Slack.WebhookURL != "" {
				s = sender.NewSlackWebhook(sc.Slack.WebhookURL, timeout)
				contacts = nil
			}
		case model.ChannelWebSocket:
			s = sender.NewRedisWebSocket(rdb, sc.WebSocket.ChannelPrefix)
			contacts = nil
		}
		if s == nil {
			log.Warnw("channel enabled but no provider configured, skipping", "channel", ch)
			continue
		}
		cp := cfg.Pipeline.Channels
		guarded := sender.NewGuard(string(ch), s, sender.GuardOptions{
			RPS:      cp.SendRPS,
			Burst:    cp.Workers,
			Failures: cp.BreakerFails,
			Open:     cp.BreakerOpen,
		}, log)
		reg.Register(ch, guarded)
		lookups[ch] = contacts
	}
	return reg, lookups
}
