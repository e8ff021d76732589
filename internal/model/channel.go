package model

import (
	"fmt"
	"strings"
	"time"
)

// ChannelType is a delivery channel.
type ChannelType string

const (
	ChannelSMS       ChannelType = "SMS"
	ChannelEmail     ChannelType = "EMAIL"
	ChannelPush      ChannelType = "PUSH"
	ChannelWebSocket ChannelType = "WEBSOCKET"
	ChannelSlack     ChannelType = "SLACK"
)

// AllChannels lists every channel in a stable order.
var AllChannels = []ChannelType{ChannelSMS, ChannelEmail, ChannelPush, ChannelWebSocket, ChannelSlack}

// ParseChannel accepts any letter case.
func ParseChannel(raw string) (ChannelType, error) {
	c := ChannelType(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllChannels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel %q", raw)
}

// NotificationChannelSend is the level 3 row tracking delivery of one notification on one
// channel. Sent is nil while pending, true once delivered, false once retries are exhausted.
type NotificationChannelSend struct {
	ID             uint64      `gorm:"primaryKey"`
	NotificationID uint64      `gorm:"not null;uniqueIndex:ux_channel_send,priority:1"`
	ChannelType    ChannelType `gorm:"size:16;not null;uniqueIndex:ux_channel_send,priority:2;index:idx_channel_pending,priority:1"`
	Sent           *bool       `gorm:"index:idx_channel_pending,priority:2"`
	AttemptCount   int         `gorm:"not null;default:0"`
	LastAttemptAt  *time.Time
	NextAttemptAt  *time.Time `gorm:"index:idx_channel_pending,priority:3"`
	LastError      string     `gorm:"type:text"`
	SentAt         *time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (NotificationChannelSend) TableName() string { return "notification_channel_send" }

// NotificationPreference enables or disables one channel for one user.
type NotificationPreference struct {
	ID       uint64        `gorm:"primaryKey"`
	UserID   uint64        `gorm:"not null;uniqueIndex:ux_preference,priority:1"`
	UserType RecipientType `gorm:"size:32;not null;uniqueIndex:ux_preference,priority:2"`
	Channel  ChannelType   `gorm:"size:16;not null;uniqueIndex:ux_preference,priority:3"`
	Enabled  bool          `gorm:"not null"`
}

func (NotificationPreference) TableName() string { return "notification_preference" }
