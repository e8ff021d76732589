package model

import (
	"fmt"
	"strings"
	"time"
)

// ActionType is what a recipient did with a notification.
type ActionType string

const (
	ActionConfirmed ActionType = "CONFIRMED"
	ActionRejected  ActionType = "REJECTED"
	ActionPostponed ActionType = "POSTPONED"
	ActionDismissed ActionType = "DISMISSED"
	ActionCustom    ActionType = "CUSTOM"
)

// ParseAction accepts any letter case.
func ParseAction(raw string) (ActionType, error) {
	a := ActionType(strings.ToUpper(strings.TrimSpace(raw)))
	switch a {
	case ActionConfirmed, ActionRejected, ActionPostponed, ActionDismissed, ActionCustom:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", raw)
}

// NotificationAction audits an action taken on a notification. For broadcast scopes at most
// one row exists per (GroupKey, scope keys); the service enforces it under a row lock.
type NotificationAction struct {
	ID             uint64     `gorm:"primaryKey"`
	NotificationID uint64     `gorm:"not null;index"`
	GroupKey       string     `gorm:"size:200;not null;index"`
	ScopeID        uint64     `gorm:"not null;default:0"`
	HubID          uint64     `gorm:"not null;default:0"`
	ActorID        uint64     `gorm:"not null"`
	ActorType      string     `gorm:"size:32;not null"`
	ActionType     ActionType `gorm:"size:16;not null"`
	ActedAt        time.Time  `gorm:"not null"`
	Notes          string     `gorm:"type:text"`
}

func (NotificationAction) TableName() string { return "notification_action" }

// All returns every persisted model, for migrations.
func All() []interface{} {
	return []interface{}{
		&EventOutbox{}, &ProcessedEvent{}, &Notification{}, &NotificationOutbox{},
		&NotificationChannelSend{}, &NotificationAction{}, &NotificationPreference{},
	}
}
