package model

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxStatus is the lifecycle state of a NotificationOutbox row.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// NotificationOutbox is the level 2 outbox: one row per recipient notification awaiting
// channel explosion. (NotificationType, NotificationID) names the recipient row; there is
// no foreign key, the pair is checked by the dispatcher.
type NotificationOutbox struct {
	ID               uint64         `gorm:"primaryKey"`
	NotificationID   uint64         `gorm:"not null;uniqueIndex"`
	NotificationType RecipientType  `gorm:"size:32;not null"`
	AggregateType    string         `gorm:"size:64;not null"`
	AggregateID      string         `gorm:"size:64;not null"`
	EventType        string         `gorm:"size:64;not null"`
	Payload          datatypes.JSON `gorm:"not null"`
	Status           OutboxStatus   `gorm:"size:16;not null;default:PENDING;index:idx_nout_status_created,priority:1"`
	RetryCount       int            `gorm:"not null;default:0"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_nout_status_created,priority:2"`
	UpdatedAt        time.Time
	ProcessedAt      *time.Time
	ErrorMessage     string `gorm:"type:text"`
}

func (NotificationOutbox) TableName() string { return "notification_outbox" }
