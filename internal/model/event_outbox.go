package model

import (
	"time"

	"gorm.io/datatypes"
)

// EventStatus is the lifecycle state of an EventOutbox row.
type EventStatus string

const (
	EventPending   EventStatus = "PENDING"
	EventProcessed EventStatus = "PROCESSED"
	EventFailed    EventStatus = "FAILED"
)

// EventOutbox is a domain event recorded inside the producing business transaction.
type EventOutbox struct {
	ID            uint64         `gorm:"primaryKey"`
	EventID       string         `gorm:"size:128;not null;uniqueIndex"`
	EventType     string         `gorm:"size:64;not null;index"`
	AggregateType string         `gorm:"size:64;not null"`
	AggregateID   string         `gorm:"size:64;not null"`
	Payload       datatypes.JSON `gorm:"not null"`
	Status        EventStatus    `gorm:"size:16;not null;default:PENDING;index:idx_event_status_created,priority:1"`
	RetryCount    int            `gorm:"not null;default:0"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_event_status_created,priority:2"`
	PublishedAt   *time.Time
	ProcessedAt   *time.Time
	ErrorMessage  string `gorm:"type:text"`
}

func (EventOutbox) TableName() string { return "event_outbox" }

// ProcessedEvent is one dedup ledger entry: listener ListenerName has finished EventID.
type ProcessedEvent struct {
	ID           uint64    `gorm:"primaryKey"`
	EventID      string    `gorm:"size:128;not null;uniqueIndex:ux_processed_event_listener,priority:1"`
	ListenerName string    `gorm:"size:64;not null;uniqueIndex:ux_processed_event_listener,priority:2"`
	ProcessedAt  time.Time `gorm:"not null;index"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
