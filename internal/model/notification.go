package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// RecipientType discriminates who a notification row belongs to.
type RecipientType string

const (
	RecipientAdmin      RecipientType = "ADMIN"
	RecipientCustomer   RecipientType = "CUSTOMER"
	RecipientRestaurant RecipientType = "RESTAURANT_USER"
	RecipientAgency     RecipientType = "AGENCY_USER"
)

// ParseRecipientType accepts any letter case.
func ParseRecipientType(raw string) (RecipientType, error) {
	rt := RecipientType(strings.ToUpper(strings.TrimSpace(raw)))
	switch rt {
	case RecipientAdmin, RecipientCustomer, RecipientRestaurant, RecipientAgency:
		return rt, nil
	}
	return "", fmt.Errorf("unknown recipient type %q", raw)
}

// SharedReadScope governs how a read or an action propagates to sibling recipients.
type SharedReadScope string

const (
	ScopeNone             SharedReadScope = "NONE"
	ScopeRestaurant       SharedReadScope = "RESTAURANT"
	ScopeRestaurantHub    SharedReadScope = "RESTAURANT_HUB"
	ScopeRestaurantHubAll SharedReadScope = "RESTAURANT_HUB_ALL"
	ScopeAgency           SharedReadScope = "AGENCY"
	ScopeAgencyHub        SharedReadScope = "AGENCY_HUB"
	ScopeAgencyHubAll     SharedReadScope = "AGENCY_HUB_ALL"
)

// IsShared reports whether the scope propagates beyond the acting recipient.
func (s SharedReadScope) IsShared() bool {
	return s != "" && s != ScopeNone
}

// Valid reports whether s is a known scope.
func (s SharedReadScope) Valid() bool {
	switch s {
	case ScopeNone, ScopeRestaurant, ScopeRestaurantHub, ScopeRestaurantHubAll,
		ScopeAgency, ScopeAgencyHub, ScopeAgencyHubAll:
		return true
	}
	return false
}

// SupportedBy reports whether recipients of type rt may carry scope s.
func (s SharedReadScope) SupportedBy(rt RecipientType) bool {
	switch s {
	case ScopeNone:
		return true
	case ScopeRestaurant, ScopeRestaurantHub, ScopeRestaurantHubAll:
		return rt == RecipientRestaurant
	case ScopeAgency, ScopeAgencyHub, ScopeAgencyHubAll:
		return rt == RecipientAgency
	}
	return false
}

// Notification is the recipient-facing record produced by fan-out. GroupKey ties together
// the siblings produced by one listener for one event.
type Notification struct {
	ID              uint64          `gorm:"primaryKey"`
	GroupKey        string          `gorm:"size:200;not null;uniqueIndex:ux_notification_recipient,priority:1;index"`
	EventID         string          `gorm:"size:128;not null"`
	EventType       string          `gorm:"size:64;not null"`
	RecipientID     uint64          `gorm:"not null;uniqueIndex:ux_notification_recipient,priority:3;index:idx_notification_inbox,priority:2"`
	RecipientType   RecipientType   `gorm:"size:32;not null;uniqueIndex:ux_notification_recipient,priority:2;index:idx_notification_inbox,priority:1"`
	ScopeID         uint64          `gorm:"not null;default:0;index"`
	HubID           uint64          `gorm:"not null;default:0;index"`
	SharedReadScope SharedReadScope `gorm:"size:32;not null;default:NONE"`
	Title           string          `gorm:"size:255;not null"`
	Body            string          `gorm:"type:text"`
	Properties      datatypes.JSON
	Read            bool `gorm:"not null;default:false;index:idx_notification_inbox,priority:3"`
	ReadByUserID    *uint64
	ReadAt          *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime"`
}

func (Notification) TableName() string { return "notification" }

// GroupKeyFor builds the broadcast group key for an event handled by a listener.
func GroupKeyFor(eventID, listener string) string { return eventID + "|" + listener }

// Recipient is a user a listener targets, as known by the user directory.
type Recipient struct {
	ID      uint64        `json:"id"`
	Type    RecipientType `json:"type"`
	ScopeID uint64        `json:"scope_id,omitempty"`
	HubID   uint64        `json:"hub_id,omitempty"`
}

var (
	// ErrUnknownRecipient is returned when the directory does not know a user.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrNoContact is returned when a user has no address registered for a channel.
	ErrNoContact = errors.New("no contact for channel")
)
