package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NewEvent is a domain event to record. An empty EventID gets a random one.
type NewEvent struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type" binding:"required"`
	AggregateType string          `json:"aggregate_type" binding:"required"`
	AggregateID   string          `json:"aggregate_id" binding:"required"`
	Payload       json.RawMessage `json:"payload" binding:"required"`
}

// EventStore records domain events in the level 1 outbox.
type EventStore struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewEventStore(r repo.RepositoryInterface, logger *zap.SugaredLogger) *EventStore {
	return &EventStore{repo: r, log: logger}
}

// Append records in inside tx, the producer's business transaction, so the event exists
// if and only if the business change commits. A reused event id yields repo.ErrDuplicateEvent
// and leaves the stored event untouched.
func (s *EventStore) Append(ctx context.Context, tx *gorm.DB, in NewEvent) (*model.EventOutbox, error) {
	if strings.TrimSpace(in.EventType) == "" || strings.TrimSpace(in.AggregateType) == "" || strings.TrimSpace(in.AggregateID) == "" {
		return nil, fmt.Errorf("%w: event_type, aggregate_type and aggregate_id are required", ErrInvalidEvent)
	}
	if len(in.Payload) == 0 || !json.Valid(in.Payload) {
		return nil, fmt.Errorf("%w: payload must be JSON", ErrInvalidEvent)
	}
	if in.EventID == "" {
		in.EventID = in.EventType + "_" + uuid.NewString()
	}
	evt := &model.EventOutbox{
		EventID:       in.EventID,
		EventType:     in.EventType,
		AggregateType: in.AggregateType,
		AggregateID:   in.AggregateID,
		Payload:       datatypes.JSON(in.Payload),
		Status:        model.EventPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.AppendEvent(ctx, tx, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// Publish appends in its own transaction. A duplicate id is not an error: the stored
// event is returned with created=false.
func (s *EventStore) Publish(ctx context.Context, in NewEvent) (evt *model.EventOutbox, created bool, err error) {
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		evt, err = s.Append(ctx, tx, in)
		return err
	})
	if errors.Is(err, repo.ErrDuplicateEvent) {
		existing, gerr := s.repo.GetEvent(ctx, in.EventID)
		if gerr != nil {
			return nil, false, gerr
		}
		s.log.Infow("duplicate event ignored", "event_id", in.EventID)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	s.log.Infow("event recorded", "event_id", evt.EventID, "event_type", evt.EventType)
	return evt, true, nil
}

// Requeue resets a FAILED event to PENDING with a fresh retry budget.
func (s *EventStore) Requeue(ctx context.Context, eventID string) error {
	if err := s.repo.RequeueEvent(ctx, eventID); err != nil {
		return err
	}
	s.log.Infow("event requeued", "event_id", eventID)
	return nil
}
