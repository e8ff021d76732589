package service

import (
	"errors"
	"fmt"

	"github.com/richardliu001/notification-outbox/internal/model"
)

var (
	// ErrInvalidEvent means a required event field is missing or the payload is not JSON.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrNotRecipient means the actor does not own the notification.
	ErrNotRecipient = errors.New("actor is not the recipient of this notification")
	// ErrAlreadyActioned is matched by every *AlreadyActionedError.
	ErrAlreadyActioned = errors.New("notification already actioned")
)

// AlreadyActionedError is returned to the losers of a first-to-act race.
type AlreadyActionedError struct {
	Winner *model.NotificationAction
}

func (e *AlreadyActionedError) Error() string {
	return fmt.Sprintf("already actioned by %s %d (%s)", e.Winner.ActorType, e.Winner.ActorID, e.Winner.ActionType)
}

func (e *AlreadyActionedError) Is(target error) bool { return target == ErrAlreadyActioned }
