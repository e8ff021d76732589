package service

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor identifies the user performing a read or an action.
type Actor struct {
	ID   uint64
	Type model.RecipientType
}

// PreferenceSetter stores channel preferences and keeps any cache coherent.
type PreferenceSetter interface {
	Set(ctx context.Context, p *model.NotificationPreference) error
}

// NotificationService serves recipients: inbox, reads, actions; and operators: stats, requeue.
type NotificationService struct {
	repo  repo.RepositoryInterface
	prefs PreferenceSetter
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewNotificationService(r repo.RepositoryInterface, prefs PreferenceSetter, logger *zap.SugaredLogger) *NotificationService {
	return &NotificationService{repo: r, prefs: prefs, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// owned loads a notification and checks that actor is its recipient.
func (s *NotificationService) owned(ctx context.Context, id uint64, actor Actor) (*model.Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != actor.ID || n.RecipientType != actor.Type {
		return nil, ErrNotRecipient
	}
	return n, nil
}

// ReadResult reports what MarkRead changed.
type ReadResult struct {
	Marked     bool  `json:"marked"`
	Propagated int64 `json:"propagated"`
}

// MarkRead marks the actor's row read. For shared scopes every unread sibling in the scope
// is marked read by the actor too. Calling it again is a no-op.
func (s *NotificationService) MarkRead(ctx context.Context, id uint64, actor Actor) (*ReadResult, error) {
	n, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	res := &ReadResult{}
	now := s.now()
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := s.repo.MarkNotificationRead(ctx, tx, n.ID, actor.ID, now)
		if err != nil {
			return err
		}
		propagated, err := s.repo.MarkScopeRead(ctx, tx, n, actor.ID, now)
		if err != nil {
			return err
		}
		res.Marked, res.Propagated = marked, propagated
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Propagated > 0 {
		s.log.Infow("shared read propagated", "notification_id", n.ID, "scope", n.SharedReadScope, "rows", res.Propagated)
	}
	return res, nil
}

// ActionInput is one recipient action.
type ActionInput struct {
	NotificationID uint64
	Actor          Actor
	ActionType     model.ActionType
	Notes          string
}

// RecordAction stores the action. On shared scopes the first action wins: the group is
// locked while looking for an earlier action in the same scope, later actors get an
// *AlreadyActionedError naming the winner, and the winning action marks the scope read.
// Rows with scope NONE accept any number of actions from their recipient.
func (s *NotificationService) RecordAction(ctx context.Context, in ActionInput) (*model.NotificationAction, error) {
	n, err := s.owned(ctx, in.NotificationID, in.Actor)
	if err != nil {
		return nil, err
	}
	var action *model.NotificationAction
	err = s.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if n.SharedReadScope.IsShared() {
			if _, err := s.repo.LockGroupHead(ctx, tx, n.GroupKey); err != nil {
				return err
			}
			winner, err := s.repo.FindScopeAction(ctx, tx, n)
			if err != nil {
				return err
			}
			if winner != nil {
				return &AlreadyActionedError{Winner: winner}
			}
		}
		now := s.now()
		action = &model.NotificationAction{
			NotificationID: n.ID,
			GroupKey:       n.GroupKey,
			ScopeID:        n.ScopeID,
			HubID:          n.HubID,
			ActorID:        in.Actor.ID,
			ActorType:      string(in.Actor.Type),
			ActionType:     in.ActionType,
			ActedAt:        now,
			Notes:          in.Notes,
		}
		if err := s.repo.CreateAction(ctx, tx, action); err != nil {
			return err
		}
		if _, err := s.repo.MarkNotificationRead(ctx, tx, n.ID, in.Actor.ID, now); err != nil {
			return err
		}
		_, err := s.repo.MarkScopeRead(ctx, tx, n, in.Actor.ID, now)
		return err
	})
	if err != nil {
		var lost *AlreadyActionedError
		if errors.As(err, &lost) {
			s.log.Infow("action lost first-to-act race", "notification_id", n.ID, "actor_id", in.Actor.ID, "winner_id", lost.Winner.ActorID)
		}
		return nil, err
	}
	s.log.Infow("action recorded", "notification_id", n.ID, "actor_id", in.Actor.ID, "action", in.ActionType)
	return action, nil
}

// Page is one page of an inbox.
type Page struct {
	Items []model.Notification `json:"items"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Size  int                  `json:"size"`
}

// ListNotifications pages a recipient's inbox newest first. page is 1-based.
func (s *NotificationService) ListNotifications(ctx context.Context, who Actor, unreadOnly bool, page, size int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	items, total, err := s.repo.ListNotifications(ctx, who.ID, who.Type, unreadOnly, size, (page-1)*size)
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}

// MarkAllRead marks the recipient's whole inbox read without propagation.
func (s *NotificationService) MarkAllRead(ctx context.Context, who Actor) (int64, error) {
	return s.repo.MarkAllRead(ctx, who.ID, who.Type, s.now())
}

// SetPreference enables or disables one channel for a user.
func (s *NotificationService) SetPreference(ctx context.Context, who Actor, ch model.ChannelType, enabled bool) error {
	return s.prefs.Set(ctx, &model.NotificationPreference{UserID: who.ID, UserType: who.Type, Channel: ch, Enabled: enabled})
}

// ChannelStats adds the delivery success rate to the raw counts.
type ChannelStats struct {
	repo.ChannelCounts
	SuccessRate decimal.Decimal `json:"success_rate"`
}

// Stats is the dashboard view of the pipeline.
type Stats struct {
	Events      map[model.EventStatus]int64        `json:"events"`
	Outbox      map[model.OutboxStatus]int64       `json:"notification_outbox"`
	Channels    map[model.ChannelType]ChannelStats `json:"channels"`
	SuccessRate decimal.Decimal                    `json:"success_rate"`
}

// successRate is delivered / (delivered + failed), 1 when nothing finished yet.
func successRate(delivered, failed int64) decimal.Decimal {
	done := delivered + failed
	if done == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(delivered).DivRound(decimal.NewFromInt(done), 4)
}

// Stats returns per-stage counts and delivery success rates.
func (s *NotificationService) Stats(ctx context.Context) (*Stats, error) {
	raw, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Events: raw.Events, Outbox: raw.Outbox, Channels: map[model.ChannelType]ChannelStats{}}
	var delivered, failed int64
	for ch, c := range raw.Channels {
		out.Channels[ch] = ChannelStats{ChannelCounts: c, SuccessRate: successRate(c.Delivered, c.Failed)}
		delivered += c.Delivered
		failed += c.Failed
	}
	out.SuccessRate = successRate(delivered, failed)
	return out, nil
}

// RequeueChannelSend gives a permanently failed channel send a fresh retry budget.
func (s *NotificationService) RequeueChannelSend(ctx context.Context, id uint64) error {
	if err := s.repo.RequeueChannelSend(ctx, id); err != nil {
		return err
	}
	s.log.Infow("channel send requeued", "send_id", id)
	return nil
}
