package repo

import (
	"context"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"gorm.io/gorm"
)

// ChannelFailure describes one failed delivery attempt.
type ChannelFailure struct {
	At       time.Time
	Error    string
	Attempts int        // attempt count after this failure
	Next     *time.Time // next eligible attempt; ignored when Terminal
	Terminal bool
}

// CreateChannelSend explodes one channel for a notification.
func (r *Repository) CreateChannelSend(ctx context.Context, notificationID uint64, channel model.ChannelType) error {
	ok, err := insertOnce(ctx, r.db, &model.NotificationChannelSend{NotificationID: notificationID, ChannelType: channel})
	if err != nil {
		return err
	}
	if !ok {
		return ErrChannelSendExists
	}
	return nil
}

// ListChannelSends returns every channel row of a notification.
func (r *Repository) ListChannelSends(ctx context.Context, notificationID uint64) ([]model.NotificationChannelSend, error) {
	var rows []model.NotificationChannelSend
	err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).
		Order("id").Find(&rows).Error
	return rows, err
}

// ListDueChannelSends pulls pending rows of one channel whose backoff has elapsed.
func (r *Repository) ListDueChannelSends(ctx context.Context, channel model.ChannelType, now time.Time, limit int) ([]model.NotificationChannelSend, error) {
	var rows []model.NotificationChannelSend
	err := r.db.WithContext(ctx).
		Where("channel_type = ? AND sent IS NULL", channel).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id").Limit(limit).Find(&rows).Error
	return rows, err
}

// LeaseChannelSend reserves row until the given time, with optimistic check on the
// attempt count observed when the row was listed.
func (r *Repository) LeaseChannelSend(ctx context.Context, row *model.NotificationChannelSend, now, until time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.NotificationChannelSend{}).
		Where("id = ? AND sent IS NULL AND attempt_count = ?", row.ID, row.AttemptCount).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Update("next_attempt_at", until)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	row.NextAttemptAt = &until
	return nil
}

// MarkChannelSent records a delivered row. Terminal rows are left alone.
func (r *Repository) MarkChannelSent(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.NotificationChannelSend{}).
		Where("id = ? AND sent IS NULL", id).
		Updates(map[string]interface{}{
			"sent":            true,
			"sent_at":         at,
			"last_attempt_at": at,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nil,
			"last_error":      "",
		}).Error
}

// RecordChannelFailure stores a failed attempt, optionally terminal.
func (r *Repository) RecordChannelFailure(ctx context.Context, id uint64, f ChannelFailure) error {
	updates := map[string]interface{}{
		"attempt_count":   f.Attempts,
		"last_attempt_at": f.At,
		"last_error":      f.Error,
		"next_attempt_at": f.Next,
	}
	if f.Terminal {
		updates["sent"] = false
		updates["next_attempt_at"] = nil
	}
	return r.db.WithContext(ctx).Model(&model.NotificationChannelSend{}).
		Where("id = ? AND sent IS NULL", id).
		Updates(updates).Error
}

// RequeueChannelSend resets a permanently failed row for another round of attempts.
func (r *Repository) RequeueChannelSend(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Model(&model.NotificationChannelSend{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]interface{}{
			"sent":            nil,
			"attempt_count":   0,
			"next_attempt_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
