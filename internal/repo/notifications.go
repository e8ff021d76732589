package repo

import (
	"context"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"gorm.io/gorm"
)

// CreateNotification writes a recipient row. It reports false when the same recipient
// already holds a row in the group.
func (r *Repository) CreateNotification(ctx context.Context, tx *gorm.DB, n *model.Notification) (bool, error) {
	if n.SharedReadScope == "" {
		n.SharedReadScope = model.ScopeNone
	}
	return insertOnce(ctx, tx, n)
}

// CreateNotificationOutbox writes the level 2 outbox row for a recipient row.
func (r *Repository) CreateNotificationOutbox(ctx context.Context, tx *gorm.DB, row *model.NotificationOutbox) error {
	if row.Status == "" {
		row.Status = model.OutboxPending
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	_, err := insertOnce(ctx, tx, row)
	return err
}

// GetNotification loads a recipient row.
func (r *Repository) GetNotification(ctx context.Context, id uint64) (*model.Notification, error) {
	var n model.Notification
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// ListNotifications pages a recipient's inbox, newest first.
func (r *Repository) ListNotifications(ctx context.Context, recipientID uint64, rt model.RecipientType, unreadOnly bool, limit, offset int) ([]model.Notification, int64, error) {
	q := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_type = ? AND recipient_id = ?", rt, recipientID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []model.Notification
	err := q.Order("created_at desc, id desc").Limit(limit).Offset(offset).Find(&out).Error
	return out, total, err
}

// ListPendingOutbox pulls level 2 rows awaiting explosion.
func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]model.NotificationOutbox, error) {
	var rows []model.NotificationOutbox
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("created_at, id").Limit(limit).Find(&rows).Error
	return rows, err
}

// MarkOutboxSent records a completed explosion.
func (r *Repository) MarkOutboxSent(ctx context.Context, id uint64, at time.Time, note string) error {
	return r.db.WithContext(ctx).Model(&model.NotificationOutbox{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]interface{}{
			"status":        model.OutboxSent,
			"processed_at":  at,
			"error_message": note,
		}).Error
}

// RecordOutboxFailure bumps retry_count and flips to FAILED once maxRetries is reached.
func (r *Repository) RecordOutboxFailure(ctx context.Context, id uint64, msg string, maxRetries int) (model.OutboxStatus, error) {
	db := r.db.WithContext(ctx)
	err := db.Model(&model.NotificationOutbox{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": msg,
			"status":        gorm.Expr("CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END", maxRetries, model.OutboxFailed),
		}).Error
	if err != nil {
		return "", err
	}
	var row model.NotificationOutbox
	if err := db.Select("status").Where("id = ?", id).First(&row).Error; err != nil {
		return "", notFound(err)
	}
	return row.Status, nil
}
