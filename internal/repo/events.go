package repo

import (
	"context"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"gorm.io/gorm"
)

// AppendEvent writes event inside the caller's transaction.
func (r *Repository) AppendEvent(ctx context.Context, tx *gorm.DB, evt *model.EventOutbox) error {
	if evt.Status == "" {
		evt.Status = model.EventPending
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	ok, err := insertOnce(ctx, tx, evt)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicateEvent
	}
	return nil
}

// GetEvent loads one event by its public id.
func (r *Repository) GetEvent(ctx context.Context, eventID string) (*model.EventOutbox, error) {
	var evt model.EventOutbox
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&evt).Error; err != nil {
		return nil, notFound(err)
	}
	return &evt, nil
}

// ListFreshEvents pulls pending events created at or after since.
func (r *Repository) ListFreshEvents(ctx context.Context, since time.Time, limit int) ([]model.EventOutbox, error) {
	var evts []model.EventOutbox
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at >= ?", model.EventPending, since).
		Order("created_at, id").Limit(limit).Find(&evts).Error
	return evts, err
}

// ListStaleEvents pulls pending events created before the cutoff.
func (r *Repository) ListStaleEvents(ctx context.Context, before time.Time, limit int) ([]model.EventOutbox, error) {
	var evts []model.EventOutbox
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.EventPending, before).
		Order("created_at, id").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkEventPublished stamps the first hand-off to listeners.
func (r *Repository) MarkEventPublished(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.EventOutbox{}).
		Where("id = ? AND published_at IS NULL", id).
		Update("published_at", at).Error
}

// MarkEventProcessed sets PROCESSED once every listener has completed.
func (r *Repository) MarkEventProcessed(ctx context.Context, id uint64, at time.Time) error {
	return r.db.WithContext(ctx).Model(&model.EventOutbox{}).
		Where("id = ? AND status = ?", id, model.EventPending).
		Updates(map[string]interface{}{
			"status":        model.EventProcessed,
			"processed_at":  at,
			"error_message": "",
		}).Error
}

// RecordEventFailure bumps retry_count and flips to FAILED once maxRetries is reached.
func (r *Repository) RecordEventFailure(ctx context.Context, id uint64, msg string, maxRetries int) (model.EventStatus, error) {
	db := r.db.WithContext(ctx)
	err := db.Model(&model.EventOutbox{}).
		Where("id = ? AND status = ?", id, model.EventPending).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": msg,
			"status":        gorm.Expr("CASE WHEN retry_count + 1 >= ? THEN ? ELSE status END", maxRetries, model.EventFailed),
		}).Error
	if err != nil {
		return "", err
	}
	var evt model.EventOutbox
	if err := db.Select("status").Where("id = ?", id).First(&evt).Error; err != nil {
		return "", notFound(err)
	}
	return evt.Status, nil
}

// RequeueEvent puts a FAILED event back in front of the slow poller.
func (r *Repository) RequeueEvent(ctx context.Context, eventID string) error {
	res := r.db.WithContext(ctx).Model(&model.EventOutbox{}).
		Where("event_id = ? AND status = ?", eventID, model.EventFailed).
		Updates(map[string]interface{}{
			"status":        model.EventPending,
			"retry_count":   0,
			"error_message": "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim inserts the dedup ledger row for (eventID, listener) in tx.
func (r *Repository) Claim(ctx context.Context, tx *gorm.DB, eventID, listener string, at time.Time) error {
	ok, err := insertOnce(ctx, tx, &model.ProcessedEvent{EventID: eventID, ListenerName: listener, ProcessedAt: at})
	if err != nil {
		return err
	}
	if !ok {
		return ErrClaimLost
	}
	return nil
}

// ClaimedListeners lists listeners that already completed eventID.
func (r *Repository) ClaimedListeners(ctx context.Context, eventID string) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&model.ProcessedEvent{}).
		Where("event_id = ?", eventID).Pluck("listener_name", &names).Error
	return names, err
}
