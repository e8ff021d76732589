package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// inScope narrows q to the siblings of n that share its read scope. NONE matches n only.
func inScope(q *gorm.DB, n *model.Notification) *gorm.DB {
	q = q.Where("group_key = ?", n.GroupKey)
	switch n.SharedReadScope {
	case model.ScopeRestaurant, model.ScopeAgency:
		return q.Where("scope_id = ?", n.ScopeID)
	case model.ScopeRestaurantHub, model.ScopeAgencyHub:
		return q.Where("hub_id = ?", n.HubID)
	case model.ScopeRestaurantHubAll, model.ScopeAgencyHubAll:
		return q
	default:
		return q.Where("id = ?", n.ID)
	}
}

// LockGroupHead locks the lowest-id row of a broadcast group.
func (r *Repository) LockGroupHead(ctx context.Context, tx *gorm.DB, groupKey string) (*model.Notification, error) {
	var n model.Notification
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("group_key = ?", groupKey).Order("id").First(&n).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// MarkNotificationRead marks one row read by actorID. It reports false if it already was.
func (r *Repository) MarkNotificationRead(ctx context.Context, tx *gorm.DB, id, actorID uint64, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND read = ?", id, false).
		Updates(map[string]interface{}{"read": true, "read_by_user_id": actorID, "read_at": at})
	return res.RowsAffected > 0, res.Error
}

// MarkScopeRead propagates a read by actorID to every unread sibling of n in scope.
func (r *Repository) MarkScopeRead(ctx context.Context, tx *gorm.DB, n *model.Notification, actorID uint64, at time.Time) (int64, error) {
	if !n.SharedReadScope.IsShared() {
		return 0, nil
	}
	q := inScope(tx.WithContext(ctx).Model(&model.Notification{}), n).
		Where("id <> ? AND read = ?", n.ID, false)
	res := q.Updates(map[string]interface{}{"read": true, "read_by_user_id": actorID, "read_at": at})
	return res.RowsAffected, res.Error
}

// MarkAllRead marks a recipient's whole inbox read. No propagation.
func (r *Repository) MarkAllRead(ctx context.Context, recipientID uint64, rt model.RecipientType, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Notification{}).
		Where("recipient_type = ? AND recipient_id = ? AND read = ?", rt, recipientID, false).
		Updates(map[string]interface{}{"read": true, "read_by_user_id": recipientID, "read_at": at})
	return res.RowsAffected, res.Error
}

// FindScopeAction returns the action already recorded in n's scope, or nil.
func (r *Repository) FindScopeAction(ctx context.Context, tx *gorm.DB, n *model.Notification) (*model.NotificationAction, error) {
	q := tx.WithContext(ctx).Where("group_key = ?", n.GroupKey)
	switch n.SharedReadScope {
	case model.ScopeRestaurant, model.ScopeAgency:
		q = q.Where("scope_id = ?", n.ScopeID)
	case model.ScopeRestaurantHub, model.ScopeAgencyHub:
		q = q.Where("hub_id = ?", n.HubID)
	case model.ScopeRestaurantHubAll, model.ScopeAgencyHubAll:
	default:
		q = q.Where("notification_id = ?", n.ID)
	}
	var a model.NotificationAction
	err := q.Order("acted_at, id").First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAction inserts an audit row.
func (r *Repository) CreateAction(ctx context.Context, tx *gorm.DB, a *model.NotificationAction) error {
	return tx.WithContext(ctx).Create(a).Error
}
