package repo

import (
	"context"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"gorm.io/gorm/clause"
)

// ChannelCounts are delivery counts of one channel.
type ChannelCounts struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// PipelineStats are per-stage row counts for dashboards.
type PipelineStats struct {
	Events   map[model.EventStatus]int64         `json:"events"`
	Outbox   map[model.OutboxStatus]int64        `json:"notification_outbox"`
	Channels map[model.ChannelType]ChannelCounts `json:"channels"`
}

// Stats counts rows per status on every stage.
func (r *Repository) Stats(ctx context.Context) (*PipelineStats, error) {
	db := r.db.WithContext(ctx)
	out := &PipelineStats{
		Events:   map[model.EventStatus]int64{},
		Outbox:   map[model.OutboxStatus]int64{},
		Channels: map[model.ChannelType]ChannelCounts{},
	}

	var evRows []struct {
		Status model.EventStatus
		N      int64
	}
	if err := db.Model(&model.EventOutbox{}).Select("status, count(*) as n").
		Group("status").Scan(&evRows).Error; err != nil {
		return nil, err
	}
	for _, row := range evRows {
		out.Events[row.Status] = row.N
	}

	var obRows []struct {
		Status model.OutboxStatus
		N      int64
	}
	if err := db.Model(&model.NotificationOutbox{}).Select("status, count(*) as n").
		Group("status").Scan(&obRows).Error; err != nil {
		return nil, err
	}
	for _, row := range obRows {
		out.Outbox[row.Status] = row.N
	}

	var chRows []struct {
		ChannelType model.ChannelType
		Sent        *bool
		N           int64
	}
	if err := db.Model(&model.NotificationChannelSend{}).Select("channel_type, sent, count(*) as n").
		Group("channel_type, sent").Scan(&chRows).Error; err != nil {
		return nil, err
	}
	for _, row := range chRows {
		c := out.Channels[row.ChannelType]
		switch {
		case row.Sent == nil:
			c.Pending += row.N
		case *row.Sent:
			c.Delivered += row.N
		default:
			c.Failed += row.N
		}
		out.Channels[row.ChannelType] = c
	}
	return out, nil
}

// SweepCutoffs are the retention boundaries; a zero time skips that table.
type SweepCutoffs struct {
	Events   time.Time
	Ledger   time.Time
	Outbox   time.Time
	Channels time.Time
}

// SweepResult counts deleted rows per table.
type SweepResult struct {
	Events, Ledger, Outbox, Channels int64
}

// Sweep deletes terminal rows older than the cutoffs. Rows that can still be retried
// (PENDING events and outbox rows, channel rows with sent NULL) are never matched.
func (r *Repository) Sweep(ctx context.Context, c SweepCutoffs) (*SweepResult, error) {
	db := r.db.WithContext(ctx)
	res := &SweepResult{}
	if !c.Events.IsZero() {
		d := db.Where("(status = ? AND processed_at < ?) OR (status = ? AND created_at < ?)",
			model.EventProcessed, c.Events, model.EventFailed, c.Events).
			Delete(&model.EventOutbox{})
		if d.Error != nil {
			return res, d.Error
		}
		res.Events = d.RowsAffected
	}
	if !c.Ledger.IsZero() {
		d := db.Where("processed_at < ?", c.Ledger).Delete(&model.ProcessedEvent{})
		if d.Error != nil {
			return res, d.Error
		}
		res.Ledger = d.RowsAffected
	}
	if !c.Outbox.IsZero() {
		d := db.Where("status IN ? AND updated_at < ?",
			[]model.OutboxStatus{model.OutboxSent, model.OutboxFailed}, c.Outbox).
			Delete(&model.NotificationOutbox{})
		if d.Error != nil {
			return res, d.Error
		}
		res.Outbox = d.RowsAffected
	}
	if !c.Channels.IsZero() {
		d := db.Where("sent IS NOT NULL AND updated_at < ?", c.Channels).
			Delete(&model.NotificationChannelSend{})
		if d.Error != nil {
			return res, d.Error
		}
		res.Channels = d.RowsAffected
	}
	return res, nil
}

// EnabledChannels returns channels the user explicitly enabled.
func (r *Repository) EnabledChannels(ctx context.Context, userID uint64, ut model.RecipientType) ([]model.ChannelType, error) {
	var chans []model.ChannelType
	err := r.db.WithContext(ctx).Model(&model.NotificationPreference{}).
		Where("user_id = ? AND user_type = ? AND enabled = ?", userID, ut, true).
		Order("channel").Pluck("channel", &chans).Error
	return chans, err
}

// SetPreference upserts one channel preference.
func (r *Repository) SetPreference(ctx context.Context, p *model.NotificationPreference) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "user_type"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	}).Create(p).Error
}
