package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_KeepsRetryableRows(t *testing.T) {
	r := OpenTestRepo(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	done := appendEvent(t, r, "done", "T", old)
	require.NoError(t, r.MarkEventProcessed(ctx, done.ID, old))
	appendEvent(t, r, "pending", "T", old)
	require.NoError(t, r.Claim(ctx, r.DB(ctx), "done", "admin", old))

	_, delivered := seedNotification(t, r, 1, model.RecipientAdmin)
	require.NoError(t, r.MarkOutboxSent(ctx, delivered.ID, old, ""))
	_, waiting := seedNotification(t, r, 2, model.RecipientAdmin)
	require.NoError(t, r.DB(ctx).Model(&model.NotificationOutbox{}).
		Where("id IN ?", []uint64{delivered.ID, waiting.ID}).UpdateColumn("updated_at", old).Error)

	s := NewSweeper(r, RetentionOptions{Events: time.Hour, Ledger: time.Hour, Outbox: time.Hour, Channels: time.Hour}, NopLogger(), nil)
	res, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Events)
	assert.Equal(t, int64(1), res.Ledger)
	assert.Equal(t, int64(1), res.Outbox)

	_, err = r.GetEvent(ctx, "pending")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), countRows(t, r, &model.NotificationOutbox{}, "id = ?", waiting.ID))
}

func TestSweeper_ZeroRetentionKeepsForever(t *testing.T) {
	r := OpenTestRepo(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	done := appendEvent(t, r, "done", "T", old)
	require.NoError(t, r.MarkEventProcessed(ctx, done.ID, old))

	res, err := NewSweeper(r, RetentionOptions{}, NopLogger(), nil).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Events)
}
