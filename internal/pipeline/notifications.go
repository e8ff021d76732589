package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/notification-outbox/internal/metrics"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"go.uber.org/zap"
)

// ChannelResolver returns the channels a user enabled.
type ChannelResolver interface {
	ResolveChannels(ctx context.Context, userID uint64, ut model.RecipientType) ([]model.ChannelType, error)
}

// NotificationDispatcherOptions configure the level 2 poller.
type NotificationDispatcherOptions struct {
	BatchSize  int
	MaxRetries int
	// Channels limits explosion to channels that have a running sender poller.
	Channels []model.ChannelType
}

// NotificationResult counts one cycle's outcomes.
type NotificationResult struct {
	Sent     int
	Retrying int
	Failed   int
}

const noChannelsNote = "no enabled channels"

// NotificationDispatcher explodes each PENDING outbox row into one channel send per
// enabled channel of the recipient.
type NotificationDispatcher struct {
	repo     repo.RepositoryInterface
	channels ChannelResolver
	opts     NotificationDispatcherOptions
	allowed  map[model.ChannelType]bool
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewNotificationDispatcher(r repo.RepositoryInterface, channels ChannelResolver, opts NotificationDispatcherOptions, log *zap.SugaredLogger, m *metrics.Metrics) *NotificationDispatcher {
	allowed := make(map[model.ChannelType]bool, len(opts.Channels))
	for _, ch := range opts.Channels {
		allowed[ch] = true
	}
	return &NotificationDispatcher{
		repo:     r,
		channels: channels,
		opts:     opts,
		allowed:  allowed,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PollOnce processes one batch of PENDING outbox rows.
func (d *NotificationDispatcher) PollOnce(ctx context.Context) NotificationResult {
	start := time.Now()
	defer d.metrics.ObserveCycle("notifications", start)

	var res NotificationResult
	rows, err := d.repo.ListPendingOutbox(ctx, d.opts.BatchSize)
	if err != nil {
		d.log.Errorw("list pending outbox failed", "error", err)
		return res
	}
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		row := &rows[i]
		log := d.log.With("outbox_id", row.ID, "notification_id", row.NotificationID)

		created, err := d.explode(ctx, row)
		if err == nil {
			note := ""
			if created == 0 {
				note = noChannelsNote
			}
			if err := d.repo.MarkOutboxSent(ctx, row.ID, d.now(), note); err != nil {
				log.Errorw("mark outbox sent failed", "error", err)
				res.Retrying++
				continue
			}
			log.Infow("notification exploded", "channels", created)
			d.metrics.Explosion("sent")
			res.Sent++
			continue
		}

		status, ferr := d.repo.RecordOutboxFailure(ctx, row.ID, err.Error(), d.opts.MaxRetries)
		if ferr != nil {
			log.Errorw("record outbox failure failed", "error", ferr)
			res.Retrying++
			continue
		}
		if status == model.OutboxFailed {
			log.Errorw("notification explosion failed permanently", "error", err)
			d.metrics.Explosion("failed")
			res.Failed++
		} else {
			log.Warnw("notification explosion failed", "error", err)
			d.metrics.Explosion("retry")
			res.Retrying++
		}
	}
	return res
}

// explode creates the channel rows of one outbox row and returns how many channels it
// covers. Rows already present count as done, so a retry after a partial failure
// completes the remaining channels only.
func (d *NotificationDispatcher) explode(ctx context.Context, row *model.NotificationOutbox) (int, error) {
	n, err := d.repo.GetNotification(ctx, row.NotificationID)
	if err != nil {
		return 0, fmt.Errorf("load notification: %w", err)
	}
	if n.RecipientType != row.NotificationType {
		return 0, fmt.Errorf("recipient type mismatch: outbox %s, notification %s", row.NotificationType, n.RecipientType)
	}
	chans, err := d.channels.ResolveChannels(ctx, n.RecipientID, n.RecipientType)
	if err != nil {
		return 0, fmt.Errorf("resolve channels: %w", err)
	}
	count := 0
	for _, ch := range chans {
		if len(d.allowed) > 0 && !d.allowed[ch] {
			continue
		}
		err := d.repo.CreateChannelSend(ctx, n.ID, ch)
		if err != nil && !errors.Is(err, repo.ErrChannelSendExists) {
			return 0, fmt.Errorf("create %s send: %w", ch, err)
		}
		count++
	}
	return count, nil
}
