package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richardliu001/notification-outbox/internal/metrics"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/richardliu001/notification-outbox/internal/sender"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ContactResolver returns a user's address on a channel.
type ContactResolver interface {
	Contact(ctx context.Context, userID uint64, ut model.RecipientType, ch model.ChannelType) (string, error)
}

// ChannelPollerOptions configure one channel's delivery poller.
type ChannelPollerOptions struct {
	BatchSize      int
	MaxRetries     int
	Workers        int
	AttemptTimeout time.Duration
	Backoff        Backoff
}

// ChannelResult counts one cycle's outcomes.
type ChannelResult struct {
	Delivered int
	Retrying  int
	Failed    int
	Skipped   int
}

// ChannelPoller delivers pending sends of one channel. Each row is leased before the
// provider call, so concurrent pollers never double-send the same row in a cycle.
type ChannelPoller struct {
	channel  model.ChannelType
	repo     repo.RepositoryInterface
	sender   sender.Sender
	contacts ContactResolver
	opts     ChannelPollerOptions
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewChannelPoller builds a poller; contacts may be nil for channels that address users
// by id, such as WEBSOCKET.
func NewChannelPoller(ch model.ChannelType, r repo.RepositoryInterface, s sender.Sender, contacts ContactResolver, opts ChannelPollerOptions, log *zap.SugaredLogger, m *metrics.Metrics) *ChannelPoller {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &ChannelPoller{
		channel:  ch,
		repo:     r,
		sender:   s,
		contacts: contacts,
		opts:     opts,
		log:      log.With("channel", string(ch)),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Channel is the channel this poller serves.
func (p *ChannelPoller) Channel() model.ChannelType { return p.channel }

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRetrying
	outcomeFailed
	outcomeSkipped
)

// PollOnce attempts every due row of the channel once, on a bounded worker pool.
func (p *ChannelPoller) PollOnce(ctx context.Context) ChannelResult {
	start := time.Now()
	defer p.metrics.ObserveCycle("channel_"+string(p.channel), start)

	var res ChannelResult
	rows, err := p.repo.ListDueChannelSends(ctx, p.channel, p.now(), p.opts.BatchSize)
	if err != nil {
		p.log.Errorw("list due channel sends failed", "error", err)
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i := range rows {
		if ctx.Err() != nil {
			break
		}
		row := &rows[i]
		g.Go(func() error {
			o := p.attempt(ctx, row)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeDelivered:
				res.Delivered++
			case outcomeRetrying:
				res.Retrying++
			case outcomeFailed:
				res.Failed++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func (p *ChannelPoller) attempt(ctx context.Context, row *model.NotificationChannelSend) outcome {
	log := p.log.With("send_id", row.ID, "notification_id", row.NotificationID, "attempt", row.AttemptCount+1)

	now := p.now()
	if err := p.repo.LeaseChannelSend(ctx, row, now, now.Add(2*p.opts.AttemptTimeout)); err != nil {
		if !errors.Is(err, repo.ErrLeaseLost) {
			log.Errorw("lease channel send failed", "error", err)
		}
		return outcomeSkipped
	}

	err := p.deliver(ctx, row)
	at := p.now()
	if err == nil {
		if err := p.repo.MarkChannelSent(ctx, row.ID, at); err != nil {
			log.Errorw("mark channel sent failed", "error", err)
			return outcomeSkipped
		}
		log.Infow("notification delivered")
		p.metrics.Delivery(string(p.channel), "sent")
		return outcomeDelivered
	}

	if errors.Is(err, sender.ErrUnavailable) {
		// no provider call happened; the lease expiry delays the next try
		log.Warnw("channel unavailable", "error", err)
		p.metrics.Delivery(string(p.channel), "unavailable")
		return outcomeSkipped
	}

	attempts := row.AttemptCount + 1
	f := repo.ChannelFailure{At: at, Error: err.Error(), Attempts: attempts}
	if sender.IsPermanent(err) || attempts >= p.opts.MaxRetries {
		f.Terminal = true
	} else {
		next := at.Add(p.opts.Backoff.Delay(attempts))
		f.Next = &next
	}
	if rerr := p.repo.RecordChannelFailure(ctx, row.ID, f); rerr != nil {
		log.Errorw("record channel failure failed", "error", rerr)
		return outcomeSkipped
	}
	if f.Terminal {
		log.Errorw("delivery failed permanently", "error", err)
		p.metrics.Delivery(string(p.channel), "failed")
		return outcomeFailed
	}
	log.Warnw("delivery failed, will retry", "error", err, "next_attempt_at", f.Next)
	p.metrics.Delivery(string(p.channel), "retry")
	return outcomeRetrying
}

// deliver runs one attempt. The lookups and the provider call share one AttemptTimeout
// deadline, so an attempt always ends well inside its lease.
func (p *ChannelPoller) deliver(ctx context.Context, row *model.NotificationChannelSend) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, p.opts.AttemptTimeout)
	defer cancel()

	n, err := p.repo.GetNotification(ctx, row.NotificationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return sender.Permanent(err)
		}
		return err
	}
	msg := sender.Message{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		RecipientType:  n.RecipientType,
		Title:          n.Title,
		Body:           n.Body,
	}
	if len(n.Properties) > 0 {
		if err := json.Unmarshal(n.Properties, &msg.Properties); err != nil {
			return sender.Permanent(fmt.Errorf("decode properties: %w", err))
		}
	}
	if p.contacts != nil {
		contact, err := p.contacts.Contact(ctx, n.RecipientID, n.RecipientType, p.channel)
		if err != nil {
			if errors.Is(err, model.ErrUnknownRecipient) || errors.Is(err, model.ErrNoContact) {
				return sender.Permanent(err)
			}
			return fmt.Errorf("resolve contact: %w", err)
		}
		msg.Contact = contact
	}

	return p.sender.Send(ctx, msg)
}
