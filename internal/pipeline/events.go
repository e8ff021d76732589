package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richardliu001/notification-outbox/internal/metrics"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tier names the two event poller cadences.
type Tier string

const (
	TierFast Tier = "FAST"
	TierSlow Tier = "SLOW"
)

// TierOptions configure one event poller tier.
type TierOptions struct {
	Age       time.Duration // fresh window for FAST, stuck cutoff for SLOW
	BatchSize int
}

// EventDispatcherOptions configure both tiers and the retry ceiling.
type EventDispatcherOptions struct {
	Fast       TierOptions
	Slow       TierOptions
	MaxRetries int
}

// EventResult counts one cycle's outcomes.
type EventResult struct {
	Processed int
	Retrying  int
	Failed    int
}

// EventDispatcher hands PENDING events to their listeners. Each listener runs in its own
// transaction that holds its dedup claim and the notifications it produced, so a listener
// either completes fully once or not at all.
type EventDispatcher struct {
	repo     repo.RepositoryInterface
	registry *Registry
	opts     EventDispatcherOptions
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewEventDispatcher(r repo.RepositoryInterface, reg *Registry, opts EventDispatcherOptions, log *zap.SugaredLogger, m *metrics.Metrics) *EventDispatcher {
	return &EventDispatcher{
		repo:     r,
		registry: reg,
		opts:     opts,
		log:      log,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PollFresh processes PENDING events created within the fast window.
func (d *EventDispatcher) PollFresh(ctx context.Context) EventResult {
	start := time.Now()
	defer d.metrics.ObserveCycle("events_fast", start)
	since := d.now().Add(-d.opts.Fast.Age)
	evts, err := d.repo.ListFreshEvents(ctx, since, d.opts.Fast.BatchSize)
	if err != nil {
		d.log.Errorw("list fresh events failed", "error", err)
		return EventResult{}
	}
	return d.dispatchAll(ctx, evts, TierFast)
}

// PollStale processes PENDING events older than the slow cutoff, the events the fast
// tier missed or failed on.
func (d *EventDispatcher) PollStale(ctx context.Context) EventResult {
	start := time.Now()
	defer d.metrics.ObserveCycle("events_slow", start)
	before := d.now().Add(-d.opts.Slow.Age)
	evts, err := d.repo.ListStaleEvents(ctx, before, d.opts.Slow.BatchSize)
	if err != nil {
		d.log.Errorw("list stale events failed", "error", err)
		return EventResult{}
	}
	if len(evts) > 0 {
		d.log.Infow("recovering stuck events", "count", len(evts))
	}
	return d.dispatchAll(ctx, evts, TierSlow)
}

func (d *EventDispatcher) dispatchAll(ctx context.Context, evts []model.EventOutbox, tier Tier) EventResult {
	var res EventResult
	for i := range evts {
		if ctx.Err() != nil {
			break
		}
		switch d.Dispatch(ctx, &evts[i], tier) {
		case model.EventProcessed:
			res.Processed++
		case model.EventFailed:
			res.Failed++
		default:
			res.Retrying++
		}
	}
	return res
}

// Dispatch runs every listener that has not yet completed evt and returns the event's
// resulting status. Both tiers share this path.
func (d *EventDispatcher) Dispatch(ctx context.Context, evt *model.EventOutbox, tier Tier) model.EventStatus {
	log := d.log.With("event_id", evt.EventID, "event_type", evt.EventType, "poller", string(tier))

	if err := d.repo.MarkEventPublished(ctx, evt.ID, d.now()); err != nil {
		log.Warnw("mark published failed", "error", err)
	}

	listeners := d.registry.For(evt.EventType)
	if len(listeners) == 0 {
		log.Warnw("no listener registered for event type")
	}

	done, err := d.repo.ClaimedListeners(ctx, evt.EventID)
	if err != nil {
		return d.fail(ctx, evt, tier, log, fmt.Sprintf("load ledger: %v", err))
	}
	completed := make(map[string]bool, len(done))
	for _, name := range done {
		completed[name] = true
	}

	var failures []string
	for _, l := range listeners {
		if completed[l.Name()] {
			continue
		}
		created, err := d.runListener(ctx, l, evt)
		switch {
		case err == nil:
			log.Infow("listener completed", "listener", l.Name(), "notifications", created)
		case errors.Is(err, repo.ErrClaimLost):
			log.Debugw("listener already claimed by another worker", "listener", l.Name())
		default:
			log.Errorw("listener failed", "listener", l.Name(), "error", err)
			failures = append(failures, l.Name()+": "+err.Error())
		}
	}

	if len(failures) > 0 {
		return d.fail(ctx, evt, tier, log, strings.Join(failures, "; "))
	}
	if err := d.repo.MarkEventProcessed(ctx, evt.ID, d.now()); err != nil {
		log.Errorw("mark processed failed", "error", err)
		return model.EventPending
	}
	d.metrics.Event(string(tier), "processed")
	return model.EventProcessed
}

func (d *EventDispatcher) fail(ctx context.Context, evt *model.EventOutbox, tier Tier, log *zap.SugaredLogger, msg string) model.EventStatus {
	status, err := d.repo.RecordEventFailure(ctx, evt.ID, msg, d.opts.MaxRetries)
	if err != nil {
		log.Errorw("record event failure failed", "error", err)
		return model.EventPending
	}
	if status == model.EventFailed {
		log.Errorw("event failed permanently", "retries", evt.RetryCount+1, "error", msg)
		d.metrics.Event(string(tier), "failed")
	} else {
		d.metrics.Event(string(tier), "retry")
	}
	return status
}

// runListener claims (event, listener) and writes the listener's notifications and
// level 2 outbox rows in one transaction. It returns how many recipients were created.
func (d *EventDispatcher) runListener(ctx context.Context, l Listener, evt *model.EventOutbox) (created int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panic: %v", p)
		}
	}()

	name := l.Name()
	groupKey := model.GroupKeyFor(evt.EventID, name)
	err = d.repo.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if err := d.repo.Claim(ctx, tx, evt.EventID, name, d.now()); err != nil {
			return err
		}
		drafts, err := l.Handle(ctx, evt)
		if err != nil {
			return err
		}
		created = 0
		for _, dr := range drafts {
			n, err := notificationFromDraft(evt, groupKey, dr)
			if err != nil {
				return err
			}
			ok, err := d.repo.CreateNotification(ctx, tx, n)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := d.repo.CreateNotificationOutbox(ctx, tx, &model.NotificationOutbox{
				NotificationID:   n.ID,
				NotificationType: n.RecipientType,
				AggregateType:    evt.AggregateType,
				AggregateID:      evt.AggregateID,
				EventType:        evt.EventType,
				Payload:          evt.Payload,
				CreatedAt:        d.now(),
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	return created, err
}

func notificationFromDraft(evt *model.EventOutbox, groupKey string, dr Draft) (*model.Notification, error) {
	scope := dr.SharedReadScope
	if scope == "" {
		scope = model.ScopeNone
	}
	if !scope.Valid() || !scope.SupportedBy(dr.Recipient.Type) {
		return nil, fmt.Errorf("scope %s not allowed for %s", scope, dr.Recipient.Type)
	}
	if dr.Recipient.ID == 0 {
		return nil, errors.New("draft without recipient id")
	}
	var props datatypes.JSON
	if len(dr.Properties) > 0 {
		b, err := json.Marshal(dr.Properties)
		if err != nil {
			return nil, err
		}
		props = b
	}
	return &model.Notification{
		GroupKey:        groupKey,
		EventID:         evt.EventID,
		EventType:       evt.EventType,
		RecipientID:     dr.Recipient.ID,
		RecipientType:   dr.Recipient.Type,
		ScopeID:         dr.Recipient.ScopeID,
		HubID:           dr.Recipient.HubID,
		SharedReadScope: scope,
		Title:           dr.Title,
		Body:            dr.Body,
		Properties:      props,
	}, nil
}
