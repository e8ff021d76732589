package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEventDispatcher(t *testing.T, listeners ...Listener) (*EventDispatcher, *repo.Repository) {
	t.Helper()
	r := OpenTestRepo(t)
	reg := NewRegistry()
	for _, l := range listeners {
		require.NoError(t, reg.Register("RESERVATION_REQUESTED", l))
	}
	d := NewEventDispatcher(r, reg, EventDispatcherOptions{
		Fast:       TierOptions{Age: 10 * time.Second, BatchSize: 10},
		Slow:       TierOptions{Age: time.Minute, BatchSize: 10},
		MaxRetries: 3,
	}, NopLogger(), nil)
	return d, r
}

func TestEventDispatcher_FastAndSlowTiers(t *testing.T) {
	l := &stubListener{name: "admin", drafts: []Draft{adminDraft(1)}}
	d, r := newEventDispatcher(t, l)
	ctx := context.Background()
	now := time.Now().UTC()

	appendEvent(t, r, "fresh", "RESERVATION_REQUESTED", now)
	appendEvent(t, r, "stuck", "RESERVATION_REQUESTED", now.Add(-2*time.Minute))

	res := d.PollFresh(ctx)
	assert.Equal(t, EventResult{Processed: 1}, res)
	assert.Equal(t, model.EventProcessed, reloadEvent(t, r, "fresh").Status)
	assert.Equal(t, model.EventPending, reloadEvent(t, r, "stuck").Status)

	res = d.PollStale(ctx)
	assert.Equal(t, EventResult{Processed: 1}, res)
	stuck := reloadEvent(t, r, "stuck")
	assert.Equal(t, model.EventProcessed, stuck.Status)
	assert.NotNil(t, stuck.PublishedAt)
	assert.NotNil(t, stuck.ProcessedAt)

	assert.Equal(t, int64(2), countRows(t, r, &model.Notification{}))
	assert.Equal(t, int64(2), countRows(t, r, &model.NotificationOutbox{}))
	assert.Equal(t, 2, l.Calls())
}

func TestEventDispatcher_ListenerIsolation(t *testing.T) {
	good := &stubListener{name: "admin", drafts: []Draft{adminDraft(1)}}
	bad := &stubListener{name: "restaurant", err: errListener}
	d, r := newEventDispatcher(t, good, bad)
	ctx := context.Background()

	evt := appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())
	assert.Equal(t, model.EventPending, d.Dispatch(ctx, evt, TierFast))

	evt = reloadEvent(t, r, "evt-1")
	assert.Equal(t, 1, evt.RetryCount)
	assert.Contains(t, evt.ErrorMessage, "restaurant: listener down")
	claimed, err := r.ClaimedListeners(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, claimed)
	assert.Equal(t, int64(1), countRows(t, r, &model.Notification{}))

	bad.setErr(nil)
	assert.Equal(t, model.EventProcessed, d.Dispatch(ctx, evt, TierSlow))
	assert.Equal(t, 1, good.Calls())
	assert.Equal(t, 2, bad.Calls())
	assert.Equal(t, int64(1), countRows(t, r, &model.Notification{}))
}

func TestEventDispatcher_FailsAfterMaxRetries(t *testing.T) {
	bad := &stubListener{name: "restaurant", err: errListener}
	d, r := newEventDispatcher(t, bad)
	ctx := context.Background()
	appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())

	var statuses []model.EventStatus
	for i := 0; i < 3; i++ {
		statuses = append(statuses, d.Dispatch(ctx, reloadEvent(t, r, "evt-1"), TierFast))
	}
	assert.Equal(t, []model.EventStatus{model.EventPending, model.EventPending, model.EventFailed}, statuses)

	evt := reloadEvent(t, r, "evt-1")
	assert.Equal(t, model.EventFailed, evt.Status)
	assert.Equal(t, 3, evt.RetryCount)
	assert.Equal(t, EventResult{}, d.PollFresh(ctx))
	assert.Equal(t, 3, bad.Calls())
}

func TestEventDispatcher_ConcurrentDispatchClaimsOnce(t *testing.T) {
	l := &stubListener{name: "admin", drafts: []Draft{adminDraft(1), adminDraft(2)}}
	d, r := newEventDispatcher(t, l)
	ctx := context.Background()
	evt := appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := *evt
			d.Dispatch(ctx, &cp, TierFast)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, l.Calls())
	assert.Equal(t, int64(2), countRows(t, r, &model.Notification{}))
	assert.Equal(t, int64(2), countRows(t, r, &model.NotificationOutbox{}))
	assert.Equal(t, int64(1), countRows(t, r, &model.ProcessedEvent{}))
	assert.Equal(t, model.EventProcessed, reloadEvent(t, r, "evt-1").Status)
}

func TestEventDispatcher_NoListenersMarksProcessed(t *testing.T) {
	d, r := newEventDispatcher(t)
	evt := appendEvent(t, r, "evt-1", "UNKNOWN_TYPE", time.Now().UTC())
	assert.Equal(t, model.EventProcessed, d.Dispatch(context.Background(), evt, TierFast))
}

func TestEventDispatcher_PanicIsAFailure(t *testing.T) {
	l := &stubListener{name: "admin", panics: true}
	d, r := newEventDispatcher(t, l)
	evt := appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())

	assert.Equal(t, model.EventPending, d.Dispatch(context.Background(), evt, TierFast))
	assert.Contains(t, reloadEvent(t, r, "evt-1").ErrorMessage, "listener panic: boom")
	assert.Equal(t, int64(0), countRows(t, r, &model.ProcessedEvent{}))
}

func TestEventDispatcher_InvalidScopeRollsBackClaim(t *testing.T) {
	draft := adminDraft(1)
	draft.SharedReadScope = model.ScopeRestaurant
	l := &stubListener{name: "admin", drafts: []Draft{adminDraft(2), draft}}
	d, r := newEventDispatcher(t, l)
	evt := appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())

	assert.Equal(t, model.EventPending, d.Dispatch(context.Background(), evt, TierFast))
	assert.Equal(t, int64(0), countRows(t, r, &model.ProcessedEvent{}))
	assert.Equal(t, int64(0), countRows(t, r, &model.Notification{}))
	assert.Equal(t, int64(0), countRows(t, r, &model.NotificationOutbox{}))
}

func TestEventDispatcher_GroupKeyPerListener(t *testing.T) {
	a := &stubListener{name: "admin", drafts: []Draft{adminDraft(1)}}
	b := &stubListener{name: "audit", drafts: []Draft{adminDraft(1)}}
	d, r := newEventDispatcher(t, a, b)
	evt := appendEvent(t, r, "evt-1", "RESERVATION_REQUESTED", time.Now().UTC())

	require.Equal(t, model.EventProcessed, d.Dispatch(context.Background(), evt, TierFast))
	var keys []string
	require.NoError(t, r.DB(context.Background()).Model(&model.Notification{}).
		Order("group_key").Pluck("group_key", &keys).Error)
	assert.Equal(t, []string{"evt-1|admin", "evt-1|audit"}, keys)
}
