package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/logger"
	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, Migrate(db))
	return NewRepository(db, must(logger.New(logger.Options{})))
}

func must(l *zap.SugaredLogger, err error) *zap.SugaredLogger {
	if err != nil {
		panic(err)
	}
	return l
}

func event(id string) *model.EventOutbox {
	return &model.EventOutbox{EventID: id, EventType: "RESERVATION_REQUESTED", AggregateType: "RESERVATION", AggregateID: "1", Payload: []byte(`{}`)}
}

func pendingSend(t *testing.T, r *Repository) *model.NotificationChannelSend {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, r.CreateChannelSend(ctx, 1, model.ChannelEmail))
	rows, err := r.ListDueChannelSends(ctx, model.ChannelEmail, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return &rows[0]
}

func TestLease_ConcurrentLeaseHasOneWinner(t *testing.T) {
	r := newRepo(t)
	row := pendingSend(t, r)
	now := time.Now().UTC()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  int
		lost int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snapshot := *row
			err := r.LeaseChannelSend(context.Background(), &snapshot, now, now.Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrLeaseLost):
				lost++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won, "only one poller may lease a row")
	assert.Equal(t, 4, lost)

	due, err := r.ListDueChannelSends(context.Background(), model.ChannelEmail, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due, "leased row is hidden until the lease expires")
}

func TestLease_StaleAttemptCount(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	row := pendingSend(t, r)
	now := time.Now().UTC()

	require.NoError(t, r.RecordChannelFailure(ctx, row.ID, ChannelFailure{At: now, Error: "timeout", Attempts: 1}))
	err := r.LeaseChannelSend(ctx, row, now, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestChannelSend_TerminalAndRequeue(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	row := pendingSend(t, r)
	now := time.Now().UTC()

	assert.ErrorIs(t, r.CreateChannelSend(ctx, 1, model.ChannelEmail), ErrChannelSendExists)
	require.NoError(t, r.RecordChannelFailure(ctx, row.ID, ChannelFailure{At: now, Error: "bounced", Attempts: 3, Terminal: true}))
	// a late success does not resurrect a terminal row
	require.NoError(t, r.MarkChannelSent(ctx, row.ID, now))

	rows, err := r.ListChannelSends(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, rows[0].Sent)
	assert.False(t, *rows[0].Sent)
	assert.Equal(t, 3, rows[0].AttemptCount)

	require.NoError(t, r.RequeueChannelSend(ctx, row.ID))
	rows, _ = r.ListChannelSends(ctx, 1)
	assert.Nil(t, rows[0].Sent)
	assert.Zero(t, rows[0].AttemptCount)
	assert.ErrorIs(t, r.RequeueChannelSend(ctx, row.ID), ErrNotFound)
}

func TestAppendEvent_Duplicate(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	require.NoError(t, r.AppendEvent(ctx, r.DB(ctx), event("E1")))
	assert.ErrorIs(t, r.AppendEvent(ctx, r.DB(ctx), event("E1")), ErrDuplicateEvent)
}

func TestClaim_SecondClaimLost(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, r.Claim(ctx, r.DB(ctx), "E1", "admin", now))
	assert.ErrorIs(t, r.Claim(ctx, r.DB(ctx), "E1", "admin", now), ErrClaimLost)
	require.NoError(t, r.Claim(ctx, r.DB(ctx), "E1", "restaurant", now))

	names, err := r.ClaimedListeners(ctx, "E1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "restaurant"}, names)
}

func TestRecordEventFailure_FailsAtMaxRetries(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	evt := event("E1")
	require.NoError(t, r.AppendEvent(ctx, r.DB(ctx), evt))

	st, err := r.RecordEventFailure(ctx, evt.ID, "boom", 2)
	require.NoError(t, err)
	assert.Equal(t, model.EventPending, st)
	st, err = r.RecordEventFailure(ctx, evt.ID, "boom", 2)
	require.NoError(t, err)
	assert.Equal(t, model.EventFailed, st)

	stored, err := r.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, "boom", stored.ErrorMessage)
}

func TestMarkScopeRead_RestaurantScope(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	mk := func(recipient, restaurant uint64) *model.Notification {
		n := &model.Notification{
			GroupKey: "E1|restaurant", EventID: "E1", EventType: "T",
			RecipientID: recipient, RecipientType: model.RecipientRestaurant,
			ScopeID: restaurant, SharedReadScope: model.ScopeRestaurant, Title: "t",
		}
		ok, err := r.CreateNotification(ctx, r.DB(ctx), n)
		require.NoError(t, err)
		require.True(t, ok)
		return n
	}
	a, b, other := mk(1, 10), mk(2, 10), mk(3, 11)

	dup := *a
	dup.ID = 0
	ok, err := r.CreateNotification(ctx, r.DB(ctx), &dup)
	require.NoError(t, err)
	assert.False(t, ok, "one row per recipient per group")

	now := time.Now().UTC()
	n, err := r.MarkScopeRead(ctx, r.DB(ctx), a, 1, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := r.GetNotification(ctx, b.ID)
	assert.True(t, got.Read)
	require.NotNil(t, got.ReadByUserID)
	assert.Equal(t, uint64(1), *got.ReadByUserID)
	got, _ = r.GetNotification(ctx, other.ID)
	assert.False(t, got.Read)
}

func TestSweep_KeepsRetryableRows(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	done := event("DONE")
	done.CreatedAt = old
	require.NoError(t, r.AppendEvent(ctx, r.DB(ctx), done))
	require.NoError(t, r.MarkEventProcessed(ctx, done.ID, old))
	pending := event("PENDING")
	pending.CreatedAt = old
	require.NoError(t, r.AppendEvent(ctx, r.DB(ctx), pending))
	require.NoError(t, r.Claim(ctx, r.DB(ctx), "DONE", "admin", old))

	res, err := r.Sweep(ctx, SweepCutoffs{Events: time.Now().UTC().Add(-24 * time.Hour), Ledger: time.Now().UTC().Add(-24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Events)
	assert.Equal(t, int64(1), res.Ledger)

	_, err = r.GetEvent(ctx, "DONE")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetEvent(ctx, "PENDING")
	assert.NoError(t, err)
}

func TestSetPreference_Upsert(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	p := func(ch model.ChannelType, on bool) *model.NotificationPreference {
		return &model.NotificationPreference{UserID: 5, UserType: model.RecipientCustomer, Channel: ch, Enabled: on}
	}
	require.NoError(t, r.SetPreference(ctx, p(model.ChannelEmail, true)))
	require.NoError(t, r.SetPreference(ctx, p(model.ChannelSMS, true)))
	require.NoError(t, r.SetPreference(ctx, p(model.ChannelSMS, false)))

	chans, err := r.EnabledChannels(ctx, 5, model.RecipientCustomer)
	require.NoError(t, err)
	assert.Equal(t, []model.ChannelType{model.ChannelEmail}, chans)
}
