package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTestRepo opens a private in-memory database with every table migrated. One
// connection serialises concurrent transactions the way row locks would in postgres.
func OpenTestRepo(t *testing.T) *repo.Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))
	return repo.NewRepository(db, zap.NewNop().Sugar())
}

// NopLogger discards everything.
func NopLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func appendEvent(t *testing.T, r *repo.Repository, eventID, eventType string, createdAt time.Time) *model.EventOutbox {
	t.Helper()
	evt := &model.EventOutbox{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: "RESERVATION",
		AggregateID:   "1",
		Payload:       []byte(`{"reservationId":1}`),
		CreatedAt:     createdAt,
	}
	require.NoError(t, r.AppendEvent(context.Background(), r.DB(context.Background()), evt))
	return evt
}

func reloadEvent(t *testing.T, r *repo.Repository, eventID string) *model.EventOutbox {
	t.Helper()
	evt, err := r.GetEvent(context.Background(), eventID)
	require.NoError(t, err)
	return evt
}

type stubListener struct {
	name   string
	calls  int32
	mu     sync.Mutex
	err    error
	panics bool
	drafts []Draft
}

func (s *stubListener) Name() string { return s.name }

func (s *stubListener) Handle(context.Context, *model.EventOutbox) ([]Draft, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts, s.err
}

func (s *stubListener) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *stubListener) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

func adminDraft(id uint64) Draft {
	return Draft{
		Recipient:       model.Recipient{ID: id, Type: model.RecipientAdmin},
		SharedReadScope: model.ScopeNone,
		Title:           "New reservation request",
		Body:            "Table for 4",
		Properties:      map[string]string{"reservationId": "1"},
	}
}

var errListener = errors.New("listener down")

func countRows(t *testing.T, r *repo.Repository, v interface{}, where ...interface{}) int64 {
	t.Helper()
	q := r.DB(context.Background()).Model(v)
	if len(where) > 0 {
		q = q.Where(where[0], where[1:]...)
	}
	var n int64
	require.NoError(t, q.Count(&n).Error)
	return n
}

// seedNotification stores a recipient row and its level 2 outbox row.
func seedNotification(t *testing.T, r *repo.Repository, recipientID uint64, rt model.RecipientType) (*model.Notification, *model.NotificationOutbox) {
	t.Helper()
	ctx := context.Background()
	n := &model.Notification{
		GroupKey:      model.GroupKeyFor(fmt.Sprintf("evt-%d-%s", recipientID, rt), "test"),
		EventID:       fmt.Sprintf("evt-%d-%s", recipientID, rt),
		EventType:     "TEST",
		RecipientID:   recipientID,
		RecipientType: rt,
		Title:         "Hello",
		Body:          "World",
		Properties:    []byte(`{"k":"v"}`),
	}
	ok, err := r.CreateNotification(ctx, r.DB(ctx), n)
	require.NoError(t, err)
	require.True(t, ok)
	row := &model.NotificationOutbox{
		NotificationID:   n.ID,
		NotificationType: rt,
		AggregateType:    "RESERVATION",
		AggregateID:      "1",
		EventType:        "TEST",
		Payload:          []byte(`{}`),
	}
	require.NoError(t, r.CreateNotificationOutbox(ctx, r.DB(ctx), row))
	return n, row
}
