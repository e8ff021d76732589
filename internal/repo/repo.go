package repo

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/notification-outbox/internal/model"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrDuplicateEvent is returned when an event id is already recorded.
	ErrDuplicateEvent = errors.New("event already recorded")
	// ErrClaimLost is returned when another worker already claimed (event, listener).
	ErrClaimLost = errors.New("event already claimed by listener")
	// ErrChannelSendExists is returned when the (notification, channel) row already exists.
	ErrChannelSendExists = errors.New("channel send already exists")
	// ErrLeaseLost is returned when another poller owns the channel row for this cycle.
	ErrLeaseLost = errors.New("channel send lease lost")
	// ErrNotFound wraps gorm.ErrRecordNotFound for callers outside this package.
	ErrNotFound = errors.New("not found")
)

// RepositoryInterface restricts Repo methods (mockable in pollers and services).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	AppendEvent(ctx context.Context, tx *gorm.DB, evt *model.EventOutbox) error
	GetEvent(ctx context.Context, eventID string) (*model.EventOutbox, error)
	ListFreshEvents(ctx context.Context, since time.Time, limit int) ([]model.EventOutbox, error)
	ListStaleEvents(ctx context.Context, before time.Time, limit int) ([]model.EventOutbox, error)
	MarkEventPublished(ctx context.Context, id uint64, at time.Time) error
	MarkEventProcessed(ctx context.Context, id uint64, at time.Time) error
	RecordEventFailure(ctx context.Context, id uint64, msg string, maxRetries int) (model.EventStatus, error)
	RequeueEvent(ctx context.Context, eventID string) error

	Claim(ctx context.Context, tx *gorm.DB, eventID, listener string, at time.Time) error
	ClaimedListeners(ctx context.Context, eventID string) ([]string, error)

	CreateNotification(ctx context.Context, tx *gorm.DB, n *model.Notification) (bool, error)
	CreateNotificationOutbox(ctx context.Context, tx *gorm.DB, row *model.NotificationOutbox) error
	GetNotification(ctx context.Context, id uint64) (*model.Notification, error)
	ListNotifications(ctx context.Context, recipientID uint64, rt model.RecipientType, unreadOnly bool, limit, offset int) ([]model.Notification, int64, error)

	ListPendingOutbox(ctx context.Context, limit int) ([]model.NotificationOutbox, error)
	MarkOutboxSent(ctx context.Context, id uint64, at time.Time, note string) error
	RecordOutboxFailure(ctx context.Context, id uint64, msg string, maxRetries int) (model.OutboxStatus, error)

	CreateChannelSend(ctx context.Context, notificationID uint64, channel model.ChannelType) error
	ListChannelSends(ctx context.Context, notificationID uint64) ([]model.NotificationChannelSend, error)
	ListDueChannelSends(ctx context.Context, channel model.ChannelType, now time.Time, limit int) ([]model.NotificationChannelSend, error)
	LeaseChannelSend(ctx context.Context, row *model.NotificationChannelSend, now, until time.Time) error
	MarkChannelSent(ctx context.Context, id uint64, at time.Time) error
	RecordChannelFailure(ctx context.Context, id uint64, f ChannelFailure) error
	RequeueChannelSend(ctx context.Context, id uint64) error

	LockGroupHead(ctx context.Context, tx *gorm.DB, groupKey string) (*model.Notification, error)
	MarkNotificationRead(ctx context.Context, tx *gorm.DB, id, actorID uint64, at time.Time) (bool, error)
	MarkScopeRead(ctx context.Context, tx *gorm.DB, n *model.Notification, actorID uint64, at time.Time) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uint64, rt model.RecipientType, at time.Time) (int64, error)
	FindScopeAction(ctx context.Context, tx *gorm.DB, n *model.Notification) (*model.NotificationAction, error)
	CreateAction(ctx context.Context, tx *gorm.DB, a *model.NotificationAction) error

	EnabledChannels(ctx context.Context, userID uint64, ut model.RecipientType) ([]model.ChannelType, error)
	SetPreference(ctx context.Context, p *model.NotificationPreference) error

	Stats(ctx context.Context) (*PipelineStats, error)
	Sweep(ctx context.Context, c SweepCutoffs) (*SweepResult, error)
}

// Repository implements RepositoryInterface on gorm.
type Repository struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, log: logger}
}

// Open connects to postgres with duplicate-key errors translated to gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
}

// Migrate creates or updates all pipeline tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(model.All()...)
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// insertOnce inserts v unless it collides with a unique index. It reports whether a row was
// written. A collision never aborts the surrounding transaction.
func insertOnce(ctx context.Context, tx *gorm.DB, v interface{}) (bool, error) {
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(v)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
