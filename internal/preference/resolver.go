package preference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/notification-outbox/internal/model"
	"go.uber.org/zap"
)

// Store is the durable preference table.
type Store interface {
	EnabledChannels(ctx context.Context, userID uint64, ut model.RecipientType) ([]model.ChannelType, error)
	SetPreference(ctx context.Context, p *model.NotificationPreference) error
}

// Resolver answers which channels a user enabled. Only an explicit enabled row counts:
// a user with no rows gets no channel deliveries. Results are cached in Redis for ttl.
type Resolver struct {
	store Store
	rdb   *redis.Client
	ttl   time.Duration
	log   *zap.SugaredLogger
}

// NewResolver builds a resolver; rdb may be nil to disable caching.
func NewResolver(store Store, rdb *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *Resolver {
	return &Resolver{store: store, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(userID uint64, ut model.RecipientType) string {
	return fmt.Sprintf("prefs:%s:%d", ut, userID)
}

// ResolveChannels returns the enabled channels of a user.
func (r *Resolver) ResolveChannels(ctx context.Context, userID uint64, ut model.RecipientType) ([]model.ChannelType, error) {
	key := cacheKey(userID, ut)
	if r.rdb != nil {
		str, err := r.rdb.Get(ctx, key).Result()
		if err == nil {
			return decode(str), nil
		}
		if !errors.Is(err, redis.Nil) {
			r.log.Warnw("preference cache read failed", "key", key, "error", err)
		}
	}

	chans, err := r.store.EnabledChannels(ctx, userID, ut)
	if err != nil {
		return nil, err
	}
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, key, encode(chans), r.ttl).Err(); err != nil {
			r.log.Warnw("preference cache write failed", "key", key, "error", err)
		}
	}
	return chans, nil
}

// Set stores a preference and drops the cached entry.
func (r *Resolver) Set(ctx context.Context, p *model.NotificationPreference) error {
	if err := r.store.SetPreference(ctx, p); err != nil {
		return err
	}
	if r.rdb != nil {
		if err := r.rdb.Del(ctx, cacheKey(p.UserID, p.UserType)).Err(); err != nil {
			r.log.Warnw("preference cache invalidation failed", "user_id", p.UserID, "error", err)
		}
	}
	return nil
}

func encode(chans []model.ChannelType) string {
	parts := make([]string, len(chans))
	for i, c := range chans {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

func decode(s string) []model.ChannelType {
	if s == "" {
		return []model.ChannelType{}
	}
	var out []model.ChannelType
	for _, p := range strings.Split(s, ",") {
		if c, err := model.ParseChannel(p); err == nil {
			out = append(out, c)
		}
	}
	return out
}
