package pipeline

import (
	"context"
	"time"

	"github.com/richardliu001/notification-outbox/internal/metrics"
	"github.com/richardliu001/notification-outbox/internal/repo"
	"go.uber.org/zap"
)

// RetentionOptions are how long terminal rows are kept; zero keeps forever.
type RetentionOptions struct {
	Events   time.Duration
	Ledger   time.Duration
	Outbox   time.Duration
	Channels time.Duration
}

// Sweeper deletes terminal rows past their retention.
type Sweeper struct {
	repo    repo.RepositoryInterface
	opts    RetentionOptions
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewSweeper(r repo.RepositoryInterface, opts RetentionOptions, log *zap.SugaredLogger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{repo: r, opts: opts, log: log, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

func cutoff(now time.Time, keep time.Duration) time.Time {
	if keep <= 0 {
		return time.Time{}
	}
	return now.Add(-keep)
}

// SweepOnce runs one retention pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (*repo.SweepResult, error) {
	now := s.now()
	res, err := s.repo.Sweep(ctx, repo.SweepCutoffs{
		Events:   cutoff(now, s.opts.Events),
		Ledger:   cutoff(now, s.opts.Ledger),
		Outbox:   cutoff(now, s.opts.Outbox),
		Channels: cutoff(now, s.opts.Channels),
	})
	if res != nil {
		s.metrics.Sweep("event_outbox", res.Events)
		s.metrics.Sweep("processed_event", res.Ledger)
		s.metrics.Sweep("notification_outbox", res.Outbox)
		s.metrics.Sweep("notification_channel_send", res.Channels)
	}
	if err != nil {
		s.log.Errorw("retention sweep failed", "error", err)
		return res, err
	}
	s.log.Infow("retention sweep done", "events", res.Events, "ledger", res.Ledger, "outbox", res.Outbox, "channels", res.Channels)
	return res, nil
}
