package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner owns one ticker loop. It runs Task once on start and then every Interval until
// the context passed to Run is cancelled. A panicking task is logged and the loop goes on.
type Runner struct {
	Name     string
	Interval time.Duration
	Task     func(ctx context.Context)
	Log      *zap.SugaredLogger
}

// Run blocks until ctx is done. The in-flight task always completes before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		return fmt.Errorf("runner %s: interval must be positive", r.Name)
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Log.Infow("poller started", "poller", r.Name, "interval", r.Interval.String())
	defer r.Log.Infow("poller stopped", "poller", r.Name)

	r.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	defer func() {
		if p := recover(); p != nil {
			r.Log.Errorw("poller cycle panicked", "poller", r.Name, "panic", fmt.Sprint(p))
		}
	}()
	r.Task(ctx)
}

// Group runs a set of runners for the lifetime of a process.
type Group struct {
	runners []*Runner
}

// Add registers a runner; call before Run.
func (g *Group) Add(r *Runner) { g.runners = append(g.runners, r) }

// Len reports how many runners are registered.
func (g *Group) Len() int { return len(g.runners) }

// Run starts every runner and waits for all of them to stop.
func (g *Group) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, r := range g.runners {
		r := r
		eg.Go(func() error { return r.Run(ctx) })
	}
	return eg.Wait()
}
