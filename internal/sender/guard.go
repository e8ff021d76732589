package sender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// GuardOptions configure Guard. Zero RPS disables rate limiting, zero Failures disables the breaker.
type GuardOptions struct {
	RPS      float64
	Burst    int
	Failures uint32
	Open     time.Duration
}

// Guard wraps a provider sender with a rate limiter and a circuit breaker.
// Permanent errors are the recipient's fault and never trip the breaker.
type Guard struct {
	name    string
	next    Sender
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuard builds a guard named after its channel.
func NewGuard(name string, next Sender, opts GuardOptions, log *zap.SugaredLogger) *Guard {
	g := &Guard{name: name, next: next}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if opts.Failures > 0 {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sender-" + name,
			Timeout: opts.Open,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.Failures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || IsPermanent(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if log != nil {
					log.Warnw("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
				}
			},
		})
	}
	return g
}

// Send waits for a rate token, then calls the provider through the breaker.
func (g *Guard) Send(ctx context.Context, msg Message) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s rate limit: %v", ErrUnavailable, g.name, err)
		}
	}
	if g.breaker == nil {
		return g.next.Send(ctx, msg)
	}
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, g.name, err)
	}
	return err
}

// State reports the breaker state, "closed" when no breaker is configured.
func (g *Guard) State() string {
	if g.breaker == nil {
		return gobreaker.StateClosed.String()
	}
	return g.breaker.State().String()
}
