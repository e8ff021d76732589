package sender

import (
	"context"
	"errors"

	"github.com/richardliu001/notification-outbox/internal/model"
)

// ErrUnavailable means the channel refused the attempt before it reached the provider
// (circuit open, rate limit wait cancelled). It does not count as a delivery attempt.
var ErrUnavailable = errors.New("channel unavailable")

// Message is one delivery request on one channel.
type Message struct {
	NotificationID uint64
	RecipientID    uint64
	RecipientType  model.RecipientType
	Contact        string // phone number, email address, device token, webhook url
	Title          string
	Body           string
	Properties     map[string]string
}

// Sender delivers messages on a single channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Func adapts a function to Sender.
type Func func(ctx context.Context, msg Message) error

func (f Func) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return "permanent: " + e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err or anything it wraps was marked Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// callWithContext runs a provider call and returns ctx.Err() as soon as ctx is done, even
// if the call itself ignores ctx. The call keeps running in the background until the
// provider's own timeout ends it.
func callWithContext(ctx context.Context, call func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- call() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry maps channels to their senders.
type Registry struct {
	senders map[model.ChannelType]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[model.ChannelType]Sender{}}
}

// Register binds s to ch, replacing any previous binding.
func (r *Registry) Register(ch model.ChannelType, s Sender) {
	r.senders[ch] = s
}

// Get returns the sender for ch.
func (r *Registry) Get(ch model.ChannelType) (Sender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists channels with a bound sender, in model.AllChannels order.
func (r *Registry) Channels() []model.ChannelType {
	var out []model.ChannelType
	for _, ch := range model.AllChannels {
		if _, ok := r.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
