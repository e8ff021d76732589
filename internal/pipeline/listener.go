package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/richardliu001/notification-outbox/internal/model"
)

// Wildcard registers a listener for every event type.
const Wildcard = "*"

// ErrListenerExists is returned when a listener name is registered twice for one event type.
var ErrListenerExists = errors.New("listener already registered")

// Draft is one recipient notification a listener wants created.
type Draft struct {
	Recipient       model.Recipient
	SharedReadScope model.SharedReadScope
	Title           string
	Body            string
	Properties      map[string]string
}

// Listener reacts to one event. Name is the dedup ledger key and must be stable across
// deploys. Handle runs inside the claim transaction; returning an error rolls back the
// claim and every draft so the event is retried for this listener only.
type Listener interface {
	Name() string
	Handle(ctx context.Context, evt *model.EventOutbox) ([]Draft, error)
}

// Registry maps event types to listeners.
type Registry struct {
	mu     sync.RWMutex
	byType map[string][]Listener
}

func NewRegistry() *Registry {
	return &Registry{byType: map[string][]Listener{}}
}

// Register adds l for eventType, or for all types when eventType is Wildcard.
func (r *Registry) Register(eventType string, l Listener) error {
	name := l.Name()
	if name == "" {
		return errors.New("listener name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	clash := func(ls []Listener) bool {
		for _, existing := range ls {
			if existing.Name() == name {
				return true
			}
		}
		return false
	}
	if eventType == Wildcard {
		for _, ls := range r.byType {
			if clash(ls) {
				return fmt.Errorf("%w: %s", ErrListenerExists, name)
			}
		}
	} else if clash(r.byType[eventType]) || clash(r.byType[Wildcard]) {
		return fmt.Errorf("%w: %s for %s", ErrListenerExists, name, eventType)
	}
	r.byType[eventType] = append(r.byType[eventType], l)
	return nil
}

// For returns the listeners for eventType followed by wildcard listeners.
func (r *Registry) For(eventType string) []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Listener, 0, len(r.byType[eventType])+len(r.byType[Wildcard]))
	out = append(out, r.byType[eventType]...)
	if eventType != Wildcard {
		out = append(out, r.byType[Wildcard]...)
	}
	return out
}

// EventTypes lists event types with at least one specific listener.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for t := range r.byType {
		if t != Wildcard {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// RecipientFunc resolves who a listener notifies.
type RecipientFunc func(ctx context.Context, evt *model.EventOutbox) ([]model.Recipient, error)

// RenderFunc builds the title, body and properties for one event.
type RenderFunc func(evt *model.EventOutbox) (title, body string, props map[string]string, err error)

// RecipientListener is the common shape: resolve recipients, render once, emit one draft each.
type RecipientListener struct {
	ListenerName string
	Scope        model.SharedReadScope
	Recipients   RecipientFunc
	Render       RenderFunc
}

func (l *RecipientListener) Name() string { return l.ListenerName }

func (l *RecipientListener) Handle(ctx context.Context, evt *model.EventOutbox) ([]Draft, error) {
	title, body, props, err := l.Render(evt)
	if err != nil {
		return nil, err
	}
	recipients, err := l.Recipients(ctx, evt)
	if err != nil {
		return nil, err
	}
	scope := l.Scope
	if scope == "" {
		scope = model.ScopeNone
	}
	drafts := make([]Draft, 0, len(recipients))
	for _, rc := range recipients {
		drafts = append(drafts, Draft{
			Recipient:       rc,
			SharedReadScope: scope,
			Title:           title,
			Body:            body,
			Properties:      props,
		})
	}
	return drafts, nil
}
