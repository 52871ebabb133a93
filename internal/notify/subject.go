// Package notify publishes lending lifecycle events to observers.
//
// Delivery is synchronous and best-effort: observers run in attachment order,
// and a failing or panicking observer is logged and skipped so the remaining
// observers still receive the event. Nothing is reported back to the
// publisher, whose ledger mutation has already happened.
//
// Observers that talk to the network are wrapped in an AsyncObserver so that
// Notify only pays for an enqueue.
package notify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"library/internal/models"
)

// Observer receives lifecycle events
type Observer interface {
	Handle(ctx context.Context, event models.Event) error
}

// Notifier is what the ledger publishes through
type Notifier interface {
	Notify(ctx context.Context, event models.Event)
}

type funcObserver struct {
	fn func(ctx context.Context, event models.Event) error
}

func (o *funcObserver) Handle(ctx context.Context, event models.Event) error {
	return o.fn(ctx, event)
}

// ObserverFunc wraps a function as an Observer. The returned value can be
// passed to Detach.
func ObserverFunc(fn func(ctx context.Context, event models.Event) error) Observer {
	return &funcObserver{fn: fn}
}

// Subject keeps an ordered list of observers
type Subject struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *zap.Logger
}

// NewSubject creates a subject with no observers
func NewSubject(logger *zap.Logger) *Subject {
	return &Subject{logger: logger}
}

// Attach adds an observer at the end of the delivery order
func (s *Subject) Attach(observer Observer) {
	if observer == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, observer)
}

// Detach removes the first occurrence of observer
func (s *Subject) Detach(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, o := range s.observers {
		if o == observer {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of attached observers
func (s *Subject) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.observers)
}

// Notify delivers event to every observer in attachment order
func (s *Subject) Notify(ctx context.Context, event models.Event) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()

	for i, o := range observers {
		if err := s.deliver(ctx, o, event); err != nil {
			s.logger.Warn("Observer failed to handle event",
				zap.Int("observer_index", i),
				zap.String("event_type", string(event.Type)),
				zap.String("patron_id", event.Patron.ID),
				zap.Error(err),
			)
		}
	}
}

// deliver calls one observer, turning a panic into an error
func (s *Subject) deliver(ctx context.Context, o Observer, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.Handle(ctx, event)
}
