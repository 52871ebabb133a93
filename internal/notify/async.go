package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"library/internal/models"
)

const defaultQueueSize = 64

// AsyncObserver hands events to a wrapped observer on a background worker.
//
// Handle only enqueues, so a slow transport never runs on the publisher's
// goroutine. A single worker keeps attachment order per observer and calls
// the wrapped observer with a per-event timeout. A full queue drops the event
// and reports it to the Subject; delivery failures are logged by the worker.
type AsyncObserver struct {
	name    string
	next    Observer
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.Event
	wg     sync.WaitGroup
}

// NewAsyncObserver starts a worker delivering to next. queueSize <= 0 uses the default.
func NewAsyncObserver(name string, next Observer, timeout time.Duration, queueSize int, logger *zap.Logger) *AsyncObserver {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	o := &AsyncObserver{
		name:    name,
		next:    next,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan models.Event, queueSize),
	}

	o.wg.Add(1)
	go o.run()

	return o
}

// Handle queues the event for the worker
func (o *AsyncObserver) Handle(ctx context.Context, event models.Event) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return fmt.Errorf("%s observer is closed, dropping %s for %s", o.name, event.Type, event.Patron.ID)
	}

	select {
	case o.queue <- event:
		return nil
	default:
		return fmt.Errorf("%s queue full, dropping %s for %s", o.name, event.Type, event.Patron.ID)
	}
}

// Close stops accepting events and waits for queued ones to be attempted
func (o *AsyncObserver) Close() error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	o.wg.Wait()
	return nil
}

func (o *AsyncObserver) run() {
	defer o.wg.Done()

	for event := range o.queue {
		if err := o.deliver(event); err != nil {
			o.logger.Warn("Async notification failed",
				zap.String("observer", o.name),
				zap.String("event_type", string(event.Type)),
				zap.String("patron_id", event.Patron.ID),
				zap.Error(err),
			)
		}
	}
}

func (o *AsyncObserver) deliver(event models.Event) (err error) {
	ctx := context.Background()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.next.Handle(ctx, event)
}
