package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

// ErrOutboxClosed is returned by Deliver after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// OutboxOptions configures an Outbox. Zero fields take defaults.
type OutboxOptions struct {
	// Interval is the period between flush attempts. Default 5s.
	Interval time.Duration
	// MaxRetries is how many failed attempts a delivery gets before it is
	// dropped. Default 5.
	MaxRetries int
	// Capacity bounds the queue; when full the oldest delivery is dropped.
	// Default 1000.
	Capacity int
	Logger   zerolog.Logger
}

type outboxOp struct {
	ev        realtime.Event
	createdAt time.Time
	retries   int
}

// Outbox wraps a sink and retries deliveries it failed to accept. Queued
// events are retried in arrival order; while anything is queued new events
// line up behind it instead of overtaking.
type Outbox struct {
	next Sink
	opts OutboxOptions
	log  zerolog.Logger

	mu       sync.Mutex
	queue    []*outboxOp
	flushing bool
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewOutbox wraps next and starts the flush loop. Close stops it.
func NewOutbox(next Sink, opts OutboxOptions) *Outbox {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	o := &Outbox{
		next: next,
		opts: opts,
		log:  opts.Logger,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go o.flushLoop()
	return o
}

// Deliver hands ev to the wrapped sink, or queues it when that fails with
// a retryable error. A queued delivery is not an error to the caller.
func (o *Outbox) Deliver(ctx context.Context, ev realtime.Event) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	if len(o.queue) > 0 {
		o.enqueue(ev)
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	err := o.next.Deliver(ctx, ev)
	if err == nil || Permanent(err) {
		return err
	}
	o.mu.Lock()
	o.enqueue(ev)
	o.mu.Unlock()
	o.log.Warn().Err(err).Str("event_id", ev.ID).Msg("delivery failed, queued for retry")
	return nil
}

// enqueue appends ev, evicting the oldest entry when full. Caller holds mu.
func (o *Outbox) enqueue(ev realtime.Event) {
	if len(o.queue) >= o.opts.Capacity {
		dropped := o.queue[0]
		o.queue = o.queue[1:]
		o.log.Error().Str("event_id", dropped.ev.ID).Int("capacity", o.opts.Capacity).Msg("outbox full, dropping oldest delivery")
	}
	o.queue = append(o.queue, &outboxOp{ev: ev, createdAt: time.Now()})
}

// Pending returns the number of queued deliveries.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Outbox) flushLoop() {
	defer close(o.done)
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.Flush(context.Background())
		}
	}
}

// Flush retries queued deliveries from the oldest. It stops at the first
// retryable failure so order is kept; permanent failures and entries out of
// retries are dropped.
func (o *Outbox) Flush(ctx context.Context) {
	o.mu.Lock()
	if o.flushing {
		o.mu.Unlock()
		return
	}
	o.flushing = true
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.flushing = false
		o.mu.Unlock()
	}()

	for ctx.Err() == nil {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		op := o.queue[0]
		o.mu.Unlock()

		err := o.next.Deliver(ctx, op.ev)
		if !o.settle(op, err) {
			return
		}
	}
}

// settle records the outcome of one retry and reports whether flushing
// should move on to the next entry.
func (o *Outbox) settle(op *outboxOp, err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case err == nil:
		o.remove(op)
		o.log.Debug().Str("event_id", op.ev.ID).Int("retries", op.retries).Msg("queued delivery sent")
		return true
	case Permanent(err):
		o.remove(op)
		o.log.Error().Err(err).Str("event_id", op.ev.ID).Msg("queued delivery rejected, dropping")
		return true
	}

	op.retries++
	if op.retries >= o.opts.MaxRetries {
		o.remove(op)
		o.log.Error().Err(err).Str("event_id", op.ev.ID).
			Dur("age", time.Since(op.createdAt)).Msg("giving up on delivery")
		return true
	}
	return false
}

// remove drops op wherever it sits; overflow may already have evicted it.
// Caller holds mu.
func (o *Outbox) remove(op *outboxOp) {
	for i, q := range o.queue {
		if q == op {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// Close stops the flush loop, makes one last attempt at the queue and
// closes the wrapped sink. Deliveries still queued are reported.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	close(o.stop)
	<-o.done

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.Flush(ctx)

	var errs []error
	if n := o.Pending(); n > 0 {
		errs = append(errs, fmt.Errorf("%d deliveries still queued at close", n))
	}
	if err := o.next.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
