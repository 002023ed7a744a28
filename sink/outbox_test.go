package sink

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

// scriptedSink fails while down is set and records what it accepted.
type scriptedSink struct {
	mu        sync.Mutex
	down      error
	delivered []string
	attempts  int
	closed    bool
}

func (s *scriptedSink) Deliver(_ context.Context, ev realtime.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.down != nil {
		return s.down
	}
	s.delivered = append(s.delivered, ev.ID)
	return nil
}

func (s *scriptedSink) Close() error { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }

func (s *scriptedSink) setDown(err error) { s.mu.Lock(); s.down = err; s.mu.Unlock() }

func (s *scriptedSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...)
}

func eventID(id string) realtime.Event {
	ev := testEvent()
	ev.ID = id
	return ev
}

// newTestOutbox uses an interval long enough that only explicit flushes run.
func newTestOutbox(next Sink, maxRetries, capacity int) *Outbox {
	return NewOutbox(next, OutboxOptions{Interval: time.Hour, MaxRetries: maxRetries, Capacity: capacity})
}

func TestOutboxPassesThrough(t *testing.T) {
	next := &scriptedSink{}
	o := newTestOutbox(next, 3, 10)

	require.NoError(t, o.Deliver(context.Background(), eventID("a")))
	assert.Equal(t, []string{"a"}, next.ids())
	assert.Zero(t, o.Pending())

	require.NoError(t, o.Close())
	assert.True(t, next.closed)
}

func TestOutboxRetriesInOrder(t *testing.T) {
	next := &scriptedSink{down: errors.New("connection refused")}
	o := newTestOutbox(next, 5, 10)
	ctx := context.Background()

	require.NoError(t, o.Deliver(ctx, eventID("a")))
	next.setDown(nil)
	// Still queued behind "a", so "b" must not overtake it.
	require.NoError(t, o.Deliver(ctx, eventID("b")))
	assert.Empty(t, next.ids())
	assert.Equal(t, 2, o.Pending())

	o.Flush(ctx)
	assert.Equal(t, []string{"a", "b"}, next.ids())
	assert.Zero(t, o.Pending())
	require.NoError(t, o.Close())
}

func TestOutboxGivesUpAfterMaxRetries(t *testing.T) {
	next := &scriptedSink{down: errors.New("timeout")}
	o := newTestOutbox(next, 2, 10)
	ctx := context.Background()

	require.NoError(t, o.Deliver(ctx, eventID("a")))
	o.Flush(ctx)
	assert.Equal(t, 1, o.Pending())
	o.Flush(ctx)
	assert.Zero(t, o.Pending())

	require.NoError(t, o.Close())
}

func TestOutboxPermanentFailures(t *testing.T) {
	rejected := &StatusError{DeliveryID: "d1", StatusCode: http.StatusBadRequest, Body: "bad"}
	next := &scriptedSink{down: rejected}
	o := newTestOutbox(next, 5, 10)

	err := o.Deliver(context.Background(), eventID("a"))
	assert.ErrorAs(t, err, new(*StatusError))
	assert.Zero(t, o.Pending())
	require.NoError(t, o.Close())
}

func TestOutboxCapacityDropsOldest(t *testing.T) {
	next := &scriptedSink{down: errors.New("down")}
	o := newTestOutbox(next, 5, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, o.Deliver(ctx, eventID(id)))
	}
	assert.Equal(t, 2, o.Pending())

	next.setDown(nil)
	o.Flush(ctx)
	assert.Equal(t, []string{"b", "c"}, next.ids())
	require.NoError(t, o.Close())
}

func TestOutboxCloseReportsUndelivered(t *testing.T) {
	next := &scriptedSink{down: errors.New("down")}
	o := newTestOutbox(next, 5, 10)

	require.NoError(t, o.Deliver(context.Background(), eventID("a")))
	err := o.Close()
	assert.ErrorContains(t, err, "1 deliveries still queued")
	assert.True(t, next.closed)

	assert.ErrorIs(t, o.Deliver(context.Background(), eventID("b")), ErrOutboxClosed)
	assert.NoError(t, o.Close())
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{StatusCode: http.StatusBadRequest}, true},
		{&StatusError{StatusCode: http.StatusUnauthorized}, true},
		{&StatusError{StatusCode: http.StatusRequestTimeout}, false},
		{&StatusError{StatusCode: http.StatusTooManyRequests}, false},
		{&StatusError{StatusCode: http.StatusBadGateway}, false},
		{errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Permanent(tt.err), "%v", tt.err)
	}
}
