package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/ddp"
)

const waitFor = 2 * time.Second

// ============================================================================
// Manual clock
// ============================================================================

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// Advance moves time forward and runs every timer that came due, in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	keep := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// ============================================================================
// In-memory transport
// ============================================================================

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	in        chan []byte
	out       chan *ddp.Frame
	closed    chan struct{}
	once      sync.Once
	closeCode atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan *ddp.Frame, 256),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	f, err := ddp.Decode(data)
	if err != nil {
		return err
	}
	c.out <- f
	return nil
}

func (c *fakeConn) Close(code int, _ string) error {
	c.once.Do(func() {
		c.closeCode.Store(int32(code))
		close(c.closed)
	})
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a raw frame from the server.
func (c *fakeConn) push(raw string) { c.in <- []byte(raw) }

// next returns the next frame the client wrote.
func (c *fakeConn) next(t *testing.T) *ddp.Frame {
	t.Helper()
	select {
	case f := <-c.out:
		return f
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for an outbound frame")
		return nil
	}
}

// nextKind skips frames until one of the given kind.
func (c *fakeConn) nextKind(t *testing.T, kind string) *ddp.Frame {
	t.Helper()
	for {
		if f := c.next(t); f.Msg == kind {
			return f
		}
	}
}

// drain discards what the client has written so far.
func (c *fakeConn) drain() {
	for {
		select {
		case <-c.out:
		default:
			return
		}
	}
}

func (c *fakeConn) expectSilent(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case f := <-c.out:
		t.Fatalf("unexpected outbound frame %+v", f)
	case <-time.After(d):
	}
}

type fakeDialer struct {
	conns chan *fakeConn
	fail  atomic.Bool
	dials atomic.Int32
}

func newFakeDialer() *fakeDialer { return &fakeDialer{conns: make(chan *fakeConn, 8)} }

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.dials.Add(1)
	if d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func (d *fakeDialer) expectNoDial(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-d.conns:
		t.Fatal("unexpected dial")
	case <-time.After(wait):
	}
}

// ============================================================================
// REST fake
// ============================================================================

type fakeAPI struct {
	mu       sync.Mutex
	subs     *rocketchat.SubscriptionsResult
	sub      *rocketchat.SubscriptionResult
	history  map[string][]rocketchat.Message
	rooms    *rocketchat.RoomsResult
	roomsErr error
	reads    []string
	polls    int
	since    map[string]time.Time
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{history: map[string][]rocketchat.Message{}, since: map[string]time.Time{}}
}

func notConfigured() rocketchat.Result {
	return rocketchat.Result{Success: false, ErrorText: "not configured"}
}

func (a *fakeAPI) Subscriptions(context.Context) (*rocketchat.SubscriptionsResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subs == nil {
		return &rocketchat.SubscriptionsResult{Result: notConfigured()}, nil
	}
	return a.subs, nil
}

func (a *fakeAPI) Subscription(context.Context, string) (*rocketchat.SubscriptionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == nil {
		return &rocketchat.SubscriptionResult{Result: notConfigured()}, nil
	}
	return a.sub, nil
}

func (a *fakeAPI) UnreadMessages(_ context.Context, roomID string, oldest time.Time, _ string) (*rocketchat.HistoryResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.since[roomID] = oldest
	msgs, ok := a.history[roomID]
	if !ok {
		return &rocketchat.HistoryResult{Result: notConfigured()}, nil
	}
	return &rocketchat.HistoryResult{Result: rocketchat.Result{Success: true}, Messages: append([]rocketchat.Message(nil), msgs...)}, nil
}

func (a *fakeAPI) MarkAsRead(_ context.Context, roomID string) (*rocketchat.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads = append(a.reads, roomID)
	return &rocketchat.Result{Success: true}, nil
}

func (a *fakeAPI) LiveChatRooms(context.Context, string) (*rocketchat.RoomsResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.polls++
	if a.roomsErr != nil {
		return nil, a.roomsErr
	}
	if a.rooms == nil {
		return &rocketchat.RoomsResult{Result: notConfigured()}, nil
	}
	return a.rooms, nil
}

func (a *fakeAPI) setRooms(ids ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res := &rocketchat.RoomsResult{Result: rocketchat.Result{Success: true}}
	for _, id := range ids {
		res.Rooms = append(res.Rooms, rocketchat.Room{ID: id, Type: rocketchat.RoomTypeLive, Open: true})
	}
	a.rooms = res
}

func (a *fakeAPI) readCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.reads...)
}

func (a *fakeAPI) pollCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.polls
}

// ============================================================================
// Harness
// ============================================================================

var testCreds = Credentials{Host: "https://chat.example.com", UserID: "alice", Token: "resume-token"}

type harness struct {
	t            *testing.T
	clock        *fakeClock
	dialer       *fakeDialer
	api          *fakeAPI
	sup          *Supervisor
	events       chan Event
	loginErrs    chan error
	reconnecting chan time.Duration
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:            t,
		clock:        newFakeClock(),
		dialer:       newFakeDialer(),
		api:          newFakeAPI(),
		events:       make(chan Event, 64),
		loginErrs:    make(chan error, 4),
		reconnecting: make(chan time.Duration, 8),
	}
	opts = append([]Option{WithClock(h.clock), WithDialer(h.dialer)}, opts...)
	h.sup = New(testCreds, h.api, opts...)
	h.sup.OnMessage(func(ev Event) { h.events <- ev })
	h.sup.OnLoginFailed(func(err error) { h.loginErrs <- err })
	h.sup.OnReconnecting(func(d time.Duration) { h.reconnecting <- d })
	t.Cleanup(h.shutdown)
	return h
}

func (h *harness) start(target Target) {
	h.t.Helper()
	require.NoError(h.t, h.sup.Start(context.Background(), target))
}

// subscribe walks a fresh connection through the account handshake.
func (h *harness) subscribe(conn *fakeConn, roomID string) {
	h.t.Helper()
	connect := conn.next(h.t)
	require.Equal(h.t, ddp.KindConnect, connect.Msg)

	conn.push(`{"server_id":"0"}`)
	conn.push(`{"msg":"connected","session":"s1"}`)
	login := conn.next(h.t)
	require.Equal(h.t, "login", login.Method)

	conn.push(`{"msg":"result","id":"1","result":{"id":"alice","token":"resume-token"}}`)
	sub := conn.next(h.t)
	require.Equal(h.t, []any{roomID, true}, sub.Params)
	h.waitState(StateSubscribed)
}

func (h *harness) waitState(want State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.sup.State() == want },
		waitFor, time.Millisecond, "state never became %s (is %s)", want, h.sup.State())
}

func (h *harness) waitReconnecting() time.Duration {
	h.t.Helper()
	select {
	case d := <-h.reconnecting:
		return d
	case <-time.After(waitFor):
		h.t.Fatal("no reconnect scheduled")
		return 0
	}
}

func (h *harness) nextEvent() Event {
	h.t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(waitFor):
		h.t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

func (h *harness) expectNoEvent(d time.Duration) {
	h.t.Helper()
	select {
	case ev := <-h.events:
		h.t.Fatalf("unexpected event %s", ev.Payload)
	case <-time.After(d):
	}
}

func (h *harness) waitReads(n int) []string {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return len(h.api.readCalls()) >= n }, waitFor, time.Millisecond)
	return h.api.readCalls()
}

// shutdown stops the supervisor, driving the fake clock through the grace window.
func (h *harness) shutdown() {
	go h.sup.Stop(context.Background())
	require.Eventually(h.t, func() bool {
		select {
		case <-h.sup.Done():
			return true
		default:
			h.clock.Advance(time.Second)
			return false
		}
	}, 5*time.Second, 2*time.Millisecond)
}

func msgFrom(userID, token, roomID string) *rocketchat.Message {
	return &rocketchat.Message{User: rocketchat.User{ID: userID}, Token: token, RoomID: roomID}
}
