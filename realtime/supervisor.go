// Package realtime keeps a Rocket.Chat room subscription alive over the
// DDP websocket and republishes its messages.
//
// A Supervisor owns one lifecycle: it dials, logs in, subscribes, watches the
// connection with pings and reconnects after a fixed delay when the
// transport drops. A final shutdown (Stop, the live room closing, or a
// livechat-close message) closes the transport after a grace window and
// never reconnects.
package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/ddp"
	"github.com/Prismer-AI/rocketchat-bridge/internal/observability"
)

// Timings are the supervisor's fixed delays.
type Timings struct {
	PingInterval     time.Duration
	PingTimeout      time.Duration
	ReconnectDelay   time.Duration
	ShutdownGrace    time.Duration
	CloseDelay       time.Duration
	LivenessInterval time.Duration
	DialTimeout      time.Duration
	WriteTimeout     time.Duration
}

// DefaultTimings returns the delays used when no WithTimings option is given.
func DefaultTimings() Timings {
	return Timings{
		PingInterval:     5 * time.Second,
		PingTimeout:      31 * time.Second,
		ReconnectDelay:   10 * time.Second,
		ShutdownGrace:    10 * time.Second,
		CloseDelay:       10 * time.Second,
		LivenessInterval: 30 * time.Minute,
		DialTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithMetrics records supervisor activity in m.
func WithMetrics(m *observability.Metrics) Option { return func(s *Supervisor) { s.metrics = m } }

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) Option { return func(s *Supervisor) { s.dialer = d } }

// WithTimings overrides DefaultTimings.
func WithTimings(t Timings) Option { return func(s *Supervisor) { s.timings = t } }

// WithQueueSize sets how many waiting events make the supervisor warn about
// slow handlers. The queue itself is not bounded: events are never dropped.
func WithQueueSize(n int) Option { return func(s *Supervisor) { s.queueSize = n } }

type eventKind int

const (
	evStart eventKind = iota
	evRetry
	evShutdown
	evDialed
	evDialFailed
	evFrame
	evTransportClosed
	evPingDue
	evHeartbeatExpired
	evLivenessDue
	evRoomClosed
	evConversationClosed
	evGraceElapsed
)

// event is the only way other goroutines talk to the supervisor goroutine.
type event struct {
	kind  eventKind
	gen   uint64
	seq   uint64
	conn  Conn
	frame *ddp.Frame
	err   error
}

// Supervisor runs one realtime lifecycle.
type Supervisor struct {
	creds     Credentials
	api       RoomAPI
	log       zerolog.Logger
	metrics   *observability.Metrics
	clock     Clock
	dialer    Dialer
	timings   Timings
	queueSize int

	dispatch *dispatcher
	events   chan event
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
	current  atomic.Int32
	closers  sync.WaitGroup

	// Owned by the run goroutine.
	target     Target
	endpoint   string
	state      State
	gen        uint64
	sess       *session
	retryTimer Timer
	retrySeq   uint64
	// Set by livechat-close; outlives the session that received it.
	conversationClosed bool
	closeTimer         Timer
}

// New builds a supervisor for the account in creds. api serves catch-up,
// read receipts and liveness polls.
func New(creds Credentials, api RoomAPI, opts ...Option) *Supervisor {
	s := &Supervisor{
		creds:     creds,
		api:       api,
		log:       zerolog.Nop(),
		clock:     realClock{},
		dialer:    WebSocketDialer{},
		timings:   DefaultTimings(),
		queueSize: 1024,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatch = newDispatcher(s.queueSize)
	return s
}

// OnMessage registers a handler for accepted messages. Handlers run one at a
// time on the delivery goroutine.
func (s *Supervisor) OnMessage(h func(Event)) {
	s.dispatch.mu.Lock()
	s.dispatch.onMessage = append(s.dispatch.onMessage, h)
	s.dispatch.mu.Unlock()
}

// OnStateChange registers a handler for every lifecycle transition.
func (s *Supervisor) OnStateChange(h func(State)) {
	s.dispatch.mu.Lock()
	s.dispatch.onState = append(s.dispatch.onState, h)
	s.dispatch.mu.Unlock()
}

// OnReconnecting is called when a dropped transport will be replaced after delay.
func (s *Supervisor) OnReconnecting(h func(delay time.Duration)) {
	s.dispatch.mu.Lock()
	s.dispatch.onReconnecting = append(s.dispatch.onReconnecting, h)
	s.dispatch.mu.Unlock()
}

// OnLoginFailed is called when the server rejects the login. The transport
// stays open.
func (s *Supervisor) OnLoginFailed(h func(error)) {
	s.dispatch.mu.Lock()
	s.dispatch.onLoginFailed = append(s.dispatch.onLoginFailed, h)
	s.dispatch.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State { return State(s.current.Load()) }

// Done is closed once the lifecycle has ended and queued events are delivered.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Start validates the configuration and begins the lifecycle. It returns an
// error wrapping ErrInvalidConfig without opening a transport when the
// account or target is unusable. Cancelling ctx is equivalent to Stop.
func (s *Supervisor) Start(ctx context.Context, target Target) error {
	if !s.started.CompareAndSwap(false, true) {
		select {
		case <-s.done:
			return ErrStopped
		default:
			return ErrAlreadyStarted
		}
	}
	fail := func(err error) error {
		s.finishUnstarted()
		return err
	}

	if s.creds.Host == "" {
		return fail(fmt.Errorf("%w: no server configured", ErrInvalidConfig))
	}
	endpoint, err := rocketchat.WebSocketURL(s.creds.Host)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	if target.Origin != OriginLive && (s.creds.UserID == "" || s.creds.Token == "") {
		return fail(fmt.Errorf("%w: %s origin needs a user id and token", ErrInvalidConfig, target.Origin))
	}
	if target.Origin == OriginLive && target.RoomID == "" && target.VisitorToken != "" {
		roomID, err := s.visitorRoom(ctx, target.VisitorToken)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		target.RoomID = roomID
	}
	if err := target.validate(); err != nil {
		return fail(err)
	}
	if target.Origin == OriginLive && target.RoomID == "" {
		return fail(fmt.Errorf("%w: visitor has no open room", ErrInvalidConfig))
	}

	s.target = target
	s.endpoint = endpoint
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.log = s.log.With().Str("component", "realtime").Logger()
	s.log.Info().Object("target", target).Str("endpoint", endpoint).Msg("starting")

	go s.run()
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-s.done:
		}
	}()
	s.post(event{kind: evStart})
	return nil
}

// Stop begins the final shutdown and waits until the lifecycle has ended or
// ctx expires. The transport stays open for the shutdown grace window.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.started.CompareAndSwap(false, true) {
		s.finishUnstarted()
		return nil
	}
	s.shutdown()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) shutdown() {
	s.stopOnce.Do(func() { s.post(event{kind: evShutdown}) })
}

// finishUnstarted marks a supervisor that never ran as closed. Callers hold
// the started flag, so it runs at most once.
func (s *Supervisor) finishUnstarted() {
	s.current.Store(int32(StateClosed))
	s.dispatch.close()
	close(s.done)
}

// post hands an event to the run goroutine. After the lifecycle has ended
// events are discarded.
func (s *Supervisor) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.conn != nil {
			go ev.conn.Close(StatusNormalClosure, "")
		}
	}
}

func (s *Supervisor) run() {
	defer func() {
		s.cancel()
		s.closers.Wait()
		s.dispatch.close()
		close(s.done)
	}()
	for ev := range s.events {
		s.handle(ev)
		if s.state == StateClosed {
			return
		}
	}
}

func (s *Supervisor) handle(ev event) {
	switch ev.kind {
	case evStart:
		s.apply(trStart)
		return
	case evShutdown:
		s.apply(trShutdown)
		return
	case evRetry:
		if ev.seq == s.retrySeq {
			s.apply(trRetry)
		}
		return
	case evConversationClosed:
		s.closeTimer = nil
		s.apply(trShutdown)
		return
	}

	sess := s.sess
	if sess == nil || ev.gen != sess.gen || sess.torn {
		// A superseded session or a timer that lost a race with teardown.
		if ev.kind == evDialed {
			go ev.conn.Close(StatusNormalClosure, "superseded")
		}
		return
	}

	switch ev.kind {
	case evDialed:
		sess.conn = ev.conn
		go s.readLoop(sess, ev.conn)
		if s.state == StateConnecting {
			s.apply(trOpened)
		}
	case evDialFailed:
		sess.log.Warn().Err(ev.err).Msg("dial failed")
		s.dropped()
	case evTransportClosed:
		sess.log.Debug().Err(ev.err).Msg("transport closed")
		s.dropped()
	case evFrame:
		s.handleFrame(sess, ev.frame)
	case evPingDue:
		if sess.heartbeat.pingDue(ev.seq) {
			sess.heartbeat.sent()
			s.send(sess, ddp.Ping(""))
		}
	case evHeartbeatExpired:
		if sess.heartbeat.expired(ev.seq) {
			sess.log.Warn().Dur("timeout", s.timings.PingTimeout).Msg("no ping from server, terminating transport")
			s.metrics.HeartbeatTimeout()
			s.dropped()
		}
	case evLivenessDue:
		if sess.poller != nil && sess.poller.due(ev.seq) {
			s.poll(sess)
		}
	case evRoomClosed:
		sess.log.Info().Msg("live room no longer open")
		s.apply(trShutdown)
	case evGraceElapsed:
		s.apply(trGraceElapsed)
	}
}

// dropped handles a lost transport. Once the conversation has been closed
// there is nothing to reconnect to.
func (s *Supervisor) dropped() {
	if s.conversationClosed {
		s.log.Info().Msg("transport dropped after conversation closed")
		s.apply(trLost)
		return
	}
	s.apply(trDropped)
}

// apply runs one transition and its effects.
func (s *Supervisor) apply(t trigger) {
	next, effects, err := transition(s.state, t)
	if err != nil {
		s.log.Warn().Err(err).Msg("ignoring trigger")
		return
	}
	prev := s.state
	s.state = next
	for _, e := range effects {
		s.run1(e)
	}
	// Published only once the entry effects have run.
	if next != prev {
		s.log.Debug().Stringer("from", prev).Stringer("to", next).Stringer("trigger", t).Msg("state")
		s.current.Store(int32(next))
		s.metrics.SetState(int(next))
		s.dispatch.state(next)
	}
}

func (s *Supervisor) run1(e effect) {
	sess := s.sess
	switch e {
	case effDial:
		s.sess = s.newSession()
		s.metrics.SessionStarted()
		s.sess.log.Info().Msg("connecting")
		if s.sess.poller != nil {
			s.sess.poller.start()
		}
		go s.catchUp(s.sess)
		go s.dial(s.sess)
	case effHandshake:
		sess.heartbeat.start()
		s.advanceHandshake(sess, sess.handshake.open(sess.phase))
	case effWarnDrop:
		if sess != nil && sess.shouldWarnOnDrop {
			sess.log.Warn().Msg("connection broken")
		}
	case effTeardown:
		if sess != nil {
			code, reason := StatusGoingAway, "reconnecting"
			if s.state == StateClosed {
				code, reason = StatusNormalClosure, "shutdown"
			}
			sess.teardown(&s.closers, code, reason)
			s.sess = nil
		}
	case effScheduleRetry:
		s.retrySeq++
		seq := s.retrySeq
		delay := s.timings.ReconnectDelay
		s.retryTimer = s.clock.AfterFunc(delay, func() { s.post(event{kind: evRetry, seq: seq}) })
		s.metrics.Reconnect()
		s.log.Info().Dur("delay", delay).Msg("reconnecting")
		s.dispatch.reconnecting(delay)
	case effCancelRetry:
		stopTimer(s.retryTimer)
		s.retryTimer = nil
		s.retrySeq++
	case effQuiesce:
		if sess != nil {
			sess.shouldWarnOnDrop = false
			sess.clearTimers()
		}
	case effScheduleGrace:
		if sess != nil {
			gen := sess.gen
			sess.log.Info().Dur("grace", s.timings.ShutdownGrace).Msg("final shutdown")
			sess.graceTimer = s.clock.AfterFunc(s.timings.ShutdownGrace, func() {
				s.post(event{kind: evGraceElapsed, gen: gen})
			})
		}
	case effFinish:
		stopTimer(s.closeTimer)
		s.closeTimer = nil
		s.log.Info().Msg("closed")
	}
}

// send writes frames in order. A failed write is left to the reader and the
// heartbeat to detect.
func (s *Supervisor) send(sess *session, frames ...*ddp.Frame) {
	if sess.conn == nil {
		return
	}
	for _, f := range frames {
		data, err := ddp.Encode(f)
		if err != nil {
			sess.log.Error().Err(err).Msg("encode frame")
			continue
		}
		ctx, cancel := context.WithTimeout(sess.ctx, s.timings.WriteTimeout)
		err = sess.conn.Write(ctx, data)
		cancel()
		if err != nil {
			sess.log.Warn().Err(err).Str("kind", f.Msg).Msg("write failed")
			return
		}
		s.metrics.Frame("out", f.Msg)
	}
}

func (s *Supervisor) catchUp(sess *session) {
	c := &catchUp{
		ctx:    sess.ctx,
		api:    s.api,
		creds:  s.creds,
		target: sess.target,
		emit:   func(m rocketchat.Message) { s.emit(sess, m, SourceCatchUp) },
	}
	if err := sess.strategy.catchUp(c); err != nil && sess.ctx.Err() == nil {
		sess.log.Warn().Err(err).Msg("unread catch-up incomplete")
	}
}

// visitorRoom picks the first open room of a visitor.
func (s *Supervisor) visitorRoom(ctx context.Context, token string) (string, error) {
	res, err := s.api.LiveChatRooms(ctx, token)
	if err := checked(res, err); err != nil {
		return "", fmt.Errorf("list visitor rooms: %w", err)
	}
	if len(res.Rooms) == 0 {
		return "", nil
	}
	return res.Rooms[0].ID, nil
}
