package realtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Prismer-AI/rocketchat-bridge/ddp"
)

// session is one transport attempt and everything scoped to it. The
// supervisor goroutine owns every field except mu and the context, which
// the session's side goroutines read.
type session struct {
	id        string
	gen       uint64
	target    Target
	strategy  strategy
	handshake handshake
	phase     phase
	log       zerolog.Logger

	// mu orders teardown against emissions from side goroutines.
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc

	conn       Conn
	heartbeat  *heartbeat
	poller     *poller
	graceTimer Timer

	shouldWarnOnDrop bool
	torn             bool
}

// newSession is the only place sessions are made. The previous session must
// already be torn down.
func (s *Supervisor) newSession() *session {
	s.gen++
	gen := s.gen
	post := func(kind eventKind, seq uint64) {
		s.post(event{kind: kind, gen: gen, seq: seq})
	}

	ctx, cancel := context.WithCancel(s.ctx)
	strat := strategyFor(s.target.Origin)
	sess := &session{
		id:               uuid.NewString(),
		gen:              gen,
		target:           s.target,
		strategy:         strat,
		handshake:        newHandshake(strat, s.creds, s.target),
		ctx:              ctx,
		cancel:           cancel,
		heartbeat:        newHeartbeat(s.clock, s.timings.PingInterval, s.timings.PingTimeout, post),
		shouldWarnOnDrop: true,
	}
	sess.log = s.log.With().
		Str("session", sess.id).
		Uint64("gen", gen).
		Object("target", s.target).
		Logger()
	if strat.polls() {
		sess.poller = newPoller(s.clock, s.timings.LivenessInterval, post)
	}
	return sess
}

// clearTimers stops everything that could act on the session later, except
// the grace timer of a final shutdown.
func (ss *session) clearTimers() {
	ss.heartbeat.stop()
	if ss.poller != nil {
		ss.poller.stop()
	}
}

// teardown releases the session. It is safe to call more than once. The
// transport is closed in the background and tracked by wg.
func (ss *session) teardown(wg *sync.WaitGroup, code int, reason string) {
	ss.mu.Lock()
	if ss.torn {
		ss.mu.Unlock()
		return
	}
	ss.torn = true
	ss.cancel()
	ss.mu.Unlock()

	ss.clearTimers()
	stopTimer(ss.graceTimer)
	ss.graceTimer = nil

	if conn := ss.conn; conn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close(code, reason)
		}()
	}
}

// live runs f while the session is not torn down and reports whether it ran.
func (ss *session) live(f func()) bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if ss.torn {
		return false
	}
	f()
	return true
}

// readLoop feeds inbound frames to the supervisor until the transport fails.
func (s *Supervisor) readLoop(sess *session, conn Conn) {
	for {
		data, err := conn.Read(sess.ctx)
		if err != nil {
			s.post(event{kind: evTransportClosed, gen: sess.gen, err: err})
			return
		}
		f, err := ddp.Decode(data)
		if err != nil {
			sess.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping undecodable frame")
			continue
		}
		s.post(event{kind: evFrame, gen: sess.gen, frame: f})
	}
}

// dial opens the transport for sess off the supervisor goroutine.
func (s *Supervisor) dial(sess *session) {
	ctx, cancel := context.WithTimeout(sess.ctx, s.timings.DialTimeout)
	defer cancel()
	conn, err := s.dialer.Dial(ctx, s.endpoint)
	if err != nil {
		s.post(event{kind: evDialFailed, gen: sess.gen, err: err})
		return
	}
	s.post(event{kind: evDialed, gen: sess.gen, conn: conn})
}
