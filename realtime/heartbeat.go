package realtime

import "time"

// heartbeat keeps two timers per session: the ping interval and the liveness
// deadline. Only the supervisor goroutine calls its methods. Timer callbacks
// post an event tagged with the arm sequence, so a callback that raced a
// re-arm or a stop is recognized as stale and dropped.
type heartbeat struct {
	clock    Clock
	interval time.Duration
	timeout  time.Duration
	post     func(kind eventKind, seq uint64)

	active     bool
	pingTimer  Timer
	pingSeq    uint64
	deadline   Timer
	deadSeq    uint64
	deadlineAt time.Time
}

func newHeartbeat(clock Clock, interval, timeout time.Duration, post func(eventKind, uint64)) *heartbeat {
	return &heartbeat{clock: clock, interval: interval, timeout: timeout, post: post}
}

// start arms both timers when the transport opens.
func (h *heartbeat) start() {
	h.active = true
	h.armPing()
	h.armDeadline()
}

// seen re-arms the deadline after a ping or pong from the server.
func (h *heartbeat) seen() {
	if h.active {
		h.armDeadline()
	}
}

// sent re-arms the ping interval after the monitor's own ping.
func (h *heartbeat) sent() {
	if h.active {
		h.armPing()
	}
}

// pingDue reports whether a ping timer callback is current.
func (h *heartbeat) pingDue(seq uint64) bool { return h.active && seq == h.pingSeq }

// expired reports whether a deadline callback is current.
func (h *heartbeat) expired(seq uint64) bool { return h.active && seq == h.deadSeq }

// Deadline is the instant the connection is declared dead.
func (h *heartbeat) Deadline() time.Time { return h.deadlineAt }

func (h *heartbeat) stop() {
	h.active = false
	stopTimer(h.pingTimer)
	stopTimer(h.deadline)
	h.pingTimer, h.deadline = nil, nil
}

func (h *heartbeat) armPing() {
	stopTimer(h.pingTimer)
	h.pingSeq++
	seq := h.pingSeq
	h.pingTimer = h.clock.AfterFunc(h.interval, func() { h.post(evPingDue, seq) })
}

func (h *heartbeat) armDeadline() {
	stopTimer(h.deadline)
	h.deadSeq++
	seq := h.deadSeq
	h.deadlineAt = h.clock.Now().Add(h.timeout)
	h.deadline = h.clock.AfterFunc(h.timeout, func() { h.post(evHeartbeatExpired, seq) })
}
