package realtime

import "time"

// poller fires the liveness check of a live session on a fixed interval,
// independent of the transport. Same sequencing rules as heartbeat.
type poller struct {
	clock    Clock
	interval time.Duration
	post     func(kind eventKind, seq uint64)

	active bool
	timer  Timer
	seq    uint64
}

func newPoller(clock Clock, interval time.Duration, post func(eventKind, uint64)) *poller {
	return &poller{clock: clock, interval: interval, post: post}
}

func (p *poller) start() {
	p.active = true
	p.arm()
}

// due reports whether a callback is current and re-arms for the next round.
func (p *poller) due(seq uint64) bool {
	if !p.active || seq != p.seq {
		return false
	}
	p.arm()
	return true
}

func (p *poller) stop() {
	p.active = false
	stopTimer(p.timer)
	p.timer = nil
}

func (p *poller) arm() {
	stopTimer(p.timer)
	p.seq++
	seq := p.seq
	p.timer = p.clock.AfterFunc(p.interval, func() { p.post(evLivenessDue, seq) })
}
