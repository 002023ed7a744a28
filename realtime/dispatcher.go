package realtime

import (
	"sync"
	"time"
)

// dispatcher owns the downstream handlers and the delivery queue. A single
// goroutine drains the queue so handlers see events in emission order. The
// queue grows instead of blocking, so a slow consumer never stalls frame
// processing and never loses an event.
type dispatcher struct {
	mu             sync.RWMutex
	onMessage      []func(Event)
	onState        []func(State)
	onReconnecting []func(time.Duration)
	onLoginFailed  []func(error)

	qmu    sync.Mutex
	cond   *sync.Cond
	closed bool
	queue  []func()
	warnAt int
	warned bool
	done   chan struct{}
}

func newDispatcher(warnAt int) *dispatcher {
	d := &dispatcher{
		warnAt: warnAt,
		done:   make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.qmu)
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.qmu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.qmu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		if len(d.queue) == 0 {
			d.warned = false
		}
		d.qmu.Unlock()
		f()
	}
}

// enqueue never blocks. ok is false once the dispatcher is closed; backlog
// is the queue length when it first reaches warnAt since last draining,
// zero otherwise.
func (d *dispatcher) enqueue(f func()) (ok bool, backlog int) {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	if d.closed {
		return false, 0
	}
	d.queue = append(d.queue, f)
	d.cond.Signal()
	if d.warnAt > 0 && len(d.queue) >= d.warnAt && !d.warned {
		d.warned = true
		return true, len(d.queue)
	}
	return true, 0
}

// close delivers what is queued and waits for the delivery goroutine.
func (d *dispatcher) close() {
	d.qmu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.qmu.Unlock()
	<-d.done
}

func (d *dispatcher) message(ev Event) (bool, int) {
	return d.enqueue(func() {
		d.mu.RLock()
		handlers := append([]func(Event){}, d.onMessage...)
		d.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	})
}

func (d *dispatcher) state(s State) (bool, int) {
	return d.enqueue(func() {
		d.mu.RLock()
		handlers := append([]func(State){}, d.onState...)
		d.mu.RUnlock()
		for _, h := range handlers {
			h(s)
		}
	})
}

func (d *dispatcher) reconnecting(delay time.Duration) (bool, int) {
	return d.enqueue(func() {
		d.mu.RLock()
		handlers := append([]func(time.Duration){}, d.onReconnecting...)
		d.mu.RUnlock()
		for _, h := range handlers {
			h(delay)
		}
	})
}

func (d *dispatcher) loginFailed(err error) (bool, int) {
	return d.enqueue(func() {
		d.mu.RLock()
		handlers := append([]func(error){}, d.onLoginFailed...)
		d.mu.RUnlock()
		for _, h := range handlers {
			h(err)
		}
	})
}
