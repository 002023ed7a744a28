package realtime

import (
	"fmt"

	"github.com/Prismer-AI/rocketchat-bridge/ddp"
)

// phase is the handshake progress of one session.
type phase int

const (
	phaseIdle phase = iota
	phaseAwaitConnected
	phaseAwaitLogin
	phaseSubscribed
	phaseLoginFailed
)

func (p phase) String() string {
	return [...]string{"idle", "await-connected", "await-login", "subscribed", "login-failed"}[p]
}

// step is the outcome of feeding one input to the handshake.
type step struct {
	next phase
	send []*ddp.Frame
	// err is set when the server rejected the login.
	err error
	// handled is false when the input does not apply to the current phase.
	handled bool
}

// handshake drives connect, login and subscribe for one session. It holds
// no mutable state; the session stores the phase.
type handshake struct {
	strategy strategy
	creds    Credentials
	target   Target
	loginID  string
}

func newHandshake(s strategy, creds Credentials, t Target) handshake {
	return handshake{strategy: s, creds: creds, target: t, loginID: s.login(creds, t).ID}
}

// open is fed when the transport is established.
func (h handshake) open(p phase) step {
	if p != phaseIdle {
		return step{next: p}
	}
	return step{
		next:    phaseAwaitConnected,
		send:    []*ddp.Frame{ddp.Connect(h.strategy.support()...)},
		handled: true,
	}
}

// frame is fed every connected or result frame.
func (h handshake) frame(p phase, f *ddp.Frame) step {
	switch f.Msg {
	case ddp.KindConnected:
		if p != phaseAwaitConnected {
			return step{next: p}
		}
		return step{
			next:    phaseAwaitLogin,
			send:    []*ddp.Frame{h.strategy.login(h.creds, h.target)},
			handled: true,
		}
	case ddp.KindResult:
		if p != phaseAwaitLogin || f.ID != h.loginID {
			return step{next: p}
		}
		if f.Error != nil {
			return step{
				next:    phaseLoginFailed,
				err:     fmt.Errorf("%w: %s", ErrLoginFailed, f.Error.Error()),
				handled: true,
			}
		}
		return step{
			next:    phaseSubscribed,
			send:    h.strategy.subscriptions(h.target),
			handled: true,
		}
	}
	return step{next: p}
}
