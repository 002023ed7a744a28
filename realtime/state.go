package realtime

import "fmt"

// State is the supervisor's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateHandshake
	StateSubscribed
	// StateDisconnected is a non-final close waiting out the reconnect delay.
	StateDisconnected
	// StateClosing is the grace window of a final shutdown.
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshake:
		return "handshake"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Final reports whether no further transport will be opened.
func (s State) Final() bool { return s == StateClosing || s == StateClosed }

type trigger int

const (
	trStart trigger = iota
	trOpened
	trSubscribed
	trDropped
	trRetry
	trShutdown
	trGraceElapsed
	// trLost is a transport drop after the conversation was closed.
	trLost
)

func (t trigger) String() string {
	return [...]string{"start", "opened", "subscribed", "dropped", "retry", "shutdown", "grace-elapsed", "lost"}[t]
}

type effect int

const (
	// effDial creates a session and opens its transport.
	effDial effect = iota
	// effHandshake arms the heartbeat and sends the connect frame.
	effHandshake
	// effWarnDrop warns the operator when the session expected to live.
	effWarnDrop
	// effTeardown releases the current session.
	effTeardown
	effScheduleRetry
	effCancelRetry
	// effQuiesce stops warnings and clears the session's timers.
	effQuiesce
	effScheduleGrace
	effFinish
)

// transition computes the next state and the side effects to run. It does
// not touch the supervisor.
func transition(s State, t trigger) (State, []effect, error) {
	switch t {
	case trStart:
		if s == StateIdle {
			return StateConnecting, []effect{effDial}, nil
		}
	case trOpened:
		if s == StateConnecting {
			return StateHandshake, []effect{effHandshake}, nil
		}
	case trSubscribed:
		if s == StateHandshake {
			return StateSubscribed, nil, nil
		}
	case trDropped:
		switch s {
		case StateConnecting, StateHandshake, StateSubscribed:
			return StateDisconnected, []effect{effWarnDrop, effTeardown, effScheduleRetry}, nil
		case StateClosing:
			return StateClosed, []effect{effTeardown, effFinish}, nil
		}
	case trRetry:
		if s == StateDisconnected {
			return StateConnecting, []effect{effDial}, nil
		}
	case trShutdown:
		switch s {
		case StateIdle:
			return StateClosed, []effect{effFinish}, nil
		case StateConnecting, StateHandshake, StateSubscribed:
			return StateClosing, []effect{effQuiesce, effCancelRetry, effScheduleGrace}, nil
		case StateDisconnected:
			return StateClosed, []effect{effCancelRetry, effFinish}, nil
		case StateClosing, StateClosed:
			// Repeated shutdown requests are no-ops.
			return s, nil, nil
		}
	case trGraceElapsed:
		if s == StateClosing {
			return StateClosed, []effect{effTeardown, effFinish}, nil
		}
	case trLost:
		switch s {
		case StateConnecting, StateHandshake, StateSubscribed, StateClosing:
			return StateClosed, []effect{effTeardown, effFinish}, nil
		case StateDisconnected:
			return StateClosed, []effect{effCancelRetry, effFinish}, nil
		}
	}
	return s, nil, fmt.Errorf("%w: %s in state %s", ErrIllegalTransition, t, s)
}
