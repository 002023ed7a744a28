package realtime

import "errors"

var (
	// ErrInvalidConfig means the supervisor could not resolve a connection
	// profile or subscription target. No transport is opened.
	ErrInvalidConfig = errors.New("realtime: invalid configuration")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("realtime: supervisor already started")

	// ErrStopped is returned by Start once the supervisor has been stopped.
	ErrStopped = errors.New("realtime: supervisor stopped")

	// ErrIllegalTransition is reported when a trigger does not apply to the
	// current state. The trigger is ignored.
	ErrIllegalTransition = errors.New("realtime: illegal state transition")

	// ErrLoginFailed wraps the server's answer to a rejected login.
	ErrLoginFailed = errors.New("realtime: login failed")
)
