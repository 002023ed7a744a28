// Package sink delivers realtime events to downstream consumers.
//
// Two sinks are provided: a JSON-lines writer for piping events into other
// tools, and a webhook that POSTs each event with an HMAC-SHA256 signature.
// Receivers verify deliveries with VerifySignature and decode them with
// ParsePayload, or mount a Receiver as an http.Handler.
package sink

import (
	"context"
	"errors"

	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

// Sink accepts events one at a time.
type Sink interface {
	Deliver(ctx context.Context, ev realtime.Event) error
	Close() error
}

// Fanout delivers every event to each sink in order. A failing sink does not
// stop delivery to the rest; their errors are joined.
type Fanout []Sink

func (f Fanout) Deliver(ctx context.Context, ev realtime.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
