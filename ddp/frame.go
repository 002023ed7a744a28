// Package ddp encodes and decodes the frames of the Rocket.Chat realtime
// protocol (a subset of Meteor's DDP).
//
// Only the fields the bridge interprets are modeled. Everything else, in
// particular extended JSON values such as {"$date": 1700000000000}, is kept
// as raw JSON and passes through unchanged.
package ddp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Frame kinds carried in the "msg" discriminator.
const (
	KindConnect   = "connect"
	KindConnected = "connected"
	KindFailed    = "failed"
	KindPing      = "ping"
	KindPong      = "pong"
	KindMethod    = "method"
	KindResult    = "result"
	KindSub       = "sub"
	KindReady     = "ready"
	KindNoSub     = "nosub"
	KindAdded     = "added"
	KindChanged   = "changed"
	KindRemoved   = "removed"
	KindError     = "error"
)

// Version is the protocol version the bridge asks for.
const Version = "1"

// ErrMalformed is returned for payloads that are not a JSON object.
var ErrMalformed = errors.New("ddp: malformed frame")

// Frame is one protocol message.
type Frame struct {
	Msg        string          `json:"msg"`
	ID         string          `json:"id,omitempty"`
	Version    string          `json:"version,omitempty"`
	Support    []string        `json:"support,omitempty"`
	Session    string          `json:"session,omitempty"`
	Method     string          `json:"method,omitempty"`
	Name       string          `json:"name,omitempty"`
	Params     []any           `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *Error          `json:"error,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Fields     *Fields         `json:"fields,omitempty"`
	// Subs lists the subscriptions a ready frame confirms.
	Subs []string `json:"subs,omitempty"`
	// Reason explains a connection-level error frame.
	Reason string `json:"reason,omitempty"`
}

// Fields is the payload of a stream change notification.
type Fields struct {
	EventName string            `json:"eventName"`
	Args      []json.RawMessage `json:"args"`
}

// Error is a method or subscription failure.
type Error struct {
	Code      json.RawMessage `json:"error,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Message   string          `json:"message,omitempty"`
	ErrorType string          `json:"errorType,omitempty"`
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Reason != "":
		return fmt.Sprintf("%s [%s]", e.Reason, string(e.Code))
	case len(e.Code) > 0:
		return "ddp error " + string(e.Code)
	default:
		return "ddp error"
	}
}

// Decode parses one inbound payload. Frames without a "msg" field (the
// server_id greeting) decode to a Frame with an empty Msg.
func Decode(data []byte) (*Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformed
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformed
	}
	msg := root.Get("msg")
	if msg.Type != gjson.String {
		return &Frame{}, nil
	}

	// Heartbeats are the bulk of the traffic; skip the full decode.
	switch msg.Str {
	case KindPing, KindPong:
		return &Frame{Msg: msg.Str, ID: root.Get("id").String()}, nil
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &f, nil
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Msg, err)
	}
	return data, nil
}

// ============================================================================
// Builders
// ============================================================================

func Connect(support ...string) *Frame {
	if len(support) == 0 {
		support = []string{Version}
	}
	return &Frame{Msg: KindConnect, Version: Version, Support: support}
}

func Ping(id string) *Frame { return &Frame{Msg: KindPing, ID: id} }

// Pong answers a ping, echoing its id when it had one.
func Pong(id string) *Frame { return &Frame{Msg: KindPong, ID: id} }

func Method(id, name string, params ...any) *Frame {
	return &Frame{Msg: KindMethod, ID: id, Method: name, Params: params}
}

func Sub(id, name string, params ...any) *Frame {
	return &Frame{Msg: KindSub, ID: id, Name: name, Params: params}
}

// FirstArg returns the first argument of a change notification.
func (f *Frame) FirstArg() (json.RawMessage, bool) {
	if f.Fields == nil || len(f.Fields.Args) == 0 {
		return nil, false
	}
	return f.Fields.Args[0], true
}
