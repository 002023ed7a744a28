package realtime

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Credentials identify the account the supervisor logs in as. They are read
// only after Start.
type Credentials struct {
	Host   string
	UserID string
	Token  string
}

// Target is what one supervisor lifecycle watches. It is resolved once per
// input event and never changes afterwards.
type Target struct {
	Origin       Origin
	RoomID       string
	VisitorToken string
	// SessionID is the caller's correlation id for a live conversation.
	SessionID string
}

// MarshalZerologObject logs the target without the visitor token.
func (t Target) MarshalZerologObject(e *zerolog.Event) {
	e.Str("origin", string(t.Origin)).Str("room_id", t.RoomID)
	if t.SessionID != "" {
		e.Str("session_id", t.SessionID)
	}
	if t.VisitorToken != "" {
		e.Bool("visitor", true)
	}
}

func (t Target) validate() error {
	switch t.Origin {
	case OriginUser, OriginRoom:
		if t.RoomID == "" {
			return fmt.Errorf("%w: %s origin needs a room id", ErrInvalidConfig, t.Origin)
		}
	case OriginLive:
		if t.VisitorToken == "" {
			return fmt.Errorf("%w: live origin needs a visitor token", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown origin %q", ErrInvalidConfig, t.Origin)
	}
	return nil
}

// Property kinds.
const (
	PropString = "str"  // literal value
	PropInput  = "msg"  // gjson path evaluated against the input event
	PropForm   = "form" // structured form payload {"i": "<id>"}
	PropEnv    = "env"  // environment variable name
)

// Property is a configured value that may depend on the input event.
type Property struct {
	Type  string `json:"type" toml:"type" yaml:"type"`
	Value string `json:"value" toml:"value" yaml:"value"`
}

// Eval resolves the property against one input event.
func (p Property) Eval(input []byte) (string, error) {
	switch p.Type {
	case "", PropString:
		return p.Value, nil
	case PropInput:
		if len(input) == 0 {
			return "", nil
		}
		if !gjson.ValidBytes(input) {
			return "", fmt.Errorf("%w: input event is not valid JSON", ErrInvalidConfig)
		}
		return gjson.GetBytes(input, strings.TrimPrefix(p.Value, "msg.")).String(), nil
	case PropForm:
		var form struct {
			ID string `json:"i"`
		}
		if err := json.Unmarshal([]byte(p.Value), &form); err != nil {
			return "", fmt.Errorf("%w: decode form payload: %v", ErrInvalidConfig, err)
		}
		return form.ID, nil
	case PropEnv:
		return os.Getenv(p.Value), nil
	default:
		return "", fmt.Errorf("%w: unknown property type %q", ErrInvalidConfig, p.Type)
	}
}

// TargetSpec is the configured, unresolved form of a Target.
type TargetSpec struct {
	Origin       Origin   `json:"origin" toml:"origin" yaml:"origin"`
	Room         Property `json:"room" toml:"room" yaml:"room"`
	VisitorToken Property `json:"visitorToken" toml:"visitor_token" yaml:"visitor_token"`
	SessionID    Property `json:"sessionId" toml:"session_id" yaml:"session_id"`
}

// ResolveTarget evaluates spec against the input event. A live target may be
// returned without a room id; Start then falls back to the visitor's open
// room.
func ResolveTarget(spec TargetSpec, input []byte) (Target, error) {
	origin, err := ParseOrigin(string(spec.Origin))
	if err != nil {
		return Target{}, err
	}
	t := Target{Origin: origin}

	switch origin {
	case OriginUser:
		t.RoomID = MyMessagesRoom
	case OriginRoom:
		if t.RoomID, err = spec.Room.Eval(input); err != nil {
			return Target{}, fmt.Errorf("resolve room: %w", err)
		}
	case OriginLive:
		if t.RoomID, err = spec.Room.Eval(input); err != nil {
			return Target{}, fmt.Errorf("resolve room: %w", err)
		}
		if t.VisitorToken, err = spec.VisitorToken.Eval(input); err != nil {
			return Target{}, fmt.Errorf("resolve visitor token: %w", err)
		}
		if t.SessionID, err = spec.SessionID.Eval(input); err != nil {
			return Target{}, fmt.Errorf("resolve session id: %w", err)
		}
		if t.VisitorToken == "" {
			return Target{}, fmt.Errorf("%w: live origin needs a visitor token", ErrInvalidConfig)
		}
		return t, nil
	}
	if err := t.validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}
