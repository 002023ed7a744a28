package realtime

import (
	"fmt"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
	"github.com/Prismer-AI/rocketchat-bridge/ddp"
)

// Origin selects how the supervisor logs in, what it subscribes to and how
// it recognizes its own messages.
type Origin string

const (
	OriginUser Origin = "user"
	OriginRoom Origin = "room"
	OriginLive Origin = "live"
)

// MyMessagesRoom is the pseudo room that streams every message visible to
// the logged-in user.
const MyMessagesRoom = "__my_messages__"

const (
	streamRoomMessages  = "stream-room-messages"
	streamLiveChatRoom  = "stream-livechat-room"
	methodLogin         = "login"
	methodLiveChatSetUp = "livechat:setUpConnection"
)

// ParseOrigin validates an origin name.
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(s); o {
	case OriginUser, OriginRoom, OriginLive:
		return o, nil
	case "":
		return OriginUser, nil
	default:
		return "", fmt.Errorf("%w: unknown origin %q", ErrInvalidConfig, s)
	}
}

// verdict is what the router does with one inbound message.
type verdict struct {
	emit bool
	// ackRoom is the room to mark as read; empty means no ack.
	ackRoom string
	// closing is set when the message ends the conversation.
	closing bool
}

// strategy holds the per-origin differences. The handshake, router,
// catch-up and poller consult it instead of branching on Origin.
type strategy interface {
	support() []string
	login(creds Credentials, t Target) *ddp.Frame
	subscriptions(t Target) []*ddp.Frame
	route(creds Credentials, t Target, msg *rocketchat.Message) verdict
	catchUp(c *catchUp) error
	polls() bool
}

func strategyFor(o Origin) strategy {
	switch o {
	case OriginLive:
		return liveStrategy{}
	case OriginRoom:
		return roomStrategy{}
	default:
		return userStrategy{}
	}
}

// accountStrategy is shared by the origins that log in as a user.
type accountStrategy struct{}

func (accountStrategy) support() []string { return []string{ddp.Version} }

func (accountStrategy) login(creds Credentials, _ Target) *ddp.Frame {
	return ddp.Method("1", methodLogin, map[string]any{"resume": creds.Token})
}

func (accountStrategy) subscriptions(t Target) []*ddp.Frame {
	return []*ddp.Frame{ddp.Sub("2", streamRoomMessages, t.RoomID, true)}
}

func (accountStrategy) route(creds Credentials, t Target, msg *rocketchat.Message) verdict {
	return verdict{
		emit:    msg.User.ID != creds.UserID,
		ackRoom: ackRoom(msg, t),
	}
}

func (accountStrategy) polls() bool { return false }

type userStrategy struct{ accountStrategy }

func (userStrategy) catchUp(c *catchUp) error { return c.directRooms() }

type roomStrategy struct{ accountStrategy }

func (roomStrategy) catchUp(c *catchUp) error { return c.room() }

type liveStrategy struct{}

func (liveStrategy) support() []string { return []string{ddp.Version, "pre2", "pre1"} }

func (liveStrategy) login(_ Credentials, t Target) *ddp.Frame {
	return ddp.Method("ddp-1", methodLiveChatSetUp, map[string]any{"token": t.VisitorToken})
}

func (liveStrategy) subscriptions(t Target) []*ddp.Frame {
	args := map[string]any{
		"useCollection": false,
		"args":          []any{map[string]any{"visitorToken": t.VisitorToken}},
	}
	return []*ddp.Frame{
		ddp.Sub("ddp-2", streamRoomMessages, t.RoomID, args),
		ddp.Sub("ddp-3", streamLiveChatRoom, t.RoomID, args),
	}
}

func (liveStrategy) route(_ Credentials, t Target, msg *rocketchat.Message) verdict {
	return verdict{
		emit:    msg.Token != t.VisitorToken,
		ackRoom: ackRoom(msg, t),
		closing: msg.Type == rocketchat.MessageTypeLiveChatClose,
	}
}

// Live sessions have no unread backlog to replay.
func (liveStrategy) catchUp(*catchUp) error { return nil }

func (liveStrategy) polls() bool { return true }

func ackRoom(msg *rocketchat.Message, t Target) string {
	if msg.RoomID != "" {
		return msg.RoomID
	}
	return t.RoomID
}
