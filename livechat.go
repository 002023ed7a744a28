package rocketchat

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// LiveChatClient handles the omnichannel live chat endpoints.
type LiveChatClient struct{ c *Client }

// Config fetches the live chat widget settings as seen by a visitor.
func (l *LiveChatClient) Config(ctx context.Context, token string) (*LiveChatConfigResult, error) {
	return do[LiveChatConfigResult](ctx, l.c, "GET", "livechat/config", nil, url.Values{"token": {token}})
}

// RegisterVisitor creates or updates the visitor identified by opts.Token.
func (l *LiveChatClient) RegisterVisitor(ctx context.Context, opts *VisitorOptions) (*VisitorResult, error) {
	if opts == nil || opts.Token == "" {
		return nil, fmt.Errorf("visitor token is required")
	}
	return do[VisitorResult](ctx, l.c, "POST", "livechat/visitor", map[string]any{"visitor": opts}, nil)
}

// Room opens (or returns the already open) room for a visitor.
func (l *LiveChatClient) Room(ctx context.Context, token string) (*RoomResult, error) {
	return do[RoomResult](ctx, l.c, "GET", "livechat/room", nil, url.Values{"token": {token}})
}

// VisitorRooms lists the rooms currently open for a visitor.
func (l *LiveChatClient) VisitorRooms(ctx context.Context, token string) (*RoomsResult, error) {
	if token == "" {
		return nil, fmt.Errorf("visitor token is required")
	}
	return do[RoomsResult](ctx, l.c, "GET", "livechat/visitor/"+url.PathEscape(token)+"/room", nil, nil)
}

// Rooms lists live chat rooms visible to the authenticated agent.
func (l *LiveChatClient) Rooms(ctx context.Context, openOnly bool) (*RoomsResult, error) {
	var q url.Values
	if openOnly {
		q = url.Values{"open": {"true"}}
	}
	return do[RoomsResult](ctx, l.c, "GET", "livechat/rooms", nil, q)
}

// SendMessage posts a message to a live chat room on behalf of the visitor.
func (l *LiveChatClient) SendMessage(ctx context.Context, token, roomID, text string) (*MessageResult, error) {
	return do[MessageResult](ctx, l.c, "POST", "livechat/message", map[string]string{
		"token": token,
		"rid":   roomID,
		"msg":   text,
	}, nil)
}

// CloseRoom closes one live chat room on behalf of the visitor.
func (l *LiveChatClient) CloseRoom(ctx context.Context, token, roomID string) (*Result, error) {
	return do[Result](ctx, l.c, "POST", "livechat/room.close", map[string]string{
		"rid":   roomID,
		"token": token,
	}, nil)
}

// CloseVisitorRooms closes every room currently open for a visitor.
func (l *LiveChatClient) CloseVisitorRooms(ctx context.Context, token string) ([]CloseRoomResult, error) {
	rooms, err := l.VisitorRooms(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := rooms.Err(); err != nil {
		return nil, err
	}
	results := make([]CloseRoomResult, 0, len(rooms.Rooms))
	for _, room := range rooms.Rooms {
		res, err := l.CloseRoom(ctx, token, room.ID)
		if err != nil {
			return results, fmt.Errorf("close room %s: %w", room.ID, err)
		}
		results = append(results, CloseRoomResult{RoomID: room.ID, Result: *res})
	}
	return results, nil
}

// CloseIdleRooms closes every open live chat room whose last message is
// older than idle relative to now.
func (l *LiveChatClient) CloseIdleRooms(ctx context.Context, idle time.Duration, now time.Time) ([]CloseRoomResult, error) {
	rooms, err := l.Rooms(ctx, true)
	if err != nil {
		return nil, err
	}
	if err := rooms.Err(); err != nil {
		return nil, err
	}
	var results []CloseRoomResult
	for _, room := range rooms.Rooms {
		if room.Visitor == nil || room.LastMessageAt.IsZero() {
			continue
		}
		if !room.LastMessageAt.Add(idle).Before(now) {
			continue
		}
		res, err := l.CloseRoom(ctx, room.Visitor.Token, room.ID)
		if err != nil {
			return results, fmt.Errorf("close room %s: %w", room.ID, err)
		}
		results = append(results, CloseRoomResult{RoomID: room.ID, Result: *res})
	}
	return results, nil
}

// SetCustomField stores a custom field on the visitor identified by opts.Token.
func (l *LiveChatClient) SetCustomField(ctx context.Context, opts *CustomFieldOptions) (*CustomFieldResult, error) {
	if opts == nil || opts.Token == "" || opts.Key == "" {
		return nil, fmt.Errorf("token and key are required")
	}
	return do[CustomFieldResult](ctx, l.c, "POST", "livechat/custom.field", opts, nil)
}

// Transfer moves a live chat room to another department.
func (l *LiveChatClient) Transfer(ctx context.Context, opts *TransferOptions) (*Result, error) {
	if opts == nil || opts.RoomID == "" || opts.Department == "" {
		return nil, fmt.Errorf("rid and department are required")
	}
	return do[Result](ctx, l.c, "POST", "livechat/room.transfer", opts, nil)
}
