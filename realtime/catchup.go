package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
)

// catchUp replays messages that arrived while nothing was listening. It runs
// once per session, concurrently with the handshake.
type catchUp struct {
	ctx    context.Context
	api    RoomAPI
	creds  Credentials
	target Target
	emit   func(rocketchat.Message)
}

// directRooms replays every direct conversation with unread messages.
func (c *catchUp) directRooms() error {
	res, err := c.api.Subscriptions(c.ctx)
	if err := checked(res, err); err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var errs []error
	for _, sub := range res.Update {
		if sub.Type != rocketchat.RoomTypeDirect || sub.Unread <= 0 {
			continue
		}
		if err := c.replay(sub.RoomID, sub.LastSeen.Time, sub.Type); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// room replays the target room from its last-seen marker.
func (c *catchUp) room() error {
	res, err := c.api.Subscription(c.ctx, c.target.RoomID)
	if err := checked(res, err); err != nil {
		return fmt.Errorf("get subscription %s: %w", c.target.RoomID, err)
	}
	if res.Subscription == nil {
		return fmt.Errorf("get subscription %s: not subscribed", c.target.RoomID)
	}
	return c.replay(c.target.RoomID, res.Subscription.LastSeen.Time, res.Subscription.Type)
}

func (c *catchUp) replay(roomID string, since time.Time, roomType string) error {
	res, err := c.api.UnreadMessages(c.ctx, roomID, since, roomType)
	if err := checked(res, err); err != nil {
		return fmt.Errorf("unread messages for %s: %w", roomID, err)
	}

	// History comes newest first.
	msgs := res.Messages
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp.Time)
	})
	for _, m := range msgs {
		if m.User.ID != c.creds.UserID {
			c.emit(m)
		}
	}

	if err := checked(c.api.MarkAsRead(c.ctx, roomID)); err != nil {
		return fmt.Errorf("mark %s read: %w", roomID, err)
	}
	return nil
}
