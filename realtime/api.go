package realtime

import (
	"context"
	"time"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
)

// RoomAPI is the slice of the REST API the realtime core needs.
// Implementations report both transport errors and success:false answers;
// callers treat the two the same way.
type RoomAPI interface {
	Subscriptions(ctx context.Context) (*rocketchat.SubscriptionsResult, error)
	Subscription(ctx context.Context, roomID string) (*rocketchat.SubscriptionResult, error)
	UnreadMessages(ctx context.Context, roomID string, oldest time.Time, roomType string) (*rocketchat.HistoryResult, error)
	MarkAsRead(ctx context.Context, roomID string) (*rocketchat.Result, error)
	LiveChatRooms(ctx context.Context, visitorToken string) (*rocketchat.RoomsResult, error)
}

// NewRoomAPI adapts a REST client.
func NewRoomAPI(c *rocketchat.Client) RoomAPI { return restAPI{c: c} }

type restAPI struct{ c *rocketchat.Client }

func (a restAPI) Subscriptions(ctx context.Context) (*rocketchat.SubscriptionsResult, error) {
	return a.c.Subscriptions.Get(ctx)
}

func (a restAPI) Subscription(ctx context.Context, roomID string) (*rocketchat.SubscriptionResult, error) {
	return a.c.Subscriptions.GetOne(ctx, roomID)
}

func (a restAPI) UnreadMessages(ctx context.Context, roomID string, oldest time.Time, roomType string) (*rocketchat.HistoryResult, error) {
	return a.c.Rooms.History(ctx, roomID, oldest, roomType)
}

func (a restAPI) MarkAsRead(ctx context.Context, roomID string) (*rocketchat.Result, error) {
	return a.c.Subscriptions.Read(ctx, roomID)
}

func (a restAPI) LiveChatRooms(ctx context.Context, visitorToken string) (*rocketchat.RoomsResult, error) {
	return a.c.LiveChat.VisitorRooms(ctx, visitorToken)
}

// checked folds a REST answer into one error value.
func checked(res interface{ Err() error }, err error) error {
	if err != nil {
		return err
	}
	return res.Err()
}
