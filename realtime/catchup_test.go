package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
)

func newCatchUp(api RoomAPI, target Target) (*catchUp, *[]rocketchat.Message) {
	var got []rocketchat.Message
	return &catchUp{
		ctx:    context.Background(),
		api:    api,
		creds:  testCreds,
		target: target,
		emit:   func(m rocketchat.Message) { got = append(got, m) },
	}, &got
}

func at(ms int64) rocketchat.Time { return rocketchat.Time{Time: time.UnixMilli(ms)} }

func TestCatchUpDirectRooms(t *testing.T) {
	api := newFakeAPI()
	api.subs = &rocketchat.SubscriptionsResult{
		Result: rocketchat.Result{Success: true},
		Update: []rocketchat.Subscription{
			{RoomID: "D1", Type: "d", Unread: 2, LastSeen: at(1000)},
			{RoomID: "D2", Type: "d", Unread: 0, LastSeen: at(1000)},
			{RoomID: "C1", Type: "c", Unread: 5, LastSeen: at(1000)},
			{RoomID: "D3", Type: "d", Unread: 1, LastSeen: at(3000)},
		},
	}
	api.history["D1"] = []rocketchat.Message{
		{ID: "m2", User: rocketchat.User{ID: "alice"}, Text: "mine", Timestamp: at(2500)},
		{ID: "m1", User: rocketchat.User{ID: "bob"}, Text: "from bob", Timestamp: at(2000)},
	}
	api.history["D3"] = []rocketchat.Message{
		{ID: "m3", User: rocketchat.User{ID: "carol"}, Text: "from carol", Timestamp: at(3500)},
	}

	c, got := newCatchUp(api, Target{Origin: OriginUser, RoomID: MyMessagesRoom})
	require.NoError(t, strategyFor(OriginUser).catchUp(c))

	require.Len(t, *got, 2)
	assert.Equal(t, "from bob", (*got)[0].Text)
	assert.Equal(t, "from carol", (*got)[1].Text)
	assert.Equal(t, []string{"D1", "D3"}, api.readCalls())
	assert.Equal(t, time.UnixMilli(1000), api.since["D1"])
	assert.Equal(t, time.UnixMilli(3000), api.since["D3"])
}

func TestCatchUpDirectRoomsContinuesPastFailures(t *testing.T) {
	api := newFakeAPI()
	api.subs = &rocketchat.SubscriptionsResult{
		Result: rocketchat.Result{Success: true},
		Update: []rocketchat.Subscription{
			{RoomID: "D1", Type: "d", Unread: 1},
			{RoomID: "D2", Type: "d", Unread: 1},
		},
	}
	// No history for D1: the fake answers success:false.
	api.history["D2"] = []rocketchat.Message{{ID: "m1", User: rocketchat.User{ID: "bob"}, Text: "still here"}}

	c, got := newCatchUp(api, Target{Origin: OriginUser, RoomID: MyMessagesRoom})
	err := c.directRooms()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "D1")

	require.Len(t, *got, 1)
	assert.Equal(t, "still here", (*got)[0].Text)
	assert.Equal(t, []string{"D2"}, api.readCalls())
}

func TestCatchUpRoom(t *testing.T) {
	api := newFakeAPI()
	api.sub = &rocketchat.SubscriptionResult{
		Result:       rocketchat.Result{Success: true},
		Subscription: &rocketchat.Subscription{RoomID: "R1", Type: "p", LastSeen: at(5000)},
	}
	api.history["R1"] = []rocketchat.Message{
		{ID: "m1", User: rocketchat.User{ID: "bob"}, Text: "hi"},
		{ID: "m2", User: rocketchat.User{ID: "alice"}, Text: "hello bob"},
	}

	c, got := newCatchUp(api, Target{Origin: OriginRoom, RoomID: "R1"})
	require.NoError(t, strategyFor(OriginRoom).catchUp(c))

	require.Len(t, *got, 1)
	assert.Equal(t, "hi", (*got)[0].Text)
	assert.Equal(t, []string{"R1"}, api.readCalls())
	assert.Equal(t, time.UnixMilli(5000), api.since["R1"])
}

func TestCatchUpRoomFailures(t *testing.T) {
	api := newFakeAPI()
	c, got := newCatchUp(api, Target{Origin: OriginRoom, RoomID: "R1"})
	assert.ErrorContains(t, c.room(), "not configured")

	api.sub = &rocketchat.SubscriptionResult{Result: rocketchat.Result{Success: true}}
	assert.ErrorContains(t, c.room(), "not subscribed")

	assert.Empty(t, *got)
	assert.Empty(t, api.readCalls())
}

func TestCatchUpLiveIsNoop(t *testing.T) {
	api := newFakeAPI()
	c, got := newCatchUp(api, Target{Origin: OriginLive, RoomID: "L1", VisitorToken: "v"})
	require.NoError(t, strategyFor(OriginLive).catchUp(c))
	assert.Empty(t, *got)
}
