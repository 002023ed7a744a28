package rocketchat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendToRoom(t *testing.T) {
	srv := newStubServer(t, map[string]string{"/api/v1/chat.postMessage": `{"success":true,"message":{"_id":"m1"}}`})
	c := newTestClient(t, srv)

	rid, err := c.Send(context.Background(), &SendOptions{RoomID: "GENERAL", Text: "hi", Alias: "bridge"})
	require.NoError(t, err)
	assert.Equal(t, "GENERAL", rid)
	assert.JSONEq(t, `{"roomId":"GENERAL","text":"hi","alias":"bridge"}`, string(srv.calls()[0].Body))
}

func TestSendToUserOpensDirectRoom(t *testing.T) {
	srv := newStubServer(t, map[string]string{
		"/api/v1/im.create":        `{"success":true,"room":{"_id":"D42","t":"d"}}`,
		"/api/v1/chat.postMessage": `{"success":true}`,
	})
	c := newTestClient(t, srv)

	rid, err := c.Send(context.Background(), &SendOptions{Destination: DestinationUser, RoomID: "bob", Text: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "D42", rid)
	calls := srv.calls()
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"username":"bob"}`, string(calls[0].Body))
	assert.Contains(t, string(calls[1].Body), `"roomId":"D42"`)
}

func TestSendBotReply(t *testing.T) {
	srv := newStubServer(t, map[string]string{"/api/v1/chat.sendMessage": `{"success":true}`})
	c := newTestClient(t, srv)

	_, err := c.Send(context.Background(), &SendOptions{Destination: DestinationBotReply, RoomID: "L1", Text: "answer"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":{"rid":"L1","msg":"answer"}}`, string(srv.calls()[0].Body))
}

func TestSendBotReplyFallsBackToVisitorRoom(t *testing.T) {
	srv := newStubServer(t, map[string]string{
		"/api/v1/livechat/visitor/vt-1/room": `{"success":true,"rooms":[{"_id":"L7","t":"l"},{"_id":"L8","t":"l"}]}`,
		"/api/v1/chat.sendMessage":           `{"success":true}`,
	})
	c := newTestClient(t, srv)

	rid, err := c.Send(context.Background(), &SendOptions{Destination: DestinationBotReply, VisitorToken: "vt-1", Text: "answer"})
	require.NoError(t, err)
	assert.Equal(t, "L7", rid)
	calls := srv.calls()
	require.Len(t, calls, 2)
	assert.JSONEq(t, `{"message":{"rid":"L7","msg":"answer"}}`, string(calls[1].Body))

	empty := newStubServer(t, map[string]string{"/api/v1/livechat/visitor/vt-2/room": `{"success":true,"rooms":[]}`})
	_, err = newTestClient(t, empty).Send(context.Background(), &SendOptions{Destination: DestinationBotReply, VisitorToken: "vt-2", Text: "answer"})
	assert.ErrorContains(t, err, "no open live chat room")
}

func TestSendLiveWithoutAttachmentsUsesVisitorEndpoint(t *testing.T) {
	srv := newStubServer(t, map[string]string{
		"/api/v1/livechat/visitor/vt-1/room": `{"success":true,"rooms":[{"_id":"L7","t":"l"}]}`,
		"/api/v1/livechat/message":           `{"success":true}`,
	})
	c := newTestClient(t, srv)

	rid, err := c.Send(context.Background(), &SendOptions{Destination: DestinationLive, VisitorToken: "vt-1", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "L7", rid)
	assert.JSONEq(t, `{"token":"vt-1","rid":"L7","msg":"hello"}`, string(srv.calls()[1].Body))
}

func TestSendLiveNoOpenRoom(t *testing.T) {
	srv := newStubServer(t, map[string]string{"/api/v1/livechat/visitor/vt-1/room": `{"success":true,"rooms":[]}`})
	c := newTestClient(t, srv)

	_, err := c.Send(context.Background(), &SendOptions{Destination: DestinationLive, VisitorToken: "vt-1", Text: "hello"})
	assert.ErrorContains(t, err, "no open live chat room")
}

func TestSendValidation(t *testing.T) {
	c, err := NewClient("https://chat.example.com", "alice", "t")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Send(ctx, nil)
	assert.Error(t, err)
	_, err = c.Send(ctx, &SendOptions{Text: "x"})
	assert.ErrorContains(t, err, "roomId is required")
	_, err = c.Send(ctx, &SendOptions{Destination: DestinationBotReply, Text: "x"})
	assert.ErrorContains(t, err, "roomId or visitor token is required")
	_, err = c.Send(ctx, &SendOptions{Destination: DestinationLive, RoomID: "L1"})
	assert.ErrorContains(t, err, "visitor token is required")
	_, err = c.Send(ctx, &SendOptions{Destination: "fax", RoomID: "R1"})
	assert.ErrorContains(t, err, "invalid destination")
}

// liveServer serves attachment downloads and records what was posted.
func liveServer(t *testing.T, uploadAnswer string) (*httptest.Server, func() []string) {
	t.Helper()
	var (
		mu    sync.Mutex
		texts []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/files/photo.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer cdn", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG"))
	})
	mux.HandleFunc("/files/missing.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/chat.sendMessage", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		texts = append(texts, string(body))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/api/v1/rooms.upload/L1", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		mu.Lock()
		texts = append(texts, "upload:"+r.FormValue("msg"))
		mu.Unlock()
		_, _ = w.Write([]byte(uploadAnswer))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), texts...)
	}
}

func TestSendLiveAttachments(t *testing.T) {
	srv, posted := liveServer(t, `{"success":true}`)
	c, err := NewClient(srv.URL, "alice", "t")
	require.NoError(t, err)

	err = c.SendLive(context.Background(), "vt-1", "L1", "see attached", []Attachment{
		{ImageURL: srv.URL + "/files/photo.png", Caption: "a photo"},
		{FileURL: srv.URL + "/files/photo.png"},
	}, map[string]string{"Authorization": "Bearer cdn"})
	require.NoError(t, err)

	got := posted()
	require.Len(t, got, 3)
	assert.Contains(t, got[0], `"msg":"see attached"`)
	assert.Equal(t, "upload:a photo", got[1])
	assert.Equal(t, "upload:"+defaultCaption, got[2])
}

func TestSendLiveUploadFailuresPostNotice(t *testing.T) {
	srv, posted := liveServer(t, `{"success":false,"error":"File type is not accepted","errorType":"error-invalid-file-type"}`)
	c, err := NewClient(srv.URL, "alice", "t")
	require.NoError(t, err)

	err = c.SendLive(context.Background(), "vt-1", "L1", "two files", []Attachment{
		{ImageURL: srv.URL + "/files/photo.png"},
		{FileURL: srv.URL + "/files/missing.pdf"},
	}, map[string]string{"Authorization": "Bearer cdn"})
	require.Error(t, err)
	assert.True(t, IsInvalidFileType(err))

	got := posted()
	require.Len(t, got, 4)
	assert.Contains(t, got[0], `"msg":"two files"`)
	assert.Equal(t, "upload:"+defaultCaption, got[1])
	assert.Contains(t, got[2], invalidFileTypeText)
	// The download itself failed, so no upload was attempted.
	assert.Contains(t, got[3], uploadFailedText)
}
