package realtime

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// Close codes used when the bridge ends a connection.
const (
	StatusNormalClosure = int(websocket.StatusNormalClosure)
	StatusGoingAway     = int(websocket.StatusGoingAway)
)

// readLimit bounds one inbound frame. Room history payloads routinely exceed
// the websocket package's 32 KiB default.
const readLimit = 4 << 20

// Conn is one message-oriented duplex connection.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Dialer opens connections to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) { return f(ctx, endpoint) }

// WebSocketDialer dials with nhooyr.io/websocket.
type WebSocketDialer struct {
	HTTPClient *http.Client
	Header     http.Header
}

func (d WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return wsConn{conn: conn}, nil
}

type wsConn struct{ conn *websocket.Conn }

func (c wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c wsConn) Close(code int, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}
