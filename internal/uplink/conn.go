package uplink

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/websocket"
)

// Conn is one established connection to the server. ReadMessage is called
// from a single reader goroutine; WriteMessage only from the session worker.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte, timeout time.Duration) error
	Close() error
}

// Dialer opens connections. Cancelling ctx must abort an in-flight dial.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WebSocketDialer dials the server over WebSocket.
type WebSocketDialer struct {
	URL     string
	Origin  string
	Timeout time.Duration
}

// Dial performs the WebSocket handshake.
func (d WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	cfg, err := websocket.NewConfig(d.URL, d.Origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.URL, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteMessage(data []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return websocket.Message.Send(c.ws, string(data))
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
