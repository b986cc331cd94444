// internal/feed/transport.go
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the feed uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a socket to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial opens the socket. The HTTP response body is not needed after the
// upgrade and is discarded.
func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dl := d.Dialer
	if dl == nil {
		dl = websocket.DefaultDialer
	}
	conn, resp, err := dl.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("feed: dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("feed: dial: %w", err)
	}
	return conn, nil
}
