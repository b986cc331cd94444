// internal/feed/fake_test.go
package feed_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/YaganovValera/market-feed/internal/feed"
	"github.com/YaganovValera/market-feed/internal/topic"
)

var errConnClosed = errors.New("fake conn closed")

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.BinaryMessage, b, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// frames returns written control frames with the given action.
func (c *fakeConn) frames(action string) []topic.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []topic.Frame
	for _, b := range c.written {
		f, err := topic.DecodeFrame(b)
		if err == nil && f.Action == action {
			out = append(out, f)
		}
	}
	return out
}

type fakeDialer struct {
	dials atomic.Int32
	fails atomic.Int32 // fail this many dials first
	gate  chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (feed.Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.fails.Load() > 0 {
		d.fails.Add(-1)
		return nil, errors.New("dial refused")
	}
	c := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) count() int { return int(d.dials.Load()) }

// all returns dialed conns in the order their dials returned.
func (d *fakeDialer) all() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}
