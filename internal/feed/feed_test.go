// internal/feed/feed_test.go
package feed_test

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/internal/feed"
	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/topic"
	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fastConfig() feed.Config {
	return feed.Config{
		Scheme:            "ws",
		Host:              "feed.test",
		HeartbeatInterval: time.Hour,
		ReconnectDebounce: 40 * time.Millisecond,
		ForceSettle:       20 * time.Millisecond,
		HiddenThreshold:   time.Hour,
		SafetyDelay:       time.Hour,
		DialTimeout:       time.Second,
		WriteTimeout:      time.Second,
		Backoff: backoff.Config{
			InitialInterval:     10 * time.Millisecond,
			RandomizationFactor: 0.01,
			Multiplier:          1.5,
			MaxInterval:         20 * time.Millisecond,
		},
	}
}

var goodCreds = feed.StaticCredentials{LoginID: "user-1", Token: "tok-1"}

func newFeed(t *testing.T, cfg feed.Config, creds feed.CredentialsProvider, d *fakeDialer) *feed.Feed {
	t.Helper()
	f, err := feed.New(cfg, creds, logger.NewNop(), feed.WithDialer(d))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

type collector struct {
	mu     sync.Mutex
	events []format.Event
}

func (c *collector) cb(ev format.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) at(i int) format.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

var detailSpec = topic.Spec{Type: packet.TypeDetail, Exchange: "NSE", Token: 3045}

func detailFrame(t *testing.T, ltp, closePx int64) []byte {
	t.Helper()
	b, err := packet.Encode(packet.Record{
		Mode:     packet.ModeDetail,
		Exchange: 1,
		Token:    3045,
		Values:   map[string]int64{"ltp": ltp, "close": closePx},
	})
	require.NoError(t, err)
	return b
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := feed.New(feed.Config{}, goodCreds, logger.NewNop())
	require.Error(t, err)

	cfg := fastConfig()
	cfg.Scheme = "http"
	_, err = feed.New(cfg, goodCreds, logger.NewNop())
	require.Error(t, err)

	_, err = feed.New(fastConfig(), nil, logger.NewNop())
	require.Error(t, err)
}

func TestConnect_OpensAndBuildsURL(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)

	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.IsConnected())
	assert.Equal(t, feed.Open, f.State())

	d.mu.Lock()
	u, err := url.Parse(d.urls[0])
	d.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "feed.test", u.Host)
	assert.Equal(t, "user-1", u.Query().Get("login_id"))
	assert.Equal(t, "tok-1", u.Query().Get("token"))
	assert.Equal(t, "web", u.Query().Get("device"))

	// already open
	ok, err = f.Connect(ctxT(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, d.count())
}

func TestConnect_MissingCredentialsDoesNotDial(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), feed.StaticCredentials{LoginID: "only-login"}, d)

	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	assert.False(t, ok)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, d.count())
	assert.Equal(t, feed.Disconnected, f.State())

	st, err := f.Status(ctxT(t))
	require.NoError(t, err)
	assert.False(t, st.ReconnectPending)
}

func TestConnect_JoinsInFlightAttempt(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	f := newFeed(t, fastConfig(), goodCreds, d)

	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := f.Connect(ctxT(t))
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	require.Eventually(t, func() bool { return d.count() == 1 }, waitFor, tick)
	time.Sleep(30 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	assert.Equal(t, []bool{true, true, true}, results)
	assert.Equal(t, 1, d.count())
}

func TestConnect_DialFailureRetriesWithBackoff(t *testing.T) {
	d := &fakeDialer{}
	d.fails.Store(2)
	f := newFeed(t, fastConfig(), goodCreds, d)

	ok, err := f.Connect(ctxT(t))
	assert.False(t, ok)
	require.Error(t, err)

	require.Eventually(t, f.IsConnected, waitFor, tick)
	assert.Equal(t, 3, d.count())
}

func TestSubscribe_DispatchesFormattedEvent(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	var got collector

	h, err := f.Subscribe(ctxT(t), detailSpec, got.cb)
	require.NoError(t, err)
	assert.Equal(t, packet.Topic("DetailMarketDataMessage/1/3045"), h.Topic)

	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)

	conn := d.last()
	subs := conn.frames(topic.ActionSubscribe)
	require.Len(t, subs, 1)
	assert.Equal(t, "marketdata", subs[0].Method)

	conn.in <- detailFrame(t, 374550, 370000)
	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)

	ev := got.at(0)
	assert.Equal(t, "NSE", ev.Exchange)
	assert.InDelta(t, 3745.50, ev.Price("ltp"), 1e-9)
	assert.InDelta(t, 3700.00, ev.Price("close"), 1e-9)
	assert.True(t, ev.HasChange)
	assert.InDelta(t, 45.5, ev.AbsoluteChange, 1e-9)

	require.NoError(t, h.Unsubscribe(ctxT(t)))
	require.Eventually(t, func() bool {
		return len(conn.frames(topic.ActionUnsubscribe)) == 1
	}, waitFor, tick)

	// second unsubscribe is a no-op
	require.NoError(t, h.Unsubscribe(ctxT(t)))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, conn.frames(topic.ActionUnsubscribe), 1)
}

func TestSubscribe_RejectsBadSpec(t *testing.T) {
	f := newFeed(t, fastConfig(), goodCreds, &fakeDialer{})

	_, err := f.Subscribe(ctxT(t), topic.Spec{Type: "Nope"}, func(format.Event) {})
	require.ErrorIs(t, err, topic.ErrUnknownType)

	_, err = f.Subscribe(ctxT(t), topic.Spec{Type: packet.TypeDetail}, func(format.Event) {})
	require.ErrorIs(t, err, topic.ErrMissingToken)

	_, err = f.Subscribe(ctxT(t), detailSpec, nil)
	require.Error(t, err)
}

func TestReconnect_BurstCollapsesIntoOneDial(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)

	d.last().Close()
	require.Eventually(t, func() bool { return !f.IsConnected() }, waitFor, tick)
	for i := 0; i < 3; i++ {
		f.SetOnline(true)
	}

	require.Eventually(t, f.IsConnected, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 2, d.count())
}

func TestSocketDrop_ReconnectsAndReplays(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	var got collector
	_, err := f.Subscribe(ctxT(t), detailSpec, got.cb)
	require.NoError(t, err)
	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)
	first := d.last()

	first.Close()
	require.Eventually(t, func() bool { return d.count() == 2 && f.IsConnected() }, waitFor, tick)

	second := d.last()
	assert.NotSame(t, first, second)
	assert.Len(t, second.frames(topic.ActionSubscribe), 1)

	second.in <- detailFrame(t, 374550, 370000)
	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	assert.Equal(t, 3745.50, got.at(0).Price("ltp"))
}

func TestSocketDrop_StateWhileReconnectPending(t *testing.T) {
	cfg := fastConfig()
	cfg.ReconnectDebounce = time.Hour
	d := &fakeDialer{}
	f := newFeed(t, cfg, goodCreds, d)
	_, err := f.Subscribe(ctxT(t), detailSpec, func(format.Event) {})
	require.NoError(t, err)
	_, err = f.Connect(ctxT(t))
	require.NoError(t, err)

	d.last().Close()
	require.Eventually(t, func() bool { return f.State() == feed.Reconnecting }, waitFor, tick)
	assert.False(t, f.IsConnected())

	ok, err := f.RefreshSubscriptions(ctxT(t))
	require.NoError(t, err)
	assert.False(t, ok)

	st, err := f.Status(ctxT(t))
	require.NoError(t, err)
	assert.True(t, st.ReconnectPending)

	// going offline cancels the pending reconnect and nothing is left running
	f.SetOnline(false)
	require.Eventually(t, func() bool { return f.State() == feed.Disconnected }, waitFor, tick)
	st, err = f.Status(ctxT(t))
	require.NoError(t, err)
	assert.False(t, st.ReconnectPending)
	assert.False(t, st.Online)
	assert.Equal(t, "disconnected", st.StateName)
}

func TestForceReconnect_DropsStaleFrames(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	var got collector
	_, err := f.Subscribe(ctxT(t), detailSpec, got.cb)
	require.NoError(t, err)
	_, err = f.Connect(ctxT(t))
	require.NoError(t, err)
	first := d.last()

	f.ForceReconnect()
	require.Eventually(t, first.isClosed, waitFor, tick)
	for i := 0; i < 5; i++ {
		first.in <- detailFrame(t, 111, 100)
	}

	require.Eventually(t, func() bool { return d.count() == 2 && f.IsConnected() }, waitFor, tick)
	d.last().in <- detailFrame(t, 222, 100)
	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.len())
	assert.Equal(t, 2.22, got.at(0).Price("ltp"))
}

func TestSafety_RetriesStuckDial(t *testing.T) {
	cfg := fastConfig()
	cfg.ReconnectDebounce = 10 * time.Millisecond
	cfg.SafetyDelay = 80 * time.Millisecond
	cfg.DialTimeout = time.Hour
	d := &fakeDialer{}
	f := newFeed(t, cfg, goodCreds, d)
	_, err := f.Connect(ctxT(t))
	require.NoError(t, err)

	// every later dial hangs until the gate opens
	d.gate = make(chan struct{})
	d.last().Close()

	require.Eventually(t, func() bool { return d.count() == 3 }, waitFor, tick)
	assert.False(t, f.IsConnected())
	close(d.gate)

	require.Eventually(t, f.IsConnected, waitFor, tick)
	require.Eventually(t, func() bool { return len(d.all()) == 3 }, waitFor, tick)
	conns := d.all()
	require.Eventually(t, func() bool { return conns[1].isClosed() != conns[2].isClosed() }, waitFor, tick)
	assert.Equal(t, 3, d.count())
}

func TestUnsubscribe_FromCallback(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)

	var (
		h     *feed.Handle
		calls atomic.Int32
		errCh = make(chan error, 4)
	)
	h, err := f.Subscribe(ctxT(t), detailSpec, func(format.Event) {
		calls.Add(1)
		errCh <- h.Unsubscribe(context.Background())
	})
	require.NoError(t, err)
	_, err = f.Connect(ctxT(t))
	require.NoError(t, err)
	conn := d.last()

	conn.in <- detailFrame(t, 1, 1)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("unsubscribe from callback blocked")
	}

	require.Eventually(t, func() bool { return len(conn.frames(topic.ActionUnsubscribe)) == 1 }, waitFor, tick)
	conn.in <- detailFrame(t, 2, 1)

	st, err := f.Status(ctxT(t))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Topics)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHidden_PausesDispatchButKeepsHeartbeat(t *testing.T) {
	cfg := fastConfig()
	cfg.HeartbeatInterval = 15 * time.Millisecond
	d := &fakeDialer{}
	f := newFeed(t, cfg, goodCreds, d)
	var got collector

	_, err := f.Subscribe(ctxT(t), detailSpec, got.cb)
	require.NoError(t, err)
	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)
	conn := d.last()

	f.SetVisible(false)
	conn.in <- detailFrame(t, 100, 100)

	beats := len(conn.frames(topic.ActionHeartbeat))
	require.Eventually(t, func() bool {
		return len(conn.frames(topic.ActionHeartbeat)) >= beats+2
	}, waitFor, tick)
	assert.Equal(t, 0, got.len())

	st, err := f.Status(ctxT(t))
	require.NoError(t, err)
	assert.False(t, st.Visible)
	assert.False(t, st.Processing)
	assert.Equal(t, "open", st.StateName)

	f.SetVisible(true)
	conn.in <- detailFrame(t, 200, 100)
	require.Eventually(t, func() bool { return got.len() == 1 }, waitFor, tick)
	assert.Equal(t, 1, d.count())
}

func TestHidden_LongerThanThresholdForcesReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.HiddenThreshold = 20 * time.Millisecond
	d := &fakeDialer{}
	f := newFeed(t, cfg, goodCreds, d)
	_, err := f.Subscribe(ctxT(t), detailSpec, func(format.Event) {})
	require.NoError(t, err)
	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)
	first := d.last()

	f.SetVisible(false)
	time.Sleep(50 * time.Millisecond)
	f.SetVisible(true)

	require.Eventually(t, func() bool { return d.count() == 2 && f.IsConnected() }, waitFor, tick)
	assert.True(t, first.isClosed())
	assert.Len(t, d.last().frames(topic.ActionSubscribe), 1)
}

func TestForceReconnect_ResubscribesOnce(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	var a, b collector
	_, err := f.Subscribe(ctxT(t), detailSpec, a.cb)
	require.NoError(t, err)
	// same topic, second callback: no extra wire frame
	_, err = f.Subscribe(ctxT(t), detailSpec, b.cb)
	require.NoError(t, err)

	ok, err := f.Connect(ctxT(t))
	require.NoError(t, err)
	require.True(t, ok)
	first := d.last()
	require.Len(t, first.frames(topic.ActionSubscribe), 1)

	f.ForceReconnect()
	require.Eventually(t, func() bool { return d.count() == 2 && f.IsConnected() }, waitFor, tick)
	assert.True(t, first.isClosed())

	second := d.last()
	assert.Len(t, second.frames(topic.ActionSubscribe), 1)

	second.in <- detailFrame(t, 1, 1)
	require.Eventually(t, func() bool { return a.len() == 1 && b.len() == 1 }, waitFor, tick)
}

func TestRefreshSubscriptions(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	_, err := f.Subscribe(ctxT(t), detailSpec, func(format.Event) {})
	require.NoError(t, err)

	ok, err := f.RefreshSubscriptions(ctxT(t))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.Connect(ctxT(t))
	require.NoError(t, err)
	ok, err = f.RefreshSubscriptions(ctxT(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, d.last().frames(topic.ActionSubscribe), 2)
}

func TestOffline_PausesAndReconnectsWhenBack(t *testing.T) {
	d := &fakeDialer{}
	f := newFeed(t, fastConfig(), goodCreds, d)
	_, err := f.Connect(ctxT(t))
	require.NoError(t, err)

	f.SetOnline(false)
	d.last().Close()
	require.Eventually(t, func() bool { return !f.IsConnected() }, waitFor, tick)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, d.count(), "no reconnect while offline")

	f.SetOnline(true)
	require.Eventually(t, f.IsConnected, waitFor, tick)
	assert.Equal(t, 2, d.count())
}

func TestClose_IdempotentAndRejectsCalls(t *testing.T) {
	d := &fakeDialer{}
	f, err := feed.New(fastConfig(), goodCreds, logger.NewNop(), feed.WithDialer(d))
	require.NoError(t, err)
	_, err = f.Connect(ctxT(t))
	require.NoError(t, err)
	conn := d.last()

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.True(t, conn.isClosed())
	assert.Equal(t, feed.Disconnected, f.State())

	_, err = f.Connect(ctxT(t))
	require.ErrorIs(t, err, feed.ErrClosed)
	_, err = f.Subscribe(ctxT(t), detailSpec, func(format.Event) {})
	require.ErrorIs(t, err, feed.ErrClosed)
	_, err = f.Status(ctxT(t))
	require.ErrorIs(t, err, feed.ErrClosed)

	// fire-and-forget calls are ignored
	f.SetVisible(true)
	f.ForceReconnect()
}

func TestRun_ClosesOnCancel(t *testing.T) {
	d := &fakeDialer{}
	f, err := feed.New(fastConfig(), goodCreds, logger.NewNop(), feed.WithDialer(d))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, f.IsConnected, waitFor, tick)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, feed.Disconnected, f.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", feed.Disconnected.String())
	assert.Equal(t, "reconnecting", feed.Reconnecting.String())
	assert.Equal(t, "unknown", feed.State(42).String())
}
