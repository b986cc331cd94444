// internal/sink/quotecache/cache_test.go
package quotecache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/sink/quotecache"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, exp time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd { return redis.NewStatusResult("PONG", nil) }
func (f *fakeRedis) Close() error                              { return nil }

func (f *fakeRedis) keys() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

const nseTopic = packet.Topic("DetailMarketDataMessage/1/3045")

func TestStoreAndLast(t *testing.T) {
	rc := newFakeRedis()
	c := quotecache.NewWithClient(quotecache.Config{TTL: time.Minute}, rc, logger.NewNop())
	ctx := context.Background()

	_, err := c.Last(ctx, nseTopic)
	require.ErrorIs(t, err, quotecache.ErrNotFound)

	ev := format.Event{Topic: nseTopic, Type: packet.TypeDetail, Prices: map[string]float64{"ltp": 3745.5}}
	require.NoError(t, c.Store(ctx, ev))
	assert.Equal(t, time.Minute, rc.ttls["marketfeed:DetailMarketDataMessage/1/3045"])

	got, err := c.Last(ctx, nseTopic)
	require.NoError(t, err)
	assert.InDelta(t, 3745.5, got.Price("ltp"), 1e-9)

	// latest value wins
	ev.Prices["ltp"] = 3746
	require.NoError(t, c.Store(ctx, ev))
	got, err = c.Last(ctx, nseTopic)
	require.NoError(t, err)
	assert.InDelta(t, 3746, got.Price("ltp"), 1e-9)
}

func TestStore_WrapsErrors(t *testing.T) {
	rc := newFakeRedis()
	rc.err = errors.New("READONLY")
	c := quotecache.NewWithClient(quotecache.Config{}, rc, logger.NewNop())
	err := c.Store(context.Background(), format.Event{Topic: nseTopic})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "READONLY")
}

func TestRun_DrainsCallbacks(t *testing.T) {
	rc := newFakeRedis()
	c := quotecache.NewWithClient(quotecache.Config{}, rc, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	c.Callback(format.Event{Topic: nseTopic})
	c.Callback(format.Event{Topic: "ExchangeMessage/2"})
	require.Eventually(t, func() bool { return rc.keys() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNew_Validates(t *testing.T) {
	_, err := quotecache.New(context.Background(), quotecache.Config{}, logger.NewNop())
	require.Error(t, err)
	_, err = quotecache.New(context.Background(), quotecache.Config{URL: "not a url"}, logger.NewNop())
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "marketfeed:MarketStatusMessage/1", quotecache.Key("MarketStatusMessage/1"))
}
