// internal/sink/quotecache/cache.go

// Package quotecache keeps the last event of every topic in Redis under
// "marketfeed:<topic>".
package quotecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/sink"
	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "marketfeed:"

// ErrNotFound is returned by Last for topics never cached or expired.
var ErrNotFound = errors.New("quotecache: not found")

var tracer = otel.Tracer("marketfeed/quotecache")

// Client is the part of *redis.Client the cache uses.
type Client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// Config for the cache.
type Config struct {
	Enabled    bool           `mapstructure:"enabled"`
	URL        string         `mapstructure:"url"` // redis://host:6379/0
	TTL        time.Duration  `mapstructure:"ttl"`
	BufferSize int            `mapstructure:"buffer_size"`
	Backoff    backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 10 * time.Minute
	}
	if c.BufferSize <= 0 {
		c.BufferSize = sink.DefaultBufferSize
	}
}

// Cache is a feed subscriber writing to Redis.
type Cache struct {
	client Client
	ttl    time.Duration
	queue  *sink.Queue
	log    *logger.Logger
}

// New parses cfg.URL, pings Redis with back-off and returns the cache.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Cache, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("quotecache: url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("quotecache: parse url: %w", err)
	}
	client := redis.NewClient(opts)

	ctxConn, span := tracer.Start(ctx, "quotecache.connect")
	err = backoff.Execute(ctxConn, "redis-connect", cfg.Backoff, log, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	span.End()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("quotecache: connect: %w", err)
	}
	c := NewWithClient(cfg, client, log)
	c.log.Info("redis connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(cfg Config, client Client, log *logger.Logger) *Cache {
	cfg.applyDefaults()
	log = log.Named("quotecache")
	return &Cache{client: client, ttl: cfg.TTL, queue: sink.NewQueue("redis", cfg.BufferSize, log), log: log}
}

// Key is the Redis key of a feed topic.
func Key(topic packet.Topic) string { return KeyPrefix + string(topic) }

// Callback enqueues ev. It never blocks the feed loop.
func (c *Cache) Callback(ev format.Event) { c.queue.Offer(ev) }

// Run writes queued events until ctx is done.
func (c *Cache) Run(ctx context.Context) error {
	c.log.Info("quote cache started", zap.Duration("ttl", c.ttl))
	return c.queue.Drain(ctx, c.Store)
}

// Store writes ev as the latest value of its topic.
func (c *Cache) Store(ctx context.Context, ev format.Event) error {
	key := Key(ev.Topic)
	ctx, span := tracer.Start(ctx, "quotecache.set", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("quotecache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, key, b, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("quotecache: set %s: %w", key, err)
	}
	return nil
}

// Last returns the cached event of topic.
func (c *Cache) Last(ctx context.Context, topic packet.Topic) (format.Event, error) {
	key := Key(topic)
	ctx, span := tracer.Start(ctx, "quotecache.get", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return format.Event{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return format.Event{}, fmt.Errorf("quotecache: get %s: %w", key, err)
	}
	var ev format.Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return format.Event{}, fmt.Errorf("quotecache: decode %s: %w", key, err)
	}
	return ev, nil
}

// Ping checks Redis.
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

// Close closes the client.
func (c *Cache) Close() error { return c.client.Close() }
