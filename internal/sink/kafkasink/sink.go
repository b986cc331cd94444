// internal/sink/kafkasink/sink.go

// Package kafkasink forwards formatted feed events to Kafka as JSON, one
// Kafka topic per topic scope.
package kafkasink

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/format"
	"github.com/YaganovValera/market-feed/internal/packet"
	"github.com/YaganovValera/market-feed/internal/sink"
	"github.com/YaganovValera/market-feed/pkg/kafka"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

var tracer = telemetry.Tracer("marketfeed/kafkasink")

// Config for the sink. The producer itself is configured in pkg/kafka.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// TopicPrefix is prepended to the scope: "<prefix>instrument",
	// "<prefix>exchange", "<prefix>account".
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	BufferSize     int           `mapstructure:"buffer_size"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

func (c *Config) applyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "marketfeed."
	}
	if c.BufferSize <= 0 {
		c.BufferSize = sink.DefaultBufferSize
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

// Sink is a feed subscriber backed by a Kafka producer.
type Sink struct {
	cfg   Config
	prod  kafka.Producer
	queue *sink.Queue
	log   *logger.Logger
}

// New builds a sink around prod.
func New(cfg Config, prod kafka.Producer, log *logger.Logger) (*Sink, error) {
	if prod == nil {
		return nil, fmt.Errorf("kafkasink: producer is required")
	}
	cfg.applyDefaults()
	log = log.Named("kafkasink")
	return &Sink{cfg: cfg, prod: prod, queue: sink.NewQueue("kafka", cfg.BufferSize, log), log: log}, nil
}

// Callback enqueues ev. It never blocks the feed loop.
func (s *Sink) Callback(ev format.Event) { s.queue.Offer(ev) }

// Run publishes queued events until ctx is done.
func (s *Sink) Run(ctx context.Context) error {
	s.log.Info("kafka sink started", zap.String("topic_prefix", s.cfg.TopicPrefix))
	return s.queue.Drain(ctx, s.publish)
}

func (s *Sink) publish(ctx context.Context, ev format.Event) error {
	topic := s.TopicFor(ev)
	ctx, span := tracer.Start(ctx, "kafkasink.publish", trace.WithAttributes(
		attribute.String("kafka.topic", topic),
		attribute.String("feed.topic", string(ev.Topic)),
	))
	defer span.End()

	value, err := json.Marshal(ev)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("kafkasink: marshal: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if err := s.prod.Publish(ctx, topic, []byte(ev.Topic), value); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// TopicFor names the Kafka topic of ev. Keys are feed topics, so each
// instrument stays ordered within its partition.
func (s *Sink) TopicFor(ev format.Event) string {
	scope := packet.ScopeInstrument
	if info, ok := packet.InfoForType(ev.Type); ok {
		scope = info.Scope
	}
	return s.cfg.TopicPrefix + scope.String()
}
