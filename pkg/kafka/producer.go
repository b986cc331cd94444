// pkg/kafka/producer.go
package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/dnwe/otelsarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/backoff"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var producerMetrics = struct {
	ConnectAttempts prometheus.Counter
	ConnectErrors   prometheus.Counter
	PublishSuccess  *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PublishLatency  prometheus.Histogram
	PingErrors      prometheus.Counter
}{
	ConnectAttempts: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "connect_attempts_total",
		Help: "Kafka producer connect attempts",
	}),
	ConnectErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "connect_errors_total",
		Help: "Kafka producer connect errors",
	}),
	PublishSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "publish_success_total",
		Help: "Successful publishes",
	}, []string{"topic"}),
	PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "publish_errors_total",
		Help: "Publish errors",
	}, []string{"topic"}),
	PublishLatency: promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "publish_latency_seconds",
		Help:    "Publish latency (seconds)",
		Buckets: prometheus.DefBuckets,
	}),
	PingErrors: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketfeed", Subsystem: "kafka_producer", Name: "ping_errors_total",
		Help: "Ping errors",
	}),
}

var tracer = otel.Tracer("marketfeed/kafka-producer")

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config groups all tunables for a Kafka sync producer.
type Config struct {
	Brokers []string `mapstructure:"brokers"`

	// RequiredAcks: "all" (default) | "leader" | "none".
	RequiredAcks string `mapstructure:"required_acks"`

	// Timeout is the max wait for acks.
	Timeout time.Duration `mapstructure:"timeout"`

	// Compression: "none" (default) | "gzip" | "snappy" | "lz4" | "zstd".
	Compression string `mapstructure:"compression"`

	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
	FlushMessages  int           `mapstructure:"flush_messages"`

	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RequiredAcks == "" {
		c.RequiredAcks = "all"
	}
	if c.Compression == "" {
		c.Compression = "none"
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka producer: brokers required")
	}
	return nil
}

func buildSaramaConfig(c Config) (*sarama.Config, error) {
	sc := sarama.NewConfig()

	switch strings.ToLower(c.RequiredAcks) {
	case "all":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	case "leader":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "none":
		sc.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("kafka producer: invalid RequiredAcks %q", c.RequiredAcks)
	}

	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Timeout = c.Timeout

	if c.FlushFrequency > 0 {
		sc.Producer.Flush.Frequency = c.FlushFrequency
	}
	if c.FlushMessages > 0 {
		sc.Producer.Flush.Messages = c.FlushMessages
	}

	switch strings.ToLower(c.Compression) {
	case "none":
		sc.Producer.Compression = sarama.CompressionNone
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("kafka producer: invalid Compression %q", c.Compression)
	}
	return sc, nil
}

// -----------------------------------------------------------------------------
// Producer implementation
// -----------------------------------------------------------------------------

type kafkaProducer struct {
	prod       sarama.SyncProducer
	client     sarama.Client
	logger     *logger.Logger
	backoffCfg backoff.Config
}

// NewProducer creates a SyncProducer, retrying the initial connect.
func NewProducer(ctx context.Context, cfg Config, log *logger.Logger) (Producer, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log = log.Named("kafka-producer")

	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	var (
		client   sarama.Client
		syncProd sarama.SyncProducer
	)
	connect := func(ctx context.Context) error {
		producerMetrics.ConnectAttempts.Inc()
		c, err := sarama.NewClient(cfg.Brokers, sc)
		if err != nil {
			producerMetrics.ConnectErrors.Inc()
			return err
		}
		p, err := sarama.NewSyncProducerFromClient(c)
		if err != nil {
			producerMetrics.ConnectErrors.Inc()
			_ = c.Close()
			return err
		}
		client, syncProd = c, p
		return nil
	}

	ctxConn, span := tracer.Start(ctx, "Connect",
		trace.WithAttributes(attribute.StringSlice("brokers", cfg.Brokers)))
	if err := backoff.Execute(ctxConn, "kafka-connect", cfg.Backoff, log, connect); err != nil {
		span.RecordError(err)
		span.End()
		return nil, fmt.Errorf("kafka producer: connect: %w", err)
	}
	span.End()

	log.Info("kafka producer ready", zap.Strings("brokers", cfg.Brokers))
	return &kafkaProducer{
		prod:       otelsarama.WrapSyncProducer(sc, syncProd),
		client:     client,
		logger:     log,
		backoffCfg: cfg.Backoff,
	}, nil
}

// Publish sends one message, retrying with back-off.
func (k *kafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctxPub, span := tracer.Start(ctx, "Publish", trace.WithAttributes(attribute.String("topic", topic)))
	defer span.End()
	start := time.Now()

	send := func(ctx context.Context) error {
		_, _, err := k.prod.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.ByteEncoder(key),
			Value: sarama.ByteEncoder(value),
		})
		return err
	}

	err := backoff.Execute(ctxPub, "kafka-publish", k.backoffCfg, k.logger, send)
	producerMetrics.PublishLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		producerMetrics.PublishErrors.WithLabelValues(topic).Inc()
		span.RecordError(err)
		k.logger.Error("publish failed", zap.String("topic", topic), zap.Error(err))
		return err
	}
	producerMetrics.PublishSuccess.WithLabelValues(topic).Inc()
	return nil
}

// Ping refreshes client metadata.
func (k *kafkaProducer) Ping(ctx context.Context) error {
	if k.client == nil {
		return nil
	}
	_, span := tracer.Start(ctx, "Ping")
	defer span.End()
	if err := k.client.RefreshMetadata(); err != nil {
		producerMetrics.PingErrors.Inc()
		span.RecordError(err)
		return err
	}
	return nil
}

// Close closes the producer and then the client.
func (k *kafkaProducer) Close() error {
	if err := k.prod.Close(); err != nil {
		k.logger.Error("producer close failed", zap.Error(err))
		return err
	}
	if k.client != nil {
		if err := k.client.Close(); err != nil {
			k.logger.Error("client close failed", zap.Error(err))
			return err
		}
	}
	k.logger.Info("kafka producer closed")
	return nil
}
