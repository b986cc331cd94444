// pkg/backoff/backoff.go
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var metrics = struct {
	Retries   *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Successes *prometheus.CounterVec
	Delays    *prometheus.HistogramVec
}{
	Retries: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed", Subsystem: "backoff", Name: "retries_total",
			Help: "Number of back-off retry attempts",
		},
		[]string{"op"},
	),
	Failures: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed", Subsystem: "backoff", Name: "failures_total",
			Help: "Number of operations that gave up after retries",
		},
		[]string{"op"},
	),
	Successes: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed", Subsystem: "backoff", Name: "successes_total",
			Help: "Number of operations that eventually succeeded",
		},
		[]string{"op"},
	),
	Delays: promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketfeed", Subsystem: "backoff", Name: "retry_delay_seconds",
			Help:    "Histogram of retry delays (seconds)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	),
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// Config contains tunables for exponential back-off.
//
// All zero values are treated as "use reasonable default".
type Config struct {
	// InitialInterval is the first delay before retrying.
	InitialInterval time.Duration `mapstructure:"initial_interval"`

	// RandomizationFactor adds ±jitter to each delay. Range 0.0..1.0.
	RandomizationFactor float64 `mapstructure:"randomization_factor"`

	// Multiplier multiplies the previous delay to get the next one.
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxInterval caps each individual delay.
	MaxInterval time.Duration `mapstructure:"max_interval"`

	// MaxElapsedTime is the total time allowed for all retries. Zero means unlimited.
	MaxElapsedTime time.Duration `mapstructure:"max_elapsed_time"`

	// PerAttemptTimeout limits every single call of fn. Zero means none.
	PerAttemptTimeout time.Duration `mapstructure:"per_attempt_timeout"`
}

func (c *Config) applyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.RandomizationFactor <= 0 {
		c.RandomizationFactor = 0.5
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return fmt.Errorf("backoff: RandomizationFactor must be in [0,1]")
	}
	if c.Multiplier < 1 {
		return fmt.Errorf("backoff: Multiplier must be >= 1")
	}
	return nil
}

// RetryableFunc is a unit of work that may be re-executed until it
// succeeds or the back-off strategy gives up.
type RetryableFunc func(ctx context.Context) error

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// ErrMaxRetries is returned from Execute when fn was still failing after
// all retries were exhausted.
type ErrMaxRetries struct {
	Err      error // last error returned by fn
	Attempts int
}

func (e *ErrMaxRetries) Error() string {
	return fmt.Sprintf("backoff: %d attempt(s) failed: %v", e.Attempts, e.Err)
}
func (e *ErrMaxRetries) Unwrap() error { return e.Err }

// Permanent marks an error as non-retryable.
func Permanent(err error) error { return backoff.Permanent(err) }

// -----------------------------------------------------------------------------
// Policy: stepwise delays for callers that schedule retries themselves
// -----------------------------------------------------------------------------

// Policy hands out successive delays. The feed loop owns its timers and
// cannot block inside Execute, so it asks for the next delay instead.
type Policy struct {
	op string
	bo *backoff.ExponentialBackOff
}

// NewPolicy builds a Policy for op (used as the metrics label).
func NewPolicy(op string, cfg Config) (*Policy, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("backoff: invalid config: %w", err)
	}
	return &Policy{op: op, bo: build(cfg)}, nil
}

// Next returns the next delay. Once MaxElapsedTime is exceeded it keeps
// returning MaxInterval rather than giving up.
func (p *Policy) Next() time.Duration {
	d := p.bo.NextBackOff()
	if d == backoff.Stop {
		d = p.bo.MaxInterval
	}
	metrics.Retries.WithLabelValues(p.op).Inc()
	metrics.Delays.WithLabelValues(p.op).Observe(d.Seconds())
	return d
}

// Reset starts the sequence over after a success.
func (p *Policy) Reset() {
	p.bo.Reset()
	metrics.Successes.WithLabelValues(p.op).Inc()
}

// -----------------------------------------------------------------------------
// Core
// -----------------------------------------------------------------------------

func build(cfg Config) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.RandomizationFactor = cfg.RandomizationFactor
	bo.Multiplier = cfg.Multiplier
	bo.MaxInterval = cfg.MaxInterval
	if cfg.MaxElapsedTime > 0 {
		bo.MaxElapsedTime = cfg.MaxElapsedTime
	} else {
		bo.MaxElapsedTime = 0
	}
	bo.Reset()
	return bo
}

// Execute runs fn with an exponential back-off defined by cfg, emitting
// Prometheus metrics and structured logs via log. op labels the metrics.
func Execute(ctx context.Context, op string, cfg Config, log *logger.Logger, fn RetryableFunc) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("backoff: invalid config: %w", err)
	}
	boCtx := backoff.WithContext(build(cfg), ctx)

	attempts := 0
	operation := func() error {
		attempts++
		if cfg.PerAttemptTimeout > 0 {
			atCtx, cancel := context.WithTimeout(ctx, cfg.PerAttemptTimeout)
			defer cancel()
			return fn(atCtx)
		}
		return fn(ctx)
	}
	notify := func(err error, delay time.Duration) {
		metrics.Retries.WithLabelValues(op).Inc()
		metrics.Delays.WithLabelValues(op).Observe(delay.Seconds())
		log.Warn("back-off retry",
			zap.String("op", op),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(operation, boCtx, notify); err != nil {
		metrics.Failures.WithLabelValues(op).Inc()
		log.Error("back-off give-up",
			zap.String("op", op),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return &ErrMaxRetries{Err: err, Attempts: attempts}
	}

	metrics.Successes.WithLabelValues(op).Inc()
	return nil
}
