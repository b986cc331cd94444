// internal/monitor/prober.go
package monitor

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

// ProberConfig tunes the reachability check.
type ProberConfig struct {
	// Address is host:port to dial. Empty disables the prober.
	Address  string        `mapstructure:"address"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// FailureThreshold consecutive failures mark the network offline.
	FailureThreshold int `mapstructure:"failure_threshold"`
}

func (c *ProberConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 2
	}
}

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Prober dials Address on every tick and reports online/offline
// transitions to the Monitor.
type Prober struct {
	cfg  ProberConfig
	mon  *Monitor
	dial DialFunc
	log  *logger.Logger

	fails  int
	online bool
}

// NewProber validates cfg. A nil dial uses net.Dialer.
func NewProber(cfg ProberConfig, mon *Monitor, dial DialFunc, log *logger.Logger) (*Prober, error) {
	cfg.applyDefaults()
	if cfg.Address == "" {
		return nil, fmt.Errorf("monitor: prober address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return nil, fmt.Errorf("monitor: prober address %q: %w", cfg.Address, err)
	}
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	return &Prober{cfg: cfg, mon: mon, dial: dial, log: log.Named("prober"), online: true}, nil
}

// Run probes until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.log.Info("prober started", zap.String("address", p.cfg.Address), zap.Duration("interval", p.cfg.Interval))
	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Check(ctx)
		}
	}
}

// Check runs one probe and returns the resulting online state.
func (p *Prober) Check(ctx context.Context) bool {
	ok := p.probe(ctx)
	switch {
	case ok:
		p.fails = 0
		if !p.online {
			p.online = true
			p.mon.SetOnline(true)
		}
	default:
		p.fails++
		p.log.Debug("probe failed", zap.Int("consecutive", p.fails))
		if p.online && p.fails >= p.cfg.FailureThreshold {
			p.online = false
			p.mon.SetOnline(false)
		}
	}
	return p.online
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	conn, err := p.dial(ctx, "tcp", p.cfg.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
