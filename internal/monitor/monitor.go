// internal/monitor/monitor.go

// Package monitor feeds host visibility and network reachability into the
// feed. Signals come from the HTTP control endpoints and the TCP prober.
package monitor

import (
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/internal/metrics"
	"github.com/YaganovValera/market-feed/pkg/logger"
)

// Target receives the signals. *feed.Feed satisfies it.
type Target interface {
	SetVisible(bool)
	SetOnline(bool)
	ForceReconnect()
}

// Monitor forwards transitions to its target and drops repeats. Signals
// reach the target in the order the monitor records them, so the target
// must not call back into the Monitor.
type Monitor struct {
	target Target
	log    *logger.Logger

	mu      sync.Mutex
	visible bool
	online  bool
}

// New starts with the target visible and online, which is how a Feed starts
// unless configured hidden.
func New(target Target, visible bool, log *logger.Logger) *Monitor {
	m := &Monitor{target: target, log: log.Named("monitor"), visible: visible, online: true}
	metrics.NetworkOnline.Set(1)
	return m
}

// SetVisible reports a visibility change. It returns true if the state
// changed and was forwarded.
func (m *Monitor) SetVisible(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.visible == v {
		return false
	}
	m.visible = v
	m.log.Info("visibility changed", zap.Bool("visible", v))
	m.target.SetVisible(v)
	return true
}

// SetOnline reports a reachability change. Going online is forwarded even
// when already online so a stuck connect gets another push.
func (m *Monitor) SetOnline(on bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := m.online != on
	m.online = on
	if on {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}
	if !changed && !on {
		return false
	}
	if changed {
		m.log.Info("network changed", zap.Bool("online", on))
	}
	m.target.SetOnline(on)
	return changed
}

// Reconnect forces the target to drop and re-open its socket.
func (m *Monitor) Reconnect() {
	m.log.Info("reconnect requested")
	m.target.ForceReconnect()
}

// Snapshot returns the last reported signals.
func (m *Monitor) Snapshot() (visible, online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible, m.online
}
