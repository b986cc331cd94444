package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaganovValera/market-feed/internal/metrics"
)

func TestRegister_Once(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	// second call must not panic on duplicate registration
	metrics.Register(reg)

	metrics.FramesTotal.WithLabelValues("dispatched").Inc()
	metrics.CallbackPanics.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["marketfeed_feed_frames_total"])
	assert.True(t, names["marketfeed_topic_callback_panics_total"])
}
