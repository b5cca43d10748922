package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OpsProcessed.Add(3)
	m.Nacks.WithLabelValues("403").Inc()
	m.ConnectionState.Set(2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpsProcessed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Nacks.WithLabelValues("403")))

	n, err := testutil.GatherAndCount(reg, "opstream_ops_processed_total", "opstream_connection_state")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNew_NilRegistererIsUsable(t *testing.T) {
	a := New(nil)
	b := New(nil)
	a.Reconnects.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Reconnects))
}
