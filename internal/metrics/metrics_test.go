package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	require.NoError(t, c.Register())
	require.NoError(t, c.Register())

	c.RecordCall("api")
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_Records(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.RecordCall("api")
	c.RecordCall("api")
	c.RecordDirect("api")
	c.RecordBatch("api", OutcomeSuccess, 3)
	c.RecordDedupHits("api", 2)
	c.RecordDedupHits("api", 0)
	c.RecordRetry("api", "rate_limit")
	c.RecordEntryResult("api", ClassMissing)
	c.RecordCacheHit("api")
	c.RecordSessionInvalidated("api")
	c.SetCircuitState("api", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.callsTotal.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.directTotal.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchesTotal.WithLabelValues("api", OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.dedupHitsTotal.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retriesTotal.WithLabelValues("api", "rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.entryResults.WithLabelValues("api", ClassMissing)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cacheHitsTotal.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.invalidations.WithLabelValues("api")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("api")))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NoError(t, c.Register())
	c.RecordCall("api")
	c.RecordBatch("api", OutcomeFailed, 1)
	c.RecordRetry("api", "lock")
	c.SetCircuitState("api", 2)
}
