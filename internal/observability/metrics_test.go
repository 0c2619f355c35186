package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordProviderRequest("helius", OutcomeOK, 0.2)
	m.RecordProviderRequest("helius", OutcomeOK, 0.1)
	m.RecordProviderRequest("birdeye", OutcomeError, 0)
	m.RecordFallback("solana", "helius", OutcomeEmpty)
	m.RecordIngestion("solana", OutcomeOK, 12, 3)
	m.RecordCache("memory", true)
	m.RecordCache("memory", false)
	m.RecordDBQuery("postgres", "upsert", 0.01, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("helius", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("birdeye", OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderFallbacks.WithLabelValues("solana", "helius", OutcomeEmpty)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.TradesIngested.WithLabelValues("solana")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InvalidRecords.WithLabelValues("solana")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheRequests.WithLabelValues("memory", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("postgres", "upsert")))

	// A second instance on a fresh registry must not panic on registration.
	assert.NotPanics(t, func() { NewMetrics("test", prometheus.NewRegistry()) })
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordProviderRequest("x", OutcomeOK, 1)
		m.RecordFallback("solana", "x", OutcomeError)
		m.RecordIngestion("solana", OutcomeOK, 1, 0)
		m.RecordCache("redis", true)
		m.RecordHistoryMiss("base")
		m.RecordAnalysis("base", 50, 1, 0)
		m.RecordSnapshot("postgres")
		m.RecordDBQuery("postgres", "q", 0, nil)
		m.RecordHTTPRequest("/health", "200")
	})
}
