package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordAdmission(ctx, 1, "ADMITTED")
	m.RecordAdmission(ctx, 2, "ADMITTED")
	m.RecordAdmission(ctx, 2, "COURSE_FULL")
	m.RecordCancel(ctx, 1)
	m.RecordBatch(ctx, 3)
	m.ObserveRequest("POST", "/api/enrollments", 200, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("ADMITTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("COURSE_FULL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cancels))
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchSize))
	assert.Equal(t, 1, testutil.CollectAndCount(m.httpDuration))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	second.RecordCancel(context.Background(), 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.cancels))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAdmission(context.Background(), 1, "ADMITTED")
		m.RecordCancel(context.Background(), 1)
		m.RecordBatch(context.Background(), 1)
		m.ObserveRequest("GET", "/health", 200, time.Millisecond)
	})
}
