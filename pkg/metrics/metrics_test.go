package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Observe(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveQuery("read", 5*time.Millisecond, nil)
	m.ObserveQuery("read", time.Millisecond, errors.New("boom"))
	m.ObserveQuery("write", time.Millisecond, nil)
	m.ObserveCache(true)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveScope("required", "committed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("read", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("write", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScopesTotal.WithLabelValues("required", "committed")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.QueryDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveQuery("read", time.Second, nil)
		m.ObserveCache(true)
		m.ObserveScope("required", "committed")
	})
}

func TestNew_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
