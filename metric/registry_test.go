package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndExpose(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "test",
		Name:      "events_total",
		Help:      "Test counter",
	})
	require.NoError(t, r.Register("test", "events", c))
	c.Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, "retailstreams_test_events_total 3")
	// Runtime collectors come preloaded.
	assert.Contains(t, body, "go_goroutines")
}

func TestRegisterDuplicateKeyFails(t *testing.T) {
	r := NewRegistry()
	a := prometheus.NewCounter(prometheus.CounterOpts{Name: "a_total"})
	b := prometheus.NewCounter(prometheus.CounterOpts{Name: "b_total"})
	require.NoError(t, r.Register("comp", "metric", a))
	assert.Error(t, r.Register("comp", "metric", b))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NoError(t, r.Register("comp", "metric", prometheus.NewCounter(prometheus.CounterOpts{Name: "x_total"})))
	assert.NotNil(t, r.Handler())
	assert.Nil(t, r.Prometheus())
}
