package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_Duplicate(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "requests_total", Help: "x"})
	require.NoError(t, r.Register("graphql", "requests_total", c))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "requests_total", Help: "x"})
	err := r.Register("graphql", "requests_total", c2)
	assert.Error(t, err)
}

func TestRegister_SameNameDifferentComponent(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "a", Name: "errors_total", Help: "x"})
	require.NoError(t, r.Register("graphql", "errors_total", c))

	c2 := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "b", Name: "errors_total", Help: "x"})
	assert.NoError(t, r.Register("subscription", "errors_total", c2))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewGauge(prometheus.GaugeOpts{Name: "sessions_active", Help: "x"})
	require.NoError(t, r.Register("subscription", "sessions_active", c))

	assert.True(t, r.Unregister("subscription", "sessions_active"))
	assert.False(t, r.Unregister("subscription", "sessions_active"))

	// Slot is free again after unregistering.
	assert.NoError(t, r.Register("subscription", "sessions_active", c))
}
