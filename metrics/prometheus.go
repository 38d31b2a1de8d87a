package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRegistry adapts a prometheus Registerer to the Registry contract.
// Dotted counter names become underscore-separated prometheus names, e.g.
// "agent.write.success" registers as "agent_write_success".
type PrometheusRegistry struct {
	reg prometheus.Registerer

	mu       sync.Mutex
	counters map[string]prometheus.Counter
}

// NewPrometheusRegistry wraps reg. A nil reg means the default registerer.
func NewPrometheusRegistry(reg prometheus.Registerer) *PrometheusRegistry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusRegistry{
		reg:      reg,
		counters: make(map[string]prometheus.Counter),
	}
}

func (r *PrometheusRegistry) DeltaCounter(name string) Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Name: promName(name),
			Help: "delta counter " + name,
		})
		r.reg.MustRegister(c)
		r.counters[name] = c
	}
	return c
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
