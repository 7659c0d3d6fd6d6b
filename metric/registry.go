// Package metric manages Prometheus metric registration and exposition
// for RetailStreams components. Components hold their own Metrics
// structs and register them here; a nil *Registry disables metrics
// without conditional wiring at call sites.
package metric

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/retailstreams/errors"
)

// Namespace prefixes every metric this module emits.
const Namespace = "retailstreams"

// Registry wraps a private prometheus.Registry with a duplicate guard
// keyed by component.metric name.
type Registry struct {
	prom       *prometheus.Registry
	registered map[string]prometheus.Collector
	mu         sync.Mutex
}

// NewRegistry creates a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *Registry {
	prom := prometheus.NewRegistry()
	prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		prom:       prom,
		registered: make(map[string]prometheus.Collector),
	}
}

// Register adds a collector under component.name. Registering the same
// key twice is an invalid-config error; a nil receiver is a no-op.
func (r *Registry) Register(component, name string, c prometheus.Collector) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := component + "." + name
	if _, exists := r.registered[key]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered", key),
			"Registry", "Register", "duplicate metric registration")
	}
	if err := r.prom.Register(c); err != nil {
		return errors.WrapInvalid(err, "Registry", "Register", "prometheus registration")
	}
	r.registered[key] = c
	return nil
}

// MustRegister registers collectors and panics on failure; used for
// construction-time registration where a duplicate is a programming
// error.
func (r *Registry) MustRegister(component string, cs map[string]prometheus.Collector) {
	if r == nil {
		return
	}
	for name, c := range cs {
		if err := r.Register(component, name, c); err != nil {
			panic(err)
		}
	}
}

// Prometheus exposes the underlying registry for test scraping.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.prom
}

// Handler returns the HTTP exposition handler.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
