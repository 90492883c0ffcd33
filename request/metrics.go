package request

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheStale  prometheus.Counter
	cacheErrors *prometheus.CounterVec
	fetches     prometheus.Counter
}

// newMetrics creates the resolver counters, registering them with reg if it
// is not nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_object_cache_hits_total",
			Help: "Count of request_uri resolutions served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_object_cache_misses_total",
			Help: "Count of request_uri resolutions with no cached entry.",
		}),
		cacheStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_object_cache_stale_total",
			Help: "Count of cached entries discarded as expired or not matching the requested hash.",
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "request_object_cache_errors_total",
			Help: "Count of failed background cache updates.",
		}, []string{"op"}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "request_object_fetches_total",
			Help: "Count of request_uri fetches.",
		}),
	}

	if reg != nil {
		m.cacheHits = register(reg, m.cacheHits).(prometheus.Counter)
		m.cacheMisses = register(reg, m.cacheMisses).(prometheus.Counter)
		m.cacheStale = register(reg, m.cacheStale).(prometheus.Counter)
		m.cacheErrors = register(reg, m.cacheErrors).(*prometheus.CounterVec)
		m.fetches = register(reg, m.fetches).(prometheus.Counter)
	}

	return m
}

// register returns c, or the identical collector already registered.
func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
