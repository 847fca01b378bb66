package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ToolCalls           *prometheus.CounterVec
	BackendRequests     *prometheus.CounterVec
	BackendLatency      *prometheus.HistogramVec
	ExchangesStored     prometheus.Counter
	MirrorWriteFailures *prometheus.CounterVec
	FeedPublishFailures prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

// New builds an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "tool_calls_total",
			Help:      "Total tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		BackendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "backend_requests_total",
			Help:      "Total upstream chat requests by provider and outcome",
		}, []string{"provider", "outcome"}),
		BackendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmrouter",
			Name:      "backend_request_seconds",
			Help:      "Upstream chat request latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"provider"}),
		ExchangesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "exchanges_stored_total",
			Help:      "Total exchanges appended to memory",
		}),
		MirrorWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "mirror_write_failures_total",
			Help:      "Total failed writes to the host config mirror",
		}, []string{"op"}),
		FeedPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "llmrouter",
			Name:      "feed_publish_failures_total",
			Help:      "Total exchanges that could not be published to the redis feed",
		}),
	}
}

func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ToolCalls,
		m.BackendRequests,
		m.BackendLatency,
		m.ExchangesStored,
		m.MirrorWriteFailures,
		m.FeedPublishFailures,
	}
}

// Global returns the process-wide set, registered with the default registry once.
func Global() *Metrics {
	once.Do(func() {
		global = New()
		prometheus.MustRegister(global.Collectors()...)
	})
	return global
}

// MirrorFailure matches session.MirrorFailureHook.
func (m *Metrics) MirrorFailure(op string, _ error) {
	if m == nil {
		return
	}
	m.MirrorWriteFailures.WithLabelValues(op).Inc()
}
