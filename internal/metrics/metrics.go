package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medigo"

type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	PrescriptionsCreated prometheus.Counter
	PrescriptionsUpdated prometheus.Counter
	StockUnitsConsumed   prometheus.Counter
	StockUnitsReturned   prometheus.Counter
	StockRejections      *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewCollector registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func NewCollector(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		PrescriptionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clinical",
			Name:      "prescriptions_created_total",
			Help:      "Total prescriptions created.",
		}),

		PrescriptionsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clinical",
			Name:      "prescriptions_updated_total",
			Help:      "Total prescriptions edited.",
		}),

		StockUnitsConsumed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "units_consumed_total",
			Help:      "Stock units taken from inventory by prescriptions.",
		}),

		StockUnitsReturned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "units_returned_total",
			Help:      "Stock units given back to inventory by prescription edits.",
		}),

		StockRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stock",
			Name:      "rejections_total",
			Help:      "Prescription writes refused for insufficient stock, by operation.",
		}, []string{"operation"}),

		gatherer: reg,
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
