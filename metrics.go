package main

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.SummaryVec
	storeErrors     *prometheus.CounterVec

	counterValue prometheus.Gauge
	storeUp      prometheus.Gauge

	badRequest  prometheus.Counter
	rateLimited prometheus.Counter
)

func initMetrics(namespace string) {
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of counter requests by operation and status code",
		},
		[]string{"op", "code"},
	)

	requestDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "request_duration_seconds",
			Help:       "Request duration by operation",
			Objectives: map[float64]float64{0.5: 1e-1, 0.9: 1e-2, 0.99: 1e-3, 0.999: 1e-4, 1: 1e-5},
		},
		[]string{"op"},
	)

	storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed store calls by operation",
		},
		[]string{"op"},
	)

	counterValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "counter_value",
		Help:      "Highest counter value returned by /hit",
	})

	storeUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_up",
		Help:      "Whether the last store heartbeat succeeded",
	})

	badRequest = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bad_requests_total",
		Help:      "Total number of unsupported requests",
	})

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total number of requests rejected by the rate limiter",
	})
}

func registerMetrics(namespace string) {
	initMetrics(namespace)
	prometheus.MustRegister(requestsTotal, requestDuration, storeErrors,
		counterValue, storeUp, badRequest, rateLimited)
}

func reportStoreHealth(healthy bool) {
	if healthy {
		storeUp.Set(1)
	} else {
		storeUp.Set(0)
	}
}
