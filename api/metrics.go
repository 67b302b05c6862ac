package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssb_viewer_http_requests_total",
		Help: "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ssb_viewer_http_request_duration_seconds",
		Help:    "Time until the response is complete, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "code"})
)

// instrument counts and times requests served by h under route.
func instrument(route string, h http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	h = promhttp.InstrumentHandlerDuration(requestDuration.MustCurryWith(labels), h)
	return promhttp.InstrumentHandlerCounter(requestsTotal.MustCurryWith(labels), h)
}
