package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_ingested_total", Help: "Ticks accepted into the processing queue"},
		[]string{"symbol"},
	)
	TicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Ticks rejected because the queue was full"},
	)
	LateTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "late_ticks_total", Help: "Ticks whose minute preceded the open bar"},
		[]string{"symbol"},
	)
	BarsSealed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_sealed_total", Help: "One-minute bars sealed"},
		[]string{"symbol"},
	)
	FlushFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "flush_failures_total", Help: "Buffer flushes rejected by the storage sink"},
		[]string{"symbol"},
	)
	CollectionErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "collection_errors_total", Help: "Errors in the poll loop"},
	)
)

func init() {
	prometheus.MustRegister(TicksIngested, TicksDropped, LateTicks, BarsSealed, FlushFailures, CollectionErrors)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
