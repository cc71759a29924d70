package server

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stripedkv/engine"
)

// MetricsServer exposes the engine's Stat counters as Prometheus
// gauges on a dedicated HTTP endpoint. This is supplementary to the
// Stat RPC, not a replacement for it: the RPC is the durable,
// client-facing way to read counters; /metrics exists for scraping.
type MetricsServer struct {
	addr   string
	engine *engine.Engine
	srv    *http.Server

	keyCount       prometheus.Gauge
	totalRequests  prometheus.Gauge
	setCount       prometheus.Gauge
	getCount       prometheus.Gauge
	getPrefixCount prometheus.Gauge
}

func NewMetricsServer(addr string, eng *engine.Engine) *MetricsServer {
	reg := prometheus.NewRegistry()

	m := &MetricsServer{
		addr:   addr,
		engine: eng,
		keyCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stripedkv_key_count",
			Help: "Number of keys currently stored.",
		}),
		totalRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stripedkv_requests_total",
			Help: "Total number of requests served since startup.",
		}),
		setCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stripedkv_set_requests_total",
			Help: "Total number of Set requests served since startup.",
		}),
		getCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stripedkv_get_requests_total",
			Help: "Total number of Get requests served since startup.",
		}),
		getPrefixCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stripedkv_getprefix_requests_total",
			Help: "Total number of GetPrefix requests served since startup.",
		}),
	}

	reg.MustRegister(
		m.keyCount,
		m.totalRequests,
		m.setCount,
		m.getCount,
		m.getPrefixCount,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.refreshingHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	m.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return m
}

// refreshingHandler pulls a fresh Stat snapshot into the gauges
// immediately before each scrape, rather than keeping them updated on
// every engine operation — Stat is already cheap and this avoids
// coupling the hot path to metrics bookkeeping.
func (m *MetricsServer) refreshingHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := m.engine.Stat()
		m.keyCount.Set(float64(snap.KeyCount))
		m.totalRequests.Set(float64(snap.TotalRequests))
		m.setCount.Set(float64(snap.SetCount))
		m.getCount.Set(float64(snap.GetCount))
		m.getPrefixCount.Set(float64(snap.GetPrefixCount))
		next.ServeHTTP(w, r)
	})
}

func (m *MetricsServer) Start() error {
	err := m.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
