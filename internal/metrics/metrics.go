// Package metrics exposes pipeline observability via Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every instrument the pipeline reports into.
type Metrics struct {
	reg *prometheus.Registry

	Discovered  *prometheus.CounterVec
	Jobs        *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	Deliveries  *prometheus.CounterVec
	QueueDepth  *prometheus.GaugeVec
}

// New builds an isolated registry with all pipeline instruments plus the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Discovered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotfold",
			Name:      "files_discovered_total",
			Help:      "Stable files announced by the watcher.",
		}, []string{"hotfolder"}),
		Jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotfold",
			Name:      "jobs_total",
			Help:      "Jobs concluded, by terminal state.",
		}, []string{"hotfolder", "result"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hotfold",
			Name:      "job_duration_seconds",
			Help:      "Wall time from admission to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"hotfolder"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hotfold",
			Name:      "deliveries_total",
			Help:      "Per-destination delivery outcomes.",
		}, []string{"hotfolder", "kind", "result"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hotfold",
			Name:      "queue_depth",
			Help:      "Jobs admitted but not yet concluded.",
		}, []string{"hotfolder"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve runs an HTTP listener with /metrics and /healthz until the context
// is canceled. A closed listener is a clean shutdown, not an error.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
