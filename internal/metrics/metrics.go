// Package metrics exposes Prometheus metrics for sync passes.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all ctsync metrics. A nil *Registry records nothing.
type Registry struct {
	PassesTotal          *prometheus.CounterVec
	PassDuration         *prometheus.HistogramVec
	ChangesAppliedTotal  *prometheus.CounterVec
	DestinationFailures  *prometheus.CounterVec
	SourceVersion        *prometheus.GaugeVec
	DestinationVersion   *prometheus.GaugeVec
	LastSuccessTimestamp *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every metric initialized.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	factory := promauto.With(reg)

	r.PassesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctsync_passes_total",
			Help: "Sync passes per replication set by outcome",
		},
		[]string{"set", "outcome"},
	)

	r.PassDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctsync_pass_duration_seconds",
			Help:    "Duration of one sync pass of a replication set",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"set"},
	)

	r.ChangesAppliedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctsync_changes_applied_total",
			Help: "Row changes applied to destinations",
		},
		[]string{"set", "destination", "operation"},
	)

	r.DestinationFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctsync_destination_failures_total",
			Help: "Destinations that failed a pass",
		},
		[]string{"set", "destination"},
	)

	r.SourceVersion = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctsync_source_version",
			Help: "Change tracking version of the last batch fetched from the source",
		},
		[]string{"set"},
	)

	r.DestinationVersion = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctsync_destination_version",
			Help: "Version marker of a destination after its last apply",
		},
		[]string{"set", "destination"},
	)

	r.LastSuccessTimestamp = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctsync_last_success_timestamp_seconds",
			Help: "Unix time of the last succeeded pass",
		},
		[]string{"set"},
	)

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordPass records a finished pass.
func (r *Registry) RecordPass(set, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.PassesTotal.WithLabelValues(set, outcome).Inc()
	r.PassDuration.WithLabelValues(set).Observe(duration.Seconds())
	if outcome == "succeeded" {
		r.LastSuccessTimestamp.WithLabelValues(set).SetToCurrentTime()
	}
}

// RecordApplied adds applied change counts of one destination.
func (r *Registry) RecordApplied(set, destination string, inserts, updates, deletes int, version int64) {
	if r == nil {
		return
	}
	r.ChangesAppliedTotal.WithLabelValues(set, destination, "insert").Add(float64(inserts))
	r.ChangesAppliedTotal.WithLabelValues(set, destination, "update").Add(float64(updates))
	r.ChangesAppliedTotal.WithLabelValues(set, destination, "delete").Add(float64(deletes))
	r.DestinationVersion.WithLabelValues(set, destination).Set(float64(version))
}

// RecordDestinationFailure counts a failed destination.
func (r *Registry) RecordDestinationFailure(set, destination string) {
	if r == nil {
		return
	}
	r.DestinationFailures.WithLabelValues(set, destination).Inc()
}

// RecordSourceVersion sets the version of the last fetched batch.
func (r *Registry) RecordSourceVersion(set string, version int64) {
	if r == nil {
		return
	}
	r.SourceVersion.WithLabelValues(set).Set(float64(version))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
