// Package metrics holds the prometheus collectors of a recording run.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "orbitreel"

var (
	// RunsTotal counts record-flow runs by the terminal state they reached.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Record-flow runs by terminal state.",
	}, []string{"state"})

	// StageDuration observes how long each flow state lasted.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Time spent in each record-flow state.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})

	// CaptureBytes observes the size of finished recordings.
	CaptureBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capture_bytes",
		Help:      "Size of finished recordings in bytes.",
		Buckets:   prometheus.ExponentialBuckets(64<<10, 4, 10),
	})

	// AutoFixTotal counts safety adjustments by field.
	AutoFixTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "autofix_total",
		Help:      "Orbit configuration values adjusted by the safety validator.",
	}, []string{"field"})
)

// ObserveStage records d for stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("metrics server shutdown")
		}
	}()

	log.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
