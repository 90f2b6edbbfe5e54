// Package metrics exposes Prometheus collectors for container lifecycle
// operations, binary provisioning and engine process resource usage. The
// recording helpers no-op until Register is called so the CLI pays
// nothing when metrics are off.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	containerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spindb",
			Subsystem: "container",
			Name:      "starts_total",
			Help:      "Number of successful container starts.",
		}, []string{"engine"},
	)
	containerStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spindb",
			Subsystem: "container",
			Name:      "start_failures_total",
			Help:      "Number of failed container starts.",
		}, []string{"engine"},
	)
	containerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spindb",
			Subsystem: "container",
			Name:      "stops_total",
			Help:      "Number of container stops (graceful or forced).",
		}, []string{"engine"},
	)
	containerStartDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spindb",
			Subsystem: "container",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to a passing readiness probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine"},
	)
	containersRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "spindb",
			Subsystem: "container",
			Name:      "running",
			Help:      "Currently running containers per engine.",
		}, []string{"engine"},
	)

	binaryDownloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "spindb",
			Subsystem: "binaries",
			Name:      "download_duration_seconds",
			Help:      "Time to download and unpack an engine archive.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"engine"},
	)
	binaryDownloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spindb",
			Subsystem: "binaries",
			Name:      "download_bytes_total",
			Help:      "Bytes fetched from the binary repository.",
		}, []string{"engine"},
	)
	binaryDownloadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "spindb",
			Subsystem: "binaries",
			Name:      "download_failures_total",
			Help:      "Number of failed binary installs.",
		}, []string{"engine"},
	)
)

// Register registers all metrics with the provided registerer. It is safe
// to call multiple times; calls after the first success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		containerStarts, containerStartFailures, containerStops,
		containerStartDuration, containersRunning,
		binaryDownloadDuration, binaryDownloadBytes, binaryDownloadFailures,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the DefaultGatherer. The caller
// wires it into a route.
func Handler() http.Handler { return promhttp.Handler() }

// Recording helpers used by the lifecycle packages. They no-op if
// Register hasn't been called.

func IncStart(engine string) {
	if regOK.Load() {
		containerStarts.WithLabelValues(engine).Inc()
	}
}

func IncStartFailed(engine string) {
	if regOK.Load() {
		containerStartFailures.WithLabelValues(engine).Inc()
	}
}

func IncStop(engine string) {
	if regOK.Load() {
		containerStops.WithLabelValues(engine).Inc()
	}
}

func ObserveStartDuration(engine string, seconds float64) {
	if regOK.Load() {
		containerStartDuration.WithLabelValues(engine).Observe(seconds)
	}
}

func SetRunning(engine string, n int) {
	if regOK.Load() {
		containersRunning.WithLabelValues(engine).Set(float64(n))
	}
}

func ObserveBinaryDownload(engine string, bytes int64, seconds float64) {
	if regOK.Load() {
		binaryDownloadDuration.WithLabelValues(engine).Observe(seconds)
		binaryDownloadBytes.WithLabelValues(engine).Add(float64(bytes))
	}
}

func IncBinaryDownloadFailed(engine string) {
	if regOK.Load() {
		binaryDownloadFailures.WithLabelValues(engine).Inc()
	}
}
