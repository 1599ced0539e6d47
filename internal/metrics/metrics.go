// Package metrics exposes the frame loop's throughput counters to Prometheus
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sonifyv1/posebridge/internal/types"
)

// Metrics holds the streaming counters. Counter fields are atomics so the
// HTTP scrape can read them while the frame loop writes.
type Metrics struct {
	FramesRead     atomic.Uint64
	RecordsSent    atomic.Uint64
	BytesSent      atomic.Uint64
	SendErrors     atomic.Uint64
	DetectorErrors atomic.Uint64

	// FrameLatencyMs is the duration of the last full loop iteration
	FrameLatencyMs atomic.Uint64

	detections *prometheus.CounterVec
	registry   *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "posebridge_detections_total",
			Help: "Frames that produced a record, by detection type",
		}, []string{"type"}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(m.detections)

	counters := []struct {
		name, help string
		v          *atomic.Uint64
	}{
		{"posebridge_frames_read_total", "Frames captured from the source", &m.FramesRead},
		{"posebridge_records_sent_total", "Records published over UDP", &m.RecordsSent},
		{"posebridge_bytes_sent_total", "UDP payload bytes published", &m.BytesSent},
		{"posebridge_send_errors_total", "Records that failed to send", &m.SendErrors},
		{"posebridge_detector_errors_total", "Detector calls that raised an error", &m.DetectorErrors},
	}

	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "posebridge_frame_latency_ms", Help: "Duration of the last loop iteration"},
		func() float64 { return float64(m.FrameLatencyMs.Load()) },
	))
}

// AddDetection counts one record of the given type
func (m *Metrics) AddDetection(k types.Kind) {
	m.detections.WithLabelValues(k.String()).Inc()
}

// UpdateFrameLatency records how long the last iteration took
func (m *Metrics) UpdateFrameLatency(d time.Duration) {
	m.FrameLatencyMs.Store(uint64(d.Milliseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics endpoint on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
