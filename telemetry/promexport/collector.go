// Package promexport exposes benchmark telemetry as Prometheus metrics.
package promexport

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gogpu/atmos/telemetry"
)

// Collector reports a BenchmarkResult at scrape time.
type Collector struct {
	result *telemetry.BenchmarkResult

	average *prometheus.Desc
	last    *prometheus.Desc
	samples *prometheus.Desc
	frames  *prometheus.Desc
}

// NewCollector creates a collector for r. Metric names are prefixed with
// namespace.
func NewCollector(namespace string, r *telemetry.BenchmarkResult) *Collector {
	return &Collector{
		result: r,
		average: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pass", "duration_average_seconds"),
			"Mean GPU duration of the pass over the retained history",
			[]string{"pass"}, nil,
		),
		last: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pass", "duration_last_seconds"),
			"GPU duration of the pass in the most recent resolved frame",
			[]string{"pass"}, nil,
		),
		samples: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pass", "samples"),
			"Number of retained samples for the pass",
			[]string{"pass"}, nil,
		),
		frames: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frames_recorded_total"),
			"Frames whose timings have been recorded",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.average
	ch <- c.last
	ch <- c.samples
	ch <- c.frames
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.result.Stats() {
		ch <- prometheus.MustNewConstMetric(c.average, prometheus.GaugeValue, seconds(s.Average), s.Name)
		ch <- prometheus.MustNewConstMetric(c.last, prometheus.GaugeValue, seconds(s.Last), s.Name)
		ch <- prometheus.MustNewConstMetric(c.samples, prometheus.GaugeValue, float64(s.Samples), s.Name)
	}
	ch <- prometheus.MustNewConstMetric(c.frames, prometheus.CounterValue, float64(c.result.Frames()))
}

func seconds(ms float32) float64 { return float64(ms) / 1e3 }

// NewServer returns an HTTP server exposing the registry at /metrics.
func NewServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
