package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"speedhook/internal/monitor"
)

const namespace = "speedhook"

// Collector turns finished cycles into Prometheus series.
type Collector struct {
	reg *prometheus.Registry

	download    prometheus.Gauge
	upload      prometheus.Gauge
	ping        prometheus.Gauge
	jitter      prometheus.Gauge
	lastSuccess prometheus.Gauge
	history     prometheus.Gauge
	duration    prometheus.Histogram
	cycles      *prometheus.CounterVec
	publishes   *prometheus.CounterVec
}

func NewCollector() *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	c := &Collector{
		reg:         prometheus.NewRegistry(),
		download:    gauge("download_mbps", "Download speed of the last successful test in Mbps."),
		upload:      gauge("upload_mbps", "Upload speed of the last successful test in Mbps."),
		ping:        gauge("ping_ms", "Latency of the last successful test in milliseconds."),
		jitter:      gauge("jitter_ms", "Jitter of the last successful test in milliseconds."),
		lastSuccess: gauge("last_success_timestamp_seconds", "Unix time of the last successful test."),
		history:     gauge("history_samples", "Samples currently held in the history buffer."),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time of successful speed tests.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120},
		}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Finished cycles by measurement result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Publish attempts by outcome.",
		}, []string{"outcome"}),
	}
	c.reg.MustRegister(
		c.download, c.upload, c.ping, c.jitter, c.lastSuccess, c.history,
		c.duration, c.cycles, c.publishes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry is the registry served by the metrics endpoint.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Observe records one cycle. It is safe to use as a monitor observer.
func (c *Collector) Observe(r monitor.CycleResult) {
	c.history.Set(float64(r.History))
	switch {
	case r.Err == nil && r.Recorded:
		c.cycles.WithLabelValues("measured").Inc()
		s := r.Sample
		c.download.Set(s.DownloadMbps)
		c.upload.Set(s.UploadMbps)
		c.ping.Set(s.PingMs)
		c.jitter.Set(s.Jitter)
		c.lastSuccess.Set(float64(s.Timestamp.Unix()))
		c.duration.Observe(s.Duration.Seconds())
	case r.Err == nil, errors.Is(r.Err, context.Canceled):
		// Measured but stopped before recording.
		c.cycles.WithLabelValues("canceled").Inc()
	default:
		c.cycles.WithLabelValues("failed").Inc()
	}
	if r.Attempts > 0 {
		c.publishes.WithLabelValues(r.Outcome.Kind.String()).Inc()
	}
}
