// Package metrics counts per-run work in a private Prometheus registry
// and writes it in the node-exporter textfile format at the end of a run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/banshee-data/viflow/internal/pipeline"
)

const namespace = "viflow"

// Collector implements pipeline.Reporter.
type Collector struct {
	registry *prometheus.Registry

	files       *prometheus.CounterVec
	frames      prometheus.Counter
	pairs       prometheus.Counter
	bytes       prometheus.Counter
	fileSeconds prometheus.Histogram
	runSeconds  prometheus.Gauge
	runSuccess  prometheus.Gauge
	lastRun     prometheus.Gauge
}

// NewCollector registers the viflow metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Input files processed, by outcome.",
		}, []string{"status"}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames sampled from inputs that produced an archive.",
		}),
		pairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_pairs_total",
			Help:      "Flow fields computed.",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Bytes of flow archives written.",
		}),
		fileSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Time from opening an input to writing its archive.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		runSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 if the last run finished without a fatal error.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
	c.registry.MustRegister(c.files, c.frames, c.pairs, c.bytes,
		c.fileSeconds, c.runSeconds, c.runSuccess, c.lastRun)
	return c
}

// Registry exposes the registry for gathering.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// FileDone counts one input.
func (c *Collector) FileDone(_ context.Context, r pipeline.FileReport) error {
	c.files.WithLabelValues(string(r.Status)).Inc()
	if r.Status != pipeline.StatusWritten {
		return nil
	}
	c.frames.Add(float64(r.Frames))
	c.pairs.Add(float64(r.Pairs))
	c.bytes.Add(float64(r.Bytes))
	c.fileSeconds.Observe(r.Elapsed.Seconds())
	return nil
}

// RunFinished records the run totals.
func (c *Collector) RunFinished(sum pipeline.Summary, runErr error, at time.Time) {
	c.runSeconds.Set(sum.Elapsed.Seconds())
	if runErr == nil {
		c.runSuccess.Set(1)
	} else {
		c.runSuccess.Set(0)
	}
	c.lastRun.Set(float64(at.Unix()))
}

// WriteTextfile writes every metric to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, c.registry)
}
