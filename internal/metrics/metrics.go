// Package metrics records the outcome of collection cycles as Prometheus
// gauges. The collector is a one-shot process, so the registry is written
// to a node-exporter textfile instead of being served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "labordash"

type Cycle struct {
	Fetched int
	Added   int
	Revised int
	Skipped int
	Rows    int
	Seconds float64
}

type Recorder struct {
	registry *prometheus.Registry

	lastSuccess prometheus.Gauge
	datasetRows prometheus.Gauge
	fetched     prometheus.Gauge
	added       prometheus.Gauge
	revised     prometheus.Gauge
	skipped     prometheus.Gauge
	duration    prometheus.Gauge
	failure     *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	r := &Recorder{
		registry:    prometheus.NewRegistry(),
		lastSuccess: gauge("last_success_timestamp_seconds", "Unix time of the last successful collection cycle."),
		datasetRows: gauge("dataset_rows", "Observations in the dataset after the last successful cycle."),
		fetched:     gauge("cycle_fetched_rows", "Observations normalized from the last fetch."),
		added:       gauge("cycle_added_rows", "Observations added by the last cycle."),
		revised:     gauge("cycle_revised_rows", "Stored observations whose value changed in the last cycle."),
		skipped:     gauge("cycle_skipped_records", "Raw records dropped during normalization in the last cycle."),
		duration:    gauge("cycle_duration_seconds", "Wall time of the last cycle."),
		failure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_failed",
			Help:      "1 when the last cycle failed, by failure kind.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(
		r.lastSuccess, r.datasetRows, r.fetched, r.added,
		r.revised, r.skipped, r.duration, r.failure,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Success records a completed cycle and clears any failure flag.
func (r *Recorder) Success(c Cycle, unixSeconds float64) {
	r.lastSuccess.Set(unixSeconds)
	r.datasetRows.Set(float64(c.Rows))
	r.fetched.Set(float64(c.Fetched))
	r.added.Set(float64(c.Added))
	r.revised.Set(float64(c.Revised))
	r.skipped.Set(float64(c.Skipped))
	r.duration.Set(c.Seconds)
	r.failure.Reset()
}

// Failure flags the cycle as failed with the given kind, for example
// "transport" or "business".
func (r *Recorder) Failure(kind string, seconds float64) {
	r.failure.Reset()
	r.failure.WithLabelValues(kind).Set(1)
	r.duration.Set(seconds)
}

// WriteTextfile writes the registry in the text exposition format. The
// file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return eris.Wrapf(err, "metrics: write %s", path)
	}
	return nil
}
