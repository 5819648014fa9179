// Package metrics records per-run pipeline metrics on a private Prometheus
// registry and writes them for the node_exporter textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "modelwatch"

// Recorder holds the run metrics. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	fetchedItems  *prometheus.GaugeVec
	fetchOutcomes *prometheus.CounterVec
	snapshotRows  prometheus.Counter
	scored        *prometheus.GaugeVec

	hotlistAppended     *prometheus.CounterVec
	hotlistPlaceholders *prometheus.CounterVec
	underfilled         *prometheus.GaugeVec

	selections prometheus.Gauge
	summaries  *prometheus.CounterVec

	stageDuration *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

// New creates a recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		fetchedItems: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "corpus_items",
			Help:      "Items in the corpus used for the run, by source",
		}, []string{"source"}),
		fetchOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "outcomes_total",
			Help:      "Fetch outcomes by source (live, not_modified, fallback, empty)",
		}, []string{"source", "outcome"}),
		snapshotRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "rows_total",
			Help:      "Snapshot rows recorded",
		}),
		scored: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "score",
			Name:      "candidates",
			Help:      "Scored candidates by source",
		}, []string{"source"}),
		hotlistAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hotlist",
			Name:      "appended_total",
			Help:      "Real entries appended to hotlist buckets",
		}, []string{"hotlist"}),
		hotlistPlaceholders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hotlist",
			Name:      "placeholders_total",
			Help:      "Placeholder entries synthesized for empty task pools",
		}, []string{"hotlist"}),
		underfilled: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coverage",
			Name:      "underfilled_buckets",
			Help:      "Buckets below the coverage minimum",
		}, []string{"hotlist"}),
		selections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "daily",
			Name:      "selections",
			Help:      "Items selected for the daily publication",
		}),
		summaries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summarize",
			Name:      "outcomes_total",
			Help:      "Summary outcomes by status (ok, fallback, failed)",
		}, []string{"status"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		lastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed run",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveFetch(source, outcome string, items int) {
	if r == nil {
		return
	}
	r.fetchOutcomes.WithLabelValues(source, outcome).Inc()
	r.fetchedItems.WithLabelValues(source).Set(float64(items))
}

func (r *Recorder) ObserveSnapshot(rows int) {
	if r == nil {
		return
	}
	r.snapshotRows.Add(float64(rows))
}

func (r *Recorder) ObserveScored(source string, n int) {
	if r == nil {
		return
	}
	r.scored.WithLabelValues(source).Set(float64(n))
}

func (r *Recorder) ObserveHotlist(name string, appended, placeholders int) {
	if r == nil {
		return
	}
	r.hotlistAppended.WithLabelValues(name).Add(float64(appended))
	r.hotlistPlaceholders.WithLabelValues(name).Add(float64(placeholders))
}

func (r *Recorder) ObserveCoverage(name string, underfilled int) {
	if r == nil {
		return
	}
	r.underfilled.WithLabelValues(name).Set(float64(underfilled))
}

func (r *Recorder) ObserveSelection(n int) {
	if r == nil {
		return
	}
	r.selections.Set(float64(n))
}

func (r *Recorder) ObserveSummaries(ok, fallback, failed int) {
	if r == nil {
		return
	}
	r.summaries.WithLabelValues("ok").Add(float64(ok))
	r.summaries.WithLabelValues("fallback").Add(float64(fallback))
	r.summaries.WithLabelValues("failed").Add(float64(failed))
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) MarkRun(t time.Time) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(t.Unix()))
}

// WriteTextfile writes every metric to path in the text exposition format.
// An empty path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
