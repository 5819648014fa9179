package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveFetch("model-hub", "live", 60)
	r.ObserveFetch("code-host", "fallback", 42)
	r.ObserveSnapshot(102)
	r.ObserveScored("model-hub", 60)
	r.ObserveHotlist("models", 7, 2)
	r.ObserveCoverage("models", 3)
	r.ObserveSelection(10)
	r.ObserveSummaries(8, 1, 1)
	r.ObserveStage("daily", 2*time.Second)
	r.MarkRun(time.Unix(1760688000, 0))

	path := filepath.Join(t.TempDir(), "textfile", "modelwatch.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `modelwatch_fetch_corpus_items{source="model-hub"} 60`)
	assert.Contains(t, out, `modelwatch_fetch_outcomes_total{outcome="fallback",source="code-host"} 1`)
	assert.Contains(t, out, `modelwatch_snapshot_rows_total 102`)
	assert.Contains(t, out, `modelwatch_hotlist_appended_total{hotlist="models"} 7`)
	assert.Contains(t, out, `modelwatch_hotlist_placeholders_total{hotlist="models"} 2`)
	assert.Contains(t, out, `modelwatch_coverage_underfilled_buckets{hotlist="models"} 3`)
	assert.Contains(t, out, `modelwatch_daily_selections 10`)
	assert.Contains(t, out, `modelwatch_summarize_outcomes_total{status="fallback"} 1`)
	assert.Contains(t, out, `modelwatch_pipeline_stage_duration_seconds_count{stage="daily"} 1`)
	assert.Contains(t, out, `modelwatch_last_run_timestamp_seconds 1.760688e+09`)
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveFetch("x", "live", 1)
		r.ObserveSummaries(1, 0, 0)
		r.MarkRun(time.Now())
	})
	assert.NoError(t, r.WriteTextfile("/nonexistent/x.prom"))
	assert.Nil(t, r.Registry())

	assert.NoError(t, New().WriteTextfile(""))
}
