package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/internal/artifact"
	"github.com/elonfeng/modelwatch/internal/metrics"
	"github.com/elonfeng/modelwatch/internal/store"
	"github.com/elonfeng/modelwatch/pkg/audit"
	"github.com/elonfeng/modelwatch/pkg/hotlist"
	"github.com/elonfeng/modelwatch/pkg/selector"
)

var now = time.Date(2025, 10, 17, 4, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *store.SQLiteStore, *artifact.Dir) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	out := artifact.NewDir(filepath.Join(dir, "out"))
	return New(st, out, metrics.New(), 0, nil), st, out
}

func get(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := get(t, srv.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestHotlist(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := get(t, h, http.MethodGet, "/api/v1/hotlists/models")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hl := hotlist.New()
	hl.ByCategory["asr"] = hotlist.Bucket{hotlist.Placeholder{TaskKey: "asr", Index: 0, AddedAt: "2025-10-17"}}
	require.NoError(t, st.SaveHotlist(context.Background(), "models", hl))

	rec, body := get(t, h, http.MethodGet, "/api/v1/hotlists/models")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body["by_category"], "asr")

	rec, _ = get(t, h, http.MethodPost, "/api/v1/hotlists/models")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDailyAndDates(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	rec, _ := get(t, h, http.MethodGet, "/api/v1/daily/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = get(t, h, http.MethodGet, "/api/v1/daily/17-10-2025")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, day := range []string{"2025-10-16", "2025-10-17"} {
		require.NoError(t, st.SaveDaily(ctx, &selector.Daily{
			Date:        day,
			RunID:       "run-" + day,
			GeneratedAt: now,
			Items:       []selector.DailyItem{{ID: "acme/" + day, Category: "asr"}},
		}))
	}

	rec, body := get(t, h, http.MethodGet, "/api/v1/daily/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025-10-17", body["date"])

	rec, body = get(t, h, http.MethodGet, "/api/v1/daily/2025-10-16")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-2025-10-16", body["run_id"])

	rec, _ = get(t, h, http.MethodGet, "/api/v1/daily/2025-10-01")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, h, http.MethodGet, "/api/v1/dates")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"2025-10-17", "2025-10-16"}, body["data"])
}

func TestCoverage(t *testing.T) {
	srv, _, out := newTestServer(t)
	h := srv.Handler()

	rec, _ := get(t, h, http.MethodGet, "/api/v1/coverage")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, out.Write(artifact.CoverageFile, audit.Summary{RunID: "run-1", GeneratedAt: now, Min: 2}))
	rec, body := get(t, h, http.MethodGet, "/api/v1/coverage")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", body["run_id"])
}

func TestRuns(t *testing.T) {
	srv, st, _ := newTestServer(t)
	h := srv.Handler()
	ctx := context.Background()

	rec, body := get(t, h, http.MethodGet, "/api/v1/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["count"])
	assert.Equal(t, []any{}, body["data"])

	require.NoError(t, st.StartRun(ctx, "run-1", "daily", now))
	require.NoError(t, st.FinishRun(ctx, "run-1", "ok", "", now.Add(time.Minute)))
	require.NoError(t, st.StartRun(ctx, "run-2", "audit", now.Add(time.Hour)))

	rec, body = get(t, h, http.MethodGet, "/api/v1/runs?limit=5")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])

	rec, body = get(t, h, http.MethodGet, "/api/v1/runs?limit=1")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])

	for _, bad := range []string{"0", "-3", "abc", "1000"} {
		rec, _ = get(t, h, http.MethodGet, "/api/v1/runs?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}

	rec, _ = get(t, h, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.metrics.ObserveSelection(7)

	rec, _ := get(t, srv.Handler(), http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "modelwatch_daily_selections 7")
}
