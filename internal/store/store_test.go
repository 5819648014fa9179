package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/hotlist"
	"github.com/elonfeng/modelwatch/pkg/score"
	"github.com/elonfeng/modelwatch/pkg/selector"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var ts = time.Date(2025, 10, 17, 8, 0, 0, 0, time.UTC)

func TestCorpusRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.LoadCorpus(ctx, catalog.SourceModelHub)
	require.NoError(t, err)
	assert.Nil(t, c)

	in := &catalog.Corpus{
		Source:    catalog.SourceModelHub,
		UpdatedAt: ts,
		ETag:      `W/"abc"`,
		Items: []catalog.Item{
			{ID: "b/two", Source: catalog.SourceModelHub, Metrics: map[string]float64{"downloads": 5}, UpdatedAt: ts},
			{ID: "a/one", Source: catalog.SourceModelHub, Metrics: map[string]float64{"downloads": 9}, UpdatedAt: ts},
		},
	}
	require.NoError(t, s.SaveCorpus(ctx, in))

	out, err := s.LoadCorpus(ctx, catalog.SourceModelHub)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.ETag, out.ETag)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	require.Len(t, out.Items, 2)
	assert.Equal(t, "b/two", out.Items[0].ID, "order preserved")
	assert.Equal(t, 9.0, out.Items[1].Metric("downloads"))

	// A later save replaces the whole corpus.
	in.Items = in.Items[:1]
	require.NoError(t, s.SaveCorpus(ctx, in))
	out, err = s.LoadCorpus(ctx, catalog.SourceModelHub)
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)

	other, err := s.LoadCorpus(ctx, catalog.SourceCodeHost)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestCorpusSkipsMalformedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCorpus(ctx, &catalog.Corpus{
		Source: catalog.SourceCodeHost,
		Items:  []catalog.Item{{ID: "a/one"}},
	}))
	_, err := s.db.Exec(`INSERT INTO corpus_items (source, item_id, position, payload) VALUES ('code-host', 'x', 1, '{broken')`)
	require.NoError(t, err)

	out, err := s.LoadCorpus(ctx, catalog.SourceCodeHost)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.Equal(t, "a/one", out.Items[0].ID)
}

func TestSnapshotsAreAppendOnlyPerDay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := score.Snapshot{
		"a": {Metrics: map[string]float64{"stars": 10}, UpdatedAt: ts},
	}
	n, err := s.RecordSnapshot(ctx, "2025-10-17", first)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	second := score.Snapshot{
		"a": {Metrics: map[string]float64{"stars": 99}},
		"b": {Metrics: map[string]float64{"stars": 3}},
	}
	n, err = s.RecordSnapshot(ctx, "2025-10-17", second)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only b is new")

	snap, err := s.LoadSnapshot(ctx, "2025-10-17")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap["a"].Metrics["stars"], "first capture of the day wins")
	assert.True(t, ts.Equal(snap["a"].UpdatedAt))
	assert.Equal(t, 3.0, snap["b"].Metrics["stars"])

	_, err = s.RecordSnapshot(ctx, "2025-10-10", first)
	require.NoError(t, err)
	days, err := s.SnapshotDays(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-10-17", "2025-10-10"}, days)

	empty, err := s.LoadSnapshot(ctx, "2020-01-01")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHotlistAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.LoadHotlist(ctx, "models")
	require.NoError(t, err)
	assert.Empty(t, h.ByCategory)

	h.UpdatedAt = ts
	h.ByCategory["asr"] = hotlist.Bucket{
		hotlist.Real{ID: "a/1", Score: 2, AddedAt: "2025-10-16"},
	}
	h.ByCategory["nerf"] = hotlist.Bucket{
		hotlist.Placeholder{TaskKey: "nerf", Index: 0, AddedAt: "2025-10-16"},
	}
	require.NoError(t, s.SaveHotlist(ctx, "models", h))

	// Backfill of task keys and a new append.
	h.ByCategory["asr"][0] = hotlist.Real{ID: "a/1", Score: 2, AddedAt: "2025-10-16", TaskKeys: []string{"asr"}}
	h.ByCategory["asr"] = append(h.ByCategory["asr"], hotlist.Real{ID: "b/1", Score: 1, AddedAt: "2025-10-17"})
	require.NoError(t, s.SaveHotlist(ctx, "models", h))

	got, err := s.LoadHotlist(ctx, "models")
	require.NoError(t, err)
	require.Len(t, got.ByCategory["asr"], 2)
	first := got.ByCategory["asr"][0].(hotlist.Real)
	assert.Equal(t, []string{"asr"}, first.TaskKeys)
	assert.Equal(t, "b/1", got.ByCategory["asr"][1].EntryID())
	assert.Equal(t, hotlist.KindPlaceholder, got.ByCategory["nerf"][0].Kind())
	assert.True(t, ts.Equal(got.UpdatedAt))

	// Replacing an accepted entry is refused.
	h.ByCategory["asr"][0] = hotlist.Real{ID: "z/9"}
	err = s.SaveHotlist(ctx, "models", h)
	assert.ErrorIs(t, err, ErrAppendOnly)

	other, err := s.LoadHotlist(ctx, "projects")
	require.NoError(t, err)
	assert.Empty(t, other.ByCategory)
}

func TestHotlistCorruptRowKeepsPosition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h := hotlist.New()
	h.UpdatedAt = ts
	h.ByCategory["asr"] = hotlist.Bucket{
		hotlist.Real{ID: "a/1", Score: 3, AddedAt: "2025-10-15"},
		hotlist.Real{ID: "b/2", Score: 2, AddedAt: "2025-10-16"},
		hotlist.Real{ID: "c/3", Score: 1, AddedAt: "2025-10-17"},
	}
	h.ByCategory["nerf"] = hotlist.Bucket{
		hotlist.Placeholder{TaskKey: "nerf", Index: 0, AddedAt: "2025-10-16"},
		hotlist.Placeholder{TaskKey: "nerf", Index: 1, AddedAt: "2025-10-16"},
	}
	require.NoError(t, s.SaveHotlist(ctx, "models", h))

	_, err := s.db.Exec(`UPDATE hotlist_entries SET payload = '{broken' WHERE task_key = 'asr' AND position = 1`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE hotlist_entries SET payload = 'null' WHERE task_key = 'nerf' AND position = 0`)
	require.NoError(t, err)

	got, err := s.LoadHotlist(ctx, "models")
	require.NoError(t, err)
	asr := got.ByCategory["asr"]
	require.Len(t, asr, 3)
	assert.Equal(t, "a/1", asr[0].EntryID())
	assert.Equal(t, hotlist.Real{ID: "b/2", AddedAt: "2025-10-16"}, asr[1])
	assert.Equal(t, "c/3", asr[2].EntryID())
	nerf := got.ByCategory["nerf"]
	require.Len(t, nerf, 2)
	assert.Equal(t, hotlist.Placeholder{TaskKey: "nerf", Index: 0, AddedAt: "2025-10-16"}, nerf[0])

	// Appending after the damaged row saves cleanly and repairs it.
	got.ByCategory["asr"] = append(asr, hotlist.Real{ID: "d/4", AddedAt: "2025-10-18"})
	require.NoError(t, s.SaveHotlist(ctx, "models", got))

	again, err := s.LoadHotlist(ctx, "models")
	require.NoError(t, err)
	require.Len(t, again.ByCategory["asr"], 4)
	assert.Equal(t, "b/2", again.ByCategory["asr"][1].EntryID())
	assert.Equal(t, "d/4", again.ByCategory["asr"][3].EntryID())
}

func TestDailySelections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LoadDaily(ctx, "2025-10-17")
	assert.ErrorIs(t, err, ErrNotFound)

	for _, day := range []string{"2025-10-15", "2025-10-16", "2025-10-17"} {
		require.NoError(t, s.SaveDaily(ctx, &selector.Daily{
			Date:        day,
			RunID:       "run-" + day,
			GeneratedAt: ts,
			Items:       []selector.DailyItem{{ID: "o/" + day, Category: "chat"}},
		}))
	}
	// Re-running a day replaces it.
	require.NoError(t, s.SaveDaily(ctx, &selector.Daily{
		Date:  "2025-10-17",
		RunID: "rerun",
		Items: []selector.DailyItem{{ID: "p/1", Category: "asr"}},
	}))

	d, err := s.LoadDaily(ctx, "2025-10-17")
	require.NoError(t, err)
	assert.Equal(t, "rerun", d.RunID)

	archives, err := s.ListArchives(ctx, "2025-10-16")
	require.NoError(t, err)
	assert.Equal(t, []selector.Archive{
		{Day: "2025-10-17", Items: []selector.ArchivedItem{{ID: "p/1", Category: "asr"}}},
		{Day: "2025-10-16", Items: []selector.ArchivedItem{{ID: "o/2025-10-16", Category: "chat"}}},
	}, archives)

	dates, err := s.Dates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-10-17", "2025-10-16"}, dates)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StartRun(ctx, "r1", "run", ts))
	require.NoError(t, s.StartRun(ctx, "r2", "fetch", ts.Add(time.Hour)))
	require.NoError(t, s.FinishRun(ctx, "r1", "ok", "", ts.Add(time.Minute)))
	assert.ErrorIs(t, s.FinishRun(ctx, "missing", "ok", "", ts), ErrNotFound)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)
	assert.Equal(t, "running", runs[0].Status)
	assert.Equal(t, "ok", runs[1].Status)
}
