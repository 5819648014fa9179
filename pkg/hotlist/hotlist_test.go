package hotlist

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/score"
)

func cand(id string, s float64, keys ...string) score.Candidate {
	return score.Candidate{
		Item: catalog.Item{
			ID:      id,
			Source:  catalog.SourceModelHub,
			Metrics: map[string]float64{"downloads": 100},
		},
		Deltas:   map[string]float64{"downloads": 10},
		Score:    s,
		TaskKeys: keys,
	}
}

func opts(day string) Options {
	return Options{AppendLimit: 1, MinSeed: 2, Day: day, Now: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)}
}

func ids(b Bucket) []string {
	out := make([]string, len(b))
	for i, e := range b {
		out[i] = e.EntryID()
	}
	return out
}

func TestMaintainSeedsEmptyBucket(t *testing.T) {
	h := New()
	cands := []score.Candidate{
		cand("a/1", 1.0, "chat"),
		cand("b/2", 3.0, "chat"),
		cand("c/3", 2.0, "chat"),
	}

	rep := Maintain(h, []string{"chat"}, cands, opts("2026-10-17"))

	assert.Equal(t, []string{"b/2", "c/3"}, ids(h.ByCategory["chat"]))
	assert.Len(t, rep.Appended, 2)
	assert.Equal(t, 1, rep.Seeded)
	assert.Empty(t, rep.Placeholders)

	first := h.ByCategory["chat"][0].(Real)
	assert.Equal(t, "2026-10-17", first.AddedAt)
	assert.Equal(t, 3.0, first.Score)
	assert.Equal(t, 10.0, first.Stats["downloads_7d"])
	assert.Equal(t, 100.0, first.Stats["downloads"])
}

func TestMaintainAppendOnlyAcrossRuns(t *testing.T) {
	h := New()
	cands := []score.Candidate{
		cand("a/1", 1.0, "chat"),
		cand("b/2", 3.0, "chat"),
		cand("c/3", 2.0, "chat"),
		cand("d/4", 0.5, "chat"),
	}

	Maintain(h, []string{"chat"}, cands, opts("2026-10-16"))
	before := append(Bucket(nil), h.ByCategory["chat"]...)

	// Scores change on the next day; existing entries keep theirs.
	cands[1].Score = -5
	rep := Maintain(h, []string{"chat"}, cands, opts("2026-10-17"))

	bucket := h.ByCategory["chat"]
	require.Len(t, bucket, 3)
	assert.Equal(t, before, bucket[:2])
	assert.Equal(t, "a/1", bucket[2].EntryID())
	assert.Len(t, rep.Appended, 1)
	assert.Equal(t, 2, rep.Appended[0].Position)

	seen := make(map[string]bool)
	for _, id := range ids(bucket) {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestMaintainGlobalDedupAcrossTasks(t *testing.T) {
	h := New()
	cands := []score.Candidate{
		cand("a/1", 5.0, "chat", "vision"),
		cand("b/2", 1.0, "vision"),
	}

	Maintain(h, []string{"chat", "vision"}, cands, Options{AppendLimit: 1, MinSeed: 1, Day: "d"})

	assert.Equal(t, []string{"a/1"}, ids(h.ByCategory["chat"]))
	assert.Equal(t, []string{"b/2"}, ids(h.ByCategory["vision"]))
}

func TestMaintainPlaceholdersOnlyForEmptyPool(t *testing.T) {
	h := New()
	cands := []score.Candidate{cand("a/1", 1.0, "chat")}

	rep := Maintain(h, []string{"chat", "audio"}, cands, opts("2026-10-17"))

	chat := h.ByCategory["chat"]
	assert.Equal(t, []string{"a/1"}, ids(chat), "non-empty pool never yields placeholders")

	audio := h.ByCategory["audio"]
	require.Len(t, audio, 2)
	for i, e := range audio {
		p, ok := e.(Placeholder)
		require.True(t, ok)
		assert.Equal(t, "audio", p.TaskKey)
		assert.Equal(t, i, p.Index)
		assert.Equal(t, PlaceholderScore, e.EntryScore())
	}
	assert.Len(t, rep.Placeholders, 2)

	// Rerun: a/1 is already accepted, so chat's pool is empty and the
	// bucket is topped up to the minimum.
	rep = Maintain(h, []string{"chat", "audio"}, cands, opts("2026-10-18"))
	assert.Equal(t, []string{"a/1", "placeholder:chat:0"}, ids(h.ByCategory["chat"]))
	assert.Len(t, rep.Placeholders, 1)
	assert.Empty(t, rep.Appended)

	// Third run with unchanged inputs: nothing new.
	rep = Maintain(h, []string{"chat", "audio"}, cands, opts("2026-10-19"))
	assert.Empty(t, rep.Placeholders)
	assert.Empty(t, rep.Appended)
	assert.Len(t, h.ByCategory["audio"], 2)
}

func TestMaintainRealEntriesFollowPlaceholders(t *testing.T) {
	h := New()
	Maintain(h, []string{"audio"}, nil, opts("2026-10-16"))
	require.Len(t, h.ByCategory["audio"], 2)

	cands := []score.Candidate{cand("x/1", 2, "audio"), cand("y/2", 1, "audio"), cand("z/3", 0, "audio")}
	rep := Maintain(h, []string{"audio"}, cands, opts("2026-10-17"))

	bucket := h.ByCategory["audio"]
	assert.Equal(t, []string{"placeholder:audio:0", "placeholder:audio:1", "x/1"}, ids(bucket))
	assert.Equal(t, 0, rep.Seeded, "placeholders already count toward the minimum")
}

func TestMaintainSeedCountsWholeBucket(t *testing.T) {
	h := New()
	h.ByCategory["chat"] = Bucket{Placeholder{TaskKey: "chat", Index: 0, AddedAt: "d"}}
	cands := []score.Candidate{cand("a/1", 2, "chat"), cand("b/2", 1, "chat"), cand("c/3", 0, "chat")}

	rep := Maintain(h, []string{"chat"}, cands, Options{AppendLimit: 1, MinSeed: 3, Day: "d"})

	assert.Equal(t, []string{"placeholder:chat:0", "a/1", "b/2"}, ids(h.ByCategory["chat"]))
	assert.Equal(t, 1, rep.Seeded)
}

func TestMaintainPlaceholdersWhenPoolTakenByOtherTasks(t *testing.T) {
	h := New()
	cands := []score.Candidate{
		cand("a/1", 2, "chat", "vision"),
		cand("b/2", 1, "chat", "vision"),
	}

	Maintain(h, []string{"chat", "vision"}, cands, opts("2026-10-16"))
	rep := Maintain(h, []string{"chat", "vision"}, cands, opts("2026-10-17"))

	assert.Equal(t, []string{"a/1", "b/2"}, ids(h.ByCategory["chat"]))
	assert.Equal(t, []string{"placeholder:vision:0", "placeholder:vision:1"}, ids(h.ByCategory["vision"]))
	assert.Empty(t, rep.Placeholders, "second run adds nothing")
	assert.Empty(t, rep.Appended)
}

func TestMaintainBackfillsMissingTaskKeys(t *testing.T) {
	h := New()
	h.ByCategory["chat"] = Bucket{
		Real{ID: "old/1", Score: 9, AddedAt: "2026-01-01"},
		Real{ID: "old/2", Score: 8, AddedAt: "2026-01-01", TaskKeys: []string{"chat"}},
	}
	cands := []score.Candidate{
		cand("old/1", 0.1, "chat", "vision"),
		cand("old/2", 0.1, "vision"),
	}

	rep := Maintain(h, []string{"chat"}, cands, Options{AppendLimit: 1, MinSeed: 0, Day: "d"})

	require.Len(t, rep.Backfilled, 1)
	assert.Equal(t, 0, rep.Backfilled[0].Position)
	r := h.ByCategory["chat"][0].(Real)
	assert.Equal(t, []string{"chat", "vision"}, r.TaskKeys)
	assert.Equal(t, 9.0, r.Score)
	assert.Equal(t, []string{"chat"}, h.ByCategory["chat"][1].(Real).TaskKeys)
	assert.Empty(t, rep.Appended)
}

func TestHotlistJSON(t *testing.T) {
	h := New()
	h.ByCategory["chat"] = Bucket{
		Real{ID: "a/1", Score: 1.5, AddedAt: "d"},
		Placeholder{TaskKey: "chat", Index: 0, AddedAt: "d"},
	}
	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"placeholder"`)
	assert.Contains(t, string(data), `"kind":"real"`)

	var back Hotlist
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.ByCategory["chat"], 2)
	assert.Equal(t, h.ByCategory["chat"][1], back.ByCategory["chat"][1])
	assert.Equal(t, "a/1", back.ByCategory["chat"][0].EntryID())

	_, err = UnmarshalEntry([]byte(`{"kind":"bogus"}`))
	assert.Error(t, err)

	legacy, err := UnmarshalEntry([]byte(`{"id":"z/9","score":2}`))
	require.NoError(t, err)
	assert.Equal(t, KindReal, legacy.Kind())
}
