// Package hotlist maintains durable, append-only per-task buckets of
// accepted candidates.
package hotlist

import (
	"sort"
	"time"

	"github.com/elonfeng/modelwatch/pkg/score"
)

// SchemaVersion is written into published hotlists.
const SchemaVersion = 2

const (
	DefaultAppendLimit = 1
	DefaultMinSeed     = 2
)

// Hotlist holds every bucket of one hotlist.
type Hotlist struct {
	Version    int               `json:"version"`
	UpdatedAt  time.Time         `json:"updated_at"`
	ByCategory map[string]Bucket `json:"by_category"`
}

// New returns an empty hotlist.
func New() *Hotlist {
	return &Hotlist{Version: SchemaVersion, ByCategory: make(map[string]Bucket)}
}

// Normalize fills missing fields so a partially decoded hotlist is usable.
func (h *Hotlist) Normalize() {
	if h.ByCategory == nil {
		h.ByCategory = make(map[string]Bucket)
	}
	if h.Version == 0 {
		h.Version = SchemaVersion
	}
}

// IDs returns the ids of every real entry in any bucket.
func (h *Hotlist) IDs() map[string]bool {
	ids := make(map[string]bool)
	for _, b := range h.ByCategory {
		for _, e := range b {
			if e.Kind() == KindReal {
				ids[e.EntryID()] = true
			}
		}
	}
	return ids
}

// Keys returns bucket keys sorted.
func (h *Hotlist) Keys() []string {
	keys := make([]string, 0, len(h.ByCategory))
	for k := range h.ByCategory {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Options control one maintenance pass.
type Options struct {
	AppendLimit int
	MinSeed     int
	// Day is the acceptance date stamped on new entries.
	Day string
	Now time.Time
}

// Change records an entry added or modified at a bucket position.
type Change struct {
	TaskKey  string
	Position int
	Entry    Entry
}

// Report summarizes one maintenance pass.
type Report struct {
	Appended     []Change
	Placeholders []Change
	Backfilled   []Change
	// Seeded counts appended entries beyond the per-run limit.
	Seeded int
}

// Maintain appends new entries to each task's bucket. Existing entries are
// never removed, reordered or re-scored. Ids already present in any bucket
// are skipped, and each appended id is immediately excluded from later
// tasks. Placeholders are added only when the task's pool of unseen
// candidates is empty and the bucket is below the minimum size.
func Maintain(h *Hotlist, taskKeys []string, cands []score.Candidate, opts Options) Report {
	h.Normalize()
	if opts.AppendLimit <= 0 {
		opts.AppendLimit = DefaultAppendLimit
	}
	if opts.MinSeed < 0 {
		opts.MinSeed = 0
	}

	var rep Report
	rep.Backfilled = backfill(h, cands)

	existing := h.IDs()
	byTask := make(map[string][]score.Candidate)
	for _, c := range cands {
		for _, k := range c.TaskKeys {
			byTask[k] = append(byTask[k], c)
		}
	}

	for _, key := range taskKeys {
		bucket := h.ByCategory[key]

		var pool []score.Candidate
		for _, c := range byTask[key] {
			if !existing[c.ID] {
				pool = append(pool, c)
			}
		}
		score.Rank(pool)

		if len(pool) > 0 {
			take := min(opts.AppendLimit, len(pool))
			if gap := opts.MinSeed - (len(bucket) + take); gap > 0 {
				rep.Seeded += min(gap, len(pool)-take)
				take = min(take+gap, len(pool))
			}
			for _, c := range pool[:take] {
				e := newReal(c, opts.Day)
				bucket = append(bucket, e)
				existing[c.ID] = true
				rep.Appended = append(rep.Appended, Change{TaskKey: key, Position: len(bucket) - 1, Entry: e})
			}
		} else {
			_, placeholders := bucket.Counts()
			for gap := opts.MinSeed - len(bucket); gap > 0; gap-- {
				p := Placeholder{TaskKey: key, Index: placeholders, AddedAt: opts.Day}
				placeholders++
				bucket = append(bucket, p)
				rep.Placeholders = append(rep.Placeholders, Change{TaskKey: key, Position: len(bucket) - 1, Entry: p})
			}
		}

		if bucket == nil {
			bucket = Bucket{}
		}
		h.ByCategory[key] = bucket
	}

	h.Version = SchemaVersion
	if !opts.Now.IsZero() {
		h.UpdatedAt = opts.Now.UTC()
	}
	return rep
}

// backfill assigns task keys to real entries that were accepted without
// them, using this run's classification. Position and score are untouched.
func backfill(h *Hotlist, cands []score.Candidate) []Change {
	keysByID := make(map[string][]string, len(cands))
	for _, c := range cands {
		if len(c.TaskKeys) > 0 {
			keysByID[c.ID] = c.TaskKeys
		}
	}

	var changes []Change
	for _, key := range h.Keys() {
		bucket := h.ByCategory[key]
		for i, e := range bucket {
			r, ok := e.(Real)
			if !ok || len(r.TaskKeys) > 0 {
				continue
			}
			keys, ok := keysByID[r.ID]
			if !ok {
				continue
			}
			r.TaskKeys = append([]string(nil), keys...)
			bucket[i] = r
			changes = append(changes, Change{TaskKey: key, Position: i, Entry: r})
		}
	}
	return changes
}

func newReal(c score.Candidate, day string) Real {
	stats := make(map[string]float64, 2*len(c.Deltas))
	for name, d := range c.Deltas {
		stats[name] = c.Metric(name)
		stats[name+"_7d"] = d
	}
	return Real{
		ID:        c.ID,
		Source:    c.Source,
		Name:      c.Name,
		URL:       c.URL,
		Tags:      c.Tags,
		Stats:     stats,
		Score:     c.Score,
		Summary:   c.Summary,
		UpdatedAt: c.UpdatedAt,
		AddedAt:   day,
		TaskKeys:  append([]string(nil), c.TaskKeys...),
	}
}
