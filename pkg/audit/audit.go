// Package audit reports how well hotlist buckets are filled. It only reads.
package audit

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/hotlist"
)

// DefaultMin is the bucket size below which a task counts as underfilled.
const DefaultMin = 2

const topTasks = 15

// ErrUnderfilled is returned by Check when fail-on-miss is set and any
// bucket is below the minimum.
var ErrUnderfilled = errors.New("buckets underfilled")

// BucketCount is the fill level of a single task bucket.
type BucketCount struct {
	Key          string `json:"key"`
	Count        int    `json:"count"`
	Placeholders int    `json:"placeholders,omitempty"`
}

// Report is the coverage of one hotlist.
type Report struct {
	Hotlist      string        `json:"hotlist"`
	Min          int           `json:"min"`
	TotalEntries int           `json:"total_entries"`
	Placeholders int           `json:"placeholders"`
	PerCategory  []BucketCount `json:"per_category"`
	Underfilled  []BucketCount `json:"underfilled"`
	ZeroTasks    []string      `json:"zero_tasks"`
	TopTasks     []BucketCount `json:"top_tasks"`
}

// Coverage audits h against the taxonomy keys. Buckets are counted with
// placeholders included; tasks missing from the hotlist count as empty.
func Coverage(name string, h *hotlist.Hotlist, taskKeys []string, min int) Report {
	if min <= 0 {
		min = DefaultMin
	}
	r := Report{
		Hotlist:     name,
		Min:         min,
		PerCategory: []BucketCount{},
		Underfilled: []BucketCount{},
		ZeroTasks:   []string{},
		TopTasks:    []BucketCount{},
	}

	keys := map[string]bool{}
	for _, k := range taskKeys {
		keys[k] = true
	}
	if h != nil {
		for k := range h.ByCategory {
			keys[k] = true
		}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		var bucket hotlist.Bucket
		if h != nil {
			bucket = h.ByCategory[k]
		}
		reals, ph := bucket.Counts()
		bc := BucketCount{Key: k, Count: reals + ph, Placeholders: ph}

		r.PerCategory = append(r.PerCategory, bc)
		r.TotalEntries += bc.Count
		r.Placeholders += ph
		if bc.Count < min {
			r.Underfilled = append(r.Underfilled, bc)
		}
		if reals == 0 {
			r.ZeroTasks = append(r.ZeroTasks, k)
		}
		if reals > 0 {
			r.TopTasks = append(r.TopTasks, BucketCount{Key: k, Count: reals})
		}
	}

	sort.SliceStable(r.TopTasks, func(i, j int) bool {
		return r.TopTasks[i].Count > r.TopTasks[j].Count
	})
	if len(r.TopTasks) > topTasks {
		r.TopTasks = r.TopTasks[:topTasks]
	}
	return r
}

// TaskCount is one row of a task distribution.
type TaskCount struct {
	Task  string `json:"task"`
	Count int    `json:"count"`
}

// ClassificationStats describes how much of a corpus was classified.
type ClassificationStats struct {
	Source       catalog.SourceKind `json:"source"`
	Total        int                `json:"total"`
	WithTasks    int                `json:"with_tasks"`
	PctWithTasks float64            `json:"pct_with_tasks"`
	Distribution []TaskCount        `json:"task_distribution"`
}

// Classification tallies assignments (item id to task keys) over items.
func Classification(source catalog.SourceKind, items []catalog.Item, assignments map[string][]string) ClassificationStats {
	st := ClassificationStats{Source: source, Total: len(items), Distribution: []TaskCount{}}
	dist := map[string]int{}
	for _, it := range items {
		keys := assignments[it.ID]
		if len(keys) == 0 {
			continue
		}
		st.WithTasks++
		for _, k := range keys {
			dist[k]++
		}
	}
	if st.Total > 0 {
		st.PctWithTasks = math.Round(float64(st.WithTasks)*10000/float64(st.Total)) / 100
	}
	for k, n := range dist {
		st.Distribution = append(st.Distribution, TaskCount{Task: k, Count: n})
	}
	sort.Slice(st.Distribution, func(i, j int) bool {
		a, b := st.Distribution[i], st.Distribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Task < b.Task
	})
	return st
}

// Summary bundles every report of one audit run.
type Summary struct {
	RunID          string                `json:"run_id,omitempty"`
	GeneratedAt    time.Time             `json:"generated_at"`
	Min            int                   `json:"min"`
	Hotlists       []Report              `json:"hotlists"`
	Classification []ClassificationStats `json:"classification,omitempty"`
}

// Underfilled is the total number of underfilled buckets.
func (s Summary) Underfilled() int {
	n := 0
	for _, r := range s.Hotlists {
		n += len(r.Underfilled)
	}
	return n
}

// Describe renders the underfilled buckets as "name: key(count), ...".
func (s Summary) Describe() string {
	var parts []string
	for _, r := range s.Hotlists {
		if len(r.Underfilled) == 0 {
			continue
		}
		var ks []string
		for _, b := range r.Underfilled {
			ks = append(ks, fmt.Sprintf("%s(%d)", b.Key, b.Count))
		}
		parts = append(parts, r.Hotlist+": "+strings.Join(ks, ", "))
	}
	return strings.Join(parts, "; ")
}

// Check returns ErrUnderfilled when failOnMiss is set and a bucket is short.
func (s Summary) Check(failOnMiss bool) error {
	if !failOnMiss || s.Underfilled() == 0 {
		return nil
	}
	return fmt.Errorf("%w (min %d): %s", ErrUnderfilled, s.Min, s.Describe())
}
