// Package score computes windowed metric deltas, normalizes them over the
// current pool and blends them with freshness into a single score.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

const (
	DefaultTauDays = 30.0
	DefaultEpsilon = 1e-9
	WindowDays     = 7
)

// Weights blends normalized deltas and freshness for one source.
type Weights struct {
	Metrics   map[string]float64 `yaml:"metrics" json:"metrics"`
	Freshness float64            `yaml:"freshness" json:"freshness"`
}

// DefaultWeights returns the per-source weights.
func DefaultWeights() map[catalog.SourceKind]Weights {
	return map[catalog.SourceKind]Weights{
		catalog.SourceModelHub: {
			Metrics:   map[string]float64{catalog.MetricDownloads: 0.6, catalog.MetricLikes: 0.3},
			Freshness: 0.1,
		},
		catalog.SourceCodeHost: {
			Metrics:   map[string]float64{catalog.MetricStars: 0.6, catalog.MetricForks: 0.2},
			Freshness: 0.2,
		},
	}
}

// Candidate is an item with its derived statistics. It is recomputed every
// run and never persisted directly.
type Candidate struct {
	catalog.Item
	Deltas    map[string]float64 `json:"deltas"`
	Z         map[string]float64 `json:"z"`
	Freshness float64            `json:"freshness"`
	Score     float64            `json:"score"`
	TaskKeys  []string           `json:"task_keys,omitempty"`
}

// PrimaryTask returns the first task key or "".
func (c Candidate) PrimaryTask() string {
	if len(c.TaskKeys) == 0 {
		return ""
	}
	return c.TaskKeys[0]
}

// Engine scores candidate pools.
type Engine struct {
	weights map[catalog.SourceKind]Weights
	tau     float64
	eps     float64
}

// NewEngine creates a scoring engine. Zero values select defaults.
func NewEngine(weights map[catalog.SourceKind]Weights, tauDays, epsilon float64) *Engine {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	if tauDays <= 0 {
		tauDays = DefaultTauDays
	}
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Engine{weights: weights, tau: tauDays, eps: epsilon}
}

// Delta is the non-negative growth between two cumulative readings.
// A drop (for example a counter reset) yields zero.
func Delta(today, prior float64) float64 {
	return math.Max(0, today-prior)
}

// Freshness decays exponentially with days since update. A zero timestamp
// yields zero; a timestamp in the future counts as fresh.
func Freshness(updated, now time.Time, tauDays float64) float64 {
	if updated.IsZero() {
		return 0
	}
	if tauDays < 1 {
		tauDays = 1
	}
	days := now.Sub(updated).Hours() / 24
	if days < 0 {
		days = 0
	}
	return math.Exp(-days / tauDays)
}

// ZScores normalizes values by population mean and standard deviation.
// When the deviation is below eps every score is zero.
func ZScores(values []float64, eps float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	std := math.Sqrt(sq / float64(len(values)))
	if std < eps {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / std
	}
	return out
}

// Score computes candidates for items. today and prior are the snapshots
// for the current day and WindowDays earlier; a missing prior entry equals
// today's and a missing today entry falls back to the item's own metrics.
// Normalization runs over the items passed in, grouped by source.
func (e *Engine) Score(items []catalog.Item, today, prior Snapshot, now time.Time) []Candidate {
	cands := make([]Candidate, len(items))
	for i, it := range items {
		w := e.weights[it.Source]
		cur, ok := today[it.ID]
		if !ok {
			cur = SnapshotEntry{Metrics: it.Metrics, UpdatedAt: it.UpdatedAt}
		}
		prev, ok := prior[it.ID]
		if !ok {
			prev = cur
		}

		deltas := make(map[string]float64, len(w.Metrics))
		for _, name := range sortedMetricNames(w.Metrics) {
			deltas[name] = Delta(cur.Metrics[name], prev.Metrics[name])
		}

		updated := cur.UpdatedAt
		if updated.IsZero() {
			updated = it.UpdatedAt
		}

		cands[i] = Candidate{
			Item:      it,
			Deltas:    deltas,
			Z:         make(map[string]float64, len(deltas)),
			Freshness: Freshness(updated, now, e.tau),
		}
	}

	e.normalize(cands)

	for i := range cands {
		w := e.weights[cands[i].Source]
		s := w.Freshness * cands[i].Freshness
		for _, name := range sortedMetricNames(w.Metrics) {
			s += w.Metrics[name] * cands[i].Z[name]
		}
		cands[i].Score = s
	}
	return cands
}

func (e *Engine) normalize(cands []Candidate) {
	groups := make(map[catalog.SourceKind][]int)
	var order []catalog.SourceKind
	for i, c := range cands {
		if _, ok := groups[c.Source]; !ok {
			order = append(order, c.Source)
		}
		groups[c.Source] = append(groups[c.Source], i)
	}

	for _, src := range order {
		idx := groups[src]
		for _, name := range sortedMetricNames(e.weights[src].Metrics) {
			values := make([]float64, len(idx))
			for j, i := range idx {
				values[j] = cands[i].Deltas[name]
			}
			for j, z := range ZScores(values, e.eps) {
				cands[idx[j]].Z[name] = z
			}
		}
	}
}

// Rank sorts candidates by descending score, then ascending id.
func Rank(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ID < cands[j].ID
	})
}

func sortedMetricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
