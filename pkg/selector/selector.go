// Package selector picks a bounded, category-diverse daily sample from a
// scored candidate pool.
package selector

import (
	"math"
	"sort"

	"github.com/elonfeng/modelwatch/pkg/score"
)

// Uncategorized is the category of candidates without task keys.
const Uncategorized = "uncategorized"

// Options control one selection.
type Options struct {
	Count        int
	CooldownDays int
	Alpha        float64
}

// Pick is one selected candidate.
type Pick struct {
	Candidate score.Candidate `json:"candidate"`
	Category  string          `json:"category"`
	Adjusted  float64         `json:"adjusted_score"`
	Reason    string          `json:"reason"`
}

// CategoryOf returns the candidate's primary category.
func CategoryOf(c score.Candidate) string {
	if p := c.PrimaryTask(); p != "" {
		return p
	}
	return Uncategorized
}

func belongs(c score.Candidate, cat string) bool {
	if len(c.TaskKeys) == 0 {
		return cat == Uncategorized
	}
	for _, k := range c.TaskKeys {
		if k == cat {
			return true
		}
	}
	return false
}

// Quotas splits n across the pool's primary categories in proportion to
// their frequency, using largest remainders. Ties go to the smaller key.
func Quotas(cands []score.Candidate, n int) map[string]int {
	quotas := make(map[string]int)
	if n <= 0 || len(cands) == 0 {
		return quotas
	}
	counts := make(map[string]int)
	for _, c := range cands {
		counts[CategoryOf(c)]++
	}

	type rem struct {
		cat  string
		frac float64
	}
	rems := make([]rem, 0, len(counts))
	assigned := 0
	for cat, cnt := range counts {
		exact := float64(cnt) * float64(n) / float64(len(cands))
		whole := int(math.Floor(exact))
		quotas[cat] = whole
		assigned += whole
		rems = append(rems, rem{cat, exact - float64(whole)})
	}
	sort.Slice(rems, func(i, j int) bool {
		if rems[i].frac != rems[j].frac {
			return rems[i].frac > rems[j].frac
		}
		return rems[i].cat < rems[j].cat
	})
	for i := 0; assigned < n; i++ {
		quotas[rems[i%len(rems)].cat]++
		assigned++
	}
	return quotas
}

// Select greedily picks up to opts.Count candidates. Each step targets the
// category with the largest remaining quota (ties by key); a category with
// no eligible candidate is skipped for the next one with positive quota,
// and only when none remains is the constraint dropped. No two picks share
// an owner, and ids or owners picked within the cooldown are ineligible.
func Select(cands []score.Candidate, quotas map[string]int, st State, opts Options) []Pick {
	remaining := make(map[string]int, len(quotas))
	total := 0
	for k, v := range quotas {
		remaining[k] = v
		total += v
	}

	picked := make(map[string]bool)
	owners := make(map[string]bool)
	var picks []Pick

	for len(picks) < opts.Count {
		var eligible []score.Candidate
		for _, c := range cands {
			owner := c.Owner()
			if picked[c.ID] || owners[owner] || st.coolingDown(c.ID, owner, opts.CooldownDays) {
				continue
			}
			eligible = append(eligible, c)
		}
		if len(eligible) == 0 {
			break
		}

		target := ""
		pool := eligible
		for _, cat := range byRemaining(remaining) {
			var inCat []score.Candidate
			for _, c := range eligible {
				if belongs(c, cat) {
					inCat = append(inCat, c)
				}
			}
			if len(inCat) > 0 {
				target, pool = cat, inCat
				break
			}
		}

		var best score.Candidate
		bestAdj := math.Inf(-1)
		for _, c := range pool {
			cat := target
			if cat == "" {
				cat = CategoryOf(c)
			}
			adj := c.Score * (1 + opts.Alpha*deficit(cat, quotas, total, st))
			if adj > bestAdj || (adj == bestAdj && better(c, best)) {
				best, bestAdj = c, adj
			}
		}

		credit := target
		if credit == "" {
			credit = CategoryOf(best)
		}
		remaining[credit]--
		picked[best.ID] = true
		owners[best.Owner()] = true
		picks = append(picks, Pick{Candidate: best, Category: credit, Adjusted: bestAdj})
	}
	return picks
}

// byRemaining lists categories with positive remaining quota, largest first.
func byRemaining(remaining map[string]int) []string {
	var cats []string
	for k, v := range remaining {
		if v > 0 {
			cats = append(cats, k)
		}
	}
	sort.Slice(cats, func(i, j int) bool {
		if remaining[cats[i]] != remaining[cats[j]] {
			return remaining[cats[i]] > remaining[cats[j]]
		}
		return cats[i] < cats[j]
	})
	return cats
}

// deficit is the category's normalized shortfall of recent picks against
// its quota share, in [0, 1]. With no history every category is fully short.
func deficit(cat string, quotas map[string]int, total int, st State) float64 {
	if total == 0 || quotas[cat] <= 0 {
		return 0
	}
	target := float64(quotas[cat]) / float64(total)
	recent, ok := st.recentShare(cat)
	if !ok {
		return 1
	}
	d := (target - recent) / target
	return math.Max(0, math.Min(1, d))
}

func better(a, b score.Candidate) bool {
	if b.ID == "" {
		return true
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// ArchiveOf converts picks into the archive form read by BuildState.
func ArchiveOf(day string, picks []Pick) Archive {
	a := Archive{Day: day, Items: make([]ArchivedItem, len(picks))}
	for i, p := range picks {
		a.Items[i] = ArchivedItem{ID: p.Candidate.ID, Category: p.Category}
	}
	return a
}
