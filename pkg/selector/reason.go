package selector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/elonfeng/modelwatch/pkg/score"
)

const (
	risingZ        = 1.5
	freshThreshold = 0.8
	releaseWindow  = 7 * 24 * time.Hour
)

var keywordReasons = []struct {
	keywords []string
	label    string
}{
	{[]string{"state-of-the-art", "sota"}, "claims state-of-the-art results"},
	{[]string{"benchmark", "leaderboard"}, "benchmark-focused"},
	{[]string{"agent", "agentic"}, "agent tooling"},
	{[]string{"quantized", "gguf", "int4", "int8"}, "quantized for local inference"},
	{[]string{"multilingual"}, "multilingual"},
}

// Reason returns a short explanatory label for a pick. It has no effect on
// selection.
func Reason(c score.Candidate, category string, now time.Time) string {
	if r := c.Release; r != nil && !r.PublishedAt.IsZero() && now.Sub(r.PublishedAt) <= releaseWindow {
		return fmt.Sprintf("new release %s", r.Tag)
	}

	if name, z := topZ(c); z >= risingZ {
		return fmt.Sprintf("rising fast: +%.0f %s in 7d", c.Deltas[name], name)
	}

	if c.Freshness >= freshThreshold {
		return "recently updated"
	}

	text := strings.ToLower(c.Summary + " " + strings.Join(c.Tags, " "))
	for _, kr := range keywordReasons {
		for _, kw := range kr.keywords {
			if strings.Contains(text, kw) {
				return kr.label
			}
		}
	}

	return fmt.Sprintf("top pick in %s", category)
}

// Annotate fills Reason on every pick.
func Annotate(picks []Pick, now time.Time) {
	for i := range picks {
		picks[i].Reason = Reason(picks[i].Candidate, picks[i].Category, now)
	}
}

func topZ(c score.Candidate) (string, float64) {
	names := make([]string, 0, len(c.Z))
	for k := range c.Z {
		names = append(names, k)
	}
	sort.Strings(names)

	best, bestZ := "", 0.0
	for _, n := range names {
		if best == "" || c.Z[n] > bestZ {
			best, bestZ = n, c.Z[n]
		}
	}
	return best, bestZ
}
