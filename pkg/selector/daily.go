package selector

import (
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

// MaxDates bounds the published day index.
const MaxDates = 120

// DailyItem is one published pick.
type DailyItem struct {
	ID            string             `json:"id"`
	Source        catalog.SourceKind `json:"source"`
	Name          string             `json:"name"`
	URL           string             `json:"url"`
	Category      string             `json:"category"`
	TaskKeys      []string           `json:"task_keys,omitempty"`
	Stats         map[string]float64 `json:"stats,omitempty"`
	Score         float64            `json:"score"`
	Adjusted      float64            `json:"adjusted_score"`
	Reason        string             `json:"reason"`
	Summary       string             `json:"summary"`
	SummaryStatus string             `json:"summary_status,omitempty"`
}

// Daily is the published selection of one day. Its JSON form decodes
// directly into an Archive.
type Daily struct {
	Date        string      `json:"date"`
	RunID       string      `json:"run_id,omitempty"`
	GeneratedAt time.Time   `json:"generated_at"`
	Items       []DailyItem `json:"items"`
}

// NewDaily builds the publication for picks. Summaries are attached later.
func NewDaily(day, runID string, now time.Time, picks []Pick) *Daily {
	d := &Daily{Date: day, RunID: runID, GeneratedAt: now.UTC(), Items: make([]DailyItem, len(picks))}
	for i, p := range picks {
		c := p.Candidate
		stats := make(map[string]float64, len(c.Metrics)*2)
		for name, v := range c.Metrics {
			stats[name] = v
			stats[name+"_7d"] = c.Deltas[name]
		}
		d.Items[i] = DailyItem{
			ID:       c.ID,
			Source:   c.Source,
			Name:     c.Name,
			URL:      c.URL,
			Category: p.Category,
			TaskKeys: c.TaskKeys,
			Stats:    stats,
			Score:    c.Score,
			Adjusted: p.Adjusted,
			Reason:   p.Reason,
			Summary:  c.Summary,
		}
	}
	return d
}

// Archive returns the history form of d.
func (d *Daily) Archive() Archive {
	a := Archive{Day: d.Date, Items: make([]ArchivedItem, len(d.Items))}
	for i, it := range d.Items {
		a.Items[i] = ArchivedItem{ID: it.ID, Category: it.Category}
	}
	return a
}

// PushDate puts day at the front of a most-recent-first index, removing any
// earlier occurrence and capping the result at MaxDates.
func PushDate(dates []string, day string) []string {
	out := make([]string, 0, len(dates)+1)
	out = append(out, day)
	for _, d := range dates {
		if d != day && d != "" {
			out = append(out, d)
		}
	}
	if len(out) > MaxDates {
		out = out[:MaxDates]
	}
	return out
}
