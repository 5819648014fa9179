package score

import (
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

// DayLayout is the calendar-day key format used for snapshots and archives.
const DayLayout = "2006-01-02"

// SnapshotEntry is the compact per-item metric subset captured each day.
type SnapshotEntry struct {
	Metrics   map[string]float64 `json:"metrics"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Snapshot maps item id to that day's metric subset.
type Snapshot map[string]SnapshotEntry

// SnapshotMetrics lists the metrics captured per source.
var SnapshotMetrics = map[catalog.SourceKind][]string{
	catalog.SourceModelHub: {catalog.MetricDownloads, catalog.MetricLikes},
	catalog.SourceCodeHost: {catalog.MetricStars, catalog.MetricForks},
}

// SnapshotOf captures the metric subset of every item.
func SnapshotOf(items []catalog.Item) Snapshot {
	snap := make(Snapshot, len(items))
	for _, it := range items {
		names := SnapshotMetrics[it.Source]
		m := make(map[string]float64, len(names))
		for _, name := range names {
			m[name] = it.Metric(name)
		}
		snap[it.ID] = SnapshotEntry{Metrics: m, UpdatedAt: it.UpdatedAt}
	}
	return snap
}

// DayKey formats t as a calendar day in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// ShiftDay returns the day key n days before day. Invalid keys are returned unchanged.
func ShiftDay(day string, n int) string {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, -n).Format(DayLayout)
}
