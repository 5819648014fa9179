package selector

import (
	"time"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/score"
)

// Archive is one past day's published selection.
type Archive struct {
	Day   string         `json:"date"`
	Items []ArchivedItem `json:"items"`
}

// ArchivedItem is the part of a past pick the selector needs.
type ArchivedItem struct {
	ID       string `json:"id"`
	Category string `json:"category"`
}

// State is the recent-history index derived from archives. It is rebuilt
// every run and never edited.
type State struct {
	Today       string
	LastID      map[string]string
	LastOwner   map[string]string
	RecentCount map[string]int
	RecentTotal int
}

// BuildState indexes archives strictly before today and within windowDays.
// Category counts cover only the last recentDays.
func BuildState(archives []Archive, today string, windowDays, recentDays int) State {
	st := State{
		Today:       today,
		LastID:      make(map[string]string),
		LastOwner:   make(map[string]string),
		RecentCount: make(map[string]int),
	}
	for _, a := range archives {
		age, ok := daysBetween(a.Day, today)
		if !ok || age <= 0 || age > windowDays {
			continue
		}
		for _, it := range a.Items {
			if it.ID == "" {
				continue
			}
			if a.Day > st.LastID[it.ID] {
				st.LastID[it.ID] = a.Day
			}
			owner := catalog.OwnerOf(it.ID)
			if a.Day > st.LastOwner[owner] {
				st.LastOwner[owner] = a.Day
			}
			if age <= recentDays {
				cat := it.Category
				if cat == "" {
					cat = Uncategorized
				}
				st.RecentCount[cat]++
				st.RecentTotal++
			}
		}
	}
	return st
}

// coolingDown reports whether id or owner was picked fewer than cooldown days ago.
func (st State) coolingDown(id, owner string, cooldown int) bool {
	if cooldown <= 0 {
		return false
	}
	for _, day := range []string{st.LastID[id], st.LastOwner[owner]} {
		if day == "" {
			continue
		}
		if age, ok := daysBetween(day, st.Today); ok && age < cooldown {
			return true
		}
	}
	return false
}

// recentShare is the category's share of recent picks.
func (st State) recentShare(cat string) (float64, bool) {
	if st.RecentTotal == 0 {
		return 0, false
	}
	return float64(st.RecentCount[cat]) / float64(st.RecentTotal), true
}

func daysBetween(from, to string) (int, bool) {
	a, err := time.Parse(score.DayLayout, from)
	if err != nil {
		return 0, false
	}
	b, err := time.Parse(score.DayLayout, to)
	if err != nil {
		return 0, false
	}
	return int(b.Sub(a).Hours() / 24), true
}
