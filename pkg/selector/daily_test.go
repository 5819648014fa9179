package selector

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/score"
)

func TestNewDaily(t *testing.T) {
	now := time.Date(2025, 10, 17, 2, 0, 0, 0, time.UTC)
	c := score.Candidate{
		Item: catalog.Item{
			ID:      "acme/widget",
			Source:  catalog.SourceCodeHost,
			Name:    "widget",
			Metrics: map[string]float64{"stars": 1000},
			Summary: "desc",
		},
		Deltas:   map[string]float64{"stars": 50},
		Score:    1.5,
		TaskKeys: []string{"agents_workflows"},
	}
	d := NewDaily("2025-10-17", "run-1", now, []Pick{{Candidate: c, Category: "agents_workflows", Adjusted: 2.25, Reason: "agent tooling"}})

	require.Len(t, d.Items, 1)
	it := d.Items[0]
	assert.Equal(t, "acme/widget", it.ID)
	assert.Equal(t, map[string]float64{"stars": 1000, "stars_7d": 50}, it.Stats)
	assert.Equal(t, 2.25, it.Adjusted)
	assert.Equal(t, "desc", it.Summary)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	var a Archive
	require.NoError(t, json.Unmarshal(data, &a))
	assert.Equal(t, d.Archive(), a)
	assert.Equal(t, Archive{Day: "2025-10-17", Items: []ArchivedItem{{ID: "acme/widget", Category: "agents_workflows"}}}, a)
}

func TestPushDate(t *testing.T) {
	assert.Equal(t, []string{"2025-10-17"}, PushDate(nil, "2025-10-17"))
	assert.Equal(t,
		[]string{"2025-10-17", "2025-10-16", "2025-10-15"},
		PushDate([]string{"2025-10-16", "2025-10-17", "2025-10-15"}, "2025-10-17"))

	var long []string
	for i := 0; i < MaxDates+5; i++ {
		long = append(long, fmt.Sprintf("d%03d", i))
	}
	got := PushDate(long, "new")
	assert.Len(t, got, MaxDates)
	assert.Equal(t, "new", got[0])
	assert.Equal(t, "d000", got[1])
}
