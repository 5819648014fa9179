// Package catalog fetches and normalizes candidate records from the external
// code-host and model-hub catalogs.
package catalog

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SourceKind identifies which catalog an item came from.
type SourceKind string

const (
	SourceCodeHost SourceKind = "code-host"
	SourceModelHub SourceKind = "model-hub"
)

// Metric names carried in Item.Metrics.
const (
	MetricStars     = "stars"
	MetricForks     = "forks"
	MetricDownloads = "downloads"
	MetricLikes     = "likes"
)

var (
	// ErrSourceUnavailable reports a failed or unusable catalog fetch.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNotModified is returned when a conditional fetch reports no change.
	ErrNotModified = errors.New("not modified")
)

// Item is the normalized record shared by both catalogs.
type Item struct {
	ID        string             `json:"id"`
	Source    SourceKind         `json:"source"`
	Name      string             `json:"name"`
	URL       string             `json:"url"`
	Tags      []string           `json:"tags"`
	License   string             `json:"license,omitempty"`
	Metrics   map[string]float64 `json:"metrics"`
	Summary   string             `json:"summary,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
	Release   *Release           `json:"release,omitempty"`
}

// Release is the latest published release of a code-host item.
type Release struct {
	Tag         string    `json:"tag"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Owner returns the leading namespace segment of the item id.
func (it Item) Owner() string {
	return OwnerOf(it.ID)
}

// OwnerOf returns the leading namespace segment of id.
func OwnerOf(id string) string {
	if i := strings.IndexByte(id, '/'); i >= 0 {
		return strings.ToLower(id[:i])
	}
	return strings.ToLower(id)
}

// Metric returns the named metric or zero.
func (it Item) Metric(name string) float64 {
	if it.Metrics == nil {
		return 0
	}
	return it.Metrics[name]
}

// Corpus is the full set of items fetched from one source in one cycle.
type Corpus struct {
	Source    SourceKind `json:"source"`
	UpdatedAt time.Time  `json:"updated_at"`
	ETag      string     `json:"etag,omitempty"`
	Items     []Item     `json:"items"`
}

// Source is implemented by every catalog client.
type Source interface {
	Name() SourceKind
	// Fetch retrieves the current listing. A non-empty etag makes the
	// request conditional; ErrNotModified is returned when nothing changed.
	Fetch(ctx context.Context, etag string) (*Corpus, error)
}

// Enricher adds secondary data to fetched items in place.
type Enricher interface {
	Enrich(ctx context.Context, items []Item) error
}
