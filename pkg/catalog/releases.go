package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultGitHubWeb = "https://github.com"

// ReleaseFeed enriches code-host items with their latest release, read from
// the repository's public releases Atom feed.
type ReleaseFeed struct {
	client      *http.Client
	parser      *gofeed.Parser
	baseURL     string
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// NewReleaseFeed creates a release enricher. perSecond bounds the request
// rate across all workers; concurrency bounds in-flight requests.
func NewReleaseFeed(baseURL string, perSecond float64, concurrency int, logger *slog.Logger) *ReleaseFeed {
	if baseURL == "" {
		baseURL = defaultGitHubWeb
	}
	if perSecond <= 0 {
		perSecond = 2
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReleaseFeed{
		client:      &http.Client{Timeout: 15 * time.Second},
		parser:      gofeed.NewParser(),
		baseURL:     strings.TrimRight(baseURL, "/"),
		limiter:     rate.NewLimiter(rate.Limit(perSecond), 1),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enrich sets Item.Release for code-host items with at least one release.
// Per-item failures are logged and skipped.
func (r *ReleaseFeed) Enrich(ctx context.Context, items []Item) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i := range items {
		if items[i].Source != SourceCodeHost {
			continue
		}
		it := &items[i]
		g.Go(func() error {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
			rel, err := r.latest(ctx, it.ID)
			if err != nil {
				r.logger.Debug("release feed skipped", "id", it.ID, "error", err)
				return nil
			}
			it.Release = rel
			return nil
		})
	}
	return g.Wait()
}

func (r *ReleaseFeed) latest(ctx context.Context, id string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+id+"/releases.atom", nil)
	if err != nil {
		return nil, fmt.Errorf("create release request %s: %w", id, err)
	}
	req.Header.Set("User-Agent", "modelwatch/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch releases %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("releases %s status %d", id, resp.StatusCode)
	}

	feed, err := r.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse releases %s: %w", id, err)
	}
	if len(feed.Items) == 0 {
		return nil, fmt.Errorf("releases %s: empty feed", id)
	}

	entry := feed.Items[0]
	rel := &Release{Tag: strings.TrimSpace(entry.Title), URL: entry.Link}
	if entry.UpdatedParsed != nil {
		rel.PublishedAt = entry.UpdatedParsed.UTC()
	} else if entry.PublishedParsed != nil {
		rel.PublishedAt = entry.PublishedParsed.UTC()
	}
	return rel, nil
}
