package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHub lists popular, recently pushed repositories from the GitHub search API.
type GitHub struct {
	client   *http.Client
	baseURL  string
	token    string
	minStars int
	fallback int
	perPage  int
	window   time.Duration
	now      func() time.Time
}

// GitHubOption customizes a GitHub source.
type GitHubOption func(*GitHub)

// WithGitHubBaseURL points the client at a different API root.
func WithGitHubBaseURL(u string) GitHubOption {
	return func(g *GitHub) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithGitHubClock overrides the clock used for the pushed-since window.
func WithGitHubClock(now func() time.Time) GitHubOption {
	return func(g *GitHub) { g.now = now }
}

// WithStarThresholds sets the primary and fallback minimum star counts.
func WithStarThresholds(primary, fallback int) GitHubOption {
	return func(g *GitHub) {
		if primary > 0 {
			g.minStars = primary
		}
		if fallback > 0 {
			g.fallback = fallback
		}
	}
}

// NewGitHub creates a new GitHub source.
func NewGitHub(token string, opts ...GitHubOption) *GitHub {
	g := &GitHub{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  defaultGitHubAPI,
		token:    token,
		minStars: 500,
		fallback: 200,
		perPage:  60,
		window:   365 * 24 * time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GitHub) Name() SourceKind { return SourceCodeHost }

func (g *GitHub) Fetch(ctx context.Context, etag string) (*Corpus, error) {
	since := g.now().Add(-g.window).UTC().Format("2006-01-02")

	corpus, err := g.search(ctx, fmt.Sprintf("stars:>%d pushed:>=%s", g.minStars, since), etag)
	if err == nil || errors.Is(err, ErrNotModified) {
		return corpus, err
	}

	// Rejected primary query: retry once with a looser threshold, unconditionally.
	fb, fbErr := g.search(ctx, fmt.Sprintf("stars:>%d", g.fallback), "")
	if fbErr != nil {
		return nil, fmt.Errorf("github search: %w (fallback: %v)", err, fbErr)
	}
	return fb, nil
}

func (g *GitHub) search(ctx context.Context, query, etag string) (*Corpus, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", "stars")
	params.Set("order", "desc")
	params.Set("per_page", fmt.Sprintf("%d", g.perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search/repositories?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create github request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "modelwatch/1.0")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch github search: %w: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API status %d: %w", resp.StatusCode, ErrSourceUnavailable)
	}

	var result ghSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode github response: %w", err)
	}

	items := make([]Item, 0, len(result.Items))
	for _, repo := range result.Items {
		if !repo.License.usable() {
			continue
		}
		tags := append([]string(nil), repo.Topics...)
		if repo.Language != "" {
			tags = append(tags, strings.ToLower(repo.Language))
		}
		items = append(items, Item{
			ID:      repo.FullName,
			Source:  SourceCodeHost,
			Name:    repo.Name,
			URL:     repo.HTMLURL,
			Tags:    tags,
			License: repo.License.SPDXID,
			Metrics: map[string]float64{
				MetricStars: float64(repo.Stars),
				MetricForks: float64(repo.Forks),
			},
			Summary:   repo.Description,
			UpdatedAt: repo.PushedAt,
		})
	}

	return &Corpus{
		Source:    SourceCodeHost,
		UpdatedAt: g.now().UTC(),
		ETag:      resp.Header.Get("ETag"),
		Items:     items,
	}, nil
}

type ghSearchResult struct {
	TotalCount int      `json:"total_count"`
	Items      []ghRepo `json:"items"`
}

type ghRepo struct {
	FullName    string     `json:"full_name"`
	Name        string     `json:"name"`
	HTMLURL     string     `json:"html_url"`
	Description string     `json:"description"`
	Stars       int        `json:"stargazers_count"`
	Forks       int        `json:"forks_count"`
	Language    string     `json:"language"`
	Topics      []string   `json:"topics"`
	PushedAt    time.Time  `json:"pushed_at"`
	License     *ghLicense `json:"license"`
}

type ghLicense struct {
	SPDXID string `json:"spdx_id"`
}

func (l *ghLicense) usable() bool {
	return l != nil && l.SPDXID != "" && l.SPDXID != "NOASSERTION"
}
