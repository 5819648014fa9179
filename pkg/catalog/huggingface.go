package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHuggingFaceAPI = "https://huggingface.co"

// HuggingFace lists the most downloaded public models from the Hugging Face hub.
type HuggingFace struct {
	client  *http.Client
	baseURL string
	token   string
	limit   int
	now     func() time.Time
}

// NewHuggingFace creates a new model-hub source. An empty baseURL uses the public hub.
func NewHuggingFace(baseURL, token string, limit int) *HuggingFace {
	if baseURL == "" {
		baseURL = defaultHuggingFaceAPI
	}
	if limit <= 0 {
		limit = 60
	}
	return &HuggingFace{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limit:   limit,
		now:     time.Now,
	}
}

func (h *HuggingFace) Name() SourceKind { return SourceModelHub }

func (h *HuggingFace) Fetch(ctx context.Context, etag string) (*Corpus, error) {
	params := url.Values{}
	params.Set("sort", "downloads")
	params.Set("direction", "-1")
	params.Set("limit", fmt.Sprintf("%d", h.limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/models?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create huggingface request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "modelwatch/1.0")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch huggingface models: %w: %w", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("huggingface API status %d: %w", resp.StatusCode, ErrSourceUnavailable)
	}

	var models []hfModel
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return nil, fmt.Errorf("decode huggingface response: %w", err)
	}

	items := make([]Item, 0, len(models))
	for _, m := range models {
		id := m.ID
		if id == "" {
			id = m.ModelID
		}
		if id == "" || m.isGated() {
			continue
		}
		tags := append([]string(nil), m.Tags...)
		if m.PipelineTag != "" {
			tags = append(tags, m.PipelineTag)
		}
		items = append(items, Item{
			ID:      id,
			Source:  SourceModelHub,
			Name:    id[strings.LastIndexByte(id, '/')+1:],
			URL:     h.baseURL + "/" + id,
			Tags:    tags,
			License: licenseFromTags(m.Tags),
			Metrics: map[string]float64{
				MetricDownloads: float64(m.Downloads),
				MetricLikes:     float64(m.Likes),
			},
			UpdatedAt: parseTime(m.LastModified),
		})
	}

	return &Corpus{
		Source:    SourceModelHub,
		UpdatedAt: h.now().UTC(),
		ETag:      resp.Header.Get("ETag"),
		Items:     items,
	}, nil
}

type hfModel struct {
	ID           string          `json:"id"`
	ModelID      string          `json:"modelId"`
	Downloads    int64           `json:"downloads"`
	Likes        int64           `json:"likes"`
	Tags         []string        `json:"tags"`
	PipelineTag  string          `json:"pipeline_tag"`
	LastModified string          `json:"lastModified"`
	Gated        json.RawMessage `json:"gated"`
}

// isGated reports whether the hub marks the model as gated. The field is
// either false or a string mode such as "auto" or "manual".
func (m hfModel) isGated() bool {
	g := bytes.TrimSpace(m.Gated)
	if len(g) == 0 {
		return false
	}
	switch string(g) {
	case "false", "null", `""`:
		return false
	}
	return true
}

func licenseFromTags(tags []string) string {
	for _, t := range tags {
		if rest, ok := strings.CutPrefix(t, "license:"); ok {
			return rest
		}
	}
	return ""
}

// parseTime accepts RFC3339 timestamps and returns the zero time otherwise.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
