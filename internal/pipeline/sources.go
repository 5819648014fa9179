package pipeline

import (
	"log/slog"

	"github.com/elonfeng/modelwatch/internal/config"
	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/summarize"
)

// Sources builds the enabled catalog sources and the release enricher.
func Sources(cfg *config.Config, logger *slog.Logger) ([]catalog.Source, catalog.Enricher) {
	var sources []catalog.Source

	if gh := cfg.Sources.GitHub; gh.Enabled {
		opts := []catalog.GitHubOption{catalog.WithStarThresholds(gh.MinStars, gh.FallbackStars)}
		if gh.BaseURL != "" {
			opts = append(opts, catalog.WithGitHubBaseURL(gh.BaseURL))
		}
		sources = append(sources, catalog.NewGitHub(gh.Token, opts...))
	}
	if hf := cfg.Sources.HuggingFace; hf.Enabled {
		sources = append(sources, catalog.NewHuggingFace(hf.BaseURL, hf.Token, hf.Limit))
	}

	var enricher catalog.Enricher
	if rel := cfg.Sources.Releases; rel.Enabled && cfg.Sources.GitHub.Enabled {
		enricher = catalog.NewReleaseFeed(rel.BaseURL, rel.PerSecond, rel.Concurrency, logger)
	}
	return sources, enricher
}

// SummaryClient returns the configured summarization client, or nil when
// summaries are disabled and fallback text should be used.
func SummaryClient(cfg *config.Config, logger *slog.Logger) summarize.Client {
	s := cfg.Summarizer
	if !s.Enabled || s.APIKey == "" {
		return nil
	}
	return summarize.NewOpenAIClient(s.APIKey, s.BaseURL, s.Model, s.MaxTokens, logger)
}
