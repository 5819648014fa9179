package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/score"
)

// Config is the root configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Output     OutputConfig     `yaml:"output"`
	Timezone   string           `yaml:"timezone" validate:"required"`
	Log        LogConfig        `yaml:"log"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Sources    SourcesConfig    `yaml:"sources"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Hotlists   []HotlistConfig  `yaml:"hotlists" validate:"required,min=1,unique=Name,dive"`
	Aliases    AliasesConfig    `yaml:"aliases"`
	Selection  SelectionConfig  `yaml:"selection"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	Coverage   CoverageConfig   `yaml:"coverage"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Server     ServerConfig     `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// OutputConfig configures where published JSON artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// LogConfig sets logging defaults; command-line flags override them.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// ScheduleConfig configures the daemon intervals.
type ScheduleConfig struct {
	FetchInterval string `yaml:"fetch_interval"`
	RunInterval   string `yaml:"run_interval"`
}

// ParseFetchInterval returns the fetch interval as time.Duration.
func (s ScheduleConfig) ParseFetchInterval() time.Duration {
	d, err := time.ParseDuration(s.FetchInterval)
	if err != nil || d <= 0 {
		return 7 * 24 * time.Hour
	}
	return d
}

// ParseRunInterval returns the pipeline interval as time.Duration.
func (s ScheduleConfig) ParseRunInterval() time.Duration {
	d, err := time.ParseDuration(s.RunInterval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// SourcesConfig holds configuration for both catalogs.
type SourcesConfig struct {
	MinItems    int               `yaml:"min_items" validate:"min=0"`
	GitHub      GitHubConfig      `yaml:"github"`
	HuggingFace HuggingFaceConfig `yaml:"huggingface"`
	Releases    ReleasesConfig    `yaml:"releases"`
}

// GitHubConfig for the code-host search.
type GitHubConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Token         string `yaml:"token"`
	BaseURL       string `yaml:"base_url" validate:"omitempty,url"`
	MinStars      int    `yaml:"min_stars" validate:"min=0"`
	FallbackStars int    `yaml:"fallback_stars" validate:"min=0"`
}

// HuggingFaceConfig for the model-hub listing.
type HuggingFaceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Limit   int    `yaml:"limit" validate:"min=1,max=1000"`
}

// ReleasesConfig for release feed enrichment of code-host items.
type ReleasesConfig struct {
	Enabled     bool    `yaml:"enabled"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	PerSecond   float64 `yaml:"per_second" validate:"gt=0"`
	Concurrency int     `yaml:"concurrency" validate:"min=1,max=32"`
}

// ScoringConfig configures the score engine.
type ScoringConfig struct {
	TauDays float64                  `yaml:"tau_days" validate:"gt=0"`
	Epsilon float64                  `yaml:"epsilon" validate:"gt=0"`
	Weights map[string]score.Weights `yaml:"weights"`
}

// SourceWeights returns the weights keyed by source kind.
func (s ScoringConfig) SourceWeights() map[catalog.SourceKind]score.Weights {
	out := score.DefaultWeights()
	for k, w := range s.Weights {
		out[catalog.SourceKind(k)] = w
	}
	return out
}

// HotlistConfig configures one maintained hotlist.
type HotlistConfig struct {
	Name        string `yaml:"name" validate:"required,alphanum"`
	Source      string `yaml:"source" validate:"oneof=model-hub code-host"`
	Taxonomy    string `yaml:"taxonomy" validate:"required"`
	AppendLimit int    `yaml:"append_limit" validate:"min=0"`
	MinSeed     int    `yaml:"min_seed" validate:"min=0"`
}

// AliasesConfig locates the curated alias map and the staged suggestions.
type AliasesConfig struct {
	Curated     string `yaml:"curated"`
	Suggestions string `yaml:"suggestions"`
}

// SelectionConfig configures the diverse daily selector.
type SelectionConfig struct {
	Count        int     `yaml:"count" validate:"min=1,max=100"`
	CooldownDays int     `yaml:"cooldown_days" validate:"min=0,ltefield=HistoryDays"`
	HistoryDays  int     `yaml:"history_days" validate:"min=1"`
	RecentDays   int     `yaml:"recent_days" validate:"min=1"`
	Alpha        float64 `yaml:"alpha" validate:"min=0"`
}

// SummarizerConfig configures the external summarization service.
type SummarizerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url" validate:"omitempty,url"`
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	MaxTokens   int    `yaml:"max_tokens" validate:"min=0"`
	Concurrency int    `yaml:"concurrency" validate:"min=1,max=16"`
	Retries     int    `yaml:"retries" validate:"min=0,max=2"`
	Backoff     string `yaml:"backoff"`
	Timeout     string `yaml:"timeout"`
}

// ParseBackoff returns the base retry backoff.
func (s SummarizerConfig) ParseBackoff() time.Duration {
	d, err := time.ParseDuration(s.Backoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// ParseTimeout returns the per-request timeout.
func (s SummarizerConfig) ParseTimeout() time.Duration {
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// CoverageConfig configures the coverage auditor.
type CoverageConfig struct {
	Min        int  `yaml:"min" validate:"min=0"`
	FailOnMiss bool `yaml:"fail_on_miss"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url" validate:"required_if=Enabled true"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	Secret  string `yaml:"secret"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./modelwatch.db"},
		Output:   OutputConfig{Dir: "./data/modelwatch"},
		Timezone: "Asia/Shanghai",
		Log:      LogConfig{Level: "info", Format: "text"},
		Schedule: ScheduleConfig{
			FetchInterval: "168h",
			RunInterval:   "24h",
		},
		Sources: SourcesConfig{
			MinItems:    6,
			GitHub:      GitHubConfig{Enabled: true, MinStars: 500, FallbackStars: 200},
			HuggingFace: HuggingFaceConfig{Enabled: true, Limit: 60},
			Releases:    ReleasesConfig{Enabled: true, PerSecond: 2, Concurrency: 4},
		},
		Scoring: ScoringConfig{
			TauDays: score.DefaultTauDays,
			Epsilon: score.DefaultEpsilon,
		},
		Hotlists: []HotlistConfig{
			{Name: "models", Source: string(catalog.SourceModelHub), Taxonomy: "configs/ai_tasks.yaml", AppendLimit: 1, MinSeed: 2},
			{Name: "projects", Source: string(catalog.SourceCodeHost), Taxonomy: "configs/project_categories.yaml", AppendLimit: 1, MinSeed: 2},
		},
		Aliases: AliasesConfig{
			Curated:     "configs/task_aliases.json",
			Suggestions: "./data/modelwatch/task_aliases.autogen.json",
		},
		Selection: SelectionConfig{
			Count:        10,
			CooldownDays: 7,
			HistoryDays:  30,
			RecentDays:   7,
			Alpha:        0.5,
		},
		Summarizer: SummarizerConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			MaxTokens:   768,
			Concurrency: 3,
			Retries:     2,
			Backoff:     "1s",
			Timeout:     "60s",
		},
		Coverage: CoverageConfig{Min: 2},
		Server:   ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file, applies env var overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that the timezone exists.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the snapshot timezone, UTC if it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Hotlist returns the named hotlist configuration.
func (c *Config) Hotlist(name string) (HotlistConfig, bool) {
	for _, h := range c.Hotlists {
		if h.Name == name {
			return h, true
		}
	}
	return HotlistConfig{}, false
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODELWATCH_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MODELWATCH_OUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := firstEnv("GITHUB_TOKEN", "GH_TOKEN"); v != "" {
		cfg.Sources.GitHub.Token = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.Sources.HuggingFace.Token = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		cfg.Summarizer.APIKey = v
		cfg.Summarizer.Enabled = true
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Summarizer.APIKey = v
		cfg.Summarizer.Enabled = true
	}
	if v := os.Getenv("DEEPSEEK_BASE_URL"); v != "" {
		cfg.Summarizer.BaseURL = v
	}
	if v := os.Getenv("DEEPSEEK_MODEL"); v != "" {
		cfg.Summarizer.Model = v
	}
	if n, ok := envInt("DEEPSEEK_MAX_TOKENS"); ok {
		cfg.Summarizer.MaxTokens = n
	}
	if n, ok := envInt("HOTLIST_LIMIT_PER_TASK"); ok {
		for i := range cfg.Hotlists {
			cfg.Hotlists[i].AppendLimit = n
		}
	}
	if n, ok := envInt("HOTLIST_MIN_SEED_PER_TASK"); ok {
		for i := range cfg.Hotlists {
			cfg.Hotlists[i].MinSeed = n
		}
	}
	if v := os.Getenv("HOTLIST_FRESHNESS_TAU_DAYS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Scoring.TauDays = f
		}
	}
	if n, ok := envInt("COVERAGE_MIN"); ok {
		cfg.Coverage.Min = n
	}
	if v := os.Getenv("COVERAGE_FAIL_ON_MISS"); v != "" {
		cfg.Coverage.FailOnMiss = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
