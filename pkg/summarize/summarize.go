// Package summarize fans out summary requests to an external service with
// bounded concurrency, retries and per-item fallback text.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elonfeng/modelwatch/pkg/score"
)

// PlaceholderText is used when neither the service nor the item itself
// provides any text.
const PlaceholderText = "(summary unavailable)"

const maxFallbackRunes = 300

// Status is the per-item result kind.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFallback Status = "fallback"
	StatusFailed   Status = "failed"
)

// Outcome is the isolated result of one item.
type Outcome struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	Text     string `json:"text"`
	Attempts int    `json:"attempts"`
	Err      error  `json:"-"`
}

// Stats counts outcomes by status.
type Stats struct {
	OK       int `json:"ok"`
	Fallback int `json:"fallback"`
	Failed   int `json:"failed"`
}

// Degraded is the number of items that did not get a service summary.
func (s Stats) Degraded() int { return s.Fallback + s.Failed }

// Options configure a Summarizer.
type Options struct {
	Concurrency int
	Retries     int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Summarizer runs a Client over many items.
type Summarizer struct {
	client Client
	opts   Options
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a summarizer. A nil client yields fallback text for every item.
func New(client Client, opts Options, logger *slog.Logger) *Summarizer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, opts: opts, logger: logger, sleep: sleepCtx}
}

// Run summarizes every candidate. Outcomes are returned in input order; a
// failing item never affects the others.
func (s *Summarizer) Run(ctx context.Context, cands []score.Candidate) ([]Outcome, Stats) {
	out := make([]Outcome, len(cands))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i := range cands {
		c := cands[i]
		g.Go(func() error {
			out[i] = s.one(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	var st Stats
	for _, o := range out {
		switch o.Status {
		case StatusOK:
			st.OK++
		case StatusFallback:
			st.Fallback++
		default:
			st.Failed++
		}
	}
	if st.Degraded() > 0 {
		s.logger.Warn("summaries degraded", "fallback", st.Fallback, "failed", st.Failed, "total", len(cands))
	}
	return out, st
}

func (s *Summarizer) one(ctx context.Context, c score.Candidate) Outcome {
	o := Outcome{ID: c.ID}

	if s.client != nil {
		prompt := Prompt(c)
		for attempt := 0; attempt <= s.opts.Retries; attempt++ {
			if attempt > 0 {
				if err := s.sleep(ctx, time.Duration(attempt)*s.opts.Backoff); err != nil {
					o.Err = err
					break
				}
			}
			o.Attempts++
			text, err := s.call(ctx, prompt)
			if err == nil {
				o.Status, o.Text, o.Err = StatusOK, text, nil
				return o
			}
			o.Err = err
			s.logger.Debug("summary attempt failed", "id", c.ID, "attempt", o.Attempts, "error", err)
		}
	}

	if text := Truncate(c.Summary); text != "" {
		o.Status, o.Text = StatusFallback, text
		return o
	}
	o.Status, o.Text = StatusFailed, PlaceholderText
	return o
}

func (s *Summarizer) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	text, err := s.client.Summarize(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptySummary
	}
	return strings.TrimSpace(text), nil
}

// Prompt renders the item context sent to the service.
func Prompt(c score.Candidate) string {
	var lines []string
	name := c.Name
	if name == "" {
		name = c.ID
	}
	lines = append(lines, "Name: "+name)
	if c.URL != "" {
		lines = append(lines, "URL: "+c.URL)
	}
	if c.License != "" {
		lines = append(lines, "License: "+c.License)
	}

	var stats []string
	for _, m := range []string{"stars", "forks", "downloads", "likes"} {
		if v := c.Metric(m); v > 0 {
			stats = append(stats, fmt.Sprintf("%s %.0f", m, v))
		}
		if d := c.Deltas[m]; d > 0 {
			stats = append(stats, fmt.Sprintf("%s_7d %.0f", m, d))
		}
	}
	if len(stats) > 0 {
		lines = append(lines, "Stats: "+strings.Join(stats, " · "))
	}

	tags := c.Tags
	if len(tags) > 10 {
		tags = tags[:10]
	}
	if len(tags) > 0 {
		lines = append(lines, "Tags: "+strings.Join(tags, ", "))
	}
	if c.Summary != "" {
		lines = append(lines, "Description: "+c.Summary)
	}
	return strings.Join(lines, "\n")
}

// Truncate collapses whitespace. Text longer than 300 runes keeps its first
// 297 runes followed by an ellipsis.
func Truncate(text string) string {
	t := strings.Join(strings.Fields(text), " ")
	r := []rune(t)
	if len(r) <= maxFallbackRunes {
		return t
	}
	return string(r[:maxFallbackRunes-3]) + "…"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
