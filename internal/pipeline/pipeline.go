// Package pipeline runs the stages of a modelwatch cycle against the store
// and publishes their artifacts. Stages run sequentially and each one
// finishes its computation before writing anything.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/elonfeng/modelwatch/internal/artifact"
	"github.com/elonfeng/modelwatch/internal/config"
	"github.com/elonfeng/modelwatch/internal/metrics"
	"github.com/elonfeng/modelwatch/internal/store"
	"github.com/elonfeng/modelwatch/pkg/alert"
	"github.com/elonfeng/modelwatch/pkg/audit"
	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/hotlist"
	"github.com/elonfeng/modelwatch/pkg/score"
	"github.com/elonfeng/modelwatch/pkg/selector"
	"github.com/elonfeng/modelwatch/pkg/summarize"
	"github.com/elonfeng/modelwatch/pkg/taxonomy"
)

// Pipeline wires the domain packages to storage and outputs.
type Pipeline struct {
	cfg     *config.Config
	store   store.Store
	out     *artifact.Dir
	engine  *score.Engine
	alerts  *alert.Manager
	metrics *metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
	loc     *time.Location
	runID   string

	sources    []catalog.Source
	enricher   catalog.Enricher
	client     summarize.Client
	clientSet  bool
	summarizer *summarize.Summarizer

	taxonomies map[string]*taxonomy.Taxonomy
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSources replaces the configured catalog sources.
func WithSources(sources []catalog.Source, enricher catalog.Enricher) Option {
	return func(p *Pipeline) {
		p.sources = sources
		p.enricher = enricher
	}
}

// WithSummaryClient replaces the configured summarization client. nil
// disables the service so every item uses fallback text.
func WithSummaryClient(c summarize.Client) Option {
	return func(p *Pipeline) {
		p.client = c
		p.clientSet = true
	}
}

// WithAlerts sets the alert manager.
func WithAlerts(m *alert.Manager) Option {
	return func(p *Pipeline) { p.alerts = m }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// New creates a pipeline for cfg backed by st.
func New(cfg *config.Config, st store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		out:        artifact.NewDir(cfg.Output.Dir),
		engine:     score.NewEngine(cfg.Scoring.SourceWeights(), cfg.Scoring.TauDays, cfg.Scoring.Epsilon),
		logger:     slog.Default(),
		now:        time.Now,
		loc:        cfg.Location(),
		runID:      uuid.NewString(),
		taxonomies: make(map[string]*taxonomy.Taxonomy),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("run_id", p.runID)

	if p.sources == nil {
		p.sources, p.enricher = Sources(cfg, p.logger)
	}
	if !p.clientSet {
		p.client = SummaryClient(cfg, p.logger)
	}
	p.summarizer = summarize.New(p.client, summarize.Options{
		Concurrency: cfg.Summarizer.Concurrency,
		Retries:     cfg.Summarizer.Retries,
		Backoff:     cfg.Summarizer.ParseBackoff(),
		Timeout:     cfg.Summarizer.ParseTimeout(),
	}, p.logger)
	return p
}

// RunID identifies this pipeline's run in logs and artifacts.
func (p *Pipeline) RunID() string { return p.runID }

// Today is the current snapshot day key.
func (p *Pipeline) Today() string { return score.DayKey(p.now(), p.loc) }

// Track records command as a run in the store around fn, observes its
// duration and writes the metrics textfile.
func (p *Pipeline) Track(ctx context.Context, command string, fn func(ctx context.Context) error) error {
	start := time.Now()
	if err := p.store.StartRun(ctx, p.runID, command, p.now()); err != nil {
		p.logger.Warn("record run start", "error", err)
	}

	err := fn(ctx)

	status, detail := "ok", ""
	switch {
	case errors.Is(err, audit.ErrUnderfilled):
		status, detail = "underfilled", err.Error()
	case err != nil:
		status, detail = "failed", err.Error()
	}
	if ferr := p.store.FinishRun(ctx, p.runID, status, detail, p.now()); ferr != nil {
		p.logger.Warn("record run finish", "error", ferr)
	}

	p.metrics.ObserveStage(command, time.Since(start))
	if err == nil || errors.Is(err, audit.ErrUnderfilled) {
		p.metrics.MarkRun(p.now())
	}
	if merr := p.metrics.WriteTextfile(p.cfg.Metrics.Textfile); merr != nil {
		p.logger.Warn("write metrics", "error", merr)
	}
	return err
}

func (p *Pipeline) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	p.metrics.ObserveStage(name, time.Since(start))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Run executes snapshot, hotlists, daily selection and audit in order.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.stage("snapshot", func() error { _, err := p.Snapshot(ctx); return err }); err != nil {
		return err
	}
	if err := p.stage("hotlist", func() error { _, err := p.Hotlists(ctx); return err }); err != nil {
		return err
	}
	if err := p.stage("daily", func() error { _, err := p.Daily(ctx); return err }); err != nil {
		return err
	}
	return p.stage("audit", func() error {
		_, err := p.Audit(ctx, p.cfg.Coverage.Min, p.cfg.Coverage.FailOnMiss)
		return err
	})
}

type publishedCorpus struct {
	RunID string `json:"run_id"`
	*catalog.Corpus
}

// Fetch refreshes every source's corpus and publishes it.
func (p *Pipeline) Fetch(ctx context.Context) ([]catalog.Result, error) {
	f := catalog.NewFetcher(p.sources, p.store, p.enricher, p.cfg.Sources.MinItems, p.logger)
	results, err := f.Run(ctx)
	if err != nil {
		return results, err
	}
	for _, r := range results {
		p.metrics.ObserveFetch(string(r.Source), string(r.Outcome), len(r.Corpus.Items))
		if len(r.Corpus.Items) == 0 {
			continue
		}
		if err := p.out.Write(artifact.CorpusFile(r.Source), publishedCorpus{RunID: p.runID, Corpus: r.Corpus}); err != nil {
			return results, fmt.Errorf("publish corpus %s: %w", r.Source, err)
		}
	}
	return results, nil
}

// Snapshot records today's metric snapshot for every persisted corpus.
func (p *Pipeline) Snapshot(ctx context.Context) (int, error) {
	day := p.Today()
	var items []catalog.Item
	for _, src := range []catalog.SourceKind{catalog.SourceCodeHost, catalog.SourceModelHub} {
		corpus, err := p.store.LoadCorpus(ctx, src)
		if err != nil {
			p.logger.Warn("load corpus", "stage", "snapshot", "source", src, "error", err)
			continue
		}
		if corpus != nil {
			items = append(items, corpus.Items...)
		}
	}

	n, err := p.store.RecordSnapshot(ctx, day, score.SnapshotOf(items))
	if err != nil {
		return 0, err
	}
	p.metrics.ObserveSnapshot(n)
	p.logger.Info("snapshot recorded", "stage", "snapshot", "day", day, "items", len(items), "new", n)
	return n, nil
}

func (p *Pipeline) taxonomy(hc config.HotlistConfig) (*taxonomy.Taxonomy, error) {
	if tax, ok := p.taxonomies[hc.Taxonomy]; ok {
		return tax, nil
	}
	tax, err := taxonomy.Load(hc.Taxonomy)
	if err != nil {
		return nil, fmt.Errorf("hotlist %s: %w", hc.Name, err)
	}
	p.taxonomies[hc.Taxonomy] = tax
	return tax, nil
}

func (p *Pipeline) aliases() taxonomy.AliasMap {
	m, err := taxonomy.LoadAliases(p.cfg.Aliases.Curated)
	if err != nil {
		p.logger.Warn("alias map unreadable, using built-in synonyms only", "error", err)
	}
	return m
}

// corpus returns the persisted items of source, empty when none.
func (p *Pipeline) corpus(ctx context.Context, source catalog.SourceKind) []catalog.Item {
	c, err := p.store.LoadCorpus(ctx, source)
	if err != nil {
		p.logger.Warn("load corpus", "source", source, "error", err)
		return nil
	}
	if c == nil {
		return nil
	}
	return c.Items
}

// candidates scores and classifies the persisted corpus of source.
func (p *Pipeline) candidates(ctx context.Context, source catalog.SourceKind, tax *taxonomy.Taxonomy, aliases taxonomy.AliasMap) ([]score.Candidate, error) {
	items := p.corpus(ctx, source)
	day := p.Today()
	today, err := p.store.LoadSnapshot(ctx, day)
	if err != nil {
		return nil, err
	}
	prior, err := p.store.LoadSnapshot(ctx, score.ShiftDay(day, score.WindowDays))
	if err != nil {
		return nil, err
	}

	cands := p.engine.Score(items, today, prior, p.now())
	classifier := taxonomy.NewClassifier(tax, aliases)
	for i := range cands {
		cands[i].TaskKeys = classifier.Classify(cands[i].Item)
	}
	p.metrics.ObserveScored(string(source), len(cands))
	return cands, nil
}

// HotlistResult is the outcome of maintaining one hotlist.
type HotlistResult struct {
	Name       string
	Candidates int
	Report     hotlist.Report
	Hotlist    *hotlist.Hotlist
}

type publishedHotlist struct {
	RunID string `json:"run_id"`
	*hotlist.Hotlist
}

// Hotlists maintains and publishes every configured hotlist.
func (p *Pipeline) Hotlists(ctx context.Context) ([]HotlistResult, error) {
	aliases := p.aliases()
	results := make([]HotlistResult, 0, len(p.cfg.Hotlists))

	for _, hc := range p.cfg.Hotlists {
		log := p.logger.With("stage", "hotlist", "hotlist", hc.Name)

		tax, err := p.taxonomy(hc)
		if err != nil {
			return results, err
		}
		cands, err := p.candidates(ctx, catalog.SourceKind(hc.Source), tax, aliases)
		if err != nil {
			return results, err
		}
		h, err := p.store.LoadHotlist(ctx, hc.Name)
		if err != nil {
			return results, err
		}

		rep := hotlist.Maintain(h, tax.Keys(), cands, hotlist.Options{
			AppendLimit: hc.AppendLimit,
			MinSeed:     hc.MinSeed,
			Day:         p.Today(),
			Now:         p.now(),
		})
		if err := p.store.SaveHotlist(ctx, hc.Name, h); err != nil {
			return results, err
		}
		if err := p.out.Write(artifact.HotlistFile(hc.Name), publishedHotlist{RunID: p.runID, Hotlist: h}); err != nil {
			return results, fmt.Errorf("publish hotlist %s: %w", hc.Name, err)
		}

		p.metrics.ObserveHotlist(hc.Name, len(rep.Appended), len(rep.Placeholders))
		if len(rep.Placeholders) > 0 {
			log.Warn("placeholders synthesized for empty task pools", "placeholders", len(rep.Placeholders))
		}
		log.Info("hotlist updated",
			"candidates", len(cands),
			"appended", len(rep.Appended),
			"seeded", rep.Seeded,
			"backfilled", len(rep.Backfilled),
		)
		results = append(results, HotlistResult{Name: hc.Name, Candidates: len(cands), Report: rep, Hotlist: h})
	}
	return results, nil
}

// pool scores and classifies every source once, using the taxonomy of the
// first hotlist configured for it.
func (p *Pipeline) pool(ctx context.Context) ([]score.Candidate, error) {
	aliases := p.aliases()
	seen := make(map[string]bool)
	var all []score.Candidate
	for _, hc := range p.cfg.Hotlists {
		if seen[hc.Source] {
			continue
		}
		seen[hc.Source] = true
		tax, err := p.taxonomy(hc)
		if err != nil {
			return nil, err
		}
		cands, err := p.candidates(ctx, catalog.SourceKind(hc.Source), tax, aliases)
		if err != nil {
			return nil, err
		}
		all = append(all, cands...)
	}
	return all, nil
}

// DailyResult is the outcome of the daily selection.
type DailyResult struct {
	Daily     *selector.Daily
	Summaries summarize.Stats
	Dates     []string
}

// Daily selects, summarizes, archives and publishes today's picks.
func (p *Pipeline) Daily(ctx context.Context) (*DailyResult, error) {
	log := p.logger.With("stage", "daily")
	sel := p.cfg.Selection
	day := p.Today()
	now := p.now()

	pool, err := p.pool(ctx)
	if err != nil {
		return nil, err
	}
	archives, err := p.store.ListArchives(ctx, score.ShiftDay(day, sel.HistoryDays))
	if err != nil {
		return nil, err
	}
	state := selector.BuildState(archives, day, sel.HistoryDays, sel.RecentDays)
	quotas := selector.Quotas(pool, sel.Count)
	picks := selector.Select(pool, quotas, state, selector.Options{
		Count:        sel.Count,
		CooldownDays: sel.CooldownDays,
		Alpha:        sel.Alpha,
	})
	selector.Annotate(picks, now)
	if len(picks) < sel.Count {
		log.Info("fewer eligible candidates than requested", "picked", len(picks), "count", sel.Count, "pool", len(pool))
	}

	cands := make([]score.Candidate, len(picks))
	for i, pk := range picks {
		cands[i] = pk.Candidate
	}
	outcomes, stats := p.summarizer.Run(ctx, cands)

	d := selector.NewDaily(day, p.runID, now, picks)
	for i := range d.Items {
		d.Items[i].Summary = outcomes[i].Text
		d.Items[i].SummaryStatus = string(outcomes[i].Status)
	}

	if err := p.store.SaveDaily(ctx, d); err != nil {
		return nil, err
	}
	if err := p.out.Write(artifact.DailyFile(day), d); err != nil {
		return nil, fmt.Errorf("publish daily %s: %w", day, err)
	}
	dates, err := p.out.PushDate(day)
	if err != nil {
		return nil, fmt.Errorf("publish dates index: %w", err)
	}

	p.metrics.ObserveSelection(len(picks))
	p.metrics.ObserveSummaries(stats.OK, stats.Fallback, stats.Failed)
	log.Info("daily selection published", "day", day, "picks", len(picks),
		"summaries_ok", stats.OK, "summaries_fallback", stats.Fallback, "summaries_failed", stats.Failed)

	p.notifyDaily(ctx, d, stats)
	return &DailyResult{Daily: d, Summaries: stats, Dates: dates}, nil
}

func (p *Pipeline) notifyDaily(ctx context.Context, d *selector.Daily, stats summarize.Stats) {
	if !p.alerts.HasNotifiers() {
		return
	}
	if stats.Degraded() > 0 {
		p.broadcast(ctx, &alert.Notification{
			Title: "Summaries degraded",
			Body: fmt.Sprintf("%d of %d summaries for %s used fallback text (%d fallback, %d unavailable)",
				stats.Degraded(), len(d.Items), d.Date, stats.Fallback, stats.Failed),
			Level: alert.LevelWarning,
			RunID: p.runID,
		})
	}
	if len(d.Items) == 0 {
		return
	}
	links := make([]alert.Link, len(d.Items))
	for i, it := range d.Items {
		links[i] = alert.Link{Title: it.Name, URL: it.URL, Label: it.Reason}
	}
	p.broadcast(ctx, &alert.Notification{
		Title: "Daily picks " + d.Date,
		Body:  fmt.Sprintf("%d picks across %d categories", len(d.Items), countCategories(d)),
		Level: alert.LevelInfo,
		RunID: p.runID,
		Links: links,
	})
}

func countCategories(d *selector.Daily) int {
	seen := make(map[string]bool)
	for _, it := range d.Items {
		seen[it.Category] = true
	}
	return len(seen)
}

func (p *Pipeline) broadcast(ctx context.Context, n *alert.Notification) {
	if err := p.alerts.Broadcast(ctx, n); err != nil {
		p.logger.Warn("alert delivery failed", "title", n.Title, "error", err)
	}
}

// Audit reports hotlist coverage and corpus classification, publishes the
// report and, with failOnMiss, returns audit.ErrUnderfilled on any short
// bucket.
func (p *Pipeline) Audit(ctx context.Context, min int, failOnMiss bool) (audit.Summary, error) {
	if min <= 0 {
		min = audit.DefaultMin
	}
	aliases := p.aliases()
	sum := audit.Summary{RunID: p.runID, GeneratedAt: p.now().UTC(), Min: min}
	classified := make(map[string]bool)

	for _, hc := range p.cfg.Hotlists {
		tax, err := p.taxonomy(hc)
		if err != nil {
			return sum, err
		}
		h, err := p.store.LoadHotlist(ctx, hc.Name)
		if err != nil {
			return sum, err
		}
		r := audit.Coverage(hc.Name, h, tax.Keys(), min)
		sum.Hotlists = append(sum.Hotlists, r)
		p.metrics.ObserveCoverage(hc.Name, len(r.Underfilled))
		if len(r.Underfilled) > 0 {
			p.logger.Warn("buckets underfilled", "stage", "audit", "hotlist", hc.Name,
				"underfilled", len(r.Underfilled), "min", min)
		}

		if classified[hc.Source] {
			continue
		}
		classified[hc.Source] = true
		items := p.corpus(ctx, catalog.SourceKind(hc.Source))
		assignments := taxonomy.NewClassifier(tax, aliases).ClassifyAll(items)
		sum.Classification = append(sum.Classification, audit.Classification(catalog.SourceKind(hc.Source), items, assignments))
	}

	if err := p.out.Write(artifact.CoverageFile, sum); err != nil {
		return sum, fmt.Errorf("publish coverage: %w", err)
	}

	if n := sum.Underfilled(); n > 0 && p.alerts.HasNotifiers() {
		p.broadcast(ctx, &alert.Notification{
			Title: fmt.Sprintf("%d buckets below minimum %d", n, min),
			Body:  sum.Describe(),
			Level: alert.LevelWarning,
			RunID: p.runID,
		})
	}
	return sum, sum.Check(failOnMiss)
}

// SuggestAliases stages alias suggestions for every hotlist taxonomy. With
// apply, they are also merged into the curated file's staged section after a
// backup of that file; live aliases are never changed.
func (p *Pipeline) SuggestAliases(ctx context.Context, apply bool) (taxonomy.Suggestions, error) {
	aliases := p.aliases()
	now := p.now()
	all := taxonomy.Suggestions{
		GeneratedAt: now.UTC(),
		Heuristic:   make(map[string][]string),
		Corpus:      make(map[string][]string),
	}

	for _, hc := range p.cfg.Hotlists {
		tax, err := p.taxonomy(hc)
		if err != nil {
			return all, err
		}
		items := p.corpus(ctx, catalog.SourceKind(hc.Source))
		assignments := taxonomy.NewClassifier(tax, aliases).ClassifyAll(items)
		s := taxonomy.Suggest(tax, aliases, items, assignments, now)
		for k, v := range s.Heuristic {
			all.Heuristic[k] = v
		}
		for k, v := range s.Corpus {
			all.Corpus[k] = v
		}
	}

	if path := p.cfg.Aliases.Suggestions; path != "" {
		if err := artifact.WriteJSON(path, all); err != nil {
			return all, fmt.Errorf("write alias suggestions: %w", err)
		}
	}
	if !apply {
		return all, nil
	}

	curated := p.cfg.Aliases.Curated
	if curated == "" {
		return all, errors.New("apply alias suggestions: no curated alias file configured")
	}
	if data, err := os.ReadFile(curated); err == nil {
		backup := fmt.Sprintf("%s.%s.bak", curated, now.UTC().Format("20060102T150405"))
		if err := os.WriteFile(backup, data, 0o644); err != nil {
			return all, fmt.Errorf("backup alias file: %w", err)
		}
	}
	if err := artifact.WriteJSON(curated, aliases.MergeAutogen(all.All())); err != nil {
		return all, fmt.Errorf("write alias file: %w", err)
	}
	p.logger.Info("alias suggestions staged", "file", curated, "tasks", len(all.All()))
	return all, nil
}
