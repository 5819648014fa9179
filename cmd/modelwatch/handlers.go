package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/elonfeng/modelwatch/internal/artifact"
	"github.com/elonfeng/modelwatch/internal/config"
	"github.com/elonfeng/modelwatch/internal/metrics"
	"github.com/elonfeng/modelwatch/internal/pipeline"
	"github.com/elonfeng/modelwatch/internal/scheduler"
	"github.com/elonfeng/modelwatch/internal/store"
	"github.com/elonfeng/modelwatch/pkg/alert"
	"github.com/elonfeng/modelwatch/pkg/catalog"
	"github.com/elonfeng/modelwatch/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogging(cfg *config.Config) error {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	format := cfg.Log.Format
	if logFormat != "" {
		format = logFormat
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info", "":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("invalid log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	switch format {
	case "text", "":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

// app holds what every command needs.
type app struct {
	cfg     *config.Config
	db      *store.SQLiteStore
	alerts  *alert.Manager
	metrics *metrics.Recorder
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := setupLogging(cfg); err != nil {
		return nil, err
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{
		cfg:     cfg,
		db:      db,
		alerts:  buildAlertManager(cfg),
		metrics: metrics.New(),
	}, nil
}

func (a *app) Close() error { return a.db.Close() }

// pipeline returns a pipeline with a fresh run id.
func (a *app) pipeline(opts ...pipeline.Option) *pipeline.Pipeline {
	base := []pipeline.Option{
		pipeline.WithAlerts(a.alerts),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(slog.Default()),
	}
	return pipeline.New(a.cfg, a.db, append(base, opts...)...)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runFetch(filterSources []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	all, enricher := pipeline.Sources(a.cfg, slog.Default())

	sources := all
	if len(filterSources) > 0 {
		wanted := make(map[catalog.SourceKind]bool)
		for _, s := range filterSources {
			wanted[sourceKind(s)] = true
		}
		sources = nil
		for _, s := range all {
			if wanted[s.Name()] {
				sources = append(sources, s)
			}
		}
		if len(sources) == 0 {
			return fmt.Errorf("no matching sources for: %s", strings.Join(filterSources, ", "))
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := a.pipeline(pipeline.WithSources(sources, enricher))
	return p.Track(ctx, "fetch", func(ctx context.Context) error {
		results, err := p.Fetch(ctx)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tOUTCOME\tITEMS\tERROR")
		for _, r := range results {
			detail := ""
			if r.Err != nil {
				detail = r.Err.Error()
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Source, r.Outcome, len(r.Corpus.Items), detail)
		}
		if ferr := w.Flush(); ferr != nil {
			return ferr
		}
		return err
	})
}

func sourceKind(name string) catalog.SourceKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "github", "gh", "code-host":
		return catalog.SourceCodeHost
	case "hf", "huggingface", "model-hub":
		return catalog.SourceModelHub
	}
	return catalog.SourceKind(name)
}

func runStage(stage string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p := a.pipeline()
	return p.Track(ctx, stage, func(ctx context.Context) error {
		switch stage {
		case "snapshot":
			n, err := p.Snapshot(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s: %d new entries\n", p.Today(), n)
			return nil
		case "hotlist":
			results, err := p.Hotlists(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOTLIST\tCANDIDATES\tAPPENDED\tSEEDED\tPLACEHOLDERS\tBACKFILLED")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Name, r.Candidates,
					len(r.Report.Appended), r.Report.Seeded, len(r.Report.Placeholders), len(r.Report.Backfilled))
			}
			return w.Flush()
		case "run":
			return p.Run(ctx)
		}
		return fmt.Errorf("unknown stage %q", stage)
	})
}

func runDaily(jsonOutput bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p := a.pipeline()
	return p.Track(ctx, "daily", func(ctx context.Context) error {
		res, err := p.Daily(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res.Daily)
		}

		if len(res.Daily.Items) == 0 {
			fmt.Println("no eligible candidates (try fetching first: modelwatch fetch)")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tCATEGORY\tID\tREASON\tSUMMARY")
		for _, it := range res.Daily.Items {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\t%s\n", it.Adjusted, it.Category, it.ID, it.Reason, it.SummaryStatus)
		}
		return w.Flush()
	})
}

func runAudit(jsonOutput bool, minCount int, failOnMiss, failFlagSet bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if minCount <= 0 {
		minCount = a.cfg.Coverage.Min
	}
	if !failFlagSet {
		failOnMiss = a.cfg.Coverage.FailOnMiss
	}

	ctx, cancel := signalContext()
	defer cancel()

	p := a.pipeline()
	return p.Track(ctx, "audit", func(ctx context.Context) error {
		sum, err := p.Audit(ctx, minCount, failOnMiss)

		if jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if eerr := enc.Encode(sum); eerr != nil {
				return eerr
			}
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOTLIST\tBUCKETS\tENTRIES\tPLACEHOLDERS\tUNDERFILLED\tEMPTY")
		for _, r := range sum.Hotlists {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", r.Hotlist, len(r.PerCategory),
				r.TotalEntries, r.Placeholders, len(r.Underfilled), len(r.ZeroTasks))
		}
		if ferr := w.Flush(); ferr != nil {
			return ferr
		}
		if sum.Underfilled() > 0 {
			fmt.Printf("\nbelow %d: %s\n", sum.Min, sum.Describe())
		}
		return err
	})
}

func runSuggestAliases(apply bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	p := a.pipeline()
	return p.Track(ctx, "aliases", func(ctx context.Context) error {
		s, err := p.SuggestAliases(ctx, apply)
		if err != nil {
			return err
		}
		fmt.Printf("suggestions for %d tasks written to %s\n", len(s.All()), a.cfg.Aliases.Suggestions)
		if apply {
			fmt.Printf("staged into %s (review before promoting)\n", a.cfg.Aliases.Curated)
		}
		return nil
	})
}

func runRuns(jsonOutput bool, limit int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.db.ListRuns(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tCOMMAND\tSTATUS\tID\tDETAIL")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.StartedAt, r.Command, r.Status, r.ID, r.Detail)
	}
	return w.Flush()
}

func runServe(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	srv := server.New(a.db, artifact.NewDir(a.cfg.Output.Dir), nil, port, slog.Default())
	return srv.ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	ctx, cancel := signalContext()
	defer cancel()

	fetch := func(ctx context.Context) error {
		p := a.pipeline()
		return p.Track(ctx, "fetch", func(ctx context.Context) error {
			_, err := p.Fetch(ctx)
			return err
		})
	}
	run := func(ctx context.Context) error {
		p := a.pipeline()
		return p.Track(ctx, "run", p.Run)
	}

	sched := scheduler.New(fetch, run,
		a.cfg.Schedule.ParseFetchInterval(),
		a.cfg.Schedule.ParseRunInterval(),
		slog.Default(),
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("scheduler stopped", "error", err)
		}
	}()

	srv := server.New(a.db, artifact.NewDir(a.cfg.Output.Dir), a.metrics, port, slog.Default())
	return srv.ListenAndServe(ctx)
}
