package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// CorpusStore persists the last good corpus per source.
type CorpusStore interface {
	LoadCorpus(ctx context.Context, source SourceKind) (*Corpus, error)
	SaveCorpus(ctx context.Context, c *Corpus) error
}

// Outcome describes how a source's corpus was obtained in one cycle.
type Outcome string

const (
	OutcomeLive        Outcome = "live"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFallback    Outcome = "fallback"
	OutcomeEmpty       Outcome = "empty"
)

// Result is the per-source output of a fetch cycle.
type Result struct {
	Source  SourceKind
	Corpus  *Corpus
	Outcome Outcome
	Err     error
}

// Fetcher runs every source and falls back to the persisted corpus when a
// source fails or returns too few items.
type Fetcher struct {
	sources  []Source
	store    CorpusStore
	enricher Enricher
	minItems int
	logger   *slog.Logger
}

// NewFetcher creates a fetcher. enricher may be nil.
func NewFetcher(sources []Source, store CorpusStore, enricher Enricher, minItems int, logger *slog.Logger) *Fetcher {
	if minItems <= 0 {
		minItems = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		sources:  sources,
		store:    store,
		enricher: enricher,
		minItems: minItems,
		logger:   logger,
	}
}

// Run fetches every source. Source failures never fail the run; only a
// failure to persist a fresh corpus is returned.
func (f *Fetcher) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(f.sources))
	for _, src := range f.sources {
		res, err := f.fetchOne(ctx, src)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) (Result, error) {
	name := src.Name()
	log := f.logger.With("stage", "fetch", "source", name)

	prev, err := f.store.LoadCorpus(ctx, name)
	if err != nil {
		log.Warn("load persisted corpus", "error", err)
		prev = nil
	}
	etag := ""
	if prev != nil && len(prev.Items) > 0 {
		etag = prev.ETag
	}

	live, err := src.Fetch(ctx, etag)
	switch {
	case errors.Is(err, ErrNotModified) && prev != nil:
		log.Info("catalog unchanged, reusing persisted corpus", "items", len(prev.Items))
		return Result{Source: name, Corpus: prev, Outcome: OutcomeNotModified}, nil
	case err == nil && len(live.Items) >= f.minItems:
		if f.enricher != nil {
			if eerr := f.enricher.Enrich(ctx, live.Items); eerr != nil {
				log.Warn("enrich corpus", "error", eerr)
			}
		}
		if err := f.store.SaveCorpus(ctx, live); err != nil {
			return Result{}, fmt.Errorf("save corpus %s: %w", name, err)
		}
		log.Info("fetched corpus", "items", len(live.Items))
		return Result{Source: name, Corpus: live, Outcome: OutcomeLive}, nil
	}

	if err == nil {
		err = fmt.Errorf("%w: %d items below minimum %d", ErrSourceUnavailable, len(live.Items), f.minItems)
	}

	if prev != nil && len(prev.Items) > 0 {
		log.Warn("source unavailable, using persisted corpus", "error", err, "items", len(prev.Items))
		return Result{Source: name, Corpus: prev, Outcome: OutcomeFallback, Err: err}, nil
	}

	// Nothing persisted: a short live listing still beats nothing.
	if live != nil && len(live.Items) > 0 {
		if serr := f.store.SaveCorpus(ctx, live); serr != nil {
			return Result{}, fmt.Errorf("save corpus %s: %w", name, serr)
		}
		log.Warn("short listing with no persisted corpus", "items", len(live.Items))
		return Result{Source: name, Corpus: live, Outcome: OutcomeLive, Err: err}, nil
	}

	log.Warn("source unavailable and no persisted corpus", "error", err)
	return Result{Source: name, Corpus: &Corpus{Source: name}, Outcome: OutcomeEmpty, Err: err}, nil
}
