package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/listing"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/algolia"
)

// Stage names recorded in the run report.
const (
	StageSegmented = "segmented"
	StageLetters   = "letter-enumeration"
	StageBigrams   = "bigram-enumeration"
	StageListing   = "incremental-scroll"
	StageSearch    = "search-queries"
)

// Strategy paths for the run report.
const (
	StrategyIndex = "index"
	StrategyDOM   = "dom"
)

// Thresholds are the escalation gates. Each stronger strategy is cheaper and
// more complete, so a stage that comes in under its gate is read as a
// correctness signal and the next, costlier strategy runs too.
type Thresholds struct {
	// APIMinYield: below this after the segmented fetch, both enumeration
	// fetchers run.
	APIMinYield int
	// MergedMinYield: below this after enumeration, the DOM search scraper
	// runs as well.
	MergedMinYield int
	// DOMMinYield: below this after incremental scroll scraping, the DOM
	// search scraper runs as well.
	DOMMinYield int
}

// DefaultThresholds returns the gates the ingest command ships with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		APIMinYield:    2000,
		MergedMinYield: 4000,
		DOMMinYield:    2000,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	def := DefaultThresholds()
	if t.APIMinYield <= 0 {
		t.APIMinYield = def.APIMinYield
	}
	if t.MergedMinYield <= 0 {
		t.MergedMinYield = def.MergedMinYield
	}
	if t.DOMMinYield <= 0 {
		t.DOMMinYield = def.DOMMinYield
	}
	return t
}

// Browser is the live-page strategy surface the orchestrator drives. One
// session backs all three calls and owns the shared accumulator.
type Browser interface {
	CaptureCredentials(ctx context.Context, window time.Duration) (*algolia.Credentials, error)
	ScrapeListing(ctx context.Context) (map[string]model.Company, error)
	ScrapeViaSearch(ctx context.Context) (map[string]model.Company, error)
}

// Index is the credential-backed strategy surface.
type Index interface {
	ByBatch(ctx context.Context) (map[string]model.Company, error)
	ByQueries(ctx context.Context, tokens []string) (map[string]model.Company, error)
}

// IndexFactory builds an index fetcher once credentials have been captured;
// until then no client exists to build.
type IndexFactory func(creds algolia.Credentials) Index

// Orchestrator owns the escalation policy between acquisition strategies.
type Orchestrator struct {
	profile    *listing.Profile
	browser    Browser
	newIndex   IndexFactory
	thresholds Thresholds
	window     time.Duration
	log        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithThresholds overrides the escalation gates.
func WithThresholds(t Thresholds) Option {
	return func(o *Orchestrator) {
		o.thresholds = t.withDefaults()
	}
}

// WithCredentialWindow overrides how long credential capture watches traffic.
func WithCredentialWindow(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.window = d
		}
	}
}

// New creates an Orchestrator over a navigated browser session.
func New(profile *listing.Profile, b Browser, factory IndexFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		profile:    profile,
		browser:    b,
		newIndex:   factory,
		thresholds: DefaultThresholds(),
		window:     8 * time.Second,
		log:        zap.L().With(zap.String("component", "ingest")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full acquisition policy and returns the merged record set
// with a per-stage report. Strategy order is fixed: segmented index fetch,
// then letter and bigram enumeration, then DOM search, each gated on the
// running total; without credentials, incremental DOM scraping gated into
// DOM search. Stage failures degrade to empty contributions; only
// cancellation aborts the run.
func (o *Orchestrator) Run(ctx context.Context) (map[string]model.Company, *model.RunReport, error) {
	start := time.Now()

	creds, err := o.browser.CaptureCredentials(ctx, o.window)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: capture credentials")
	}

	merged := make(map[string]model.Company)
	report := &model.RunReport{}

	if creds != nil {
		report.Strategy = StrategyIndex
		idx := o.newIndex(*creds)

		o.runStage(ctx, report, merged, StageSegmented, idx.ByBatch)
		if len(merged) < o.thresholds.APIMinYield {
			o.log.Info("segmented yield under gate, enumerating index",
				zap.Int("yield", len(merged)),
				zap.Int("gate", o.thresholds.APIMinYield))

			o.runStage(ctx, report, merged, StageLetters, func(ctx context.Context) (map[string]model.Company, error) {
				return idx.ByQueries(ctx, o.profile.SingleCharTokens())
			})
			o.runStage(ctx, report, merged, StageBigrams, func(ctx context.Context) (map[string]model.Company, error) {
				return idx.ByQueries(ctx, o.profile.BigramTokens())
			})

			if len(merged) < o.thresholds.MergedMinYield {
				o.log.Info("index yield under gate, falling back to DOM search",
					zap.Int("yield", len(merged)),
					zap.Int("gate", o.thresholds.MergedMinYield))
				o.runStage(ctx, report, merged, StageSearch, o.browser.ScrapeViaSearch)
			}
		}
	} else {
		report.Strategy = StrategyDOM

		o.runStage(ctx, report, merged, StageListing, o.browser.ScrapeListing)
		if len(merged) < o.thresholds.DOMMinYield {
			o.log.Info("scroll yield under gate, sweeping search box",
				zap.Int("yield", len(merged)),
				zap.Int("gate", o.thresholds.DOMMinYield))
			o.runStage(ctx, report, merged, StageSearch, o.browser.ScrapeViaSearch)
		}
	}

	if err := ctx.Err(); err != nil {
		return merged, report, eris.Wrap(err, "ingest: run interrupted")
	}

	report.Total = len(merged)
	report.Duration = time.Since(start).Milliseconds()
	o.log.Info("acquisition complete",
		zap.String("strategy", report.Strategy),
		zap.Int("records", report.Total),
		zap.Int("stages", len(report.Stages)))
	return merged, report, nil
}

// runStage executes one strategy and folds its yield into merged. A failed
// stage contributes nothing; the escalation gates read the shortfall and
// compensate with the next strategy.
func (o *Orchestrator) runStage(
	ctx context.Context,
	report *model.RunReport,
	merged map[string]model.Company,
	stage string,
	fn func(ctx context.Context) (map[string]model.Company, error),
) {
	if ctx.Err() != nil {
		return
	}

	got, err := fn(ctx)
	if err != nil {
		o.log.Warn("stage failed, continuing with remaining strategies",
			zap.String("stage", stage),
			zap.Error(err))
		got = nil
	}

	Merge(merged, got)
	report.Stages = append(report.Stages, model.StageYield{
		Stage:    stage,
		Produced: len(got),
		Total:    len(merged),
	})
	o.log.Info("stage complete",
		zap.String("stage", stage),
		zap.Int("produced", len(got)),
		zap.Int("total", len(merged)))
}
