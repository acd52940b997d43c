package main

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/browser"
	"github.com/sells-group/directory-cli/internal/index"
	"github.com/sells-group/directory-cli/internal/ingest"
	"github.com/sells-group/directory-cli/internal/listing"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/algolia"
)

var ingestProfilePath string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Acquire the directory and persist it",
	Long:  "Opens the listing site in a headless browser, captures the search-index credentials from its own traffic, then pulls the full record set through the cheapest strategy that yields enough: segmented index fetch, query enumeration, or DOM scraping.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		profile, err := loadProfile()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.CreateIngestRun(ctx)
		if err != nil {
			return eris.Wrap(err, "create ingest run")
		}

		zap.L().Info("ingest run started",
			zap.String("run_id", run.ID),
			zap.String("listing_url", profile.ListingURL),
		)

		merged, report, runErr := acquire(ctx, profile)

		var persisted int64
		if runErr == nil {
			persisted, runErr = st.UpsertCompanies(ctx, flatten(merged))
			if runErr != nil {
				runErr = eris.Wrap(runErr, "persist companies")
			}
		}

		// The outcome row is best-effort: a failure to record it must not
		// mask the run error itself.
		if err := st.CompleteIngestRun(ctx, run.ID, report, runErr); err != nil {
			zap.L().Error("record run outcome", zap.String("run_id", run.ID), zap.Error(err))
		}

		if runErr != nil {
			return runErr
		}

		zap.L().Info("ingest complete",
			zap.String("run_id", run.ID),
			zap.String("strategy", report.Strategy),
			zap.Int("records", report.Total),
			zap.Int64("persisted", persisted),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProfilePath, "profile", "", "listing profile YAML (overrides config, empty = built-in default)")
	rootCmd.AddCommand(ingestCmd)
}

// loadProfile resolves the listing profile: the --profile flag wins over the
// config file path, and with neither set the built-in directory is used.
func loadProfile() (*listing.Profile, error) {
	path := ingestProfilePath
	if path == "" {
		path = cfg.Listing.ProfilePath
	}
	if path == "" {
		return listing.Default(), nil
	}
	return listing.Load(path)
}

// acquire runs the full acquisition policy against a fresh browser session.
// The session lives exactly as long as the run; an attached browser survives
// Close, a launched one does not.
func acquire(ctx context.Context, profile *listing.Profile) (map[string]model.Company, *model.RunReport, error) {
	session, err := browser.NewSession(profile, browserConfig())
	if err != nil {
		return nil, nil, err
	}
	defer session.Close()

	if err := session.Navigate(ctx); err != nil {
		return nil, nil, err
	}

	factory := func(creds algolia.Credentials) ingest.Index {
		client := algolia.NewClient(creds,
			algolia.WithRateLimit(cfg.Index.RateLimit, cfg.Index.RateBurst),
			algolia.WithMaxAttempts(cfg.Index.MaxAttempts),
		)
		return index.NewFetcher(client, profile)
	}

	o := ingest.New(profile, session, factory,
		ingest.WithThresholds(ingest.Thresholds{
			APIMinYield:    cfg.Ingest.APIMinYield,
			MergedMinYield: cfg.Ingest.MergedMinYield,
			DOMMinYield:    cfg.Ingest.DOMMinYield,
		}),
		ingest.WithCredentialWindow(time.Duration(cfg.Ingest.CredentialWindowSecs)*time.Second),
	)

	return o.Run(ctx)
}

// browserConfig maps the flat config file fields onto the session tuning.
func browserConfig() browser.Config {
	return browser.Config{
		Headless:           cfg.Browser.Headless,
		ControlURL:         cfg.Browser.ControlURL,
		UserAgent:          cfg.Browser.UserAgent,
		NavigationTimeout:  time.Duration(cfg.Browser.NavTimeoutSecs) * time.Second,
		ViewportWidth:      cfg.Browser.ViewportWidth,
		ViewportHeight:     cfg.Browser.ViewportHeight,
		ScrollDelay:        time.Duration(cfg.Browser.ScrollDelayMs) * time.Millisecond,
		MaxIterations:      cfg.Browser.MaxIterations,
		StableRounds:       cfg.Browser.StableRounds,
		BottomRounds:       cfg.Browser.BottomRounds,
		SearchSettle:       time.Duration(cfg.Browser.SearchSettleMs) * time.Millisecond,
		SearchMaxScrolls:   cfg.Browser.SearchMaxScrolls,
		SearchStableChecks: cfg.Browser.SearchStableChecks,
	}
}

// flatten orders the merged set by profile URL so batches are stable across
// runs with identical input.
func flatten(merged map[string]model.Company) []model.Company {
	companies := make([]model.Company, 0, len(merged))
	for _, c := range merged {
		companies = append(companies, c)
	}
	sort.Slice(companies, func(i, j int) bool {
		return companies[i].ProfileURL < companies[j].ProfileURL
	})
	return companies
}
