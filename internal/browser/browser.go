// Package browser drives a headless Chrome session against the directory
// listing page. It owns the DOM-side acquisition strategies: passive
// credential interception, incremental scroll scraping, and search-driven
// scraping. All three share one page and one accumulator per session.
package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/listing"
)

// Config controls how the session launches and how the scrape loops pace
// themselves.
type Config struct {
	// Headless runs Chrome without a window. Turn it off to watch a run.
	Headless bool

	// ControlURL attaches to an already-running browser instead of
	// launching one. Close leaves an attached browser alive.
	ControlURL string

	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int

	// ScrollDelay is the pause between scroll iterations, long enough for
	// a virtualized list to render the next window of rows.
	ScrollDelay time.Duration

	// MaxIterations caps the incremental scroll loop regardless of
	// convergence.
	MaxIterations int
	// StableRounds and BottomRounds are the convergence thresholds: the
	// loop ends once the accumulator has not grown for more than
	// StableRounds iterations while the page has also stopped scrolling
	// for more than BottomRounds iterations.
	StableRounds int
	BottomRounds int

	// SearchSettle is the wait after typing a query before the first
	// result count is read.
	SearchSettle time.Duration
	// SearchMaxScrolls caps the inner scroll loop per search token.
	SearchMaxScrolls int
	// SearchStableChecks is how many consecutive unchanged result counts
	// end the inner loop early.
	SearchStableChecks int
}

// DefaultConfig returns the tuning used by the ingest command.
func DefaultConfig() Config {
	return Config{
		Headless:           true,
		NavigationTimeout:  45 * time.Second,
		ViewportWidth:      1366,
		ViewportHeight:     900,
		ScrollDelay:        350 * time.Millisecond,
		MaxIterations:      3000,
		StableRounds:       20,
		BottomRounds:       10,
		SearchSettle:       600 * time.Millisecond,
		SearchMaxScrolls:   80,
		SearchStableChecks: 5,
	}
}

// withDefaults fills zero-valued pacing fields. Headless stays as given.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}
	if c.ScrollDelay <= 0 {
		c.ScrollDelay = def.ScrollDelay
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	if c.StableRounds <= 0 {
		c.StableRounds = def.StableRounds
	}
	if c.BottomRounds <= 0 {
		c.BottomRounds = def.BottomRounds
	}
	if c.SearchSettle <= 0 {
		c.SearchSettle = def.SearchSettle
	}
	if c.SearchMaxScrolls <= 0 {
		c.SearchMaxScrolls = def.SearchMaxScrolls
	}
	if c.SearchStableChecks <= 0 {
		c.SearchStableChecks = def.SearchStableChecks
	}
	return c
}

// Session is one live browser tab pointed at the listing site plus the
// accumulator the DOM strategies fill. Not safe for concurrent use.
type Session struct {
	cfg      Config
	profile  *listing.Profile
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	acc      *Accumulator
	log      *zap.Logger
}

// NewSession launches (or attaches to) a browser and opens a blank page.
// Callers own the session and must Close it.
func NewSession(profile *listing.Profile, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	var l *launcher.Launcher
	controlURL := cfg.ControlURL
	if controlURL == "" {
		l = launcher.New().Headless(cfg.Headless)
		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "browser: launch chrome")
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, eris.Wrap(err, "browser: connect devtools")
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		if l != nil {
			l.Kill()
		}
		return nil, eris.Wrap(err, "browser: open page")
	}

	s := &Session{
		cfg:      cfg,
		profile:  profile,
		launcher: l,
		browser:  b,
		page:     page,
		acc:      NewAccumulator(),
		log:      zap.L().With(zap.String("component", "browser")),
	}

	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		err := proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
			Mobile:            false,
		}.Call(page)
		if err != nil {
			s.log.Warn("viewport override failed", zap.Error(err))
		}
	}
	if cfg.UserAgent != "" {
		err := proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}.Call(page)
		if err != nil {
			s.log.Warn("user-agent override failed", zap.Error(err))
		}
	}

	return s, nil
}

// Navigate loads the listing page. A slow post-load settle is tolerated;
// the scrape loops re-probe the DOM anyway.
func (s *Session) Navigate(ctx context.Context) error {
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	if err := page.Navigate(s.profile.ListingURL); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", s.profile.ListingURL)
	}
	if err := page.WaitLoad(); err != nil {
		s.log.Warn("listing load wait ended early", zap.Error(err))
	}
	s.log.Info("listing page open", zap.String("url", s.profile.ListingURL))
	return nil
}

// Close tears the session down. Attached browsers (ControlURL set) are left
// running.
func (s *Session) Close() {
	if s.page != nil {
		if err := s.page.Close(); err != nil {
			s.log.Debug("close page", zap.Error(err))
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.log.Debug("close browser", zap.Error(err))
		}
	}
	if s.launcher != nil {
		s.launcher.Kill()
	}
}

// eval runs a JS function on the page and decodes its by-value result into
// out. A nil out discards the result.
func (s *Session) eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return eris.Wrap(err, "browser: evaluate")
	}
	if out == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return eris.Wrap(err, "browser: decode eval result")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrap(err, "browser: decode eval result")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
