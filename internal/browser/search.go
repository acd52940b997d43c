package browser

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
)

const findSearchInputJS = `(selectors) => {
	for (const sel of selectors) {
		let el = null;
		try { el = document.querySelector(sel); } catch (e) { continue; }
		if (el) return true;
	}
	return false;
}`

// typeQueryJS writes through the native value setter so framework-managed
// inputs see the change, then dispatches the events the page listens for.
const typeQueryJS = `(selectors, value) => {
	let input = null;
	for (const sel of selectors) {
		try { input = document.querySelector(sel); } catch (e) { continue; }
		if (input) break;
	}
	if (!input) return false;
	const setter = Object.getOwnPropertyDescriptor(window.HTMLInputElement.prototype, 'value');
	if (setter && setter.set) {
		setter.set.call(input, value);
	} else {
		input.value = value;
	}
	input.dispatchEvent(new Event('input', { bubbles: true }));
	input.dispatchEvent(new Event('change', { bubbles: true }));
	return true;
}`

const countLinksJS = `(pattern) => {
	const re = new RegExp(pattern);
	let n = 0;
	for (const a of document.querySelectorAll('a[href]')) {
		try {
			if (re.test(new URL(a.href, location.origin).pathname)) n++;
		} catch (e) {}
	}
	return n;
}`

// ScrapeViaSearch drives the page's own search box through the profile's
// token plan: for each token it types the query, lets the results settle,
// scrolls them to exhaustion, and folds every visible card into the session
// accumulator. Short substring queries together cover records the plain
// listing never mounts. A page without a search input returns whatever has
// been accumulated so far, without typing anything.
func (s *Session) ScrapeViaSearch(ctx context.Context) (map[string]model.Company, error) {
	var found bool
	if err := s.eval(ctx, findSearchInputJS, &found, s.profile.SearchSelectors); err != nil {
		if ctx.Err() != nil {
			return s.acc.Snapshot(), eris.Wrap(err, "browser: search scrape interrupted")
		}
		s.log.Warn("search input probe failed", zap.Error(err))
		return s.acc.Snapshot(), nil
	}
	if !found {
		s.log.Info("no search input on page, keeping accumulated records",
			zap.Int("records", s.acc.Len()))
		return s.acc.Snapshot(), nil
	}

	tokens := s.profile.SearchTokens()
	for _, token := range tokens {
		typed, err := s.typeQuery(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				return s.acc.Snapshot(), eris.Wrap(err, "browser: search scrape interrupted")
			}
			s.log.Warn("typing query failed", zap.String("token", token), zap.Error(err))
			continue
		}
		if !typed {
			// The input disappeared mid-run; later tokens would fail the
			// same way.
			s.log.Warn("search input gone, stopping token sweep", zap.String("token", token))
			break
		}

		if err := sleepCtx(ctx, s.cfg.SearchSettle); err != nil {
			return s.acc.Snapshot(), eris.Wrap(err, "browser: search scrape interrupted")
		}
		if err := s.settleResults(ctx); err != nil {
			return s.acc.Snapshot(), eris.Wrap(err, "browser: search scrape interrupted")
		}

		if _, err := s.extractVisible(ctx); err != nil {
			if ctx.Err() != nil {
				return s.acc.Snapshot(), eris.Wrap(err, "browser: search scrape interrupted")
			}
			s.log.Warn("extraction pass failed", zap.String("token", token), zap.Error(err))
		}

		s.log.Debug("search token swept",
			zap.String("token", token),
			zap.Int("records", s.acc.Len()))
	}

	s.log.Info("search scrape complete",
		zap.Int("tokens", len(tokens)),
		zap.Int("records", s.acc.Len()))
	return s.acc.Snapshot(), nil
}

// typeQuery replaces the search input's value with token. false means no
// input matched any selector.
func (s *Session) typeQuery(ctx context.Context, token string) (bool, error) {
	var typed bool
	if err := s.eval(ctx, typeQueryJS, &typed, s.profile.SearchSelectors, token); err != nil {
		return false, err
	}
	return typed, nil
}

// settleResults scrolls the current result set until the visible-anchor
// count holds still for several consecutive checks or the scroll budget runs
// out. Only cancellation is an error; DOM misses just burn an iteration.
func (s *Session) settleResults(ctx context.Context) error {
	stable, last := 0, -1
	for i := 0; i < s.cfg.SearchMaxScrolls; i++ {
		if _, err := s.scrollStep(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.log.Debug("scroll step failed", zap.Error(err))
		}
		if err := sleepCtx(ctx, s.cfg.ScrollDelay); err != nil {
			return err
		}

		count, err := s.countVisibleLinks(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.log.Debug("anchor count failed", zap.Error(err))
			continue
		}
		if count == last {
			stable++
			if stable >= s.cfg.SearchStableChecks {
				return nil
			}
		} else {
			stable = 0
			last = count
		}
	}
	return nil
}

func (s *Session) countVisibleLinks(ctx context.Context) (int, error) {
	var count int
	if err := s.eval(ctx, countLinksJS, &count, s.profile.LinkPattern); err != nil {
		return 0, err
	}
	return count, nil
}
