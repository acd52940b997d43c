package browser

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
)

// card is the raw shape the extraction script returns for one profile
// anchor and the fields found around it.
type card struct {
	Href     string `json:"href"`
	Name     string `json:"name"`
	Tagline  string `json:"tagline"`
	Batch    string `json:"batch"`
	Location string `json:"location"`
	Logo     string `json:"logo"`
}

// extractCardsJS walks every anchor whose pathname matches the profile link
// pattern and reads the prioritized field selectors from the nearest
// enclosing element that carries a name. Selector misses return empty
// fields; the Go side decides what survives.
const extractCardsJS = `(pattern, nameSel, taglineSel, batchSel, locationSel) => {
	const re = new RegExp(pattern);
	const pick = (root, selectors) => {
		for (const sel of selectors) {
			let el = null;
			try { el = root.querySelector(sel); } catch (e) { continue; }
			if (el) {
				const text = (el.textContent || '').trim();
				if (text) return text;
			}
		}
		return '';
	};
	const seen = new Set();
	const cards = [];
	for (const a of document.querySelectorAll('a[href]')) {
		let path = '';
		try { path = new URL(a.href, location.origin).pathname; } catch (e) { continue; }
		if (!re.test(path) || seen.has(path)) continue;
		seen.add(path);
		let root = a;
		for (let i = 0; i < 3 && !pick(root, nameSel) && root.parentElement; i++) {
			root = root.parentElement;
		}
		const img = root.querySelector('img');
		cards.push({
			href: path,
			name: pick(root, nameSel) || (a.textContent || '').trim().split('\n')[0].trim(),
			tagline: pick(root, taglineSel),
			batch: pick(root, batchSel),
			location: pick(root, locationSel),
			logo: img ? (img.currentSrc || img.src || '') : '',
		});
	}
	return cards;
}`

const scrollStepJS = `() => {
	const before = window.scrollY;
	window.scrollBy(0, Math.floor(window.innerHeight * 0.9));
	return { before: before, after: window.scrollY };
}`

const clickLoadMoreJS = `(selectors, texts) => {
	for (const sel of selectors) {
		let el = null;
		try { el = document.querySelector(sel); } catch (e) { continue; }
		if (el) { el.click(); return true; }
	}
	const lowered = texts.map(t => t.toLowerCase());
	for (const b of document.querySelectorAll('button, a[role="button"]')) {
		const t = (b.textContent || '').trim().toLowerCase();
		if (t && lowered.some(x => t.includes(x))) { b.click(); return true; }
	}
	return false;
}`

// ScrapeListing walks the virtualized listing to its end, folding every
// visible card into the session accumulator: extract, scroll, wait, repeat
// until yield and scroll position both go quiet. Single-pass DOM failures
// degrade to an empty iteration; only cancellation ends the walk early.
func (s *Session) ScrapeListing(ctx context.Context) (map[string]model.Company, error) {
	progress := &scrollProgress{
		stableLimit: s.cfg.StableRounds,
		bottomLimit: s.cfg.BottomRounds,
	}

	iterations := 0
	for i := 0; i < s.cfg.MaxIterations; i++ {
		iterations = i + 1

		added, err := s.extractVisible(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.acc.Snapshot(), eris.Wrap(err, "browser: incremental scrape interrupted")
			}
			s.log.Warn("extraction pass failed", zap.Error(err))
		}

		scrolled, err := s.scrollStep(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return s.acc.Snapshot(), eris.Wrap(err, "browser: incremental scrape interrupted")
			}
			s.log.Warn("scroll step failed", zap.Error(err))
		}
		if !scrolled {
			// The page may gate further rows behind a button.
			s.clickLoadMore(ctx)
		}

		progress.observe(added > 0, scrolled)
		if progress.done() {
			break
		}

		if err := sleepCtx(ctx, s.cfg.ScrollDelay); err != nil {
			return s.acc.Snapshot(), eris.Wrap(err, "browser: incremental scrape interrupted")
		}

		if iterations%50 == 0 {
			s.log.Debug("incremental scrape progress",
				zap.Int("iteration", iterations),
				zap.Int("records", s.acc.Len()))
		}
	}

	s.log.Info("incremental scrape complete",
		zap.Int("records", s.acc.Len()),
		zap.Int("iterations", iterations))
	return s.acc.Snapshot(), nil
}

// extractVisible runs one extraction pass and reports how many new keys it
// added to the accumulator.
func (s *Session) extractVisible(ctx context.Context) (int, error) {
	var cards []card
	err := s.eval(ctx, extractCardsJS, &cards,
		s.profile.LinkPattern,
		s.profile.NameSelectors,
		s.profile.TaglineSelectors,
		s.profile.BatchSelectors,
		s.profile.LocationSelectors,
	)
	if err != nil {
		return 0, err
	}

	before := s.acc.Len()
	for _, rec := range companiesFromCards(s.profile.BaseURL, cards) {
		s.acc.Upsert(rec)
	}
	return s.acc.Len() - before, nil
}

func (s *Session) scrollStep(ctx context.Context) (bool, error) {
	var pos struct {
		Before float64 `json:"before"`
		After  float64 `json:"after"`
	}
	if err := s.eval(ctx, scrollStepJS, &pos); err != nil {
		return false, err
	}
	return pos.After > pos.Before, nil
}

func (s *Session) clickLoadMore(ctx context.Context) {
	var clicked bool
	err := s.eval(ctx, clickLoadMoreJS, &clicked,
		s.profile.LoadMoreSelectors, s.profile.LoadMoreTexts)
	if err != nil {
		s.log.Debug("load-more probe failed", zap.Error(err))
		return
	}
	if clicked {
		s.log.Debug("clicked load-more control")
	}
}

// companiesFromCards maps raw extraction output to records, dropping
// anything without a name or a resolvable profile URL.
func companiesFromCards(baseURL string, cards []card) []model.Company {
	out := make([]model.Company, 0, len(cards))
	for _, c := range cards {
		rec := model.Company{
			Name:       strings.TrimSpace(c.Name),
			OneLiner:   strings.TrimSpace(c.Tagline),
			ProfileURL: model.NormalizeProfileURL(baseURL, c.Href),
			LogoURL:    strings.TrimSpace(c.Logo),
			Batch:      strings.TrimSpace(c.Batch),
			Location:   strings.TrimSpace(c.Location),
		}
		if !rec.Valid() {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// scrollProgress tracks convergence of the incremental scroll loop.
type scrollProgress struct {
	stableLimit int
	bottomLimit int
	stable      int
	bottom      int
}

// observe records one iteration: whether the accumulator grew and whether
// the page actually moved.
func (p *scrollProgress) observe(grew, scrolled bool) {
	if grew {
		p.stable = 0
	} else {
		p.stable++
	}
	if scrolled {
		p.bottom = 0
	} else {
		p.bottom++
	}
}

// done reports whether both signals have been quiet past their limits.
func (p *scrollProgress) done() bool {
	return p.stable > p.stableLimit && p.bottom > p.bottomLimit
}
