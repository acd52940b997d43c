// Package index reconstructs directory records straight from the discovered
// search index: a full segment-by-segment fetch when facets expose the whole
// corpus, and exhaustive short-query enumeration when they do not.
package index

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/listing"
	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/algolia"
)

const (
	// PageSize is the hits-per-page requested from the index. Most hosted
	// deployments cap a single query's reachable window near this size,
	// which is why segmentation and enumeration exist at all.
	PageSize = 1000

	// maxPages bounds paging per segment or token regardless of what
	// nbPages claims.
	maxPages = 20
)

// Fetcher runs index-side acquisition strategies with one credential set.
type Fetcher struct {
	client  algolia.Client
	profile *listing.Profile
	log     *zap.Logger
}

// NewFetcher creates a Fetcher over an authenticated index client.
func NewFetcher(client algolia.Client, profile *listing.Profile) *Fetcher {
	return &Fetcher{
		client:  client,
		profile: profile,
		log:     zap.L().With(zap.String("component", "index")),
	}
}

// ByBatch fetches the whole index one facet segment at a time, keyed by each
// record's natural identity so repeats across segments collapse. Missing or
// undiscoverable facets are a legitimate empty outcome, not an error: the
// caller reads the low yield and escalates. A failure while paging a segment
// aborts the pass.
func (f *Fetcher) ByBatch(ctx context.Context) (map[string]model.Company, error) {
	facets, err := f.facetValues(ctx)
	if err != nil {
		f.log.Warn("facet discovery failed, treating index as unsegmentable", zap.Error(err))
		return map[string]model.Company{}, nil
	}
	if len(facets) == 0 {
		f.log.Info("index exposes no facet values", zap.String("facet", f.profile.FacetField))
		return map[string]model.Company{}, nil
	}

	raw := make(map[string]algolia.Hit)
	for value, count := range facets {
		filter := fmt.Sprintf("%s:%s", f.profile.FacetField, value)
		req := algolia.QueryRequest{HitsPerPage: PageSize, FacetFilters: []string{filter}}
		if err := f.collect(ctx, req, raw); err != nil {
			return nil, eris.Wrapf(err, "index: fetch segment %s", value)
		}
		f.log.Debug("segment fetched",
			zap.String("segment", value),
			zap.Int("expected", count),
			zap.Int("accumulated", len(raw)),
		)
	}

	f.log.Info("segmented fetch complete",
		zap.Int("segments", len(facets)),
		zap.Int("unique_hits", len(raw)),
	)
	return f.mapHits(raw), nil
}

// facetValues asks the index for the value counts of the segmentation facet
// without retrieving any hits.
func (f *Fetcher) facetValues(ctx context.Context) (map[string]int, error) {
	resp, err := f.client.Query(ctx, algolia.QueryRequest{
		HitsPerPage: 0,
		Facets:      []string{f.profile.FacetField},
	})
	if err != nil {
		return nil, err
	}
	return resp.Facets[f.profile.FacetField], nil
}

// collect pages one query to completion, folding raw hits into acc keyed by
// their natural identity. Hits without identity are skipped.
func (f *Fetcher) collect(ctx context.Context, req algolia.QueryRequest, acc map[string]algolia.Hit) error {
	for page := 0; page < maxPages; page++ {
		req.Page = page
		resp, err := f.client.Query(ctx, req)
		if err != nil {
			return err
		}
		for _, h := range resp.Hits {
			if key := hitKey(h); key != "" {
				acc[key] = h
			}
		}
		if page >= resp.NbPages-1 {
			break
		}
	}
	return nil
}

// mapHits converts accumulated raw hits into validated records keyed by
// canonical profile URL.
func (f *Fetcher) mapHits(raw map[string]algolia.Hit) map[string]model.Company {
	out := make(map[string]model.Company, len(raw))
	dropped := 0
	for _, h := range raw {
		c, ok := CompanyFromHit(f.profile.BaseURL, h)
		if !ok {
			dropped++
			continue
		}
		out[c.ProfileURL] = c
	}
	if dropped > 0 {
		f.log.Warn("dropped hits without name or profile identity", zap.Int("count", dropped))
	}
	return out
}
