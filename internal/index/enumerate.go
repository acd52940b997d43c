package index

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/algolia"
)

// ByQueries recovers records the facet segments cannot reach by paging every
// token's free-text result set into one shared hit map, mapped once at the
// end. Every indexed name matches at least one single character or bigram,
// so a full token sweep approaches the complete corpus at the cost of many
// more requests. Tokens run sequentially; the client paces requests.
func (f *Fetcher) ByQueries(ctx context.Context, tokens []string) (map[string]model.Company, error) {
	raw := make(map[string]algolia.Hit)
	for _, token := range tokens {
		req := algolia.QueryRequest{Query: token, HitsPerPage: PageSize}
		if err := f.collect(ctx, req, raw); err != nil {
			return nil, eris.Wrapf(err, "index: enumerate %q", token)
		}
	}

	f.log.Info("enumeration complete",
		zap.Int("tokens", len(tokens)),
		zap.Int("unique_hits", len(raw)),
	)
	return f.mapHits(raw), nil
}
