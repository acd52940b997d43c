// Package ingest runs the acquisition strategies in priority order, merging
// their yields by canonical key and escalating to the next strategy only
// when the running total stays under its gate.
package ingest

import "github.com/sells-group/directory-cli/internal/model"

// Merge folds src into dst by canonical key and returns dst. On a key
// collision the src record overwrites: within a run the later source wins,
// and the stage order fixes which source that is. Merging a set with itself
// is a no-op; sets with disjoint keys merge in either order.
func Merge(dst, src map[string]model.Company) map[string]model.Company {
	if dst == nil {
		dst = make(map[string]model.Company, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
