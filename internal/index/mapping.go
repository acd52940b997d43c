package index

import (
	"strings"

	"github.com/sells-group/directory-cli/internal/model"
	"github.com/sells-group/directory-cli/pkg/algolia"
)

// Field-preference lists. Index deployments rename attributes across
// redesigns; each list is tried in order and the first non-empty value wins.
var (
	nameKeys     = []string{"name", "company_name", "title"}
	oneLinerKeys = []string{"one_liner", "description", "tagline"}
	logoKeys     = []string{"small_logo_thumb_url", "logo_url", "logo"}
	batchKeys    = []string{"batch", "batch_name"}
	websiteKeys  = []string{"website", "company_url"}
	locationKeys = []string{"all_locations", "location", "city"}
	slugKeys     = []string{"slug", "permalink"}
	urlKeys      = []string{"url", "href", "profile_url"}
)

// firstString returns the first present, non-empty trimmed string among the
// given keys. List values are joined; some deployments store multi-value
// fields like locations as arrays.
func firstString(h algolia.Hit, keys ...string) string {
	for _, k := range keys {
		switch v := h[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case []any:
			var parts []string
			for _, e := range v {
				if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
					parts = append(parts, strings.TrimSpace(s))
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return ""
}

// hitKey is the natural identity of a raw hit: its slug or permalink when
// present, else the last path segment of a URL field. Hits without any
// identity key to "" and are dropped by the caller.
func hitKey(h algolia.Hit) string {
	if slug := firstString(h, slugKeys...); slug != "" {
		return slug
	}
	if raw := firstString(h, urlKeys...); raw != "" {
		return lastPathSegment(raw)
	}
	return ""
}

func lastPathSegment(raw string) string {
	raw = strings.TrimRight(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

// CompanyFromHit maps one raw index record into a Company. ok is false when
// the hit carries no usable name or no resolvable profile identity; such
// hits are dropped at this boundary and never emitted.
func CompanyFromHit(baseURL string, h algolia.Hit) (model.Company, bool) {
	c := model.Company{
		Name:     firstString(h, nameKeys...),
		OneLiner: firstString(h, oneLinerKeys...),
		LogoURL:  firstString(h, logoKeys...),
		Batch:    firstString(h, batchKeys...),
		Website:  firstString(h, websiteKeys...),
		Location: firstString(h, locationKeys...),
	}
	c.ProfileURL = model.NormalizeProfileURL(baseURL, hitKey(h))
	if !c.Valid() {
		return model.Company{}, false
	}
	return c, true
}
