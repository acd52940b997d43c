package model

import (
	"regexp"
	"strings"
)

// profilePathPrefix is the directory's canonical profile path. Bare slugs
// coming out of the search index are rewritten under it.
const profilePathPrefix = "/companies/"

var slugRe = regexp.MustCompile(`^[a-z0-9-]+$`)

// NormalizeProfileURL resolves a profile link captured from an index hit or a
// rendered anchor into its absolute canonical form. Absolute URLs pass
// through unchanged, site-relative paths are joined to base, and bare slugs
// become base/companies/<slug>. Anything else resolves to "" and the caller
// drops the record.
func NormalizeProfileURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	base = strings.TrimRight(base, "/")
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	case strings.HasPrefix(raw, "/"):
		return base + raw
	case slugRe.MatchString(raw):
		return base + profilePathPrefix + raw
	default:
		return ""
	}
}
