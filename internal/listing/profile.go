// Package listing describes the shape of the target directory site: where
// the listing lives, what its profile links look like, and which selectors
// and query alphabets the acquisition strategies drive.
package listing

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Profile captures everything site-specific. The compiled-in defaults target
// the Y Combinator companies directory; a YAML file can override any field
// for sites that follow the same conventions with different markup.
type Profile struct {
	BaseURL    string `yaml:"base_url"`
	ListingURL string `yaml:"listing_url"`

	// LinkPattern matches the pathname of profile anchors on the listing
	// page. It doubles as the JS-side filter inside the extraction script,
	// so it must stay a syntactically plain regexp.
	LinkPattern string `yaml:"link_pattern"`

	// FacetField is the index dimension used to segment full fetches.
	FacetField string `yaml:"facet_field"`

	// Letters is the enumeration alphabet for the fallback query fetchers.
	Letters string `yaml:"letters"`

	// Selector lists are tried in order; the first matching element wins.
	// Testid-style attributes come before class and tag heuristics.
	NameSelectors     []string `yaml:"name_selectors"`
	TaglineSelectors  []string `yaml:"tagline_selectors"`
	BatchSelectors    []string `yaml:"batch_selectors"`
	LocationSelectors []string `yaml:"location_selectors"`
	SearchSelectors   []string `yaml:"search_selectors"`
	LoadMoreSelectors []string `yaml:"load_more_selectors"`
	LoadMoreTexts     []string `yaml:"load_more_texts"`
}

// Default returns the built-in profile for the YC companies directory.
func Default() *Profile {
	return &Profile{
		BaseURL:     "https://www.ycombinator.com",
		ListingURL:  "https://www.ycombinator.com/companies",
		LinkPattern: `^/companies/[a-z0-9-]+$`,
		FacetField:  "batch",
		Letters:     "abcdefghijklmnopqrstuvwxyz0123456789",
		NameSelectors: []string{
			`[data-testid="company-name"]`,
			`span[class*="coName"]`,
			`.company-name`,
			`h3`, `h4`, `strong`,
		},
		TaglineSelectors: []string{
			`[data-testid="company-tagline"]`,
			`span[class*="coDescription"]`,
			`.company-tagline`,
			`p`,
		},
		BatchSelectors: []string{
			`[data-testid="company-batch"]`,
			`a[href*="batch"] span`,
			`span[class*="pill"]`,
			`span[class*="batch"]`,
		},
		LocationSelectors: []string{
			`[data-testid="company-location"]`,
			`span[class*="coLocation"]`,
			`.company-location`,
		},
		SearchSelectors: []string{
			`[data-testid="search-input"]`,
			`input[type="search"]`,
			`input[placeholder*="Search"]`,
			`input[name="query"]`,
		},
		LoadMoreSelectors: []string{
			`[data-testid="load-more"]`,
			`button[class*="loadMore"]`,
			`button[class*="showMore"]`,
		},
		LoadMoreTexts: []string{"load more", "show more"},
	}
}

// Load reads a profile override from a YAML file. Fields absent from the
// file keep their default values.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "listing: read profile %s", path)
	}

	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, eris.Wrapf(err, "listing: parse profile %s", path)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the fields every strategy depends on.
func (p *Profile) Validate() error {
	if p.BaseURL == "" || p.ListingURL == "" {
		return eris.New("listing: base_url and listing_url are required")
	}
	if _, err := regexp.Compile(p.LinkPattern); err != nil {
		return eris.Wrap(err, "listing: compile link_pattern")
	}
	if p.Letters == "" {
		return eris.New("listing: letters alphabet is empty")
	}
	return nil
}

// SingleCharTokens returns the one-character enumeration key space.
func (p *Profile) SingleCharTokens() []string {
	tokens := make([]string, 0, len(p.Letters))
	for _, r := range p.Letters {
		tokens = append(tokens, string(r))
	}
	return tokens
}

// BigramTokens returns the full cross product of the alphabet with itself.
// Every indexed item matches at least one short substring query, so paging
// all bigrams recovers records invisible to facet segmentation, at the cost
// of many more requests.
func (p *Profile) BigramTokens() []string {
	tokens := make([]string, 0, len(p.Letters)*len(p.Letters))
	for _, a := range p.Letters {
		for _, b := range p.Letters {
			tokens = append(tokens, string(a)+string(b))
		}
	}
	return tokens
}

// SearchTokens returns the single-character plan for driving the page's own
// search box: vowels first, then the remaining letters, then digits.
func (p *Profile) SearchTokens() []string {
	const vowels = "aeiou"

	var tokens []string
	for _, r := range vowels {
		if strings.ContainsRune(p.Letters, r) {
			tokens = append(tokens, string(r))
		}
	}
	for _, r := range p.Letters {
		if r >= 'a' && r <= 'z' && !strings.ContainsRune(vowels, r) {
			tokens = append(tokens, string(r))
		}
	}
	for _, r := range p.Letters {
		if r >= '0' && r <= '9' {
			tokens = append(tokens, string(r))
		}
	}
	return tokens
}
