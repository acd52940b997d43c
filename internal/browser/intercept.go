package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/directory-cli/pkg/algolia"
)

// DefaultCredentialWindow is how long the interceptor watches traffic
// before concluding the site does not query a hosted index.
const DefaultCredentialWindow = 8 * time.Second

// Hosts the hosted-search service answers on. Anything else is not an
// index query no matter what the headers say.
var indexHostSuffixes = []string{".algolia.net", ".algolianet.com"}

const nudgeScrollJS = `() => {
	window.scrollBy(0, Math.floor(window.innerHeight * 0.6));
	return true;
}`

// CaptureCredentials watches outgoing requests until one carries a usable
// index credential bundle or the window expires. Expiry returns (nil, nil):
// the absence of credentials is an escalation signal, not an error. The
// page must already be navigated.
func (s *Session) CaptureCredentials(ctx context.Context, window time.Duration) (*algolia.Credentials, error) {
	if window <= 0 {
		window = DefaultCredentialWindow
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	page := s.page.Context(ctx)
	sniffer := &credentialSniffer{}
	wait := page.EachEvent(func(ev *proto.NetworkRequestWillBeSent) bool {
		if ev.Request == nil || !strings.Contains(ev.Request.URL, "algolia") {
			return false
		}
		headers := make(map[string]string, len(ev.Request.Headers))
		for k, v := range ev.Request.Headers {
			headers[k] = fmt.Sprintf("%v", v)
		}
		// Bodies are not on the event itself; candidate requests are
		// worth the extra round trip.
		body := ""
		if ev.Request.HasPostData {
			if res, err := (proto.NetworkGetRequestPostData{RequestID: ev.RequestID}).Call(page); err == nil {
				body = res.PostData
			}
		}
		return sniffer.observe(ev.Request.URL, headers, body)
	})

	// Virtualized listings only talk to their index when something moves.
	if err := s.eval(ctx, nudgeScrollJS, nil); err != nil {
		s.log.Debug("scroll nudge failed", zap.Error(err))
	}

	wait()

	if err := parent.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: capture credentials")
	}
	if sniffer.creds == nil {
		s.log.Info("no index credentials observed", zap.Duration("window", window))
		return nil, nil
	}
	s.log.Info("captured index credentials",
		zap.String("app_id", sniffer.creds.AppID),
		zap.String("index", sniffer.creds.Index))
	return sniffer.creds, nil
}

// credentialSniffer folds request observations until one qualifies. The
// first qualifying bundle wins; everything after is ignored.
type credentialSniffer struct {
	creds *algolia.Credentials
}

// observe inspects one outgoing request and reports whether sniffing is
// finished.
func (cs *credentialSniffer) observe(rawURL string, headers map[string]string, body string) bool {
	if cs.creds != nil {
		return true
	}
	creds, ok := credentialsFromRequest(rawURL, headers, body)
	if !ok {
		return false
	}
	cs.creds = &creds
	return true
}

// credentialsFromRequest decides whether one outgoing request is a
// search-index query carrying a complete credential bundle. Malformed
// requests disqualify silently; interception keeps watching.
func credentialsFromRequest(rawURL string, headers map[string]string, body string) (algolia.Credentials, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return algolia.Credentials{}, false
	}
	host := strings.ToLower(u.Hostname())
	hostOK := false
	for _, suffix := range indexHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return algolia.Credentials{}, false
	}
	if !strings.Contains(u.Path, "/1/indexes/") || !strings.Contains(u.Path, "quer") {
		return algolia.Credentials{}, false
	}

	creds := algolia.Credentials{
		AppID:  headerValue(headers, "x-algolia-application-id"),
		APIKey: headerValue(headers, "x-algolia-api-key"),
		Index:  indexFromBody(body),
	}
	if creds.Index == "" {
		creds.Index = indexFromPath(u.Path)
	}
	return creds, creds.Valid()
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// indexFromBody pulls the first index name out of a multi-query envelope,
// the shape the site's own frontend posts.
func indexFromBody(body string) string {
	if body == "" {
		return ""
	}
	var envelope struct {
		Requests []struct {
			IndexName string `json:"indexName"`
		} `json:"requests"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return ""
	}
	for _, r := range envelope.Requests {
		if r.IndexName != "" {
			return r.IndexName
		}
	}
	return ""
}

// indexFromPath handles single-index queries, where the index name rides
// the URL: /1/indexes/<name>/query. The multi-query wildcard "*" does not
// name an index.
func indexFromPath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "indexes" || i+1 >= len(segments) {
			continue
		}
		name, err := url.PathUnescape(segments[i+1])
		if err != nil || name == "*" {
			return ""
		}
		return name
	}
	return ""
}
