package urlfilter

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// MaxURLLength is the hard length cap past which a URL is rejected.
const MaxURLLength = 200

var binaryExtRe = regexp.MustCompile(`(?i)\.(pdf|jpe?g|png|gif|svg|ico|css|js|woff2?|ttf|mp4|zip)$`)

var defaultRejectPaths = []string{
	"/wp-admin/", "/admin/", "/login", "/logout", "/cart", "/checkout",
}

// Filter enforces the URL rejection rules plus an optional caller-supplied
// set of glob exclude patterns (exact path.Match, plus "/x/*" matching any
// depth under /x/).
type Filter struct {
	originHost      string
	excludePatterns []string
}

// NewFilter builds a Filter scoped to originHost with optional extra
// glob-style exclude patterns (e.g. "/blog/*"). Falls back to a sane
// default set when none are provided.
func NewFilter(originHost string, excludePatterns []string) *Filter {
	if len(excludePatterns) == 0 {
		excludePatterns = []string{"/blog/*", "/news/*", "/press/*"}
	}
	return &Filter{originHost: originHost, excludePatterns: excludePatterns}
}

// Accept implements C2's accept(url, origin_host) -> bool.
func (f *Filter) Accept(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !SameOrigin(u.Host, f.originHost) {
		return false
	}
	if len(rawURL) > MaxURLLength {
		return false
	}
	if binaryExtRe.MatchString(u.Path) {
		return false
	}
	lowerPath := strings.ToLower(u.Path)
	for _, p := range defaultRejectPaths {
		if strings.Contains(lowerPath, p) {
			return false
		}
	}
	if f.isExcludedByPattern(lowerPath) {
		return false
	}
	return true
}

func (f *Filter) isExcludedByPattern(urlPath string) bool {
	for _, pattern := range f.excludePatterns {
		pattern = strings.ToLower(pattern)
		if ok, _ := path.Match(pattern, urlPath); ok {
			return true
		}
		if strings.HasSuffix(pattern, "/*") {
			prefix := strings.TrimSuffix(pattern, "/*")
			if urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/") {
				return true
			}
		}
	}
	return false
}
