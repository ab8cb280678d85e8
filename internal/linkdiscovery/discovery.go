// Package linkdiscovery implements the Link Discovery Engine: the union of
// robots.txt, sitemap(s), and a bounded recursive crawl, filtered through
// urlfilter and capped at a fixed output size.
package linkdiscovery

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AntoineDubuc/theodore/internal/fetcher"
	"github.com/AntoineDubuc/theodore/internal/model"
	"github.com/AntoineDubuc/theodore/internal/resilience"
	"github.com/AntoineDubuc/theodore/internal/urlfilter"
)

// Limits bounds the discovery phase's recursive crawl.
type Limits struct {
	MaxDepth        int
	MaxLinksPerPage int
	MaxVisitedURLs  int
	MaxWallTime     time.Duration
	FetchTimeout    time.Duration
	ExcludePatterns []string
	Retry           resilience.RetryConfig
}

// DefaultLimits returns the default crawl bounds. Robots/sitemap
// fetches get one quick retry; discovery sources are best-effort and the
// wall-time budget is small.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        3,
		MaxLinksPerPage: 50,
		MaxVisitedURLs:  200,
		MaxWallTime:     30 * time.Second,
		FetchTimeout:    10 * time.Second,
		Retry:           discoveryRetry(),
	}
}

func discoveryRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = 250 * time.Millisecond
	cfg.OnRetry = resilience.RetryLogger("linkdiscovery", "source fetch")
	return cfg
}

// maxOutputURLs is the hard cap applied to the discovery set before it is
// handed to the page selector.
const maxOutputURLs = 1000

// batchSize bounds the per-depth crawl fan-out.
const batchSize = 5

// Discoverer runs the union of robots.txt, sitemap, and recursive-crawl
// discovery for a single origin.
type Discoverer struct {
	fetcher fetcher.Fetcher
	limits  Limits
}

// NewDiscoverer builds a Discoverer that uses f for the recursive crawl's
// page fetches (expected to be a rendered-mode-capable fetcher.Chain).
func NewDiscoverer(f fetcher.Fetcher, limits Limits) *Discoverer {
	return &Discoverer{fetcher: f, limits: limits}
}

type crawlItem struct {
	url   string
	depth int
}

// Discover implements discover(seed_url, limits) -> DiscoverySet.
func (d *Discoverer) Discover(ctx context.Context, seedURL string) (*model.DiscoverySet, error) {
	seed := seedURL
	if !strings.HasPrefix(seed, "http://") && !strings.HasPrefix(seed, "https://") {
		seed = "https://" + seed
	}

	base, err := url.Parse(seed)
	if err != nil || base.Host == "" {
		return nil, eris.Wrap(err, "linkdiscovery: parse seed url")
	}
	if base.Path == "" {
		base.Path = "/"
	}
	seed = base.String()

	originHost := urlfilter.HostOf(seed)
	filter := urlfilter.NewFilter(originHost, d.limits.ExcludePatterns)
	set := model.NewDiscoverySet(originHost)

	var warnings int
	var gotAnyLink bool

	seedReachable := d.probeSeed(ctx, seed)
	if seedReachable {
		set.Add(seed, model.OriginCrawl, 0)
		gotAnyLink = true
	}

	originBase := base.Scheme + "://" + base.Host

	robots, err := d.fetchRobots(ctx, originBase)
	if err != nil {
		warnings++
		zap.L().Debug("linkdiscovery: robots.txt fetch failed", zap.Error(err))
	} else {
		for _, disallowed := range robots.disallowed {
			resolved, ok := urlfilter.Normalize(disallowed, originBase+"/")
			if !ok || !filter.Accept(resolved) {
				continue
			}
			if set.Add(resolved, model.OriginRobots, 1) {
				gotAnyLink = true
			}
		}
	}

	sitemapURLs := robots.sitemapsOrDefault(originBase)
	var sitemapHits []string
	for _, sm := range sitemapURLs {
		sitemapHits = append(sitemapHits, d.fetchSitemapURLs(ctx, sm, base)...)
	}
	if len(sitemapHits) == 0 {
		warnings++
	}
	for _, su := range sitemapHits {
		resolved, ok := urlfilter.Normalize(su, originBase+"/")
		if !ok || !filter.Accept(resolved) {
			continue
		}
		if set.Add(resolved, model.OriginSitemap, 1) {
			gotAnyLink = true
		}
	}

	crawlCtx, cancel := context.WithTimeout(ctx, d.limits.MaxWallTime)
	defer cancel()

	crawled, crawlErr := d.crawl(crawlCtx, seed, base, filter, set)
	if crawlErr != nil {
		warnings++
		zap.L().Debug("linkdiscovery: recursive crawl ended early", zap.Error(crawlErr))
	}
	if crawled {
		gotAnyLink = true
	}

	if !gotAnyLink {
		return set, eris.New("linkdiscovery: seed unreachable and robots/sitemap/crawl all failed")
	}

	set.Cap(maxOutputURLs)
	return set, nil
}

func (d *Discoverer) probeSeed(ctx context.Context, seed string) bool {
	result, err := d.fetcher.Fetch(ctx, seed, fetcher.ModeStatic, d.limits.FetchTimeout)
	if err != nil || result == nil {
		return false
	}
	return result.OK
}

// crawl performs the bounded BFS recursive crawl, returning true if at
// least one link beyond the seed was discovered.
func (d *Discoverer) crawl(ctx context.Context, seed string, base *url.URL, filter *urlfilter.Filter, set *model.DiscoverySet) (bool, error) {
	var mu sync.Mutex
	queue := []crawlItem{{url: seed, depth: 0}}
	visited := 1
	gotLink := false

	for {
		mu.Lock()
		if len(queue) == 0 || visited >= d.limits.MaxVisitedURLs {
			mu.Unlock()
			break
		}

		var batch []crawlItem
		for len(batch) < batchSize && len(queue) > 0 && visited < d.limits.MaxVisitedURLs {
			item := queue[0]
			queue = queue[1:]
			if item.depth < d.limits.MaxDepth {
				batch = append(batch, item)
			}
			visited++
		}
		mu.Unlock()

		if len(batch) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return gotLink, ctx.Err()
		default:
		}

		g, gCtx := errgroup.WithContext(ctx)

		for _, item := range batch {
			item := item
			g.Go(func() error {
				links, err := d.extractLinks(gCtx, item.url, base)
				if err != nil {
					return nil //nolint:nilerr
				}

				mu.Lock()
				defer mu.Unlock()
				added := 0
				for _, link := range links {
					if added >= d.limits.MaxLinksPerPage {
						break
					}
					if set.Contains(link) || !filter.Accept(link) {
						continue
					}
					if set.Add(link, model.OriginCrawl, item.depth+1) {
						queue = append(queue, crawlItem{url: link, depth: item.depth + 1})
						gotLink = true
						added++
					}
				}
				return nil
			})
		}

		_ = g.Wait()
	}

	return gotLink, nil
}

func (d *Discoverer) extractLinks(ctx context.Context, pageURL string, base *url.URL) ([]string, error) {
	result, err := d.fetcher.Fetch(ctx, pageURL, fetcher.ModeRendered, d.limits.FetchTimeout)
	if err != nil {
		return nil, eris.Wrap(err, "linkdiscovery: fetch page for link extraction")
	}
	if result == nil || !result.OK {
		return nil, nil
	}

	html := result.HTML
	if html == "" {
		html = result.Markdown
	}

	var links []string
	for _, href := range extractHrefs(html) {
		resolved, ok := urlfilter.Normalize(href, pageURL)
		if !ok {
			continue
		}
		links = append(links, resolved)
	}
	return links, nil
}

// sitemapsOrDefault returns the sitemap URLs declared by robots.txt, or the
// conventional locations if robots declared none (or robots itself failed).
func (r *robotsResult) sitemapsOrDefault(originBase string) []string {
	if r != nil && len(r.sitemaps) > 0 {
		return r.sitemaps
	}
	return []string{
		originBase + "/sitemap.xml",
		originBase + "/sitemap_index.xml",
		originBase + "/sitemaps/sitemap.xml",
	}
}
