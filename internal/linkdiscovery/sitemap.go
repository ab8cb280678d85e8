package linkdiscovery

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/AntoineDubuc/theodore/internal/resilience"
)

// maxSitemapRecursion bounds how deep a chain of <sitemapindex> documents is
// followed before giving up, guarding against a misconfigured site looping
// sitemap indexes into each other.
const maxSitemapRecursion = 3

// sitemapIndex represents a <sitemapindex> document: a list of further
// sitemap documents to fetch and resolve, recursively.
type sitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

// sitemapURLSet represents a <urlset> document: a flat list of page URLs.
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// fetchSitemapURLs fetches sitemapURL and returns the same-host page URLs it
// (transitively) declares, recursively resolving any <sitemapindex>.
func (d *Discoverer) fetchSitemapURLs(ctx context.Context, sitemapURL string, base *url.URL) []string {
	return d.fetchSitemapURLsDepth(ctx, sitemapURL, base, 0)
}

func (d *Discoverer) fetchSitemapURLsDepth(ctx context.Context, sitemapURL string, base *url.URL, depth int) []string {
	if depth > maxSitemapRecursion {
		return nil
	}

	body := d.fetchRaw(ctx, sitemapURL, 2*1024*1024)
	if body == nil {
		return nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		var urls []string
		for _, entry := range index.Sitemaps {
			loc := strings.TrimSpace(entry.Loc)
			if loc == "" {
				continue
			}
			urls = append(urls, d.fetchSitemapURLsDepth(ctx, loc, base, depth+1)...)
		}
		return urls
	}

	var urlSet sitemapURLSet
	if err := xml.Unmarshal(body, &urlSet); err != nil {
		return nil
	}

	var urls []string
	for _, entry := range urlSet.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		u, err := url.Parse(loc)
		if err != nil {
			continue
		}
		if u.Host != base.Host {
			continue
		}
		urls = append(urls, loc)
	}
	return urls
}

// fetchRaw fetches a sitemap document with transient-error retries. A nil
// return means the document is unavailable; sitemap sources are
// best-effort, so the caller treats that as a warning.
func (d *Discoverer) fetchRaw(ctx context.Context, rawURL string, limit int64) []byte {
	body, err := resilience.DoVal(ctx, d.limits.Retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "linkdiscovery: create sitemap request")
		}
		req.Header.Set("User-Agent", robotsUserAgent)

		client := &http.Client{Timeout: 15 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "linkdiscovery: fetch sitemap")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("linkdiscovery: sitemap status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
		if err != nil {
			return nil, eris.Wrap(err, "linkdiscovery: read sitemap")
		}
		return body, nil
	})
	if err != nil {
		return nil
	}
	return body
}
