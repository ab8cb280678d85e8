package linkdiscovery

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"

	"github.com/AntoineDubuc/theodore/internal/resilience"
)

const robotsUserAgent = "TheodoreResearchBot"

// robotsResult is what fetchRobots extracts: the sitemap URLs it declares,
// plus the paths it disallows (added as crawl seeds per the decision that
// disallowed paths often mark high-value sections, never skipped outright).
type robotsResult struct {
	sitemaps   []string
	disallowed []string
}

// robotsFetch carries one robots.txt round-trip through the retry wrapper.
type robotsFetch struct {
	status int
	body   []byte
}

func (d *Discoverer) fetchRobots(ctx context.Context, originBase string) (*robotsResult, error) {
	robotsURL := originBase + "/robots.txt"

	fetched, err := resilience.DoVal(ctx, d.limits.Retry, func(ctx context.Context) (robotsFetch, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
		if err != nil {
			return robotsFetch{}, eris.Wrap(err, "linkdiscovery: create robots.txt request")
		}
		req.Header.Set("User-Agent", robotsUserAgent)

		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Do(req)
		if err != nil {
			return robotsFetch{}, eris.Wrap(err, "linkdiscovery: fetch robots.txt")
		}
		defer resp.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
		if err != nil {
			return robotsFetch{}, eris.Wrap(err, "linkdiscovery: read robots.txt")
		}
		return robotsFetch{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		return nil, err
	}

	data, err := robotstxt.FromStatusAndBytes(fetched.status, fetched.body)
	if err != nil {
		return nil, eris.Wrap(err, "linkdiscovery: parse robots.txt")
	}

	result := &robotsResult{sitemaps: data.Sitemaps}

	group := data.FindGroup(robotsUserAgent)
	if group != nil {
		for _, rule := range group.Rules {
			if !rule.Allow && rule.Path != "" && rule.Path != "/" {
				result.disallowed = append(result.disallowed, rule.Path)
			}
		}
	}

	return result, nil
}
