package linkdiscovery

import "strings"

// extractHrefs does a simple extraction of href attribute values from raw
// HTML. It does not attempt to resolve or validate the URLs; that is left
// to urlfilter.Normalize.
func extractHrefs(html string) []string {
	var hrefs []string

	idx := 0
	for {
		pos := strings.Index(html[idx:], "href=")
		if pos == -1 {
			break
		}
		idx += pos + 5
		if idx >= len(html) {
			break
		}

		quote := html[idx]
		if quote != '"' && quote != '\'' {
			continue
		}
		idx++

		end := strings.IndexByte(html[idx:], quote)
		if end == -1 {
			break
		}

		href := html[idx : idx+end]
		idx += end + 1

		if strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
			continue
		}
		hrefs = append(hrefs, href)
	}

	return hrefs
}
