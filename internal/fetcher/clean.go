package fetcher

import (
	"regexp"
	"strings"
)

var (
	titleRe       = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	strippedTagRe = regexp.MustCompile(`(?is)<(script|style|nav|footer)[^>]*>.*?</(?:script|style|nav|footer)>`)
	anyTagRe      = regexp.MustCompile(`<[^>]+>`)
	spaceRe       = regexp.MustCompile(`[ \t]+`)
	newlineRe     = regexp.MustCompile(`\n{3,}`)

	entityReplacer = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
)

// ExtractTitle pulls the <title> text out of raw HTML.
func ExtractTitle(body []byte) string {
	m := titleRe.FindSubmatch(body)
	if len(m) > 1 {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// StripHTML removes script/style/nav/footer blocks entirely, strips
// remaining tags, decodes common entities, and collapses whitespace. The
// result is the "cleaned_html" content kind's plaintext body.
func StripHTML(html string) string {
	html = strippedTagRe.ReplaceAllString(html, "")
	html = anyTagRe.ReplaceAllString(html, " ")
	html = entityReplacer.Replace(html)
	html = spaceRe.ReplaceAllString(html, " ")
	html = newlineRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}

// WordCount counts whitespace-delimited tokens, used by the extractor's
// empty-content threshold.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// TruncateBody caps a body at model.MaxPageBodyChars-equivalent length.
func TruncateBody(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
