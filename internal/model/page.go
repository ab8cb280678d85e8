package model

import "time"

// ContentKind describes which representation a PageContent body holds.
type ContentKind string

const (
	ContentCleanedHTML   ContentKind = "cleaned_html"
	ContentMarkdown      ContentKind = "markdown"
	ContentExtractedText ContentKind = "extracted_text"
	ContentEmpty         ContentKind = "empty"
)

// MaxPageBodyChars is the hard cap on PageContent.Body length.
const MaxPageBodyChars = 10_000

// PageContent is the result of fetching and cleaning a single URL.
type PageContent struct {
	URL         string      `json:"url"`
	FetchedAt   time.Time   `json:"fetched_at"`
	HTTPStatus  int         `json:"http_status"`
	ContentKind ContentKind `json:"content_kind"`
	Body        string      `json:"body"`
	ByteSize    int         `json:"byte_size"`
	Error       string      `json:"error,omitempty"`
}

// PageType is a coarse category inferred from a URL's path.
type PageType string

const (
	PageTypeAbout    PageType = "about"
	PageTypeProducts PageType = "products"
	PageTypeTeam     PageType = "team"
	PageTypeCareers  PageType = "careers"
	PageTypeContact  PageType = "contact"
	PageTypeNews     PageType = "news"
	PageTypeMain     PageType = "main"
)
