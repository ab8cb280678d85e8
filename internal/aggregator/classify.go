package aggregator

import (
	"net/url"
	"strings"

	"github.com/AntoineDubuc/theodore/internal/model"
)

// pathPageTypes maps a URL's first path segment to a coarse page type.
var pathPageTypes = map[string]model.PageType{
	"about":      model.PageTypeAbout,
	"about-us":   model.PageTypeAbout,
	"who-we-are": model.PageTypeAbout,
	"our-story":  model.PageTypeAbout,
	"history":    model.PageTypeAbout,

	"products":     model.PageTypeProducts,
	"product":      model.PageTypeProducts,
	"services":     model.PageTypeProducts,
	"our-services": model.PageTypeProducts,
	"solutions":    model.PageTypeProducts,

	"team":       model.PageTypeTeam,
	"our-team":   model.PageTypeTeam,
	"leadership": model.PageTypeTeam,
	"staff":      model.PageTypeTeam,

	"careers": model.PageTypeCareers,
	"career":  model.PageTypeCareers,
	"jobs":    model.PageTypeCareers,

	"contact":    model.PageTypeContact,
	"contact-us": model.PageTypeContact,

	"news":  model.PageTypeNews,
	"press": model.PageTypeNews,
	"blog":  model.PageTypeNews,
}

// classifyPageType infers a coarse page type from a URL's first path
// segment. Pages that match nothing, including the homepage, fall into
// PageTypeMain.
func classifyPageType(rawURL string) model.PageType {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageTypeMain
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return model.PageTypeMain
	}
	if idx := strings.Index(path, "/"); idx > 0 {
		path = path[:idx]
	}
	if pt, ok := pathPageTypes[strings.ToLower(path)]; ok {
		return pt
	}
	return model.PageTypeMain
}
