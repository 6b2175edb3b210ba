// Package crawler implements C4: the generic Search→Detail pipeline every
// per-site crawler (internal/sites/<site>) plugs into, plus the shared
// per-lookup Context and error taxonomy those site packages use to report
// outcomes back to the fanout engine.
package crawler

import "github.com/Hazard804/mdcx/internal/model"

// Site is the closed interface every per-site crawler implements (spec
// §4.4). There is no plugin registry: the set of sites is a fixed slice
// built at compile time by cmd/mdcxfetch and pkg/mdcx, which import each
// internal/sites/<site> package and pass the slice to internal/fanout via
// fanout.Config.Sites.
type Site interface {
	// Name is the short, stable identifier used in FieldSources, metrics
	// labels, and config's per-field site-priority lists (e.g. "dmm").
	Name() string

	// BaseURL is the site's canonical origin, the one its own search and
	// detail URLs are built on. Neither cookie scoping nor Referer
	// injection in internal/httpclient consults it.
	BaseURL() string

	// SearchURLs returns candidate search-result URLs for ctx.Input, most
	// specific first. The pipeline tries them in order until one parses.
	SearchURLs(ctx *Context) []string

	// Cookies returns static cookies this site always needs (e.g. DMM's
	// age_check_done=1), merged with any bypass-bound cookies.
	Cookies(ctx *Context) map[string]string

	// NeedsBrowser reports whether detail pages for this input require a
	// headless render rather than a plain HTTP GET.
	NeedsBrowser(ctx *Context) bool

	// ParseSearchPage extracts the single best-matching detail-page URL
	// from a fetched search-results page. KindSoftNotFound should be
	// returned (wrapped) when the page is well-formed but has no results.
	ParseSearchPage(ctx *Context, html string) (detailURL string, err error)

	// ParseDetailPage extracts this site's contribution to the merged
	// record. KindNumberMismatch should be returned when the detail page's
	// own displayed number doesn't match ctx.Input.Number.
	ParseDetailPage(ctx *Context, html string) (*model.CrawlerData, error)

	// PostProcess applies any refinement that needs the fully parsed
	// CrawlerData rather than raw HTML (e.g. DMM's TV sub-crawl for a
	// trailer URL). It may mutate data in place.
	PostProcess(ctx *Context, data *model.CrawlerData) error
}
