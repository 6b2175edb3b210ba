package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
)

// Run drives one Search→Detail lookup for site against input, returning the
// site's contribution to the merged record. It is the generic engine every
// internal/sites/<site> package is exercised through via internal/fanout.
func Run(parent context.Context, site Site, client *httpclient.Client, browser BrowserPool, input model.Input) (*model.CrawlerData, error) {
	if input.Number == "" {
		return nil, New(site.Name(), KindNumberEmpty, nil)
	}

	ctx := NewContext(parent, site.Name(), input, client, browser)

	detailURL, err := searchForDetailURL(ctx, site)
	if err != nil {
		return nil, err
	}
	ctx.Debugf("resolved detail url: %s", detailURL)

	html, err := fetchPage(ctx, site, detailURL, site.NeedsBrowser(ctx))
	if err != nil {
		return nil, New(site.Name(), KindHTTPFailure, err)
	}

	data, err := site.ParseDetailPage(ctx, html)
	if err != nil {
		return nil, wrapSiteErr(site.Name(), err)
	}
	if data == nil {
		return nil, New(site.Name(), KindParseFailure, errors.New("nil CrawlerData"))
	}

	if err := site.PostProcess(ctx, data); err != nil {
		ctx.Debugf("post-process error (non-fatal): %v", err)
	}

	return data, nil
}

// searchForDetailURL tries each of the site's candidate search URLs in
// order until one yields a parseable detail link.
func searchForDetailURL(ctx *Context, site Site) (string, error) {
	urls := site.SearchURLs(ctx)
	if len(urls) == 0 {
		return "", New(site.Name(), KindParseFailure, errors.New("no search urls generated"))
	}

	var lastErr error
	for _, u := range urls {
		html, err := fetchPage(ctx, site, u, false)
		if err != nil {
			lastErr = New(site.Name(), KindHTTPFailure, err)
			continue
		}
		// Stashed in Scratch rather than widening the Site.ParseSearchPage
		// signature: only MissAV's direct-slug branch needs to know which
		// URL it just fetched.
		ctx.Scratch["search_url"] = u
		detailURL, err := site.ParseSearchPage(ctx, html)
		if err != nil {
			lastErr = wrapSiteErr(site.Name(), err)
			continue
		}
		if detailURL != "" {
			return detailURL, nil
		}
	}
	if lastErr == nil {
		lastErr = New(site.Name(), KindSoftNotFound, nil)
	}
	return "", lastErr
}

// fetchPage fetches rawURL either through the plain HTTP client or, when
// useBrowser is true and a BrowserPool is wired, via headless render.
func fetchPage(ctx *Context, site Site, rawURL string, useBrowser bool) (string, error) {
	if useBrowser {
		if ctx.Browser == nil {
			return "", fmt.Errorf("crawler: %s requires a browser but none is configured", site.Name())
		}
		result, err := ctx.Browser.Render(ctx, rawURL, "")
		if err != nil {
			return "", err
		}
		return result.HTML, nil
	}

	opts := httpclient.Options{
		AllowRedirects: true,
		EnableCFBypass: true,
		UseProxy:       true,
		Cookies:        site.Cookies(ctx),
	}
	return ctx.Client.GetText(ctx, rawURL, opts)
}

// wrapSiteErr passes through an already-typed *Error unchanged, otherwise
// wraps an unexpected error as a parse failure.
func wrapSiteErr(site string, err error) error {
	var siteErr *Error
	if errors.As(err, &siteErr) {
		return err
	}
	return New(site, KindParseFailure, err)
}
