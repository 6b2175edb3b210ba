package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserPool is the narrow surface a Site needs from a headless browser,
// used as the detail-page fetch path for JS-rendered pages (DMM's digital
// listing, spec §4.4) whenever the site's NeedsBrowser reports true. An
// empty plain-HTTP result does not by itself trigger a render.
type BrowserPool interface {
	// Render navigates to rawURL, waits for the page to settle, and returns
	// the fully rendered HTML along with any XHR/fetch requests it observed
	// (useful for discovering an undocumented JSON API, per the teacher's
	// request-interception pattern).
	Render(ctx context.Context, rawURL string, userAgent string) (*RenderResult, error)
}

// RenderResult is what a headless render produced.
type RenderResult struct {
	HTML            string
	FinalURL        string
	InterceptedXHRs []string
}

// Browser manages one headless Chrome instance, launched by NewBrowser and
// shared across all lookups that need JS rendering.
type Browser struct {
	timeout     time.Duration
	pageTimeout time.Duration

	browser *rod.Browser
}

// BrowserConfig configures a Browser at construction time.
type BrowserConfig struct {
	Timeout     time.Duration
	PageTimeout time.Duration
}

// NewBrowser launches a headless Chrome instance with its sandbox, GPU and
// /dev/shm use disabled.
func NewBrowser(cfg BrowserConfig) (*Browser, error) {
	u, err := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return nil, fmt.Errorf("crawler: launching browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("crawler: connecting to browser: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageTimeout := cfg.PageTimeout
	if pageTimeout == 0 {
		pageTimeout = 15 * time.Second
	}

	return &Browser{browser: b, timeout: timeout, pageTimeout: pageTimeout}, nil
}

// Render implements BrowserPool.
func (b *Browser) Render(ctx context.Context, rawURL, userAgent string) (*RenderResult, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("crawler: opening page: %w", err)
	}
	defer page.Close()

	page = page.Timeout(b.timeout).Context(ctx)

	if userAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: userAgent})
	}

	var intercepted []string
	router := page.HijackRequests()
	defer router.Stop()
	router.MustAdd("*", func(hijack *rod.Hijack) {
		hijack.ContinueRequest(&proto.FetchContinueRequest{})
		resourceType := strings.ToLower(string(hijack.Request.Type()))
		if resourceType == "xhr" || resourceType == "fetch" {
			intercepted = append(intercepted, hijack.Request.URL().String())
		}
	})
	go router.Run()

	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("crawler: navigating to %s: %w", rawURL, err)
	}

	if err := page.WaitStable(b.pageTimeout); err != nil && !strings.Contains(err.Error(), "context canceled") {
		// Non-fatal: content may still be usable even if the page never
		// fully quiesced (ad/analytics scripts that poll forever).
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("crawler: reading rendered HTML: %w", err)
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil {
		finalURL = info.URL
	}

	return &RenderResult{HTML: html, FinalURL: finalURL, InterceptedXHRs: intercepted}, nil
}

// Close shuts down the underlying browser process.
func (b *Browser) Close() error {
	if b.browser != nil {
		return b.browser.Close()
	}
	return nil
}
