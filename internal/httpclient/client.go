// Package httpclient implements C2: the single entry point for all outbound
// HTTP in the core, layered over a browser-impersonating transport with
// per-host rate limiting, retry with backoff, and Cloudflare challenge
// detection + bypass-service integration (spec §4.2).
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/Hazard804/mdcx/internal/bypass"
	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/ratelimit"
	"github.com/Hazard804/mdcx/internal/robots"
)

// Response is the normalized result of one request, regardless of the
// number of retries or bypass rounds that produced it.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

func (r *Response) Text() string { return string(r.Body) }

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Options configures one logical Request call (across all of its retries).
type Options struct {
	Headers        map[string]string
	Cookies        map[string]string
	Params         url.Values
	Body           io.Reader
	JSON           any
	Timeout        time.Duration // overrides the client default for this call
	AllowRedirects bool
	EnableCFBypass bool // zero value false; withDefaults always sets it true
	UseProxy       bool
}

// defaultOptions returns the defaults the convenience wrappers start from
// (redirects followed, bypass enabled, proxy used), since Go's zero value
// for bool is false. withDefaults takes AllowRedirects/EnableCFBypass/
// UseProxy from here whatever the caller set; only Headers, Cookies,
// Params, Body, JSON and Timeout are copied from the caller's Options.
func defaultOptions() Options {
	return Options{AllowRedirects: true, EnableCFBypass: true, UseProxy: true}
}

// refererHosts is the small closed set of hosts that need an injected
// Referer header (spec §4.2 step 2).
var refererHosts = map[string]string{
	"getchu":  "http://www.getchu.com/top.html",
	"xcity":   "https://xcity.jp/result_published/?genre=%2Fresult_published%2F&q=2&sg=main&num=60",
	"javbus":  "https://www.javbus.com/",
	"giga":    "https://www.giga-web.jp/top.html",
}

// Config holds the construction-time parameters for a Client.
type Config struct {
	Proxy            string
	Retry            int // default 3
	Timeout          time.Duration
	BypassBaseURL    string
	BypassProxyURL   string
	UserAgent        string
	RetrySemaphoreN  int  // per-host concurrent-retry cap; 0 disables the semaphore
	RespectRobots    bool // default false (spec §4.10); gates requests through internal/robots when true
}

// Client is the C2 HTTP Client: it exclusively owns the TLS session,
// rate-limiter registry, and bypass state (spec §3 "Ownership").
type Client struct {
	cfg       Config
	http      *http.Client
	limiters  *ratelimit.Registry
	bypassC   *bypass.Coordinator
	bus       *events.Bus
	userAgent string

	hostSemMu sync.Mutex
	hostSem   map[string]chan struct{}

	robots *robots.Checker // nil unless cfg.RespectRobots is set
}

// New constructs a Client with a browser-impersonating TLS transport
// (grounded on the Chrome-profile cipher/curve ordering used by
// cloudscraper-style clients; spec §4.2 step 5) and its own cookie jar.
func New(cfg Config, bus *events.Bus) (*Client, error) {
	if cfg.Retry <= 0 {
		cfg.Retry = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			MaxVersion: tls.VersionTLS13,
			CipherSuites: []uint16{
				tls.TLS_AES_128_GCM_SHA256,
				tls.TLS_AES_256_GCM_SHA384,
				tls.TLS_CHACHA20_POLY1305_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			},
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("httpclient: invalid proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	httpClient := &http.Client{
		Jar:       jar,
		Transport: transport,
		// Redirects are followed up to 10 hops whatever Options.AllowRedirects
		// says; past that the last response is returned unfollowed, and a 302
		// carrying a Location header is treated as terminal success by the
		// caller per spec §4.2.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	c := &Client{
		cfg:       cfg,
		http:      httpClient,
		limiters:  ratelimit.NewRegistry(),
		bus:       bus,
		userAgent: cfg.UserAgent,
		hostSem:   make(map[string]chan struct{}),
	}
	c.bypassC = bypass.NewCoordinator(cfg.BypassBaseURL, httpClient, bus)
	if cfg.RespectRobots {
		c.robots = robots.NewChecker(cfg.UserAgent)
	}
	return c, nil
}

// sanitizeURL strips trailing garbage after an embedded quote character
// while preserving percent-escaping (spec §4.2 step 1).
func sanitizeURL(raw string) string {
	for _, q := range []string{`"`, "'"} {
		if idx := strings.Index(raw, q); idx >= 0 {
			raw = raw[:idx]
		}
	}
	return raw
}

func (c *Client) prepareHeaders(target string, headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		out[k] = v
	}
	lower := strings.ToLower(target)
	for marker, referer := range refererHosts {
		if strings.Contains(lower, marker) {
			if marker == "giga" && strings.Contains(lower, "cookie_set.php") {
				continue
			}
			if _, has := out["Referer"]; !has {
				out["Referer"] = referer
			}
		}
	}
	return out
}

func hasHeaderCaseInsensitive(headers map[string]string, key string) bool {
	key = strings.ToLower(key)
	for k := range headers {
		if strings.ToLower(k) == key {
			return true
		}
	}
	return false
}

func (c *Client) hostSemaphore(host string) chan struct{} {
	if c.cfg.RetrySemaphoreN <= 0 {
		return nil
	}
	c.hostSemMu.Lock()
	defer c.hostSemMu.Unlock()
	s, ok := c.hostSem[host]
	if !ok {
		s = make(chan struct{}, c.cfg.RetrySemaphoreN)
		c.hostSem[host] = s
	}
	return s
}

func retryableStatus(status int, bypassDisabled bool) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	case 403:
		return bypassDisabled
	}
	return false
}

// Request executes the full per-request pipeline of spec §4.2 for one
// logical call, including retries, backoff, and Cloudflare bypass handoff.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts Options) (*Response, error) {
	target := sanitizeURL(rawURL)
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid url %q: %w", rawURL, err)
	}
	host := u.Hostname()

	if opts.Params != nil {
		q := u.Query()
		for k, vs := range opts.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	finalTarget := u.String()

	if c.robots != nil && !c.robots.Allowed(finalTarget) {
		return nil, fmt.Errorf("httpclient: %s disallowed by robots.txt", finalTarget)
	}

	headers := c.prepareHeaders(finalTarget, opts.Headers)
	if binding, ok := c.bypassC.Binding(host); ok && binding.UserAgent != "" && !hasHeaderCaseInsensitive(headers, "User-Agent") {
		headers["User-Agent"] = binding.UserAgent
	}
	if !hasHeaderCaseInsensitive(headers, "User-Agent") {
		headers["User-Agent"] = c.userAgent
	}

	timeout := c.cfg.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	if sem := c.hostSemaphore(host); sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var lastErr string
	attempts := c.cfg.Retry
	shortSleepNext := false

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.limiters.Acquire(ctx, host); err != nil {
			return nil, err
		}

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, body, err := c.doOnce(reqCtx, method, finalTarget, headers, opts, host)
		cancel()
		if resp != nil {
			resp.Body = body
		}

		if err != nil {
			lastErr = err.Error()
			if c.bus != nil {
				c.bus.RecordHTTP(host, "error")
			}
			if attempt < attempts-1 {
				c.sleepBackoff(ctx, attempt, shortSleepNext)
				shortSleepNext = false
			}
			continue
		}

		if opts.EnableCFBypass && c.bypassC.Enabled() && IsChallenge(resp) {
			if c.bus != nil {
				c.bus.Emit(events.Event{Severity: events.SeverityWarn, Category: events.CategoryBypass, Host: host, URL: finalTarget, Message: "Cloudflare challenge detected: " + method + " " + finalTarget})
			}
			escalate := c.bypassC.RecordChallengeHit(host)
			binding, bypassErr := c.bypassC.TryBypass(ctx, host, finalTarget, escalate)
			if bypassErr == nil {
				headers["User-Agent"] = binding.UserAgent
				if headers["User-Agent"] == "" {
					delete(headers, "User-Agent")
				}
				if c.bus != nil {
					c.bus.Emit(events.Event{Severity: events.SeverityInfo, Category: events.CategoryBypass, Host: host, Message: "bypass succeeded, retrying immediately"})
				}
				shortSleepNext = true
				lastErr = "Cloudflare challenge"
				continue
			}
			lastErr = "Cloudflare challenge and bypass failed: " + bypassErr.Error()
			if attempt < attempts-1 {
				c.sleepBackoff(ctx, attempt, false)
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.bypassC.ResetChallengeHits(host)
			if c.bus != nil {
				c.bus.RecordHTTP(host, "success")
				c.bus.Emit(events.Event{Severity: events.SeverityInfo, Category: events.CategorySuccess, Host: host, URL: finalTarget, Message: method + " " + finalTarget + " succeeded"})
			}
			return resp, nil
		}
		if resp.StatusCode == 302 && resp.Header.Get("Location") != "" {
			c.bypassC.ResetChallengeHits(host)
			return resp, nil
		}

		lastErr = fmt.Sprintf("HTTP %d", resp.StatusCode)
		if !retryableStatus(resp.StatusCode, !c.bypassC.Enabled()) {
			if c.bus != nil {
				c.bus.RecordHTTP(host, "terminal-failure")
			}
			return resp, fmt.Errorf("httpclient: %s %s: %s", method, finalTarget, lastErr)
		}
		if c.bus != nil {
			c.bus.RecordHTTP(host, "retry")
		}
		if attempt < attempts-1 {
			c.sleepBackoff(ctx, attempt, shortSleepNext)
			shortSleepNext = false
		}
	}

	if c.bus != nil {
		c.bus.Emit(events.Event{Severity: events.SeverityError, Category: events.CategoryFailure, Host: host, URL: finalTarget, Message: fmt.Sprintf("%s %s failed: %s", method, finalTarget, lastErr)})
	}
	return nil, fmt.Errorf("httpclient: %s %s failed: %s", method, finalTarget, lastErr)
}

// sleepBackoff implements spec §4.2 step 8: base = attempt*3+2s, jitter
// U[0,0.4], or the shorter post-bypass schedule 1.2+U[0,1.3].
func (c *Client) sleepBackoff(ctx context.Context, attempt int, afterBypass bool) {
	var d time.Duration
	if afterBypass {
		d = time.Duration(1.2*float64(time.Second)) + jitter(1.3)
	} else {
		base := time.Duration(attempt*3+2) * time.Second
		d = base + jitter(0.4)
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func (c *Client) doOnce(ctx context.Context, method, target string, headers map[string]string, opts Options, host string) (*Response, []byte, error) {
	var bodyReader io.Reader
	if opts.JSON != nil {
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, nil, err
		}
		bodyReader = bytes.NewReader(b)
		if !hasHeaderCaseInsensitive(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
	} else if opts.Body != nil {
		bodyReader = opts.Body
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if binding, ok := c.bypassC.Binding(host); ok {
		for k, v := range binding.Cookies {
			req.AddCookie(&http.Cookie{Name: k, Value: v})
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	// Go's net/http transparently decompresses gzip but not brotli; some
	// bypass-service mirror responses (and a handful of origin sites) send
	// Content-Encoding: br, which would otherwise reach callers as opaque
	// binary.
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		decoded, decErr := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if decErr == nil {
			body = decoded
		}
	}

	normalized := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		FinalURL:   resp.Request.URL.String(),
	}
	return normalized, body, nil
}

// --- convenience wrappers (spec §4.2) ---

func (c *Client) GetText(ctx context.Context, rawURL string, opts Options) (string, error) {
	opts = withDefaults(opts)
	resp, err := c.Request(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Client) GetJSON(ctx context.Context, rawURL string, v any, opts Options) error {
	opts = withDefaults(opts)
	resp, err := c.Request(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

func (c *Client) GetBytes(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	opts = withDefaults(opts)
	resp, err := c.Request(ctx, http.MethodGet, rawURL, opts)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) PostText(ctx context.Context, rawURL string, opts Options) (string, error) {
	opts = withDefaults(opts)
	resp, err := c.Request(ctx, http.MethodPost, rawURL, opts)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

func (c *Client) PostJSON(ctx context.Context, rawURL string, v any, opts Options) error {
	opts = withDefaults(opts)
	resp, err := c.Request(ctx, http.MethodPost, rawURL, opts)
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

func (c *Client) HeadSize(ctx context.Context, rawURL string) (int64, error) {
	opts := withDefaults(Options{})
	resp, err := c.Request(ctx, http.MethodHead, rawURL, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusMethodNotAllowed {
			return c.getSizeViaGet(ctx, rawURL)
		}
		return 0, err
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, fmt.Errorf("httpclient: no Content-Length for %s", rawURL)
	}
	return strconv.ParseInt(cl, 10, 64)
}

func (c *Client) getSizeViaGet(ctx context.Context, rawURL string) (int64, error) {
	resp, err := c.Request(ctx, http.MethodGet, rawURL, withDefaults(Options{}))
	if err != nil {
		return 0, err
	}
	return int64(len(resp.Body)), nil
}

func withDefaults(opts Options) Options {
	d := defaultOptions()
	if opts.Headers != nil {
		d.Headers = opts.Headers
	}
	if opts.Cookies != nil {
		d.Cookies = opts.Cookies
	}
	if opts.Params != nil {
		d.Params = opts.Params
	}
	if opts.Body != nil {
		d.Body = opts.Body
	}
	if opts.JSON != nil {
		d.JSON = opts.JSON
	}
	if opts.Timeout > 0 {
		d.Timeout = opts.Timeout
	}
	return d
}

// Bypass exposes the client's bypass coordinator, which runs cookie mode
// only. No site package calls it; DMM's age_check_done cookie comes from
// its Site.Cookies instead.
func (c *Client) Bypass() *bypass.Coordinator { return c.bypassC }
