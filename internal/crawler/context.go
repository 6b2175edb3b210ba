package crawler

import (
	"context"
	"fmt"
	"sync"

	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
)

// debugRingCap bounds the per-lookup debug log so a pathological site
// crawler can't leak memory across a long-running embedder process.
const debugRingCap = 64

// Context is the per-site, per-lookup scratchpad a Site implementation
// receives for the duration of one Search→Detail run. It owns nothing:
// the HTTP client and browser handle are shared across concurrent lookups
// and must not be closed by a Site.
type Context struct {
	context.Context

	Site  string
	Input model.Input

	Client  *httpclient.Client
	Browser BrowserPool

	// Scratch holds site-specific intermediate values that need to survive
	// from Search to Detail (DMM's detail-page category and zero-padded cid,
	// MissAV's search_url, etc.) without polluting model.CrawlerData.
	Scratch map[string]any

	mu    sync.Mutex
	debug []string
}

// NewContext builds a Context wrapping ctx for one site lookup.
func NewContext(ctx context.Context, site string, input model.Input, client *httpclient.Client, browser BrowserPool) *Context {
	return &Context{
		Context: ctx,
		Site:    site,
		Input:   input,
		Client:  client,
		Browser: browser,
		Scratch: make(map[string]any),
	}
}

// Debugf appends a formatted line to the bounded debug ring buffer. It is
// the in-process equivalent of the source project's per-lookup trace log,
// surfaced to callers via Debug() for diagnostics without going through the
// event bus (which is for operator-facing signals, not crawler internals).
func (c *Context) Debugf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	line := fmt.Sprintf(format, args...)
	c.debug = append(c.debug, line)
	if len(c.debug) > debugRingCap {
		c.debug = c.debug[len(c.debug)-debugRingCap:]
	}
}

// Debug returns a snapshot of the ring buffer's current contents.
func (c *Context) Debug() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.debug))
	copy(out, c.debug)
	return out
}
