// Package mdcx is the public embedding surface: everything an external
// caller needs to run one metadata lookup without reaching into internal/.
// It wires the fanout engine, HTTP client, and the closed set of site
// crawlers the same way cmd/mdcxfetch does, so library users and the CLI
// never drift apart.
package mdcx

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Hazard804/mdcx/internal/config"
	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/fanout"
	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
	"github.com/Hazard804/mdcx/internal/refiner"
	"github.com/Hazard804/mdcx/internal/sites/dmm"
	"github.com/Hazard804/mdcx/internal/sites/missav"
)

// Re-exported types so callers never need to import internal/model or
// internal/fanout directly.
type (
	Input        = model.Input
	MergedRecord = model.MergedRecord
	SiteResult   = fanout.SiteResult
	Mosaic       = model.Mosaic
)

// Client is the embeddable entry point: one HTTP client, one bypass
// coordinator, and the fixed site roster, shared across lookups.
type Client struct {
	cfg    config.Config
	http   *httpclient.Client
	engine *fanout.Engine
	bus    *events.Bus
}

// Option customizes Client construction.
type Option func(*options)

type options struct {
	browser crawler.BrowserPool
	logger  *zap.Logger
}

// WithBrowser supplies a headless-browser pool for sites that need
// JS-rendered detail pages (e.g. DMM's digital storefront).
func WithBrowser(b crawler.BrowserPool) Option {
	return func(o *options) { o.browser = b }
}

// WithLogger overrides the default production zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New constructs a Client from cfg, wiring the HTTP layer and the closed
// roster of site crawlers (spec's Non-goal: no plugin registry — adding a
// site means adding it to this list).
func New(cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger, _ = zap.NewProduction()
	}

	bus := events.NewBus(events.WithLogger(o.logger))

	httpc, err := httpclient.New(httpclient.Config{
		Proxy:         cfg.Proxy,
		Retry:         cfg.Retry,
		Timeout:       cfg.Timeout(),
		BypassBaseURL: cfg.BypassBaseURL,
		RespectRobots: cfg.RespectRobots,
	}, bus)
	if err != nil {
		return nil, fmt.Errorf("mdcx: http client init: %w", err)
	}

	engine := fanout.New(fanout.Config{
		Sites:             []crawler.Site{dmm.New(""), missav.New("")},
		Client:            httpc,
		Browser:           o.browser,
		Priority:          fanout.FieldPriority(cfg.FieldPriority),
		Bus:               bus,
		GlobalConcurrency: cfg.GlobalConcurrency,
		PerRequestTimeout: cfg.Timeout(),
		Retry:             cfg.Retry,
	})

	return &Client{cfg: cfg, http: httpc, engine: engine, bus: bus}, nil
}

// Lookup runs one metadata lookup across every configured site and returns
// the merged record alongside each site's individual outcome. It applies
// C6 refinement (trailer quality probing, DMM thumbnail mirror upgrade) to
// the merged record before returning.
func (c *Client) Lookup(ctx context.Context, input Input) (*MergedRecord, []SiteResult) {
	record, results := c.engine.Lookup(ctx, input)
	c.refine(ctx, record)
	return record, results
}

func (c *Client) refine(ctx context.Context, record *MergedRecord) {
	if record == nil {
		return
	}
	if record.Trailer != "" {
		candidates := []string{record.Trailer}
		if cid := dmm.CIDFromTrailerURL(record.Trailer); cid != "" {
			candidates = append(candidates, dmm.TrailerLadder(cid)...)
		}
		if best, rank, err := refiner.ProbeBestTrailer(ctx, c.http, candidates); err == nil {
			record.Trailer = best
			record.TrailerQualityRank = rank
		}
	}
	if record.Thumb != "" {
		record.Thumb = refiner.UpgradeToAWSMirror(ctx, c.http, record.Thumb)
	}
}

// Close flushes any buffered logs. Safe to call multiple times.
func (c *Client) Close() error {
	return c.bus.Sync()
}
