// Package events implements C9: a typed, non-blocking, lossy event channel
// for structured log lines, backed by zap for durable logs and prometheus
// for side-effect-only counters. Consumers are external (a TUI/GUI log pane);
// the bus is never used for control flow (spec §4.8).
package events

import (
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
)

// Severity mirrors the emoji-prefixed categories operators filter by.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
)

// Category is one of the closed emoji-prefixed log categories from spec §4.8.
type Category string

const (
	CategoryBypass  Category = "🛡️"
	CategoryTrailer Category = "🎬"
	CategoryFailure Category = "🔴"
	CategorySuccess Category = "✅"
	CategoryQueued  Category = "📦"
	CategoryCookie  Category = "🍪"
)

// Event is one structured log line.
type Event struct {
	Severity Severity
	Category Category
	Site     string
	Host     string
	URL      string
	Message  string

	// LookupID is the UUID fanout.Engine.Lookup mints once per call. Only
	// the "lookup started" event Lookup emits carries it; events emitted
	// by internal/httpclient during the lookup, and events outside a
	// lookup's scope, leave it empty.
	LookupID string
}

// Bus publishes Events to a bounded, lossy channel and, in parallel, to a
// zap logger for durable/queryable logs. Non-blocking: under saturation the
// channel send is dropped (spec §4.8), the zap write is never dropped.
type Bus struct {
	ch     chan Event
	logger *zap.Logger

	lookupTotal   *prometheus.CounterVec
	httpTotal     *prometheus.CounterVec
	bypassTotal   *prometheus.CounterVec
	inflightGauge prometheus.Gauge
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithLogger overrides the default zap logger (e.g. to inject a development
// logger under a Debug config flag, per SPEC_FULL §4.9).
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithBufferSize overrides the channel's buffer size (default 1000).
func WithBufferSize(n int) Option {
	return func(b *Bus) { b.ch = make(chan Event, n) }
}

// WithRegisterer registers the bus's prometheus collectors against a custom
// registry instead of the default one (useful in tests to avoid collisions).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bus) { b.registerMetrics(reg) }
}

// NewBus constructs a Bus with sane production defaults.
func NewBus(opts ...Option) *Bus {
	logger, _ := zap.NewProduction()
	b := &Bus{
		ch:     make(chan Event, 1000),
		logger: logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.lookupTotal == nil {
		b.registerMetrics(prometheus.DefaultRegisterer)
	}
	return b
}

func (b *Bus) registerMetrics(reg prometheus.Registerer) {
	b.lookupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdcx_lookup_total",
		Help: "Total lookups by site and outcome.",
	}, []string{"site", "outcome"})
	b.httpTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdcx_http_requests_total",
		Help: "Total outbound HTTP requests by host and outcome.",
	}, []string{"host", "outcome"})
	b.bypassTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdcx_bypass_attempts_total",
		Help: "Total Cloudflare bypass attempts by host and result.",
	}, []string{"host", "result"})
	b.inflightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mdcx_inflight_lookups",
		Help: "Number of lookups currently in flight.",
	})
	// Best-effort: a custom Registerer may already have these registered in
	// tests that construct multiple buses; ignore AlreadyRegisteredError.
	_ = reg.Register(b.lookupTotal)
	_ = reg.Register(b.httpTotal)
	_ = reg.Register(b.bypassTotal)
	_ = reg.Register(b.inflightGauge)
}

// Events exposes the event channel to external consumers (TUI/GUI log pane).
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Emit pushes an event onto the channel (non-blocking, dropped if full) and
// writes it through zap at a severity-appropriate level.
func (b *Bus) Emit(e Event) {
	select {
	case b.ch <- e:
	default:
		// Channel saturated; the zap write below still happens, so nothing
		// is silently lost from the durable log — only the live pane misses it.
	}

	fields := []zap.Field{
		zap.String("category", string(e.Category)),
		zap.String("site", e.Site),
		zap.String("host", e.Host),
		zap.String("url", e.URL),
	}
	if e.LookupID != "" {
		fields = append(fields, zap.String("lookup_id", e.LookupID))
	}
	msg := string(e.Category) + " " + e.Message
	switch e.Severity {
	case SeverityDebug:
		b.logger.Debug(msg, fields...)
	case SeverityInfo:
		b.logger.Info(msg, fields...)
	case SeverityWarn:
		b.logger.Warn(msg, fields...)
	case SeverityError:
		b.logger.Error(msg, fields...)
	}
}

// RecordLookup increments the lookup counter for a site/outcome pair.
func (b *Bus) RecordLookup(site, outcome string) {
	if b.lookupTotal != nil {
		b.lookupTotal.WithLabelValues(site, outcome).Inc()
	}
}

// RecordHTTP increments the HTTP request counter for a host/outcome pair.
func (b *Bus) RecordHTTP(host, outcome string) {
	if b.httpTotal != nil {
		b.httpTotal.WithLabelValues(host, outcome).Inc()
	}
}

// RecordBypass increments the bypass-attempt counter for a host/result pair.
func (b *Bus) RecordBypass(host, result string) {
	if b.bypassTotal != nil {
		b.bypassTotal.WithLabelValues(host, result).Inc()
	}
}

// InflightInc/InflightDec track the in-flight lookup gauge.
func (b *Bus) InflightInc() {
	if b.inflightGauge != nil {
		b.inflightGauge.Inc()
	}
}

func (b *Bus) InflightDec() {
	if b.inflightGauge != nil {
		b.inflightGauge.Dec()
	}
}

// Sync flushes the underlying zap logger.
func (b *Bus) Sync() error {
	return b.logger.Sync()
}
