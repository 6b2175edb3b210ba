// Package fanout implements C7: the engine that runs every enabled site's
// lookup concurrently, merges their partial results field-by-field
// according to a configured site-priority order, and deduplicates
// concurrent lookups for the same catalog number.
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hazard804/mdcx/internal/crawler"
	"github.com/Hazard804/mdcx/internal/events"
	"github.com/Hazard804/mdcx/internal/gather"
	"github.com/Hazard804/mdcx/internal/httpclient"
	"github.com/Hazard804/mdcx/internal/model"
)

// SiteResult is one site's outcome, paired with its identity so the merge
// step can record FieldSources and so dedup/metrics can label by site.
type SiteResult struct {
	Site string
	Data *model.CrawlerData
	Err  error
}

// FieldPriority maps a model field name to the ordered list of site names
// that should be tried, most-preferred first, when merging that field
// (spec §4.6's "per-field site priority").
type FieldPriority map[string][]string

// Engine runs lookups across a fixed set of registered sites.
type Engine struct {
	sites       []crawler.Site
	client      *httpclient.Client
	browser     crawler.BrowserPool
	priority    FieldPriority
	bus         *events.Bus
	groupFactor time.Duration // group timeout: per-request timeout × (retry+1) × 2, spec §5

	sem chan struct{} // global concurrency cap

	mu       sync.Mutex
	inFlight map[string]chan struct{} // number -> close-on-done signal for cross-task dedup
}

// Config configures an Engine.
type Config struct {
	Sites             []crawler.Site
	Client            *httpclient.Client
	Browser           crawler.BrowserPool
	Priority          FieldPriority
	Bus               *events.Bus
	GlobalConcurrency int           // default 5, spec §5
	PerRequestTimeout time.Duration // default 10s, used in the group-timeout formula
	Retry             int           // default 3, used in the group-timeout formula
}

// New constructs an Engine.
func New(cfg Config) *Engine {
	concurrency := cfg.GlobalConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	timeout := cfg.PerRequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retry := cfg.Retry
	if retry <= 0 {
		retry = 3
	}

	return &Engine{
		sites:       cfg.Sites,
		client:      cfg.Client,
		browser:     cfg.Browser,
		priority:    cfg.Priority,
		bus:         cfg.Bus,
		groupFactor: timeout * time.Duration(retry+1) * 2,
		sem:         make(chan struct{}, concurrency),
		inFlight:    make(map[string]chan struct{}),
	}
}

// Lookup runs every registered site concurrently for input and returns the
// merged record. Concurrent Lookup calls for the same input.Number run one
// at a time: a later call waits on the in-flight gate until the earlier one
// returns, then runs its own full lookup; the earlier call's result is not
// shared with it.
func (e *Engine) Lookup(ctx context.Context, input model.Input) (*model.MergedRecord, []SiteResult) {
	release := e.acquireDedupGate(input.Number)
	defer release()

	lookupID := uuid.NewString()

	if e.bus != nil {
		e.bus.InflightInc()
		defer e.bus.InflightDec()
		e.bus.Emit(events.Event{
			Severity: events.SeverityInfo,
			Category: events.CategoryQueued,
			Message:  "lookup started for " + input.Number,
			LookupID: lookupID,
		})
	}

	group := gather.New[SiteResult](e.groupFactor)
	for _, site := range e.sites {
		site := site
		group.Add(func(taskCtx context.Context) (SiteResult, error) {
			select {
			case e.sem <- struct{}{}:
				defer func() { <-e.sem }()
			case <-taskCtx.Done():
				return SiteResult{Site: site.Name(), Err: taskCtx.Err()}, nil
			}

			data, err := crawler.Run(taskCtx, site, e.client, e.browser, input)
			if e.bus != nil {
				outcome := "success"
				if err != nil {
					outcome = "failure"
				}
				e.bus.RecordLookup(site.Name(), outcome)
			}
			return SiteResult{Site: site.Name(), Data: data, Err: err}, nil
		})
	}

	waited := group.Wait(ctx)
	results := make([]SiteResult, 0, len(waited))
	for _, r := range waited {
		if r.Err != nil && r.Value.Site == "" {
			// Group-level timeout substituted a bare Result; we don't know
			// which site this was, so surface it with an empty Site rather
			// than guessing.
			results = append(results, SiteResult{Err: r.Err})
			continue
		}
		sr := r.Value
		if sr.Err == nil && r.Err != nil {
			sr.Err = r.Err
		}
		results = append(results, sr)
	}

	merged := Merge(input, results, e.priority)
	return merged, results
}

// acquireDedupGate blocks until no other Lookup for the same number is in
// flight, then registers this call as the new holder.
func (e *Engine) acquireDedupGate(number string) (release func()) {
	for {
		e.mu.Lock()
		done, busy := e.inFlight[number]
		if !busy {
			done = make(chan struct{})
			e.inFlight[number] = done
			e.mu.Unlock()
			return func() {
				e.mu.Lock()
				delete(e.inFlight, number)
				e.mu.Unlock()
				close(done)
			}
		}
		e.mu.Unlock()
		<-done
	}
}
