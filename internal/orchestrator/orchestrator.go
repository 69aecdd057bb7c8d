// Package orchestrator crawls one target into a DomainRun: seed fetch, parse,
// optional discovery and hidden-ID scan, enrichment, cleanup and merge.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/cleanup"
	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/enrich"
	"github.com/JakeFAU/vps-stock-monitor/internal/extractor"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
	"github.com/JakeFAU/vps-stock-monitor/internal/scanner"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// Orchestrator runs the per-target state machine.
type Orchestrator struct {
	fetcher    monitor.Fetcher
	extractors monitor.ExtractorSource
	sites      discovery.Sites
	inferrer   enrich.Inferrer
	hasher     monitor.Hasher
	clock      monitor.Clock
	emitter    progress.Emitter
	observer   scanner.ProbeObserver
	cfg        Config
	logger     *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter reports stage progress to e.
func WithEmitter(e progress.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

// WithProbeObserver reports every hidden-scan probe to obs.
func WithProbeObserver(obs scanner.ProbeObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithHasher replaces the page-signature hasher.
func WithHasher(h monitor.Hasher) Option {
	return func(o *Orchestrator) { o.hasher = h }
}

// New constructs an Orchestrator.
func New(
	fetcher monitor.Fetcher,
	extractors monitor.ExtractorSource,
	sites discovery.Sites,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		fetcher:    fetcher,
		extractors: extractors,
		sites:      sites,
		inferrer:   enrich.NewInferrer(cfg.Enrich.PurchaseOverrideDomains),
		clock:      clock,
		emitter:    progress.Discard,
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// crawl carries the state of one target crawl.
type crawl struct {
	runID    [16]byte
	target   string
	domain   string
	started  time.Time
	deadline monitor.Deadline
	logger   *zap.Logger
}

// Crawl produces the DomainRun for target. It never returns an error: a
// failed seed fetch or a panic inside a stage yields OK=false.
func (o *Orchestrator) Crawl(ctx context.Context, runID [16]byte, target string, allowExpansion bool) (run monitor.DomainRun) {
	c := &crawl{
		runID:    runID,
		target:   target,
		domain:   urlnorm.Domain(target),
		started:  o.clock.Now(),
		deadline: monitor.NewDeadline(o.clock, o.cfg.TargetBudget),
	}
	c.logger = o.logger.With(zap.String("domain", c.domain))
	o.emit(c, progress.Event{Stage: progress.StageDomainStart, URL: target})

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("crawl panicked", zap.Any("panic", r))
			run = monitor.DomainRun{Domain: c.domain, Error: fmt.Sprintf("panic: %v", r)}
		}
		run.DurationMS = o.clock.Now().Sub(c.started).Milliseconds()
		evt := progress.Event{Stage: progress.StageDomainDone, Products: len(run.Products), Dur: o.clock.Now().Sub(c.started)}
		if !run.OK {
			evt.Stage = progress.StageDomainError
			evt.Note = run.Error
		}
		o.emit(c, evt)
	}()

	return o.crawl(ctx, c, allowExpansion)
}

func (o *Orchestrator) emit(c *crawl, evt progress.Event) {
	evt.RunID = c.runID
	evt.TS = o.clock.Now()
	evt.Domain = c.domain
	o.emitter.Emit(evt)
}

// fetchSeed fetches target, falling back to the domain's extra pages and the
// default entry points when the landing page fails.
func (o *Orchestrator) fetchSeed(ctx context.Context, c *crawl) monitor.FetchResult {
	res := o.fetcher.Fetch(ctx, c.target)
	if res.OK && res.Body != "" {
		return res
	}
	fallbacks := urlnorm.DedupeKeepOrder(append(o.sites.Extra(c.domain), discovery.DefaultEntryPoints(c.target)...))
	for _, page := range fallbacks {
		if ctx.Err() != nil {
			break
		}
		alt := o.fetcher.Fetch(ctx, page)
		if alt.OK && alt.Body != "" {
			c.logger.Info("seed fetch fell back", zap.String("target", c.target), zap.String("page", page))
			return alt
		}
	}
	return res
}

func seedError(res monitor.FetchResult) string {
	switch {
	case res.Err != nil:
		return res.Err.Error()
	case res.StatusCode != 0:
		return fmt.Sprintf("fetch failed: status %d", res.StatusCode)
	default:
		return "fetch failed"
	}
}

type hiddenOutcome struct {
	res scanner.Result
	dur time.Duration
}

func (o *Orchestrator) crawl(ctx context.Context, c *crawl, allowExpansion bool) monitor.DomainRun {
	seed := o.fetchSeed(ctx, c)
	if !seed.OK || seed.Body == "" {
		c.logger.Warn("seed fetch failed", zap.String("target", c.target), zap.String("error", seedError(seed)))
		return monitor.DomainRun{Domain: c.domain, Error: seedError(seed)}
	}
	body := seed.Body
	pageURL := seed.FinalURL
	if pageURL == "" {
		pageURL = c.target
	}

	platform := o.sites.DetectPlatform(c.domain, body)
	ex := extractor.Safe(o.extractors.For(c.domain))
	products := parsePage(ex, body, pageURL, c.logger)
	o.emit(c, progress.Event{Stage: progress.StageSeedFetched, URL: pageURL, Products: len(products), Pages: 1})

	known := newProductSet(catalog.DedupeByID(products))
	initialIDs := known.ids()
	var meta monitor.RunMeta

	if allowExpansion {
		candidates := discovery.Candidates(body, pageURL, discovery.CartDepth(platform))
		hiddenAllowed := platform != discovery.PlatformUnknown && !inList(o.cfg.HiddenScanDenylist, c.domain)

		var hidden <-chan hiddenOutcome
		startHidden := func() {
			if !hiddenAllowed {
				return
			}
			if c.deadline.Exceeded() {
				c.logger.Warn("hidden scan skipped, target budget spent")
				meta = meta.Merge(monitor.RunMeta{
					MayBeIncomplete:  true,
					DeadlineExceeded: true,
					HiddenStopReason: string(scanner.StopDeadline),
				})
				return
			}
			req := scanner.Request{
				Platform:   platform,
				BaseURL:    pageURL,
				SeedURLs:   o.seedURLs(c.domain, pageURL, candidates),
				KnownIDs:   known.ids(),
				SkipGroups: inList(o.cfg.SkipGroupScanDomains, c.domain),
				Deadline:   c.deadline.Within(o.cfg.HiddenBudget),
			}
			hidden = o.startHiddenScan(ctx, c, ex, req)
		}

		if o.cfg.ParallelHidden {
			startHidden()
		}
		wantDiscovery := discovery.NeedsDiscovery(products, pageURL) ||
			discovery.ShouldForce(candidates, known.len(), pageURL, o.cfg.Discovery)
		switch {
		case wantDiscovery && c.deadline.Exceeded():
			c.logger.Warn("discovery skipped, target budget spent")
			meta = meta.Merge(monitor.RunMeta{
				MayBeIncomplete:     true,
				DeadlineExceeded:    true,
				DiscoveryStopReason: monitor.StopDeadline,
			})
		case wantDiscovery:
			meta = meta.Merge(o.discover(ctx, c, ex, pageURL, body, platform, known))
		}
		if !o.cfg.ParallelHidden {
			startHidden()
		}
		if hidden != nil {
			out := <-hidden
			meta = meta.Merge(o.absorbHidden(c, out, known))
		}
		if skipped := o.enrich(ctx, c, platform, known); skipped != "" {
			meta = meta.Merge(monitor.RunMeta{Diagnostics: map[string]int{skipped: 1}})
		}
	}

	final, diag := finalize(c.domain, known.list())
	meta = meta.Merge(monitor.RunMeta{Diagnostics: diag.Map()})
	o.logExpansionLosses(c, initialIDs, known, final)
	c.logger.Info("domain crawled",
		zap.Int("products", len(final)),
		zap.String("platform", string(platform)),
		zap.Bool("may_be_incomplete", meta.MayBeIncomplete),
		zap.Bool("deadline_exceeded", meta.DeadlineExceeded),
	)
	return monitor.DomainRun{Domain: c.domain, OK: true, Products: final, Meta: meta}
}

func (o *Orchestrator) seedURLs(domain, pageURL string, candidates []string) []string {
	seeds := o.sites.Extra(domain)
	seeds = append(seeds, candidates...)
	seeds = append(seeds, discovery.DefaultEntryPoints(pageURL)...)
	return urlnorm.DedupeKeepOrder(seeds)
}

func (o *Orchestrator) startHiddenScan(ctx context.Context, c *crawl, ex monitor.Extractor, req scanner.Request) <-chan hiddenOutcome {
	var opts []scanner.Option
	if o.observer != nil {
		opts = append(opts, scanner.WithObserver(o.observer))
	}
	sc := scanner.New(o.fetcher, ex, o.inferrer, o.hasher, o.cfg.Scanner, o.logger.Named("scanner"), opts...)
	out := make(chan hiddenOutcome, 1)
	c.logger.Debug("hidden scan start", zap.String("platform", string(req.Platform)), zap.Int("seeds", len(req.SeedURLs)),
		zap.Int("known", len(req.KnownIDs)))
	go func() {
		start := o.clock.Now()
		res := sc.Scan(ctx, req)
		out <- hiddenOutcome{res: res, dur: o.clock.Now().Sub(start)}
	}()
	return out
}

func (o *Orchestrator) absorbHidden(c *crawl, out hiddenOutcome, known *productSet) monitor.RunMeta {
	res := out.res
	for _, p := range catalog.MarkSpecials(res.Products) {
		known.observe(p)
	}
	o.emit(c, progress.Event{
		Stage:    progress.StageHiddenScan,
		Products: known.len(),
		Pages:    res.ItemProbes + res.GroupProbes,
		Dur:      out.dur,
		Note:     string(res.StopReason),
	})
	meta := monitor.RunMeta{
		HiddenProbes:     res.ItemProbes + res.GroupProbes,
		HiddenStopReason: string(res.StopReason),
	}
	if res.DeadlineExceeded {
		meta.DeadlineExceeded = true
		meta.MayBeIncomplete = true
	}
	return meta
}

func (o *Orchestrator) discover(
	ctx context.Context,
	c *crawl,
	ex monitor.Extractor,
	pageURL, body string,
	platform discovery.Platform,
	known *productSet,
) monitor.RunMeta {
	start := o.clock.Now()
	cr := discovery.NewCrawler(o.fetcher, ex, o.sites, o.cfg.Discovery, o.logger.Named("discovery"))
	res := cr.Run(ctx, pageURL, body, c.domain, platform, c.deadline)
	for _, p := range res.Products {
		known.observe(p)
	}
	o.emit(c, progress.Event{
		Stage:    progress.StageDiscovery,
		Products: known.len(),
		Pages:    res.Pages,
		Dur:      o.clock.Now().Sub(start),
		Note:     string(res.StopReason),
	})
	meta := monitor.RunMeta{
		DiscoveryStopReason:  res.StopReason,
		DiscoveryFetchErrors: res.FetchErrors,
		DiscoveryPages:       res.Pages,
		MayBeIncomplete:      !res.StopReason.Exhausted(),
	}
	if res.StopReason == monitor.StopDeadline {
		meta.DeadlineExceeded = true
	}
	return meta
}

// enrichPages sizes the enrichment pass for the domain and the time left.
// A zero result skips enrichment.
func (o *Orchestrator) enrichPages(domain string, platform discovery.Platform, includeCycles bool, remaining time.Duration) int {
	ec := o.cfg.Enrich
	pages := ec.Pages
	if includeCycles && inList(ec.CyclePagesDomains, domain) {
		pages = ec.CyclePages
	}
	if platform == discovery.PlatformWHMCS {
		pages = max(pages, ec.PagesWHMCS)
	}
	if inList(ec.LargeDomains, domain) {
		pages = max(pages, ec.LargePages)
	}
	if remaining < ec.MinRemaining {
		return 0
	}
	if remaining < ec.ShortRemaining {
		pages = min(pages, ec.ShortPages)
	}
	return pages
}

// Diagnostic keys recorded when enrichment had to be skipped for time.
const (
	DiagEnrichSkippedDeadline = "enrich_skipped_deadline"
	DiagEnrichSkippedBudget   = "enrich_skipped_budget"
)

// enrich runs the enrichment pass and returns a diagnostic key when it was
// skipped for lack of time. Domains that never enrich return "".
func (o *Orchestrator) enrich(ctx context.Context, c *crawl, platform discovery.Platform, known *productSet) string {
	ec := o.cfg.Enrich
	if platform == discovery.PlatformUnknown && !inList(ec.Domains, c.domain) {
		return ""
	}
	if c.deadline.Exceeded() {
		c.logger.Info("enrichment skipped, target budget spent")
		return DiagEnrichSkippedDeadline
	}
	products := known.list()
	includeCycles := platform != discovery.PlatformUnknown || inList(ec.CycleDomains, c.domain)
	pages := o.enrichPages(c.domain, platform, includeCycles, c.deadline.Remaining())
	if pages <= 0 {
		c.logger.Info("enrichment skipped, too little time left", zap.Duration("remaining", c.deadline.Remaining()))
		return DiagEnrichSkippedBudget
	}
	opts := enrich.Options{
		MaxPages:             pages,
		IncludeFalse:         allOutOfStock(products) || inList(ec.FalseRecheckDomains, c.domain),
		IncludeTrue:          inList(ec.TrueRecheckDomains, c.domain),
		IncludeMissingCycles: includeCycles,
		Deadline:             c.deadline,
	}
	start := o.clock.Now()
	e := enrich.New(o.fetcher, o.inferrer, ec.Workers, o.logger.Named("enrich"))
	enriched, stats := e.Run(ctx, c.domain, products, opts)
	known.replace(enriched)
	o.emit(c, progress.Event{
		Stage:    progress.StageEnrich,
		Products: known.len(),
		Pages:    stats.Fetched,
		Dur:      o.clock.Now().Sub(start),
	})
	return ""
}

func allOutOfStock(products []monitor.Product) bool {
	if len(products) == 0 {
		return false
	}
	for _, p := range products {
		if p.Available != monitor.OutOfStock {
			return false
		}
	}
	return true
}

// finalize runs the closing pipeline: dedup, noise filter, domain cleanup,
// canonical merge, cycle fill, then noise filter and cleanup again because
// merging can surface new matches for both.
func finalize(domain string, products []monitor.Product) ([]monitor.Product, cleanup.Diagnostics) {
	products = catalog.DedupeByID(products)
	products, dropped := catalog.FilterNoise(products)
	products, diag := cleanup.Apply(domain, products)
	diag.DroppedNoise += dropped
	products = catalog.Merge(products)
	products = catalog.FillCycles(products)
	products, dropped = catalog.FilterNoise(products)
	diag.DroppedNoise += dropped
	products, again := cleanup.Apply(domain, products)
	diag = diag.Add(again)
	diag.Special = again.Special
	return products, diag
}

func (o *Orchestrator) logExpansionLosses(c *crawl, initial []string, known *productSet, final []monitor.Product) {
	seeded := make(map[string]struct{}, len(initial))
	for _, id := range initial {
		seeded[id] = struct{}{}
	}
	finalByID := make(map[string]monitor.Product, len(final))
	for _, p := range final {
		finalByID[p.ID] = p
	}
	for _, p := range known.list() {
		if _, ok := seeded[p.ID]; ok {
			continue
		}
		fp, ok := finalByID[p.ID]
		switch {
		case !ok:
			c.logger.Debug("expanded product dropped", zap.String("name", p.Name), zap.String("url", p.URL))
		case fp.Available == monitor.OutOfStock:
			c.logger.Debug("expanded product out of stock", zap.String("name", fp.Name), zap.String("url", fp.URL))
		}
	}
}

func parsePage(ex monitor.Extractor, body, pageURL string, logger *zap.Logger) []monitor.Product {
	products, err := ex.Parse(body, pageURL)
	if err != nil {
		logger.Debug("seed parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	products = catalog.MarkSpecials(products)
	products, _ = catalog.FilterNoise(products)
	return products
}
