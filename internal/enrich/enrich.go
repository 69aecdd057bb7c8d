package enrich

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// DefaultWorkers bounds concurrent detail-page fetches.
const DefaultWorkers = 6

// Options selects which products get a detail-page fetch.
type Options struct {
	MaxPages int
	// IncludeFalse and IncludeTrue re-verify products whose availability is
	// already resolved.
	IncludeFalse bool
	IncludeTrue  bool
	// IncludeMissingCycles also fetches products lacking cycle data.
	IncludeMissingCycles bool
	Deadline             monitor.Deadline
}

// Stats summarizes one enrichment pass.
type Stats struct {
	Selected  int
	Fetched   int
	Resolved  int
	Generated int
}

// Enricher fetches detail pages and folds what they reveal into products.
type Enricher struct {
	fetcher  monitor.Fetcher
	inferrer Inferrer
	workers  int
	logger   *zap.Logger
}

// New constructs an Enricher.
func New(fetcher monitor.Fetcher, inferrer Inferrer, workers int, logger *zap.Logger) *Enricher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{fetcher: fetcher, inferrer: inferrer, workers: workers, logger: logger}
}

type candidate struct {
	url      string
	indices  []int
	priority int
	first    int
}

type detail struct {
	availability monitor.Availability
	cycles       []string
	cyclePrices  map[string]string
	locations    []pagetext.LocationVariant
}

// selectCandidates returns the detail URLs to fetch, grouped so that each page is
// fetched once. Missing availability sorts strictly ahead of missing cycles,
// which sorts ahead of a missing location.
func selectCandidates(products []monitor.Product, opts Options) []candidate {
	byURL := make(map[string]*candidate)
	var order []string
	for idx, p := range products {
		if !urlnorm.IsHTTP(p.URL) {
			continue
		}
		needsAvailability := p.Available == monitor.Unknown ||
			(opts.IncludeFalse && p.Available == monitor.OutOfStock) ||
			(opts.IncludeTrue && p.Available == monitor.InStock)
		needsCycles := opts.IncludeMissingCycles && (len(p.BillingCycles) == 0 || len(p.CyclePrices) == 0)
		needsLocation := p.Location == ""
		if !needsAvailability && !needsCycles && !needsLocation {
			continue
		}
		priority := 2
		switch {
		case needsAvailability:
			priority = 0
		case needsCycles:
			priority = 1
		}
		c, ok := byURL[p.URL]
		if !ok {
			byURL[p.URL] = &candidate{url: p.URL, indices: []int{idx}, priority: priority, first: idx}
			order = append(order, p.URL)
			continue
		}
		c.indices = append(c.indices, idx)
		c.priority = min(c.priority, priority)
	}
	out := make([]candidate, 0, len(order))
	for _, u := range order {
		out = append(out, *byURL[u])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority < out[j].priority
		}
		return out[i].first < out[j].first
	})
	if opts.MaxPages < len(out) {
		out = out[:max(0, opts.MaxPages)]
	}
	return out
}

// Run enriches products for domain. Products are never dropped; generated
// location variants are appended.
func (e *Enricher) Run(ctx context.Context, domain string, products []monitor.Product, opts Options) ([]monitor.Product, Stats) {
	selected := selectCandidates(products, opts)
	stats := Stats{Selected: len(selected)}
	if len(selected) == 0 {
		return products, stats
	}

	details := make([]*detail, len(selected))
	var g errgroup.Group
	g.SetLimit(min(e.workers, len(selected)))
	for i, c := range selected {
		g.Go(func() error {
			if opts.Deadline.Exceeded() || ctx.Err() != nil {
				return nil
			}
			details[i] = e.fetchDetail(ctx, c.url, domain)
			return nil
		})
	}
	_ = g.Wait()

	out := monitor.CloneProducts(products)
	seen := make(map[string]struct{}, len(out))
	for _, p := range out {
		seen[p.ID] = struct{}{}
	}
	var generated []monitor.Product
	for i, c := range selected {
		d := details[i]
		if d == nil {
			continue
		}
		stats.Fetched++
		if d.availability.Known() {
			stats.Resolved++
		}
		if len(c.indices) > 1 && catalog.LooksLikeNonProductPage(c.url) {
			d = &detail{availability: d.availability}
		}
		for _, idx := range c.indices {
			updated, extra := apply(out[idx], d, seen)
			out[idx] = updated
			generated = append(generated, extra...)
		}
	}
	stats.Generated = len(generated)
	e.logger.Debug("enrichment done",
		zap.String("domain", domain),
		zap.Int("selected", stats.Selected),
		zap.Int("fetched", stats.Fetched),
		zap.Int("resolved", stats.Resolved),
		zap.Int("generated", stats.Generated),
	)
	return append(out, generated...), stats
}

func (e *Enricher) fetchDetail(ctx context.Context, rawURL, domain string) *detail {
	res := e.fetcher.Fetch(ctx, rawURL)
	if !res.OK || res.Body == "" {
		e.logger.Debug("detail fetch failed", zap.String("url", rawURL), zap.Error(res.Err))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Body))
	if err != nil {
		return nil
	}
	_, override := e.inferrer.purchaseOverride[strings.ToLower(domain)]
	return &detail{
		availability: InferAvailability(doc, res.Body, override),
		cycles:       pagetext.CyclesFromSelection(doc.Selection, res.Body),
		cyclePrices:  pagetext.CyclePricesFromSelection(doc.Selection),
		locations:    pagetext.LocationVariants(doc.Selection),
	}
}

func apply(p monitor.Product, d *detail, seen map[string]struct{}) (monitor.Product, []monitor.Product) {
	if d.availability.Known() {
		p.Available = d.availability
	}
	if len(d.cycles) > 0 {
		p.BillingCycles = append([]string(nil), d.cycles...)
	}
	if len(d.cyclePrices) > 0 {
		if p.CyclePrices == nil {
			p.CyclePrices = make(map[string]string, len(d.cyclePrices))
		}
		for k, v := range d.cyclePrices {
			p.CyclePrices[k] = v
		}
	}

	var generated []monitor.Product
	if len(d.locations) > 0 {
		switch {
		case p.Location != "":
			for _, loc := range d.locations {
				if strings.EqualFold(loc.Name, p.Location) {
					if loc.Available.Known() {
						p.Available = loc.Available
					}
					p.Location = loc.Name
					break
				}
			}
		default:
			base := d.locations[0]
			p.Location = base.Name
			if base.Available.Known() {
				p.Available = base.Available
			}
			parent := p.VariantOf
			if parent == "" {
				parent = p.Name
			}
			for _, loc := range d.locations[1:] {
				id := p.ID + "::loc-" + slug(loc.Name)
				if _, dup := seen[id]; dup {
					continue
				}
				seen[id] = struct{}{}
				v := p.Clone()
				v.ID = id
				v.VariantOf = parent
				v.Location = loc.Name
				v.Locations = []string{loc.Name}
				v.LocationLinks = map[string]string{loc.Name: p.URL}
				if loc.Available.Known() {
					v.Available = loc.Available
				}
				generated = append(generated, v)
			}
		}
	}

	if p.Location != "" {
		p.Locations = []string{p.Location}
		p.LocationLinks = map[string]string{p.Location: p.URL}
	}
	if p.Price == "" {
		p.Price = catalog.PriceFromCycles(p.CyclePrices, p.BillingCycles)
	}
	p.IsSpecial = p.IsSpecial || pagetext.LooksLikeSpecialOffer(p.Name, p.URL, p.Description)
	return p, generated
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slug(value string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(pagetext.CompactWS(value)), "-"), "-")
	if s == "" {
		return "x"
	}
	return s
}
