package discovery

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// Config bounds one discovery pass.
type Config struct {
	// MaxPages caps fetched pages for unknown platforms.
	MaxPages int `mapstructure:"max_pages"`
	// MaxPagesWHMCS and MaxPagesHostBill replace MaxPages on those platforms.
	MaxPagesWHMCS    int `mapstructure:"max_pages_whmcs"`
	MaxPagesHostBill int `mapstructure:"max_pages_hostbill"`
	// StopAfterFetchErrors stops after that many consecutive failed fetches.
	// Zero disables the stop.
	StopAfterFetchErrors int `mapstructure:"stop_after_fetch_errors"`
	// StopAfterFetchErrorsPlatform applies to WHMCS and HostBill stores, whose
	// category pages are sparse and often 404.
	StopAfterFetchErrorsPlatform int `mapstructure:"stop_after_fetch_errors_platform"`
	BatchSize                    int `mapstructure:"batch_size"`
	Workers                      int `mapstructure:"workers"`
	// MaxProducts stops discovery once this many distinct products are known.
	MaxProducts int `mapstructure:"max_products"`
	// ForceIfProductsAtMost and ForceIfListingProductsAtMost control ShouldForce.
	ForceIfProductsAtMost        int `mapstructure:"force_if_products_at_most"`
	ForceIfListingProductsAtMost int `mapstructure:"force_if_listing_products_at_most"`
}

// DefaultConfig returns the documented discovery defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:                     40,
		MaxPagesWHMCS:                128,
		MaxPagesHostBill:             96,
		StopAfterFetchErrors:         12,
		StopAfterFetchErrorsPlatform: 0,
		BatchSize:                    10,
		Workers:                      6,
		MaxProducts:                  2000,
		ForceIfProductsAtMost:        6,
		ForceIfListingProductsAtMost: 40,
	}
}

func (c Config) maxPages(platform Platform) int {
	switch platform {
	case PlatformWHMCS:
		return max(c.MaxPages, c.MaxPagesWHMCS)
	case PlatformHostBill:
		return max(c.MaxPages, c.MaxPagesHostBill)
	default:
		return c.MaxPages
	}
}

func (c Config) fetchErrorLimit(platform Platform) int {
	if platform == PlatformUnknown {
		return c.StopAfterFetchErrors
	}
	return c.StopAfterFetchErrorsPlatform
}

// Result reports what one discovery pass found and why it stopped.
type Result struct {
	Products    []monitor.Product
	Pages       int
	Queued      int
	FetchErrors int
	StopReason  monitor.StopReason
}

// Crawler runs bounded breadth-first discovery for one domain.
type Crawler struct {
	fetcher   monitor.Fetcher
	extractor monitor.Extractor
	sites     Sites
	cfg       Config
	logger    *zap.Logger
}

// NewCrawler constructs a Crawler.
func NewCrawler(fetcher monitor.Fetcher, extractor monitor.Extractor, sites Sites, cfg Config, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Crawler{fetcher: fetcher, extractor: extractor, sites: sites, cfg: cfg, logger: logger}
}

// Queue builds the initial page queue: extra pages, then candidates found on
// the seed page, then default entry points. The seed itself is excluded.
func (c *Crawler) Queue(seedURL, body, domain string, platform Platform) []string {
	queue := c.sites.Extra(domain)
	queue = append(queue, Candidates(body, seedURL, CartDepth(platform))...)
	queue = append(queue, DefaultEntryPoints(seedURL)...)
	seedKey := urlnorm.ForID(seedURL)
	filtered := queue[:0]
	for _, u := range queue {
		if u != seedURL && urlnorm.ForID(u) != seedKey {
			filtered = append(filtered, u)
		}
	}
	return urlnorm.DedupeKeepOrder(filtered)
}

type pageOutcome struct {
	url    string
	result monitor.FetchResult
}

// Run fetches the queue in batches until it is exhausted, the page budget is
// spent, consecutive fetch errors reach the configured limit or the deadline
// passes. Links found on fetched pages extend the queue.
func (c *Crawler) Run(
	ctx context.Context,
	seedURL, body, domain string,
	platform Platform,
	deadline monitor.Deadline,
) Result {
	queue := c.Queue(seedURL, body, domain, platform)
	seen := make(map[string]struct{}, len(queue)+1)
	seen[urlnorm.ForID(seedURL)] = struct{}{}
	for _, u := range queue {
		seen[urlnorm.ForID(u)] = struct{}{}
	}

	maxPages := c.cfg.maxPages(platform)
	errLimit := c.cfg.fetchErrorLimit(platform)
	logger := c.logger.With(zap.String("domain", domain), zap.String("platform", string(platform)))
	logger.Debug("discovery start", zap.Int("queued", len(queue)), zap.Int("max_pages", maxPages),
		zap.Int("stop_fetch_errors", errLimit))

	products := make(map[string]monitor.Product)
	var order []string
	res := Result{StopReason: monitor.StopQueueExhausted}
	streak := 0
	next := 0

crawl:
	for next < len(queue) {
		if deadline.Exceeded() || ctx.Err() != nil {
			res.StopReason = monitor.StopDeadline
			break
		}
		if res.Pages >= maxPages {
			res.StopReason = monitor.StopMaxPages
			break
		}
		n := min(c.cfg.BatchSize, maxPages-res.Pages, len(queue)-next)
		batch := queue[next : next+n]
		next += n
		res.Pages += n

		// A tripped error streak still folds the rest of the batch, since those
		// pages were already fetched.
		tripped := false
		outcomes := c.fetchBatch(ctx, batch)
		for _, out := range outcomes {
			if !out.result.OK || out.result.Body == "" {
				if tripped {
					continue
				}
				res.FetchErrors++
				streak++
				if errLimit > 0 && streak >= errLimit {
					res.StopReason = monitor.StopFetchErrors
					tripped = true
				}
				continue
			}
			streak = 0
			pageURL := out.result.FinalURL
			if pageURL == "" {
				pageURL = out.url
			}
			for _, p := range c.parse(out.result.Body, pageURL, logger) {
				if prev, ok := products[p.ID]; ok {
					products[p.ID] = mergeSeen(prev, p)
					continue
				}
				products[p.ID] = p
				order = append(order, p.ID)
			}
			if tripped {
				continue
			}
			for _, more := range Candidates(out.result.Body, pageURL, CartDepth(platform)) {
				key := urlnorm.ForID(more)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				queue = append(queue, more)
			}
			if c.cfg.MaxProducts > 0 && len(products) >= c.cfg.MaxProducts {
				res.StopReason = monitor.StopMaxPages
				break crawl
			}
		}
		if tripped {
			break
		}
	}

	res.Queued = len(queue)
	res.Products = make([]monitor.Product, 0, len(order))
	for _, id := range order {
		res.Products = append(res.Products, products[id])
	}
	logger.Debug("discovery done",
		zap.Int("queued", res.Queued),
		zap.Int("visited", res.Pages),
		zap.Int("products", len(res.Products)),
		zap.Int("fetch_errors", res.FetchErrors),
		zap.String("stop_reason", string(res.StopReason)),
	)
	return res
}

func (c *Crawler) fetchBatch(ctx context.Context, batch []string) []pageOutcome {
	outcomes := make([]pageOutcome, len(batch))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, u := range batch {
		g.Go(func() error {
			outcomes[i] = pageOutcome{url: u, result: c.fetcher.Fetch(ctx, u)}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Crawler) parse(body, pageURL string, logger *zap.Logger) []monitor.Product {
	products, err := c.extractor.Parse(body, pageURL)
	if err != nil {
		logger.Debug("discovery page parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	products = catalog.MarkSpecials(products)
	products, _ = catalog.FilterNoise(products)
	return products
}

// mergeSeen folds a re-observed product into the earlier copy: false
// availability wins and a missing name is kept from the earlier copy.
func mergeSeen(prev, next monitor.Product) monitor.Product {
	out := next.Clone()
	out.Available = catalog.DedupeAvailability(prev.Available, next.Available)
	if out.Name == "" {
		out.Name = prev.Name
	}
	return out
}
