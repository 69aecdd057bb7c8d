package orchestrator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

const target = "https://shop.example/"

var runID = [16]byte{1}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var clk = fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

// siteFetcher serves pages by URL. Unlisted URLs get an empty page unless
// failUnlisted is set; failing URLs always fail.
type siteFetcher struct {
	mu           sync.Mutex
	pages        map[string]string
	failing      map[string]bool
	failUnlisted bool
	calls        []string
}

func (f *siteFetcher) Fetch(_ context.Context, rawURL string) monitor.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	body, ok := f.pages[rawURL]
	if f.failing[rawURL] || (!ok && f.failUnlisted) {
		return monitor.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: 503}
	}
	if !ok {
		body = "<html><body><p>empty</p></body></html>"
	}
	return monitor.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: 200, OK: true, Body: body}
}

func (f *siteFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// markerExtractor returns one product per "PRODUCT:<pid>" token.
var markerExtractor = monitor.ExtractorFunc(func(body, _ string) ([]monitor.Product, error) {
	var out []monitor.Product
	for _, field := range strings.Fields(body) {
		pid, ok := strings.CutPrefix(field, "PRODUCT:")
		if !ok {
			continue
		}
		u := "https://shop.example/cart.php?a=add&pid=" + pid
		out = append(out, monitor.Product{
			ID:     "shop.example::" + urlnorm.ForID(u),
			Domain: "shop.example",
			URL:    u,
			Name:   "Plan " + pid,
			Price:  "5.00 USD",
		})
	}
	return out, nil
})

type oneExtractor struct{ ex monitor.Extractor }

func (o oneExtractor) For(string) monitor.Extractor { return o.ex }

type recordingEmitter struct {
	mu     sync.Mutex
	stages []progress.Stage
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, evt.Stage)
}

func (r *recordingEmitter) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Stage(nil), r.stages...)
}

func newTestOrchestrator(f monitor.Fetcher, ex monitor.Extractor, cfg Config, opts ...Option) *Orchestrator {
	return New(f, oneExtractor{ex: ex}, discovery.Sites{}, clk, cfg, nil, opts...)
}

func names(products []monitor.Product) []string {
	out := make([]string, 0, len(products))
	for _, p := range products {
		out = append(out, p.Name)
	}
	return out
}

// TestCrawlSeedFailureIsNotFatal ensures a dead target yields ok=false with an error.
func TestCrawlSeedFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &siteFetcher{failUnlisted: true}
	rec := &recordingEmitter{}
	o := newTestOrchestrator(f, markerExtractor, DefaultConfig(), WithEmitter(rec))

	run := o.Crawl(context.Background(), runID, target, true)
	require.False(t, run.OK)
	require.Equal(t, "shop.example", run.Domain)
	require.Equal(t, "fetch failed: status 503", run.Error)
	require.Empty(t, run.Products)
	require.Greater(t, len(f.Calls()), 1, "fallback entry points should be tried")
	require.Equal(t, []progress.Stage{progress.StageDomainStart, progress.StageDomainError}, rec.Stages())
}

// TestCrawlSeedFallsBackToEntryPoint ensures a failing landing page is replaced by a working entry point.
func TestCrawlSeedFallsBackToEntryPoint(t *testing.T) {
	t.Parallel()

	f := &siteFetcher{
		pages:   map[string]string{},
		failing: map[string]bool{target: true},
	}
	for _, u := range discovery.DefaultEntryPoints(target) {
		f.pages[u] = "<html><body> PRODUCT:1 PRODUCT:2 </body></html>"
	}
	o := newTestOrchestrator(f, markerExtractor, DefaultConfig())

	run := o.Crawl(context.Background(), runID, target, false)
	require.True(t, run.OK)
	require.ElementsMatch(t, []string{"Plan 1", "Plan 2"}, names(run.Products))
	for _, p := range run.Products {
		if p.CyclePrices["Monthly"] != "5.00 USD" {
			t.Fatalf("expected monthly cycle price filled on %s, got %v", p.ID, p.CyclePrices)
		}
	}
}

// TestCrawlLiteModeFetchesOnlySeed ensures lite mode performs no expansion.
func TestCrawlLiteModeFetchesOnlySeed(t *testing.T) {
	t.Parallel()

	f := &siteFetcher{pages: map[string]string{target: `<html><body> PRODUCT:1 <a href="/store/kvm">KVM</a> cart.php </body></html>`}}
	o := newTestOrchestrator(f, markerExtractor, DefaultConfig())

	run := o.Crawl(context.Background(), runID, target, false)
	require.True(t, run.OK)
	require.Equal(t, []string{target}, f.Calls())
	require.Len(t, run.Products, 1)
	require.True(t, run.Meta.Complete())
}

// TestCrawlRecoversExtractorPanic ensures one bad page parse yields zero products, not a failed run.
func TestCrawlRecoversExtractorPanic(t *testing.T) {
	t.Parallel()

	f := &siteFetcher{pages: map[string]string{target: "<html></html>"}}
	boom := monitor.ExtractorFunc(func(string, string) ([]monitor.Product, error) { panic("bad template") })
	o := newTestOrchestrator(f, boom, DefaultConfig())

	run := o.Crawl(context.Background(), runID, target, false)
	require.True(t, run.OK)
	require.Empty(t, run.Products)
}

// TestCrawlFetchErrorStopMarksIncomplete ensures a fetch-error discovery stop
// flags the run as incomplete while queue exhaustion does not.
func TestCrawlFetchErrorStopMarksIncomplete(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Discovery.StopAfterFetchErrors = 3

	failing := &siteFetcher{pages: map[string]string{target: "<html><body>welcome</body></html>"}, failUnlisted: true}
	run := newTestOrchestrator(failing, markerExtractor, cfg).Crawl(context.Background(), runID, target, true)
	require.True(t, run.OK)
	require.Equal(t, monitor.StopFetchErrors, run.Meta.DiscoveryStopReason)
	require.Equal(t, 3, run.Meta.DiscoveryFetchErrors)
	require.True(t, run.Meta.MayBeIncomplete)
	require.False(t, run.Meta.Complete())

	healthy := &siteFetcher{pages: map[string]string{target: "<html><body>welcome</body></html>"}}
	run = newTestOrchestrator(healthy, markerExtractor, cfg).Crawl(context.Background(), runID, target, true)
	require.True(t, run.OK)
	require.Equal(t, monitor.StopQueueExhausted, run.Meta.DiscoveryStopReason)
	require.Zero(t, run.Meta.DiscoveryFetchErrors)
	require.True(t, run.Meta.Complete())
}

// TestCrawlRunsHiddenScan ensures WHMCS stores get hidden products merged into the run.
func TestCrawlRunsHiddenScan(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Scanner.ItemStopAfterNoInfo = 6
	cfg.Scanner.GroupStopAfterSamePage = 2
	cfg.Scanner.StopAfterNoProgress = 0
	cfg.Scanner.StopAfterDuplicates = 0
	cfg.Scanner.StopAfterRedirectSignature = 0

	f := &siteFetcher{pages: map[string]string{
		target: `<html><body><p> PRODUCT:1 </p><a href="cart.php?gid=1">Shop</a></body></html>`,
		"https://shop.example/cart.php?a=add&pid=3": `<html><body><h1>Hidden</h1> PRODUCT:3
<form><input type="hidden" name="pid" value="3"><select name="billingcycle"><option>Monthly</option></select></form></body></html>`,
	}}
	rec := &recordingEmitter{}
	run := newTestOrchestrator(f, markerExtractor, cfg, WithEmitter(rec)).Crawl(context.Background(), runID, target, true)

	require.True(t, run.OK)
	require.ElementsMatch(t, []string{"Plan 1", "Plan 3"}, names(run.Products))
	require.GreaterOrEqual(t, run.Meta.HiddenProbes, 12)
	require.Equal(t, "no_info", run.Meta.HiddenStopReason)
	require.False(t, run.Meta.MayBeIncomplete)
	require.Contains(t, rec.Stages(), progress.StageHiddenScan)
	require.Contains(t, rec.Stages(), progress.StageEnrich)
}

// TestEnrichPagesSizing ensures page limits follow platform, domain and time left.
func TestEnrichPagesSizing(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(&siteFetcher{}, markerExtractor, DefaultConfig())
	cases := []struct {
		domain    string
		platform  discovery.Platform
		cycles    bool
		remaining time.Duration
		want      int
	}{
		{"shop.example", discovery.PlatformUnknown, false, time.Minute * 3, 40},
		{"shop.example", discovery.PlatformWHMCS, true, time.Minute * 3, 60},
		{"bgp.gd", discovery.PlatformWHMCS, true, time.Minute * 3, 140},
		{"clientarea.gigsgigscloud.com", discovery.PlatformHostBill, true, time.Minute * 3, 80},
		{"bgp.gd", discovery.PlatformWHMCS, true, 30 * time.Second, 12},
		{"bgp.gd", discovery.PlatformWHMCS, true, 10 * time.Second, 0},
	}
	for _, tc := range cases {
		if got := o.enrichPages(tc.domain, tc.platform, tc.cycles, tc.remaining); got != tc.want {
			t.Fatalf("enrichPages(%s, %s, %v): expected %d, got %d", tc.domain, tc.platform, tc.remaining, tc.want, got)
		}
	}
}

// steppingClock is a Clock that tests move forward by hand.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// slowSeedFetcher advances the clock by step on the first fetch only.
type slowSeedFetcher struct {
	*siteFetcher
	clock *steppingClock
	step  time.Duration
	once  sync.Once
}

func (f *slowSeedFetcher) Fetch(ctx context.Context, rawURL string) monitor.FetchResult {
	f.once.Do(func() { f.clock.Advance(f.step) })
	return f.siteFetcher.Fetch(ctx, rawURL)
}

// TestCrawlSeedOverBudgetMarksIncomplete ensures a seed fetch that spends the
// whole target budget leaves the run flagged instead of looking complete.
func TestCrawlSeedOverBudgetMarksIncomplete(t *testing.T) {
	t.Parallel()

	for _, parallel := range []bool{true, false} {
		sc := &steppingClock{now: clk.now}
		f := &slowSeedFetcher{
			siteFetcher: &siteFetcher{pages: map[string]string{
				target: `<html><body><a href="cart.php?gid=1">Shop</a></body></html>`,
			}},
			clock: sc,
			step:  300 * time.Second,
		}
		cfg := DefaultConfig()
		require.Equal(t, 210*time.Second, cfg.TargetBudget)
		cfg.ParallelHidden = parallel

		run := New(f, oneExtractor{ex: markerExtractor}, discovery.Sites{}, sc, cfg, nil).
			Crawl(context.Background(), runID, target, true)

		require.True(t, run.OK)
		require.Empty(t, run.Products)
		require.Equal(t, []string{target}, f.Calls(), "nothing past the seed should be fetched")
		require.True(t, run.Meta.DeadlineExceeded)
		require.True(t, run.Meta.MayBeIncomplete)
		require.Equal(t, monitor.StopDeadline, run.Meta.DiscoveryStopReason)
		require.Equal(t, "deadline", run.Meta.HiddenStopReason)
		require.Equal(t, 1, run.Meta.Diagnostics[DiagEnrichSkippedDeadline])
		if run.Meta.Complete() {
			t.Fatalf("expected incomplete run with parallel=%v, got complete meta %+v", parallel, run.Meta)
		}
	}
}

// TestCrawlRecordsEnrichmentSkippedForTime ensures a target left with too
// little time for enrichment says so in its run diagnostics.
func TestCrawlRecordsEnrichmentSkippedForTime(t *testing.T) {
	t.Parallel()

	sc := &steppingClock{now: clk.now}
	f := &slowSeedFetcher{
		siteFetcher: &siteFetcher{pages: map[string]string{
			target: `<html><body> PRODUCT:1 PRODUCT:2 </body></html>`,
		}},
		clock: sc,
		step:  205 * time.Second,
	}
	cfg := DefaultConfig()
	cfg.Enrich.Domains = []string{"shop.example"}

	run := New(f, oneExtractor{ex: markerExtractor}, discovery.Sites{}, sc, cfg, nil).
		Crawl(context.Background(), runID, target, true)

	require.True(t, run.OK)
	require.Len(t, run.Products, 2)
	require.Equal(t, 1, run.Meta.Diagnostics[DiagEnrichSkippedBudget])
	require.Zero(t, run.Meta.Diagnostics[DiagEnrichSkippedDeadline])
}
