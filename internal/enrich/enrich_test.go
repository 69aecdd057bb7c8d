package enrich

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const orderForm = `<form>
<div class="form-group"><label>Data Center Location</label>
<select name="configoption[3]">
<option value="1">Los Angeles (Test IP: 1.2.3.4)</option>
<option value="2">New York - Sold Out</option>
</select></div>
<div class="form-group"><label>Billing Cycle</label>
<select name="billingcycle"><option value="monthly">$5.00 Monthly</option><option value="annually">$50.00 Annually</option></select></div>
<button type="submit">Order Now</button>
</form>`

func infer(t *testing.T, body string, override bool) monitor.Availability {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return InferAvailability(doc, body, override)
}

// TestInferAvailability ensures DOM signals are weighed ahead of page text.
func TestInferAvailability(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		override bool
		want     monitor.Availability
	}{
		{"empty sold-out marker", `<div class="outofstock"></div><button>Order Now</button>`, false, monitor.OutOfStock},
		{"order form beats banner", orderForm + `<p>Sold out promo ended</p>`, false, monitor.InStock},
		{"bare button loses to text", `<button>Order Now</button><p>Out of stock</p>`, false, monitor.OutOfStock},
		{"override trusts button", `<button>Order Now</button><p>Out of stock</p>`, true, monitor.InStock},
		{"page text in stock", `<p>In stock</p>`, false, monitor.InStock},
		{"nothing", `<p>hello</p>`, false, monitor.Unknown},
		{"disabled button", `<button disabled>Add to Cart</button>`, false, monitor.Unknown},
		{"sold out label", `<a class="btn">Sold Out</a>`, false, monitor.OutOfStock},
	}
	for _, tc := range cases {
		if got := infer(t, tc.body, tc.override); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

// TestSelectPrioritizesAvailability ensures unknown availability outranks missing cycles and locations.
func TestSelectPrioritizesAvailability(t *testing.T) {
	t.Parallel()

	products := []monitor.Product{
		{ID: "a", URL: "https://d/a", Available: monitor.InStock, BillingCycles: []string{"Monthly"}, CyclePrices: map[string]string{"Monthly": "1"}},
		{ID: "c", URL: "https://d/c", Available: monitor.InStock, Location: "LA"},
		{ID: "b", URL: "https://d/b", Location: "LA"},
		{ID: "b2", URL: "https://d/b", Location: "NY"},
		{ID: "r", URL: "https://d/r", Available: monitor.OutOfStock, Location: "LA", BillingCycles: []string{"Monthly"}, CyclePrices: map[string]string{"Monthly": "1"}},
	}
	got := selectCandidates(products, Options{MaxPages: 2, IncludeMissingCycles: true})
	require.Len(t, got, 2)
	require.Equal(t, "https://d/b", got[0].url)
	require.Equal(t, []int{2, 3}, got[0].indices)
	require.Equal(t, "https://d/c", got[1].url)

	forced := selectCandidates(products, Options{MaxPages: 10, IncludeFalse: true})
	require.Equal(t, "https://d/b", forced[0].url)
	require.Equal(t, "https://d/r", forced[1].url)
}

type staticFetcher struct {
	body  string
	calls atomic.Int32
}

func (f *staticFetcher) Fetch(_ context.Context, rawURL string) monitor.FetchResult {
	f.calls.Add(1)
	return monitor.FetchResult{URL: rawURL, FinalURL: rawURL, StatusCode: 200, OK: true, Body: f.body}
}

// TestRunAppliesDetailPage ensures availability, cycles, prices and location variants are folded in.
func TestRunAppliesDetailPage(t *testing.T) {
	t.Parallel()

	f := &staticFetcher{body: orderForm}
	e := New(f, NewInferrer(nil), 2, nil)
	in := []monitor.Product{{ID: "d::1", Domain: "d", URL: "https://d/cart.php?a=add&pid=1", Name: "KVM"}}

	out, stats := e.Run(context.Background(), "d", in, Options{MaxPages: 5})
	require.Len(t, out, 2)
	base := out[0]
	require.Equal(t, monitor.InStock, base.Available)
	require.Equal(t, "Los Angeles", base.Location)
	require.Equal(t, []string{"Los Angeles"}, base.Locations)
	require.Equal(t, "5.00 USD", base.Price)
	require.Equal(t, []string{"Monthly", "Yearly"}, base.BillingCycles)
	require.Equal(t, map[string]string{"Monthly": "5.00 USD", "Yearly": "50.00 USD"}, base.CyclePrices)

	variant := out[1]
	require.Equal(t, "d::1::loc-new-york", variant.ID)
	require.Equal(t, "New York", variant.Location)
	require.Equal(t, "KVM", variant.VariantOf)
	require.Equal(t, monitor.OutOfStock, variant.Available)

	require.Equal(t, Stats{Selected: 1, Fetched: 1, Resolved: 1, Generated: 1}, stats)
	require.Equal(t, monitor.Unknown, in[0].Available)
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

// TestRunSkipsAfterDeadline ensures an expired deadline issues no fetches.
func TestRunSkipsAfterDeadline(t *testing.T) {
	t.Parallel()

	clk := &stepClock{now: time.Unix(1700000000, 0)}
	deadline := monitor.NewDeadline(clk, time.Second)
	clk.now = clk.now.Add(time.Minute)

	f := &staticFetcher{body: orderForm}
	e := New(f, NewInferrer(nil), 2, nil)
	in := []monitor.Product{{ID: "d::1", URL: "https://d/x", Name: "KVM"}}

	out, stats := e.Run(context.Background(), "d", in, Options{MaxPages: 5, Deadline: deadline})
	require.Equal(t, in, out)
	require.Zero(t, stats.Fetched)
	require.Zero(t, f.calls.Load())
}
