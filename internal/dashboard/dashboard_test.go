package dashboard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

func sampleState() monitor.State {
	st := monitor.NewState()
	st.UpdatedAt = "2026-06-02T09:30:00Z"
	st.Domains["ok.example"] = monitor.DomainState{LastStatus: "ok", LastOK: "2026-06-02T09:29:00Z"}
	st.Domains["down.example"] = monitor.DomainState{LastStatus: "error", LastOK: "2026-06-01T09:29:00Z", LastError: "fetch failed: status 503"}
	st.Products["ok.example::1"] = monitor.ProductState{
		Domain: "ok.example", URL: "https://ok.example/p/1", Name: "Zeta", Price: "5.00 USD",
		Available: monitor.OutOfStock,
	}
	st.Products["ok.example::2"] = monitor.ProductState{
		Domain: "ok.example", URL: "https://ok.example/p/2", Name: "Alpha <script>", Price: "3.00 USD",
		Available: monitor.InStock, IsSpecial: true, Locations: []string{"Tokyo", "Osaka"},
		BillingCycles: []string{"Monthly", "Annually"}, CyclePrices: map[string]string{"Monthly": "3.00 USD"},
		Specs: monitor.Specs{}.Set("RAM", "1 GB"),
	}
	st.Products["down.example::9"] = monitor.ProductState{
		Domain: "down.example", URL: "https://down.example/p/9", Name: "Kept Plan", Available: monitor.OutOfStock,
	}
	return st
}

// TestRenderKeepsFailedDomainRows ensures an error badge never blanks the last-known products.
func TestRenderKeepsFailedDomainRows(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleState(), monitor.Summary{Restocks: 1, NewProducts: 2})
	require.NoError(t, err)
	html := string(out)

	require.Contains(t, html, `<span class="badge error">error</span>`)
	require.Contains(t, html, "Last crawl failed: fetch failed: status 503")
	require.Contains(t, html, "Kept Plan")
	require.Contains(t, html, "restocks <b>1</b>")
	require.Contains(t, html, "domains error <b>1</b>")
}

// TestRenderOrdersAndEscapes ensures in-stock rows lead and text is escaped.
func TestRenderOrdersAndEscapes(t *testing.T) {
	t.Parallel()

	out, err := Render(sampleState(), monitor.Summary{
		StartedAt:  time.Date(2026, 6, 2, 9, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	html := string(out)

	require.NotContains(t, html, "<script>")
	require.Contains(t, html, "Alpha &lt;script&gt;")
	if strings.Index(html, "Alpha") > strings.Index(html, "Zeta") {
		t.Fatalf("expected in-stock product before out-of-stock one")
	}
	require.Contains(t, html, "Tokyo, Osaka")
	require.Contains(t, html, "Monthly: 3.00 USD")
	require.NotContains(t, html, "Annually:")
	require.Contains(t, html, "RAM: 1 GB")
	require.Contains(t, html, "2026-06-02 09:00")
}

// TestShortTime covers the accepted timestamp forms.
func TestShortTime(t *testing.T) {
	t.Parallel()

	require.Equal(t, "2026-06-02 09:30", shortTime("2026-06-02T09:30:00Z"))
	require.Equal(t, "garbage", shortTime("garbage"))
	require.Empty(t, shortTime(time.Time{}))
	require.Empty(t, shortTime(42))
}
