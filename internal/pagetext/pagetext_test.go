package pagetext

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// TestExtractPrice ensures symbols and codes normalize to "amount CUR".
func TestExtractPrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text     string
		price    string
		currency string
	}{
		{"Only $3.99 /mo", "3.99 USD", "USD"},
		{"From 12,50 € monthly", "12.50 EUR", "EUR"},
		{"HK$ 88 per month", "88 HKD", "HKD"},
		{"1,299.00 USD yearly", "1299.00 USD", "USD"},
		{"Contact sales", "", ""},
	}
	for _, tc := range cases {
		price, currency := ExtractPrice(tc.text)
		if price != tc.price || currency != tc.currency {
			t.Fatalf("ExtractPrice(%q): expected %q/%q, got %q/%q", tc.text, tc.price, tc.currency, price, currency)
		}
	}
}

// TestExtractAvailability ensures counts beat words and mixed signals stay unknown.
func TestExtractAvailability(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want monitor.Availability
	}{
		{"3 available", monitor.InStock},
		{"Stock: 0", monitor.OutOfStock},
		{"Sold out", monitor.OutOfStock},
		{"In stock now", monitor.InStock},
		{"Out of stock. Other plans in stock.", monitor.Unknown},
		{"Order Now", monitor.Unknown},
		{"", monitor.Unknown},
	}
	for _, tc := range cases {
		if got := ExtractAvailability(tc.text); got != tc.want {
			t.Fatalf("ExtractAvailability(%q): expected %v, got %v", tc.text, tc.want, got)
		}
	}
	if !LooksLikePurchaseAction("  Order   now ") {
		t.Fatalf("expected order now to be a purchase action")
	}
}

// TestNormalizeCycleLabel ensures codes and long forms map to one label.
func TestNormalizeCycleLabel(t *testing.T) {
	t.Parallel()

	require.Equal(t, Monthly, NormalizeCycleLabel("m"))
	require.Equal(t, Semiannual, NormalizeCycleLabel("Semi-Annually"))
	require.Equal(t, Yearly, NormalizeCycleLabel("annually"))
	require.Equal(t, Triennial, NormalizeCycleLabel("triennially"))
	require.Equal(t, "", NormalizeCycleLabel("weekly"))
	require.Equal(t, []string{Monthly, Quarterly}, CyclesFromText("Pay monthly or quarterly, billingcycle=monthly"))
	require.Equal(t, []string{Monthly, Yearly, "Weird"}, SortCycles([]string{Yearly, "Weird", Monthly}))
}

// TestSpecsFromTextCollapsesTraffic ensures one metric is not listed twice.
func TestSpecsFromTextCollapsesTraffic(t *testing.T) {
	t.Parallel()

	specs := SpecsFromText("2 vCPU 4 GB RAM 40 GB SSD Bandwidth: 1TB Traffic: 1TB/mo 1 Gbps")
	if v, _ := specs.Get("CPU"); v != "2 vCPU" {
		t.Fatalf("expected CPU 2 vCPU, got %q", v)
	}
	if _, ok := specs.Get("Traffic"); ok {
		t.Fatalf("expected traffic to collapse into bandwidth, got %+v", specs)
	}
	if v, _ := specs.Get("Port"); v != "1 Gbps" {
		t.Fatalf("expected port 1 Gbps, got %q", v)
	}
}

// TestLooksLikeSpecialOffer checks promotional hints across name, url and description.
func TestLooksLikeSpecialOffer(t *testing.T) {
	t.Parallel()

	if !LooksLikeSpecialOffer("KVM 1G", "https://h.example/store/black-friday", "") {
		t.Fatalf("expected url hint to flag special")
	}
	if LooksLikeSpecialOffer("KVM 1G", "https://h.example/store/kvm", "Fast NVMe") {
		t.Fatalf("expected regular plan not to be special")
	}
}

// TestLocationVariants ensures location selectors yield cleaned, deduplicated options.
func TestLocationVariants(t *testing.T) {
	t.Parallel()

	page := `<form>
<div class="form-group"><label>Data Center Location</label>
<select name="configoption[3]">
<option value="1">Los Angeles (Test IP: 1.2.3.4)</option>
<option value="2">New York - Sold Out</option>
<option value="3">los angeles</option>
<option value="0">None</option>
</select></div>
<div class="form-group"><label>Operating System</label>
<select name="configoption[4]"><option>Debian</option></select></div>
<div class="form-group"><label>Billing Cycle</label>
<select name="billingcycle"><option value="monthly">$5.00 Monthly</option><option value="annually">$50.00 Annually</option></select></div>
</form>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)

	variants := LocationVariants(doc.Selection)
	require.Len(t, variants, 2)
	require.Equal(t, "Los Angeles", variants[0].Name)
	require.Equal(t, "New York", variants[1].Name)
	require.Equal(t, monitor.OutOfStock, variants[1].Available)

	prices := CyclePricesFromSelection(doc.Selection)
	require.Equal(t, map[string]string{Monthly: "5.00 USD", Yearly: "50.00 USD"}, prices)

	html, _ := doc.Html()
	cycles := CyclesFromSelection(doc.Selection, html)
	require.Equal(t, []string{Monthly, Yearly}, cycles)
}
