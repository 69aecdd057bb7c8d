package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const storePage = `<html><body>
<div class="products">
  <div class="product clearfix" id="product1">
    <header><span id="product1-name">KVM Starter</span></header>
    <div class="product-desc"><ul><li>CPU: 1 vCPU</li><li>RAM: 1 GB</li><li>Disk: 20 GB SSD</li></ul></div>
    <footer><div class="product-pricing"><span class="price">$3.00 USD</span> Monthly</div>
    <a href="/index.php?rp=/store/kvm/starter&utm_source=mail" class="btn btn-order-now">Order Now</a></footer>
  </div>
  <div class="product clearfix" id="product2">
    <header><span id="product2-name">KVM Pro</span></header>
    <div class="product-desc"><ul><li>CPU: 4 vCPU</li><li>RAM: 8 GB</li></ul>0 Available</div>
    <footer><div class="product-pricing"><span class="price">$12.00 USD</span> Monthly</div>
    <a href="cart.php?a=add&pid=7" class="btn btn-order-now">Order Now</a></footer>
  </div>
</div>
<a href="cart.php?a=view">View Cart</a>
</body></html>`

// TestHTMLParseStorePage ensures cards produce one product per purchase link with stable ids.
func TestHTMLParseStorePage(t *testing.T) {
	t.Parallel()

	products, err := NewHTML("shop.example").Parse(storePage, "https://shop.example/index.php?rp=/store/kvm")
	require.NoError(t, err)
	require.Len(t, products, 2)

	first := products[0]
	require.Equal(t, "shop.example::https://shop.example/index.php?rp=%2Fstore%2Fkvm%2Fstarter", first.ID)
	require.Equal(t, "3.00 USD", first.Price)
	require.Equal(t, "USD", first.Currency)
	if v, _ := first.Specs.Get("RAM"); v != "1 GB" {
		t.Fatalf("expected RAM spec 1 GB, got %q", v)
	}
	require.Equal(t, []string{"Monthly"}, first.BillingCycles)

	second := products[1]
	require.Equal(t, "https://shop.example/cart.php?a=add&pid=7", second.URL)
	require.Equal(t, monitor.OutOfStock, second.Available)
}

// TestIsNonProductURL separates category listings from product links.
func TestIsNonProductURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"https://h.example/index.php?rp=/store/kvm":         true,
		"https://h.example/index.php?rp=/store/kvm/starter": false,
		"https://h.example/store/kvm":                       true,
		"https://h.example/store/kvm/starter":               false,
		"https://h.example/cart.php?gid=3":                  true,
		"https://h.example/cart.php?a=add&pid=3":            false,
		"https://h.example/products/vps":                    true,
	}
	for raw, want := range cases {
		if got := IsNonProductURL(raw); got != want {
			t.Fatalf("IsNonProductURL(%q): expected %v, got %v", raw, want, got)
		}
	}
}

const storeAPIBody = `<html><body><pre>{"status_code":0,"data":[{"id":2,"area_name":"Hong Kong","nodes":[
{"id":5,"node_name":"HKG-CN2","plans":[
{"id":11,"plan_name":"Mini","stock":0,"cpu":1,"memory":1024,"disk":20,"bandwidth":300,
 "price_datas":[{"cycle":1,"price":1500},{"cycle":12,"price":15000}]},
{"id":12,"plan_name":"","stock":5}
]}]}]}</pre></body></html>`

// TestStoreAPIParse ensures the JSON inventory maps to products with cycle prices.
func TestStoreAPIParse(t *testing.T) {
	t.Parallel()

	ex := NewStoreAPI(StoreAPIConfig{Domain: "api.example"})
	products, err := ex.Parse(storeAPIBody, "https://api.example/api/v1/shop")
	require.NoError(t, err)
	require.Len(t, products, 1)

	p := products[0]
	require.Equal(t, "Mini", p.Name)
	require.Equal(t, "15.00 CNY", p.Price)
	require.Equal(t, monitor.OutOfStock, p.Available)
	require.Equal(t, "HKG-CN2", p.VariantOf)
	require.Equal(t, "Hong Kong", p.Location)
	require.Equal(t, []string{"Monthly", "Yearly"}, p.BillingCycles)
	require.Equal(t, map[string]string{"Monthly": "15.00 CNY", "Yearly": "150.00 CNY"}, p.CyclePrices)
	require.Equal(t, "https://api.example/shop/server?areaId=2&nodeId=5&planId=11", p.URL)
	if v, _ := p.Specs.Get("RAM"); v != "1GB" {
		t.Fatalf("expected RAM 1GB, got %q", v)
	}
}

// TestRegistryResolvesFamilies ensures configured API domains use the JSON extractor.
func TestRegistryResolvesFamilies(t *testing.T) {
	t.Parallel()

	reg := NewRegistry([]string{"Shop.Example"}, []StoreAPIConfig{{Domain: "api.example"}})
	if _, ok := reg.For("api.example").(*StoreAPI); !ok {
		t.Fatalf("expected store api extractor")
	}
	if _, ok := reg.For("shop.example").(*HTML); !ok {
		t.Fatalf("expected html extractor")
	}
	if _, ok := reg.For("other.example").(*HTML); !ok {
		t.Fatalf("expected html fallback")
	}
}
