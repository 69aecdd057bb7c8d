package extractor

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/pagetext"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// StoreAPI extracts products from the JSON inventory endpoint of a single page
// storefront. Prices are reported in cents and cycles in months.
type StoreAPI struct {
	cfg StoreAPIConfig
}

// NewStoreAPI returns a StoreAPI extractor. Currency defaults to CNY and the
// shop path to /shop/server.
func NewStoreAPI(cfg StoreAPIConfig) *StoreAPI {
	if cfg.Currency == "" {
		cfg.Currency = "CNY"
	}
	if cfg.ShopPath == "" {
		cfg.ShopPath = "/shop/server"
	}
	return &StoreAPI{cfg: cfg}
}

type storePayload struct {
	Data json.RawMessage `json:"data"`
}

type storeArea struct {
	ID       *int        `json:"id"`
	AreaName string      `json:"area_name"`
	Nodes    []storeNode `json:"nodes"`
}

type storeNode struct {
	ID        *int        `json:"id"`
	NodeName  string      `json:"node_name"`
	GroupName string      `json:"group_name"`
	Plans     []storePlan `json:"plans"`
}

type storePlan struct {
	ID         *int         `json:"id"`
	PlanName   string       `json:"plan_name"`
	Tag        string       `json:"tag"`
	Stock      *int         `json:"stock"`
	CPU        *float64     `json:"cpu"`
	Memory     *float64     `json:"memory"`
	Disk       *float64     `json:"disk"`
	Flow       *float64     `json:"flow"`
	Bandwidth  *float64     `json:"bandwidth"`
	IPv4       *float64     `json:"ipv4_num"`
	IPv6       *float64     `json:"ipv6_num"`
	PriceDatas []storePrice `json:"price_datas"`
}

type storePrice struct {
	Price *float64 `json:"price"`
	Cycle *int     `json:"cycle"`
}

// Parse implements monitor.Extractor.
func (s *StoreAPI) Parse(body, _ string) ([]monitor.Product, error) {
	raw := jsonPayload(body)
	if raw == "" {
		return nil, nil
	}
	var payload storePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode store api: %w", err)
	}
	areas, err := decodeAreas(payload.Data)
	if err != nil {
		return nil, err
	}

	var products []monitor.Product
	for _, area := range areas {
		areaName := pagetext.CompactWS(area.AreaName)
		for _, node := range area.Nodes {
			nodeName := pagetext.CompactWS(firstNonEmpty(node.NodeName, node.GroupName))
			for _, plan := range node.Plans {
				if p, ok := s.product(area, areaName, node, nodeName, plan); ok {
					products = append(products, p)
				}
			}
		}
	}
	return products, nil
}

func decodeAreas(data json.RawMessage) ([]storeArea, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var areas []storeArea
		if err := json.Unmarshal(data, &areas); err != nil {
			return nil, fmt.Errorf("decode store areas: %w", err)
		}
		return areas, nil
	}
	var wrapped struct {
		Areas []storeArea `json:"areas"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode store areas: %w", err)
	}
	return wrapped.Areas, nil
}

func (s *StoreAPI) product(area storeArea, areaName string, node storeNode, nodeName string, plan storePlan) (monitor.Product, bool) {
	name := pagetext.CompactWS(plan.PlanName)
	if name == "" {
		return monitor.Product{}, false
	}

	shopPath, shopQuery, _ := strings.Cut(s.cfg.ShopPath, "?")
	query := url.Values{}
	for _, p := range urlnorm.ParsePairs(shopQuery) {
		if p.Key != "" && p.Value != "" {
			query.Set(p.Key, p.Value)
		}
	}
	for k, v := range s.cfg.Query {
		if k != "" && v != "" {
			query.Set(k, v)
		}
	}
	if tag := strings.ToLower(pagetext.CompactWS(plan.Tag)); tag == "traffic" || tag == "bandwidth" {
		query.Set("type", tag)
	}
	if area.ID != nil {
		query.Set("areaId", strconv.Itoa(*area.ID))
	}
	if node.ID != nil {
		query.Set("nodeId", strconv.Itoa(*node.ID))
	}
	if plan.ID != nil {
		query.Set("planId", strconv.Itoa(*plan.ID))
	}
	link := "https://" + s.cfg.Domain + shopPath
	if encoded := query.Encode(); encoded != "" {
		link += "?" + encoded
	}

	available := monitor.Unknown
	if plan.Stock != nil {
		available = monitor.AvailabilityOf(*plan.Stock > 0)
	}

	var specs monitor.Specs
	if areaName != "" {
		specs = specs.Set("Location", areaName)
	}
	if nodeName != "" {
		specs = specs.Set("Node", nodeName)
	}
	if plan.CPU != nil {
		specs = specs.Set("CPU", fmt.Sprintf("%d vCPU", int(*plan.CPU)))
	}
	if ram := mbToGB(plan.Memory); ram != "" {
		specs = specs.Set("RAM", ram)
	}
	if plan.Disk != nil {
		specs = specs.Set("Disk", fmt.Sprintf("%dGB", int(*plan.Disk)))
	}
	if plan.Flow != nil {
		specs = specs.Set("Transfer", fmt.Sprintf("%dGB", int(*plan.Flow)))
	}
	if plan.Bandwidth != nil {
		specs = specs.Set("Port", fmt.Sprintf("%dMbps", int(*plan.Bandwidth)))
	}
	if plan.IPv4 != nil {
		specs = specs.Set("IPv4", strconv.Itoa(int(*plan.IPv4)))
	}
	if plan.IPv6 != nil {
		specs = specs.Set("IPv6", strconv.Itoa(int(*plan.IPv6)))
	}

	price, currency := "", ""
	if cents, ok := bestMonthlyCents(plan.PriceDatas); ok {
		price, currency = formatCents(cents, s.cfg.Currency), s.cfg.Currency
	}
	cycles, cyclePrices := s.cycles(plan.PriceDatas)
	if len(cycles) > 0 {
		specs = specs.Set("Cycles", strings.Join(cycles, ", "))
	}

	var descParts []string
	for _, part := range []string{areaName, nodeName} {
		if part != "" {
			descParts = append(descParts, part)
		}
	}
	variantOf := ""
	lowerName := strings.ToLower(name)
	if nodeName != "" && !strings.Contains(lowerName, strings.ToLower(nodeName)) {
		variantOf = nodeName
	} else if areaName != "" && !strings.Contains(lowerName, strings.ToLower(areaName)) {
		variantOf = areaName
	}

	return monitor.Product{
		ID:            s.cfg.Domain + "::" + urlnorm.ForID(link),
		Domain:        s.cfg.Domain,
		URL:           link,
		Name:          name,
		Price:         price,
		Currency:      currency,
		Description:   strings.Join(descParts, " / "),
		Specs:         specs,
		Available:     available,
		VariantOf:     variantOf,
		Location:      firstNonEmpty(areaName, nodeName),
		BillingCycles: cycles,
		CyclePrices:   cyclePrices,
	}, true
}

func (s *StoreAPI) cycles(prices []storePrice) ([]string, map[string]string) {
	var labels []string
	out := map[string]string{}
	for _, p := range prices {
		if p.Cycle == nil {
			continue
		}
		label := cycleMonthsLabel(*p.Cycle)
		if label == "" {
			continue
		}
		if !slices.Contains(labels, label) {
			labels = append(labels, label)
		}
		if p.Price != nil {
			out[label] = formatCents(*p.Price, s.cfg.Currency)
		}
	}
	if len(out) == 0 {
		out = nil
	}
	return labels, out
}

func bestMonthlyCents(prices []storePrice) (float64, bool) {
	var monthly, perMonth []float64
	for _, p := range prices {
		if p.Price == nil {
			continue
		}
		cycle := 1
		if p.Cycle != nil {
			cycle = *p.Cycle
		}
		if cycle <= 0 {
			continue
		}
		if cycle == 1 {
			monthly = append(monthly, *p.Price)
		}
		perMonth = append(perMonth, *p.Price/float64(cycle))
	}
	for _, set := range [][]float64{monthly, perMonth} {
		if len(set) > 0 {
			sort.Float64s(set)
			return set[0], true
		}
	}
	return 0, false
}

func formatCents(cents float64, currency string) string {
	return strconv.FormatFloat(cents/100, 'f', 2, 64) + " " + currency
}

var cycleMonthLabels = map[int]string{
	1: pagetext.Monthly, 3: pagetext.Quarterly, 6: pagetext.Semiannual,
	12: pagetext.Yearly, 24: pagetext.Biennial, 36: pagetext.Triennial,
}

func cycleMonthsLabel(months int) string {
	if months <= 0 {
		return ""
	}
	if label, ok := cycleMonthLabels[months]; ok {
		return label
	}
	return strconv.Itoa(months) + " Months"
}

func mbToGB(mb *float64) string {
	if mb == nil {
		return ""
	}
	gb := *mb / 1024
	switch {
	case gb >= 1 && math.Abs(gb-math.Round(gb)) < 0.01:
		return fmt.Sprintf("%dGB", int(math.Round(gb)))
	case gb >= 1:
		return fmt.Sprintf("%.1fGB", gb)
	}
	return fmt.Sprintf("%dMB", int(*mb))
}

// jsonPayload recovers the JSON document from an API body, which some sites wrap
// in a <pre> element or prefix with an HTML shell.
func jsonPayload(body string) string {
	raw := strings.TrimSpace(body)
	if raw == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(raw), "<pre") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			if pre := doc.Find("pre").First(); pre.Length() > 0 {
				raw = strings.TrimSpace(pre.Text())
			}
		}
	}
	start := -1
	for _, ch := range []string{"{", "["} {
		if i := strings.Index(raw, ch); i >= 0 && (start < 0 || i < start) {
			start = i
		}
	}
	if start < 0 {
		return ""
	}
	return strings.TrimSpace(raw[start:])
}
