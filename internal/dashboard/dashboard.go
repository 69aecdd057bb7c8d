// Package dashboard renders the persisted state as a static HTML page.
package dashboard

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

//go:embed index.html.tmpl
var pageTemplate string

var page = template.Must(template.New("index").Funcs(template.FuncMap{
	"short": shortTime,
}).Parse(pageTemplate))

// Row is one product line of the dashboard.
type Row struct {
	ID          string
	Name        string
	VariantOf   string
	Price       string
	Status      string
	URL         string
	Locations   []string
	Cycles      []CyclePrice
	Specs       monitor.Specs
	Description string
	Special     bool
	FirstSeen   string
	LastSeen    string
}

// CyclePrice is one billing cycle and its price.
type CyclePrice struct {
	Cycle string
	Price string
}

// Section groups the rows of one domain.
type Section struct {
	Domain     string
	Status     string
	LastOK     string
	LastError  string
	DurationMS int64
	Rows       []Row
	InStock    int
}

type view struct {
	UpdatedAt    string
	Summary      monitor.Summary
	Sections     []Section
	Products     int
	InStock      int
	OutOfStock   int
	Unknown      int
	DomainsOK    int
	DomainsError int
}

// Render produces the dashboard for st. It is a pure function of its inputs.
// A failing domain keeps its last-known products under an error badge.
func Render(st monitor.State, summary monitor.Summary) ([]byte, error) {
	v := view{UpdatedAt: st.UpdatedAt, Summary: summary}

	byDomain := make(map[string]*Section)
	section := func(d string) *Section {
		s, ok := byDomain[d]
		if !ok {
			s = &Section{Domain: d, Status: "unknown"}
			if ds, seen := st.Domains[d]; seen {
				s.Status = ds.LastStatus
				s.LastOK = ds.LastOK
				s.LastError = ds.LastError
				s.DurationMS = ds.LastDurationMS
			}
			byDomain[d] = s
		}
		return s
	}
	for _, d := range slices.Sorted(maps.Keys(st.Domains)) {
		section(d)
		switch st.Domains[d].LastStatus {
		case "ok":
			v.DomainsOK++
		case "error":
			v.DomainsError++
		}
	}
	for _, id := range slices.Sorted(maps.Keys(st.Products)) {
		rec := st.Products[id]
		s := section(rec.Domain)
		row := rowOf(id, rec)
		s.Rows = append(s.Rows, row)
		v.Products++
		switch rec.Available {
		case monitor.InStock:
			v.InStock++
			s.InStock++
		case monitor.OutOfStock:
			v.OutOfStock++
		default:
			v.Unknown++
		}
	}
	for _, d := range slices.Sorted(maps.Keys(byDomain)) {
		s := byDomain[d]
		slices.SortStableFunc(s.Rows, func(a, b Row) int {
			if c := statusRank(a.Status) - statusRank(b.Status); c != 0 {
				return c
			}
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
		v.Sections = append(v.Sections, *s)
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("render dashboard: %w", err)
	}
	return buf.Bytes(), nil
}

func rowOf(id string, rec monitor.ProductState) Row {
	row := Row{
		ID:          id,
		Name:        rec.Name,
		VariantOf:   rec.VariantOf,
		Price:       rec.Price,
		Status:      statusOf(rec.Available),
		URL:         rec.URL,
		Locations:   rec.Locations,
		Specs:       rec.Specs,
		Description: rec.Description,
		Special:     rec.IsSpecial,
		FirstSeen:   rec.FirstSeen,
		LastSeen:    rec.LastSeen,
	}
	if len(row.Locations) == 0 && rec.Location != "" {
		row.Locations = []string{rec.Location}
	}
	cycles := rec.BillingCycles
	if len(cycles) == 0 {
		cycles = slices.Sorted(maps.Keys(rec.CyclePrices))
	}
	for _, c := range cycles {
		if price := rec.CyclePrices[c]; price != "" {
			row.Cycles = append(row.Cycles, CyclePrice{Cycle: c, Price: price})
		}
	}
	return row
}

func statusOf(a monitor.Availability) string {
	switch a {
	case monitor.InStock:
		return "in-stock"
	case monitor.OutOfStock:
		return "out-of-stock"
	default:
		return "unknown"
	}
}

func statusRank(status string) int {
	switch status {
	case "in-stock":
		return 0
	case "out-of-stock":
		return 1
	default:
		return 2
	}
}

func shortTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04")
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return t
		}
		return parsed.UTC().Format("2006-01-02 15:04")
	default:
		return ""
	}
}
