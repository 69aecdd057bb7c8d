package monitor

import (
	"maps"
	"slices"
	"time"
)

// SchemaVersion is the current persisted document version.
const SchemaVersion = 1

// Timestamp formats t the way state documents store times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ProductState is the persisted record of one product.
type ProductState struct {
	Domain              string            `json:"domain"`
	URL                 string            `json:"url"`
	Name                string            `json:"name"`
	Price               string            `json:"price,omitempty"`
	Currency            string            `json:"currency,omitempty"`
	Description         string            `json:"description,omitempty"`
	Specs               Specs             `json:"specs,omitempty"`
	Available           Availability      `json:"available"`
	VariantOf           string            `json:"variant_of,omitempty"`
	Location            string            `json:"location,omitempty"`
	Locations           []string          `json:"locations,omitempty"`
	LocationLinks       map[string]string `json:"location_links,omitempty"`
	BillingCycles       []string          `json:"billing_cycles,omitempty"`
	CyclePrices         map[string]string `json:"cycle_prices,omitempty"`
	IsSpecial           bool              `json:"is_special,omitempty"`
	FirstSeen           string            `json:"first_seen"`
	LastSeen            string            `json:"last_seen"`
	LastChange          string            `json:"last_change"`
	LastNotifiedNew     string            `json:"last_notified_new,omitempty"`
	LastNotifiedRestock string            `json:"last_notified_restock,omitempty"`
	LastNotifiedNewLoc  string            `json:"last_notified_new_location,omitempty"`
}

// Product rebuilds the product view of a stored record.
func (s ProductState) Product(id string) Product {
	return Product{
		ID:            id,
		Domain:        s.Domain,
		URL:           s.URL,
		Name:          s.Name,
		Price:         s.Price,
		Currency:      s.Currency,
		Description:   s.Description,
		Specs:         s.Specs.Clone(),
		Available:     s.Available,
		VariantOf:     s.VariantOf,
		Location:      s.Location,
		Locations:     slices.Clone(s.Locations),
		LocationLinks: maps.Clone(s.LocationLinks),
		BillingCycles: slices.Clone(s.BillingCycles),
		CyclePrices:   maps.Clone(s.CyclePrices),
		IsSpecial:     s.IsSpecial,
	}
}

// DomainState is the persisted status line of one domain.
type DomainState struct {
	LastStatus     string `json:"last_status"`
	LastOK         string `json:"last_ok,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	LastDurationMS int64  `json:"last_duration_ms"`
}

// RunWindow records when the last run started and finished.
type RunWindow struct {
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// State is the whole persisted document.
type State struct {
	SchemaVersion int                     `json:"schema_version"`
	UpdatedAt     string                  `json:"updated_at,omitempty"`
	Products      map[string]ProductState `json:"products"`
	Domains       map[string]DomainState  `json:"domains"`
	LastRun       RunWindow               `json:"last_run"`
}

// NewState returns an empty document at the current schema version.
func NewState() State {
	return State{
		SchemaVersion: SchemaVersion,
		Products:      map[string]ProductState{},
		Domains:       map[string]DomainState{},
	}
}

// Clone deep-copies the document.
func (s State) Clone() State {
	out := s
	out.Products = make(map[string]ProductState, len(s.Products))
	for id, rec := range s.Products {
		p := rec.Product(id)
		rec.Specs = p.Specs
		rec.Locations = p.Locations
		rec.LocationLinks = p.LocationLinks
		rec.BillingCycles = p.BillingCycles
		rec.CyclePrices = p.CyclePrices
		out.Products[id] = rec
	}
	out.Domains = make(map[string]DomainState, len(s.Domains))
	maps.Copy(out.Domains, s.Domains)
	return out
}

// Summary aggregates one reconciliation pass.
type Summary struct {
	Restocks     int       `json:"restocks"`
	NewProducts  int       `json:"new_products"`
	DomainsOK    int       `json:"domains_ok"`
	DomainsError int       `json:"domains_error"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
