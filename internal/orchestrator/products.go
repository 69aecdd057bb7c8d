package orchestrator

import (
	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// productSet is the in-run product table keyed by ID in first-seen order.
type productSet struct {
	byID  map[string]monitor.Product
	order []string
}

func newProductSet(products []monitor.Product) *productSet {
	s := &productSet{byID: make(map[string]monitor.Product, len(products))}
	for _, p := range products {
		s.observe(p)
	}
	return s
}

// observe records p. A re-observed ID takes the new copy, except that an
// out-of-stock observation from either side wins and an empty name keeps the
// earlier one.
func (s *productSet) observe(p monitor.Product) {
	prev, ok := s.byID[p.ID]
	if !ok {
		s.order = append(s.order, p.ID)
		s.byID[p.ID] = p
		return
	}
	next := p.Clone()
	next.Available = catalog.DedupeAvailability(prev.Available, p.Available)
	if next.Name == "" {
		next.Name = prev.Name
	}
	s.byID[p.ID] = next
}

// replace swaps in an enriched list, keeping appended variants.
func (s *productSet) replace(products []monitor.Product) {
	s.byID = make(map[string]monitor.Product, len(products))
	s.order = s.order[:0]
	for _, p := range products {
		if _, ok := s.byID[p.ID]; !ok {
			s.order = append(s.order, p.ID)
		}
		s.byID[p.ID] = p
	}
}

func (s *productSet) len() int { return len(s.order) }

func (s *productSet) ids() []string {
	return append([]string(nil), s.order...)
}

func (s *productSet) list() []monitor.Product {
	out := make([]monitor.Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
