// Package reconcile folds domain runs into the persisted state and decides
// which changes deserve a notification.
package reconcile

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// Domain status values stored in DomainState.LastStatus.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Options scope one reconciliation pass.
type Options struct {
	// PruneMissing drops products a complete domain run did not reproduce.
	PruneMissing bool
	// PruneRemovedDomains drops domains outside ActiveDomains.
	PruneRemovedDomains bool
	ActiveDomains       []string
	// DryRun merges state but sends no notifications.
	DryRun bool
	// StartedAt is the run start; zero uses the reconciler clock.
	StartedAt time.Time
}

// EventObserver sees every notification attempt.
type EventObserver interface {
	ObserveEvent(ctx context.Context, event monitor.Event, delivered bool)
}

// Reconciler applies runs to state.
type Reconciler struct {
	notifier  monitor.Notifier
	clock     monitor.Clock
	observers []EventObserver
	logger    *zap.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithObserver registers obs for notification attempts.
func WithObserver(obs EventObserver) Option {
	return func(r *Reconciler) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

// New constructs a Reconciler. A nil notifier disables notifications.
func New(notifier monitor.Notifier, clock monitor.Clock, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reconciler{notifier: notifier, clock: clock, logger: logger.Named("reconcile")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// pending is a notification decided during the merge and sent afterwards.
type pending struct {
	id    string
	event monitor.Event
}

// Apply merges runs into a copy of prev. A failed run flips its domain to
// error and leaves its products untouched. Stale products are pruned only
// when pruning is allowed and the domain run is complete.
func (r *Reconciler) Apply(ctx context.Context, prev monitor.State, runs []monitor.DomainRun, opts Options) (monitor.State, monitor.Summary) {
	st := prev.Clone()
	if st.Products == nil {
		st.Products = map[string]monitor.ProductState{}
	}
	if st.Domains == nil {
		st.Domains = map[string]monitor.DomainState{}
	}
	st.SchemaVersion = monitor.SchemaVersion

	started := opts.StartedAt
	if started.IsZero() {
		started = r.clock.Now()
	}
	nowTime := r.clock.Now()
	now := monitor.Timestamp(nowTime)
	summary := monitor.Summary{StartedAt: started}

	variants := make(map[string]struct{})
	for _, rec := range st.Products {
		if rec.Domain != "" && rec.VariantOf != "" {
			variants[variantKey(rec.Domain, rec.VariantOf)] = struct{}{}
		}
	}

	if opts.PruneRemovedDomains && len(opts.ActiveDomains) > 0 {
		pruneRemoved(&st, opts.ActiveDomains, r.logger)
	}

	var queue []pending
	for _, run := range runs {
		if !run.OK {
			summary.DomainsError++
			prevDomain := st.Domains[run.Domain]
			st.Domains[run.Domain] = monitor.DomainState{
				LastStatus:     StatusError,
				LastOK:         prevDomain.LastOK,
				LastError:      run.Error,
				LastDurationMS: run.DurationMS,
			}
			r.logger.Warn("domain kept from previous state", zap.String("domain", run.Domain), zap.String("error", run.Error))
			continue
		}
		summary.DomainsOK++
		st.Domains[run.Domain] = monitor.DomainState{LastStatus: StatusOK, LastOK: now, LastError: run.Error, LastDurationMS: run.DurationMS}

		if opts.PruneMissing {
			if run.Meta.Complete() {
				pruneMissing(&st, run, r.logger)
			} else {
				r.logger.Info("prune skipped for incomplete run",
					zap.String("domain", run.Domain),
					zap.String("discovery_stop_reason", string(run.Meta.DiscoveryStopReason)),
					zap.Bool("deadline_exceeded", run.Meta.DeadlineExceeded),
				)
			}
		}

		for _, p := range run.Products {
			rec, ok := st.Products[p.ID]
			if !ok {
				st.Products[p.ID] = newRecord(p, now)
				summary.NewProducts++
				key := variantKey(p.Domain, p.VariantOf)
				_, hadVariant := variants[key]
				if p.VariantOf != "" {
					variants[key] = struct{}{}
				}
				switch {
				case p.Location != "" && p.VariantOf != "" && hadVariant && p.Available != monitor.OutOfStock:
					queue = append(queue, pending{id: p.ID, event: monitor.Event{Kind: monitor.EventNewLocation, Domain: p.Domain, Product: p, At: nowTime}})
				case p.Available == monitor.InStock:
					queue = append(queue, pending{id: p.ID, event: monitor.Event{Kind: monitor.EventNew, Domain: p.Domain, Product: p, At: nowTime}})
				}
				continue
			}

			restock := rec.Available == monitor.OutOfStock && p.Available == monitor.InStock
			if Changed(rec, p) {
				rec.LastChange = now
			}
			rec = refresh(rec, p, now)
			st.Products[p.ID] = rec
			if restock {
				summary.Restocks++
				if rec.LastNotifiedRestock != now {
					queue = append(queue, pending{id: p.ID, event: monitor.Event{Kind: monitor.EventRestock, Domain: p.Domain, Product: p, At: nowTime}})
				}
			}
		}
	}

	if !opts.DryRun {
		r.deliver(ctx, &st, queue, now)
	}

	summary.FinishedAt = r.clock.Now()
	st.UpdatedAt = monitor.Timestamp(summary.FinishedAt)
	st.LastRun = monitor.RunWindow{StartedAt: monitor.Timestamp(started), FinishedAt: monitor.Timestamp(summary.FinishedAt)}
	r.logger.Info("state reconciled",
		zap.Int("domains_ok", summary.DomainsOK),
		zap.Int("domains_error", summary.DomainsError),
		zap.Int("new_products", summary.NewProducts),
		zap.Int("restocks", summary.Restocks),
		zap.Int("tracked_products", len(st.Products)),
		zap.Int("notifications", len(queue)),
	)
	return st, summary
}

// deliver sends queued notifications and stamps the delivered ones.
func (r *Reconciler) deliver(ctx context.Context, st *monitor.State, queue []pending, now string) {
	if r.notifier == nil {
		return
	}
	for _, n := range queue {
		ok := r.notifier.Notify(ctx, n.event)
		for _, obs := range r.observers {
			obs.ObserveEvent(ctx, n.event, ok)
		}
		if !ok {
			r.logger.Warn("notification failed", zap.String("kind", string(n.event.Kind)), zap.String("id", n.id))
			continue
		}
		rec := st.Products[n.id]
		switch n.event.Kind {
		case monitor.EventNew:
			rec.LastNotifiedNew = now
		case monitor.EventNewLocation:
			rec.LastNotifiedNewLoc = now
		case monitor.EventRestock:
			rec.LastNotifiedRestock = now
		}
		st.Products[n.id] = rec
	}
}

func variantKey(domain, variant string) string {
	return domain + "\x00" + variant
}

func pruneRemoved(st *monitor.State, active []string, logger *zap.Logger) {
	keep := make(map[string]struct{}, len(active))
	for _, d := range active {
		keep[strings.ToLower(d)] = struct{}{}
	}
	for d := range st.Domains {
		if _, ok := keep[strings.ToLower(d)]; !ok {
			delete(st.Domains, d)
			logger.Info("removed domain pruned", zap.String("domain", d))
		}
	}
	for id, rec := range st.Products {
		if rec.Domain == "" {
			continue
		}
		if _, ok := keep[strings.ToLower(rec.Domain)]; !ok {
			delete(st.Products, id)
		}
	}
}

func pruneMissing(st *monitor.State, run monitor.DomainRun, logger *zap.Logger) {
	seen := make(map[string]struct{}, len(run.Products))
	for _, p := range run.Products {
		seen[p.ID] = struct{}{}
	}
	pruned := 0
	for id, rec := range st.Products {
		if rec.Domain != run.Domain {
			continue
		}
		if _, ok := seen[id]; !ok {
			delete(st.Products, id)
			pruned++
		}
	}
	if pruned > 0 {
		logger.Info("stale products pruned", zap.String("domain", run.Domain), zap.Int("pruned", pruned))
	}
}

func locationsOf(p monitor.Product) []string {
	if len(p.Locations) > 0 {
		return slices.Clone(p.Locations)
	}
	if locs := catalog.Locations(p); len(locs) > 0 {
		return locs
	}
	return nil
}

func linksOf(p monitor.Product) map[string]string {
	if len(p.LocationLinks) > 0 {
		return maps.Clone(p.LocationLinks)
	}
	if links := catalog.LocationLinks(p); len(links) > 0 {
		return links
	}
	return nil
}

func newRecord(p monitor.Product, now string) monitor.ProductState {
	rec := refresh(monitor.ProductState{}, p, now)
	rec.FirstSeen = now
	rec.LastChange = now
	return rec
}

// refresh overwrites the observed fields of rec with p and stamps last_seen.
func refresh(rec monitor.ProductState, p monitor.Product, now string) monitor.ProductState {
	rec.Domain = p.Domain
	rec.URL = p.URL
	rec.Name = p.Name
	rec.Price = p.Price
	rec.Currency = p.Currency
	rec.Description = p.Description
	rec.Specs = p.Specs.Clone()
	rec.Available = p.Available
	rec.VariantOf = p.VariantOf
	rec.Location = p.Location
	rec.Locations = locationsOf(p)
	rec.LocationLinks = linksOf(p)
	rec.BillingCycles = slices.Clone(p.BillingCycles)
	rec.CyclePrices = maps.Clone(p.CyclePrices)
	rec.IsSpecial = p.IsSpecial
	rec.LastSeen = now
	return rec
}

// Changed reports whether p differs semantically from the stored record.
// Description and currency alone never count as a change.
func Changed(rec monitor.ProductState, p monitor.Product) bool {
	return rec.Name != p.Name ||
		rec.Price != p.Price ||
		rec.Available != p.Available ||
		rec.URL != p.URL ||
		!rec.Specs.Equal(p.Specs) ||
		rec.VariantOf != p.VariantOf ||
		rec.Location != p.Location ||
		!slices.Equal(rec.Locations, locationsOf(p)) ||
		!maps.Equal(rec.LocationLinks, linksOf(p)) ||
		!slices.Equal(rec.BillingCycles, p.BillingCycles) ||
		!maps.Equal(rec.CyclePrices, p.CyclePrices) ||
		rec.IsSpecial != p.IsSpecial
}
