package scheduler

import (
	"maps"
	"slices"
	"strings"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const maxMergedErrors = 3

// MergeByDomain folds runs that share a domain into one run per domain,
// sorted by domain. Durations add up, the merged run is ok when any part is,
// products are deduplicated by id and then canonically merged, and the first
// three errors of failed parts are joined. An ok run with any failed part is
// marked as possibly incomplete so the missing part's products are not pruned.
func MergeByDomain(runs []monitor.DomainRun) []monitor.DomainRun {
	type acc struct {
		run      monitor.DomainRun
		products []monitor.Product
		errors   []string
		failed   int
	}
	byDomain := make(map[string]*acc)
	for _, r := range runs {
		a, ok := byDomain[r.Domain]
		if !ok {
			a = &acc{run: monitor.DomainRun{Domain: r.Domain}}
			byDomain[r.Domain] = a
		}
		a.run.DurationMS += r.DurationMS
		if r.OK {
			a.run.OK = true
			a.run.Meta = a.run.Meta.Merge(r.Meta)
			a.products = append(a.products, r.Products...)
			continue
		}
		a.failed++
		if r.Error != "" {
			a.errors = append(a.errors, r.Error)
		}
	}

	out := make([]monitor.DomainRun, 0, len(byDomain))
	for _, d := range slices.Sorted(maps.Keys(byDomain)) {
		a := byDomain[d]
		run := a.run
		if run.OK {
			run.Products = catalog.Merge(catalog.DedupeByID(a.products))
			if a.failed > 0 {
				run.Meta.MayBeIncomplete = true
				run.Error = joinErrors(a.errors, "partial failure")
			}
		} else {
			run.Meta = monitor.RunMeta{}
			run.Error = joinErrors(a.errors, "fetch failed")
		}
		out = append(out, run)
	}
	return out
}

func joinErrors(errs []string, fallback string) string {
	if len(errs) == 0 {
		return fallback
	}
	return strings.Join(errs[:min(len(errs), maxMergedErrors)], "; ")
}
