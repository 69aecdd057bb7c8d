package scanner

import (
	"context"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/vps-stock-monitor/internal/catalog"
	"github.com/JakeFAU/vps-stock-monitor/internal/discovery"
	"github.com/JakeFAU/vps-stock-monitor/internal/hash/sha256"
	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
	"github.com/JakeFAU/vps-stock-monitor/internal/urlnorm"
)

// AvailabilityInferrer resolves availability from a probed detail page.
type AvailabilityInferrer interface {
	InferAvailability(body, domain string) monitor.Availability
}

// ProbeObserver is notified after every identifier probe.
type ProbeObserver interface {
	ObserveProbe(domain, kind string, evidence bool)
}

// Request describes one scan.
type Request struct {
	Platform discovery.Platform
	BaseURL  string
	// SeedURLs contribute seed group IDs, HostBill routes and add-action templates.
	SeedURLs []string
	// SeedItemIDs are probed before the item brute force and mark the ID space as sparse.
	SeedItemIDs []int
	// KnownIDs are product IDs already found by other stages.
	KnownIDs   []string
	SkipGroups bool
	Deadline   monitor.Deadline
}

// Result is what a scan found.
type Result struct {
	Products         []monitor.Product
	ItemProbes       int
	GroupProbes      int
	StopReason       StopReason
	DeadlineExceeded bool
}

// Scanner probes hidden identifiers.
type Scanner struct {
	fetcher   monitor.Fetcher
	extractor monitor.Extractor
	inferrer  AvailabilityInferrer
	hasher    monitor.Hasher
	observer  ProbeObserver
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithObserver reports every probe to o.
func WithObserver(o ProbeObserver) Option {
	return func(s *Scanner) { s.observer = o }
}

// New constructs a Scanner.
func New(
	fetcher monitor.Fetcher,
	extractor monitor.Extractor,
	inferrer AvailabilityInferrer,
	hasher monitor.Hasher,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if hasher == nil {
		hasher = sha256.New()
	}
	s := &Scanner{
		fetcher:   fetcher,
		extractor: extractor,
		inferrer:  inferrer,
		hasher:    hasher,
		cfg:       cfg.normalized(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// probe is the outcome of one identifier across all endpoint templates.
type probe struct {
	id          int
	evidence    bool
	products    []monitor.Product
	harvested   []int
	pageSig     string
	redirectSig string
}

// run holds the mutable state of one Scan. Only the sequential fold touches it.
type run struct {
	req          Request
	fam          family
	domain       string
	known        map[string]struct{}
	found        map[string]monitor.Product
	order        []string
	candidates   map[int]struct{}
	probedItems  map[int]struct{}
	res          Result
	itemNoInfo   int
	stopDeadline bool
}

// Scan runs the group scan (seed groups, then brute force), probes item IDs
// harvested from group pages and seed items, then brute-forces item IDs.
func (s *Scanner) Scan(ctx context.Context, req Request) Result {
	if req.Platform == discovery.PlatformUnknown {
		return Result{StopReason: StopSkipped}
	}
	r := &run{
		req:         req,
		fam:         newFamily(req.Platform, req.BaseURL, req.SeedURLs),
		domain:      urlnorm.Domain(req.BaseURL),
		known:       make(map[string]struct{}, len(req.KnownIDs)),
		found:       make(map[string]monitor.Product),
		candidates:  make(map[int]struct{}),
		probedItems: make(map[int]struct{}),
	}
	for _, id := range req.KnownIDs {
		r.known[id] = struct{}{}
	}
	logger := s.logger.With(zap.String("domain", r.domain), zap.String("platform", string(req.Platform)))

	r.itemNoInfo = s.cfg.ItemStopAfterNoInfo
	if len(req.SeedItemIDs) > 0 && r.itemNoInfo > 0 && r.itemNoInfo < s.cfg.SparseItemStopAfterNoInfo {
		r.itemNoInfo = s.cfg.SparseItemStopAfterNoInfo
	}

	if !req.SkipGroups && len(r.fam.groupEndpoints) > 0 {
		var seedGroups []int
		for _, u := range req.SeedURLs {
			if n, ok := urlnorm.QueryInt(urlnorm.Resolve(req.BaseURL, u), r.fam.groupKey); ok && n >= 0 {
				seedGroups = append(seedGroups, n)
			}
		}
		s.scanList(ctx, r, kindGroup, seedGroups)
		groupStop := s.bruteForce(ctx, r, kindGroup)
		logger.Debug("group scan done", zap.Int("probes", r.res.GroupProbes), zap.String("stop_reason", string(groupStop)),
			zap.Int("item_candidates", len(r.candidates)))

		if len(r.candidates) > 0 {
			list := sortedIDs(r.candidates)
			if s.cfg.ItemCandidateLimit > 0 && len(list) > s.cfg.ItemCandidateLimit {
				list = list[:s.cfg.ItemCandidateLimit]
			}
			s.scanList(ctx, r, kindItem, list)
		}
	}
	if len(req.SeedItemIDs) > 0 {
		var pending []int
		for _, id := range req.SeedItemIDs {
			if _, done := r.probedItems[id]; !done && id >= 0 {
				pending = append(pending, id)
			}
		}
		s.scanList(ctx, r, kindItem, pending)
	}
	r.res.StopReason = s.bruteForce(ctx, r, kindItem)
	if r.stopDeadline {
		r.res.DeadlineExceeded = true
	}

	r.res.Products = make([]monitor.Product, 0, len(r.order))
	for _, id := range r.order {
		r.res.Products = append(r.res.Products, r.found[id])
	}
	logger.Debug("hidden scan done",
		zap.Int("item_probes", r.res.ItemProbes),
		zap.Int("group_probes", r.res.GroupProbes),
		zap.Int("products", len(r.res.Products)),
		zap.String("stop_reason", string(r.res.StopReason)),
	)
	return r.res
}

type kind int

const (
	kindItem kind = iota
	kindGroup
)

func (k kind) String() string {
	if k == kindGroup {
		return "group"
	}
	return "item"
}

func sortedIDs(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// scanList probes an explicit ID list in batches without stop counters.
func (s *Scanner) scanList(ctx context.Context, r *run, k kind, ids []int) {
	set := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id >= 0 {
			set[id] = struct{}{}
		}
	}
	list := sortedIDs(set)
	for start := 0; start < len(list); start += s.cfg.BatchSize {
		if r.req.Deadline.Exceeded() || ctx.Err() != nil {
			r.stopDeadline = true
			return
		}
		batch := list[start:min(start+s.cfg.BatchSize, len(list))]
		for _, p := range s.probeBatch(ctx, r, k, batch) {
			if k == kindGroup {
				for _, id := range p.harvested {
					r.candidates[id] = struct{}{}
				}
			}
			if p.evidence && !r.allKnown(p.products) {
				r.absorb(p.products)
			}
		}
	}
}

// streaks are the consecutive-miss counters of one brute-force scan.
type streaks struct {
	noInfo       int
	samePage     int
	noProgress   int
	duplicates   int
	redirect     int
	lastPage     string
	lastRedirect string
}

// budget returns how many more probes may run before the tightest enabled
// counter could trip, so a batch never overshoots a threshold.
func budget(limit, streak int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit - streak
}

func (s *Scanner) stopFor(k kind, st streaks, itemNoInfo int) (StopReason, int) {
	type counter struct {
		reason StopReason
		limit  int
		streak int
	}
	counters := []counter{
		{StopNoProgress, s.cfg.StopAfterNoProgress, st.noProgress},
		{StopDuplicates, s.cfg.StopAfterDuplicates, st.duplicates},
		{StopRedirectSignature, s.cfg.StopAfterRedirectSignature, st.redirect},
	}
	if k == kindItem {
		counters = append([]counter{{StopNoInfo, itemNoInfo, st.noInfo}}, counters...)
	} else {
		counters = append([]counter{{StopSamePage, s.cfg.GroupStopAfterSamePage, st.samePage}}, counters...)
	}
	room := 1 << 30
	for _, c := range counters {
		left := budget(c.limit, c.streak)
		if left <= 0 {
			return c.reason, 0
		}
		room = min(room, left)
	}
	return "", room
}

// bruteForce probes IDs from 0 upward until a stop counter trips, the hard
// maximum is reached or the deadline passes.
func (s *Scanner) bruteForce(ctx context.Context, r *run, k kind) StopReason {
	endpoints := r.fam.itemEndpoints
	if k == kindGroup {
		endpoints = r.fam.groupEndpoints
	}
	if len(endpoints) == 0 {
		return StopSkipped
	}
	var st streaks
	cur := 0
	for {
		if r.req.Deadline.Exceeded() || ctx.Err() != nil {
			r.stopDeadline = true
			return StopDeadline
		}
		reason, room := s.stopFor(k, st, r.itemNoInfo)
		if reason != "" {
			return reason
		}
		if cur > s.cfg.HardMaxID {
			return StopHardMax
		}

		var batch []int
		for id := cur; id <= s.cfg.HardMaxID && len(batch) < min(s.cfg.BatchSize, room); id++ {
			cur = id + 1
			if k == kindItem {
				if _, done := r.probedItems[id]; done {
					continue
				}
			}
			batch = append(batch, id)
		}
		if len(batch) == 0 {
			continue
		}

		for _, p := range s.probeBatch(ctx, r, k, batch) {
			s.fold(r, k, &st, p)
		}
	}
}

// fold applies one probe outcome to the streak counters in ID order.
func (s *Scanner) fold(r *run, k kind, st *streaks, p probe) {
	switch {
	case p.redirectSig != "" && p.redirectSig == st.lastRedirect:
		st.redirect++
	case p.redirectSig != "":
		st.lastRedirect = p.redirectSig
		st.redirect = 1
	default:
		st.redirect = 0
	}

	newCandidates := 0
	if k == kindGroup {
		for _, id := range p.harvested {
			if _, ok := r.candidates[id]; !ok {
				r.candidates[id] = struct{}{}
				newCandidates++
			}
		}
		switch {
		case p.pageSig == "":
		case p.pageSig == st.lastPage:
			st.samePage++
		default:
			st.lastPage = p.pageSig
			st.samePage = 1
		}
	} else if p.evidence {
		st.noInfo = 0
	} else {
		st.noInfo++
	}

	duplicate := p.evidence && r.duplicate(k, p)
	added := 0
	if p.evidence && !duplicate {
		added = r.absorb(p.products)
	}
	if duplicate {
		st.duplicates++
	} else {
		st.duplicates = 0
	}
	if added > 0 || newCandidates > 0 {
		st.noProgress = 0
	} else {
		st.noProgress++
	}
}

func (r *run) isKnown(id string) bool {
	if _, ok := r.known[id]; ok {
		return true
	}
	_, ok := r.found[id]
	return ok
}

func (r *run) allKnown(products []monitor.Product) bool {
	if len(products) == 0 {
		return false
	}
	for _, p := range products {
		if !r.isKnown(p.ID) {
			return false
		}
	}
	return true
}

// duplicate reports whether an evidence-bearing probe only re-found known
// products, or for groups only harvested items that map to known products.
func (r *run) duplicate(k kind, p probe) bool {
	if len(p.products) > 0 {
		return r.allKnown(p.products)
	}
	if k != kindGroup || len(p.harvested) == 0 {
		return false
	}
	for _, id := range p.harvested {
		for _, tmpl := range r.fam.itemEndpoints {
			if !r.isKnown(r.domain + "::" + urlnorm.ForID(fill(tmpl, id))) {
				return false
			}
		}
	}
	return true
}

// absorb records products and returns how many were previously unknown.
func (r *run) absorb(products []monitor.Product) int {
	added := 0
	for _, p := range products {
		if !r.isKnown(p.ID) {
			added++
		}
		if _, ok := r.found[p.ID]; !ok {
			r.order = append(r.order, p.ID)
		}
		r.found[p.ID] = p
	}
	return added
}

func (s *Scanner) probeBatch(ctx context.Context, r *run, k kind, ids []int) []probe {
	out := make([]probe, len(ids))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			out[i] = s.probeOne(ctx, r, k, id)
			if s.observer != nil {
				s.observer.ObserveProbe(r.domain, k.String(), out[i].evidence)
			}
			return nil
		})
	}
	_ = g.Wait()
	if k == kindItem {
		r.res.ItemProbes += len(ids)
		for _, id := range ids {
			r.probedItems[id] = struct{}{}
		}
	} else {
		r.res.GroupProbes += len(ids)
	}
	return out
}

// probeOne tries every endpoint template for id and returns the first page
// carrying evidence. Pages that bounce to another identifier, or that drop
// the identifier without echoing it, are recorded as redirect signatures.
func (s *Scanner) probeOne(ctx context.Context, r *run, k kind, id int) probe {
	endpoints, queryKey := r.fam.itemEndpoints, r.fam.itemKey
	if k == kindGroup {
		endpoints, queryKey = r.fam.groupEndpoints, r.fam.groupKey
	}
	whmcs := r.fam.platform == discovery.PlatformWHMCS
	echoKeys := []string{r.fam.itemKey, "id", "pid", "product_id"}
	miss := probe{id: id}

	for _, tmpl := range endpoints {
		if r.req.Deadline.Exceeded() || ctx.Err() != nil {
			return miss
		}
		target := fill(tmpl, id)
		res := s.fetcher.Fetch(ctx, target)
		if !res.OK || res.Body == "" {
			continue
		}
		body := res.Body
		final := res.FinalURL
		if final == "" {
			final = target
		}

		pageSig := ""
		if k == kindGroup {
			pageSig = s.signature(final, body)
			if miss.pageSig == "" {
				miss.pageSig = pageSig
			}
		}
		mentioned := true
		if k == kindItem {
			mentioned = mentionsID(body, id, echoKeys)
		}
		got, hasID := urlnorm.QueryInt(final, queryKey)
		if hasID && got != id {
			if miss.redirectSig == "" {
				miss.redirectSig = s.signature(final, body)
			}
			continue
		}
		if !hasID && miss.redirectSig == "" {
			miss.redirectSig = s.signature(final, body)
		}
		if k == kindItem && whmcs && !hasID && !mentioned {
			continue
		}

		var evidence bool
		if k == kindItem {
			evidence = itemEvidence(r.fam.platform, body) && (!whmcs || mentioned)
		} else {
			evidence = groupEvidence(r.fam.platform, body)
		}
		var harvested []int
		if k == kindGroup {
			harvested = harvestIDs(body, final, echoKeys)
			if len(harvested) > 0 {
				evidence = true
			}
		}

		parseBase := final
		if k == kindItem && !hasID {
			parseBase = target
		}
		products := s.parse(body, parseBase, r.domain)
		if k == kindItem && len(products) > 0 {
			products = s.matchProbe(products, id, target, r.domain)
		}
		if len(products) > 0 {
			avail := s.inferAvailability(body, r.domain)
			for i := range products {
				if avail.Known() {
					products[i].Available = avail
				}
			}
			return probe{id: id, evidence: true, products: products, harvested: harvested, pageSig: pageSig}
		}
		if !evidence {
			continue
		}
		if k == kindItem {
			if fallback, ok := s.fallbackProduct(body, target, r.domain); ok {
				return probe{id: id, evidence: true, products: []monitor.Product{fallback}, pageSig: pageSig}
			}
		}
		return probe{id: id, evidence: true, harvested: harvested, pageSig: pageSig}
	}
	return miss
}

func (s *Scanner) parse(body, baseURL, domain string) []monitor.Product {
	products, err := s.extractor.Parse(body, baseURL)
	if err != nil {
		s.logger.Debug("probe parse failed", zap.String("domain", domain), zap.String("url", baseURL), zap.Error(err))
		return nil
	}
	return catalog.MarkSpecials(products)
}

// matchProbe keeps products whose URL carries the probed ID. A single
// unmatched product is re-anchored to the probe URL.
func (s *Scanner) matchProbe(products []monitor.Product, id int, target, domain string) []monitor.Product {
	var matched []monitor.Product
	for _, p := range products {
		if matchesID(p, id) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 && len(products) == 1 {
		p := products[0].Clone()
		p.URL = target
		p.ID = domain + "::" + urlnorm.ForID(target)
		matched = []monitor.Product{p}
	}
	return matched
}

func (s *Scanner) inferAvailability(body, domain string) monitor.Availability {
	if s.inferrer == nil {
		return monitor.Unknown
	}
	return s.inferrer.InferAvailability(body, domain)
}

// fallbackProduct builds a minimal product from a page with product evidence
// that the extractor could not parse. Unresolved availability is recorded as
// out of stock so that an unparseable page never raises a restock.
func (s *Scanner) fallbackProduct(body, target, domain string) (monitor.Product, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return monitor.Product{}, false
	}
	name := fallbackName(doc)
	if name == "" {
		return monitor.Product{}, false
	}
	avail := s.inferAvailability(body, domain)
	if !avail.Known() {
		avail = monitor.OutOfStock
	}
	p := monitor.Product{
		ID:        domain + "::" + urlnorm.ForID(target),
		Domain:    domain,
		URL:       target,
		Name:      name,
		Available: avail,
	}
	return catalog.MarkSpecials([]monitor.Product{p})[0], true
}
