package monitor

import "time"

// StopReason records why bounded discovery ended.
type StopReason string

const (
	// StopQueueExhausted means every candidate page was visited.
	StopQueueExhausted StopReason = "queue_exhausted"
	// StopMaxPages means the page budget ran out first.
	StopMaxPages StopReason = "max_pages"
	// StopFetchErrors means consecutive fetch failures hit the threshold.
	StopFetchErrors StopReason = "fetch_errors"
	// StopDeadline means the wall-clock budget expired.
	StopDeadline StopReason = "deadline"
)

// Exhausted reports whether the stop was natural exhaustion of the candidate space.
func (r StopReason) Exhausted() bool {
	return r == "" || r == StopQueueExhausted
}

// RunMeta is the completeness envelope attached to a DomainRun.
type RunMeta struct {
	MayBeIncomplete      bool           `json:"may_be_incomplete"`
	DeadlineExceeded     bool           `json:"deadline_exceeded"`
	DiscoveryStopReason  StopReason     `json:"discovery_stop_reason,omitempty"`
	DiscoveryFetchErrors int            `json:"discovery_fetch_errors"`
	DiscoveryPages       int            `json:"discovery_pages,omitempty"`
	HiddenProbes         int            `json:"hidden_probes,omitempty"`
	HiddenStopReason     string         `json:"hidden_stop_reason,omitempty"`
	Diagnostics          map[string]int `json:"diagnostics,omitempty"`
}

// Merge folds other into m, OR-ing the completeness flags.
func (m RunMeta) Merge(other RunMeta) RunMeta {
	out := m
	out.MayBeIncomplete = m.MayBeIncomplete || other.MayBeIncomplete
	out.DeadlineExceeded = m.DeadlineExceeded || other.DeadlineExceeded
	if out.DiscoveryStopReason.Exhausted() && !other.DiscoveryStopReason.Exhausted() {
		out.DiscoveryStopReason = other.DiscoveryStopReason
	} else if out.DiscoveryStopReason == "" {
		out.DiscoveryStopReason = other.DiscoveryStopReason
	}
	out.DiscoveryFetchErrors += other.DiscoveryFetchErrors
	out.DiscoveryPages += other.DiscoveryPages
	out.HiddenProbes += other.HiddenProbes
	if out.HiddenStopReason == "" {
		out.HiddenStopReason = other.HiddenStopReason
	}
	if len(other.Diagnostics) > 0 {
		merged := make(map[string]int, len(m.Diagnostics)+len(other.Diagnostics))
		for k, v := range m.Diagnostics {
			merged[k] += v
		}
		for k, v := range other.Diagnostics {
			merged[k] += v
		}
		out.Diagnostics = merged
	}
	return out
}

// Complete reports whether pruning stale products is safe for this run.
func (m RunMeta) Complete() bool {
	return !m.MayBeIncomplete && !m.DeadlineExceeded
}

// DomainRun is the immutable result of crawling one target.
type DomainRun struct {
	Domain     string    `json:"domain"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Products   []Product `json:"products"`
	Meta       RunMeta   `json:"meta"`
}

// EventKind labels a notification trigger.
type EventKind string

const (
	// EventNew fires for a never-seen product that is in stock.
	EventNew EventKind = "NEW"
	// EventNewLocation fires for a new location variant of a known plan.
	EventNewLocation EventKind = "NEW LOCATION"
	// EventRestock fires on a false to true availability edge.
	EventRestock EventKind = "RESTOCK"
)

// Event is handed to a Notifier after state merge.
type Event struct {
	Kind    EventKind `json:"kind"`
	Domain  string    `json:"domain"`
	Product Product   `json:"product"`
	At      time.Time `json:"at"`
}
