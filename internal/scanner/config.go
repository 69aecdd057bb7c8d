// Package scanner brute-forces sequential product and group identifiers on
// storefront platforms that hide purchasable items behind unlinked IDs.
//
// A scan runs in strictly sequential batches of concurrent probes. After each
// batch the probe outcomes are folded in identifier order into independent
// streak counters; the first counter to reach its threshold ends the scan.
package scanner

// Config holds the scan thresholds. A zero threshold disables that stop.
type Config struct {
	// ItemStopAfterNoInfo stops the item scan after this many consecutive
	// probes without product evidence.
	ItemStopAfterNoInfo int `mapstructure:"item_stop_after_no_info"`
	// SparseItemStopAfterNoInfo replaces ItemStopAfterNoInfo when explicit
	// seed item IDs show the ID space is sparse.
	SparseItemStopAfterNoInfo int `mapstructure:"sparse_item_stop_after_no_info"`
	// GroupStopAfterSamePage stops the group scan after this many consecutive
	// probes rendering the same page signature.
	GroupStopAfterSamePage int `mapstructure:"group_stop_after_same_page"`
	// StopAfterNoProgress stops either scan after this many consecutive probes
	// that added neither products nor item candidates.
	StopAfterNoProgress int `mapstructure:"stop_after_no_progress"`
	// StopAfterDuplicates stops after this many consecutive probes that only
	// re-found known products.
	StopAfterDuplicates int `mapstructure:"stop_after_duplicates"`
	// StopAfterRedirectSignature stops after this many consecutive probes that
	// bounced to the same redirect signature.
	StopAfterRedirectSignature int `mapstructure:"stop_after_redirect_signature"`
	BatchSize                  int `mapstructure:"batch_size"`
	Workers                    int `mapstructure:"workers"`
	// HardMaxID is the highest identifier ever probed.
	HardMaxID int `mapstructure:"hard_max_id"`
	// ItemCandidateLimit caps item IDs harvested from group pages.
	ItemCandidateLimit int `mapstructure:"item_candidate_limit"`
}

// DefaultConfig returns the documented scan defaults.
func DefaultConfig() Config {
	return Config{
		ItemStopAfterNoInfo:        30,
		SparseItemStopAfterNoInfo:  100,
		GroupStopAfterSamePage:     20,
		StopAfterNoProgress:        90,
		StopAfterDuplicates:        60,
		StopAfterRedirectSignature: 50,
		BatchSize:                  12,
		Workers:                    8,
		HardMaxID:                  2000,
		ItemCandidateLimit:         200,
	}
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	c.Workers = min(c.Workers, 16)
	if c.HardMaxID < 0 {
		c.HardMaxID = 0
	}
	return c
}

// StopReason names the counter that ended a brute-force scan.
type StopReason string

// Scan stop reasons.
const (
	StopNoInfo            StopReason = "no_info"
	StopSamePage          StopReason = "same_page"
	StopNoProgress        StopReason = "no_progress"
	StopDuplicates        StopReason = "duplicates"
	StopRedirectSignature StopReason = "redirect_signature"
	StopHardMax           StopReason = "hard_max"
	StopDeadline          StopReason = "deadline"
	StopSkipped           StopReason = "skipped"
)
