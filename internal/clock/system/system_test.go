package system

import (
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// TestClockStampsUTC ensures state timestamps come out in Z form.
func TestClockStampsUTC(t *testing.T) {
	t.Parallel()

	var clk monitor.Clock = New()
	before := time.Now().Add(-time.Second)
	now := clk.Now()
	if now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
	if now.Before(before) {
		t.Fatalf("expected %v to be after %v", now, before)
	}
	if stamp := monitor.Timestamp(now); !strings.HasSuffix(stamp, "Z") {
		t.Fatalf("expected RFC3339 UTC stamp, got %q", stamp)
	}
}

// TestClockDrivesDeadlines ensures a budget measured on the wall clock counts down.
func TestClockDrivesDeadlines(t *testing.T) {
	t.Parallel()

	d := monitor.NewDeadline(New(), time.Minute)
	if !d.Set() || d.Exceeded() {
		t.Fatalf("expected an unexpired deadline, got remaining %v", d.Remaining())
	}
	if rem := d.Remaining(); rem > time.Minute || rem <= 0 {
		t.Fatalf("expected remaining within (0, 1m], got %v", rem)
	}
}
