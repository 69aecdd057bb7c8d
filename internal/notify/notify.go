// Package notify combines event sinks.
package notify

import (
	"context"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

// Multi delivers each event to every notifier in order. It reports success
// when at least one sink accepted the event.
type Multi []monitor.Notifier

// Notify implements monitor.Notifier.
func (m Multi) Notify(ctx context.Context, evt monitor.Event) bool {
	delivered := false
	for _, n := range m {
		if n == nil {
			continue
		}
		if n.Notify(ctx, evt) {
			delivered = true
		}
	}
	return delivered
}

// Discard accepts and drops every event.
type Discard struct{}

// Notify implements monitor.Notifier.
func (Discard) Notify(context.Context, monitor.Event) bool { return true }
