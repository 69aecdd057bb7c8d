package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

type published struct {
	data  []byte
	attrs map[string]string
}

// memoryPublisher stores published messages for inspection.
type memoryPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *memoryPublisher) Publish(_ context.Context, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.msgs = append(p.msgs, published{data: data, attrs: attrs})
	return fmt.Sprintf("memory-%d", len(p.msgs)), nil
}

func sampleEvent() monitor.Event {
	return monitor.Event{
		Kind:   monitor.EventNew,
		Domain: "shop.example",
		At:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)),
		Product: monitor.Product{
			ID:        "shop.example::https://shop.example/cart.php?a=add&pid=9",
			Domain:    "shop.example",
			Name:      "KVM 2G",
			Available: monitor.InStock,
		},
	}
}

// TestNotifyPublishesEvent ensures payload and attributes carry the event.
func TestNotifyPublishesEvent(t *testing.T) {
	t.Parallel()

	pub := &memoryPublisher{}
	n := New(pub, nil)
	require.True(t, n.Notify(context.Background(), sampleEvent()))
	require.Len(t, pub.msgs, 1)
	require.Equal(t, map[string]string{"kind": "NEW", "domain": "shop.example"}, pub.msgs[0].attrs)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &decoded))
	require.Equal(t, "2026-03-01T11:00:00Z", decoded["at"])
	require.Equal(t, "NEW", decoded["kind"])
	product, ok := decoded["product"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "KVM 2G", product["name"])
}

// TestNotifyReportsPublishFailure ensures a publish error is reported as undelivered.
func TestNotifyReportsPublishFailure(t *testing.T) {
	t.Parallel()

	n := New(&memoryPublisher{err: errors.New("unavailable")}, nil)
	if n.Notify(context.Background(), sampleEvent()) {
		t.Fatalf("expected delivery failure")
	}
}

// TestTopicPublisherRequiresTopic ensures a zero adapter fails cleanly.
func TestTopicPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := NewTopicPublisher(nil).Publish(context.Background(), []byte("{}"), nil)
	require.Error(t, err)
}
