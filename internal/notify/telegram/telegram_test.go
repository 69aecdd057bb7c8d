package telegram

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

const sendURL = "https://api.telegram.test/botTOKEN/sendMessage"

func newTestNotifier(t *testing.T, interval time.Duration) (*Notifier, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	n := New(Config{Token: "TOKEN", ChatID: "42", APIBase: "https://api.telegram.test/", MinInterval: interval},
		&http.Client{Transport: mt}, nil)
	return n, mt
}

func restockEvent() monitor.Event {
	return monitor.Event{
		Kind:   monitor.EventRestock,
		Domain: "clients.example.co.uk",
		At:     time.Date(2026, 6, 2, 9, 30, 0, 0, time.UTC),
		Product: monitor.Product{
			Domain:      "clients.example.co.uk",
			URL:         "https://clients.example.co.uk/cart.php?a=add&pid=7",
			Name:        "KVM <Mini>",
			VariantOf:   "Tokyo",
			Price:       "3.00 USD",
			Available:   monitor.InStock,
			IsSpecial:   true,
			Locations:   []string{"Tokyo", "Osaka", "Seoul"},
			CyclePrices: map[string]string{"Yearly": "30.00 USD", "Monthly": "3.00 USD"},
			Specs:       monitor.Specs{}.Set("Port", "1 Gbps").Set("Cycles", "Monthly").Set("CPU", "1 vCPU"),
			Description: strings.Repeat("d", 400),
		},
	}
}

// TestFormatRestock checks the rendered sections of a restock message.
func TestFormatRestock(t *testing.T) {
	t.Parallel()

	msg := Format(restockEvent())
	lines := strings.Split(msg, "\n")
	require.Equal(t, "🔄 <b>RESTOCK ALERT</b>  ·  <b>#example</b>", lines[0])
	require.Equal(t, "<b>⭐ Tokyo - KVM &lt;Mini&gt;</b>", lines[1])
	require.Equal(t, "🟢 In Stock  ·  💵 3.00 USD  ·  📍 Tokyo +2 more", lines[2])
	require.Contains(t, msg, "<pre>Monthly: 3.00 USD\nYearly: 30.00 USD</pre>")
	require.Contains(t, msg, "<b>Specs:</b>\n<pre>CPU: 1 vCPU\nPort: 1 Gbps</pre>")
	require.Contains(t, msg, "<i>"+strings.Repeat("d", 300)+"...</i>")
	require.Contains(t, msg, `<a href="https://clients.example.co.uk/cart.php?a=add&amp;pid=7">`)
	require.True(t, strings.HasSuffix(msg, "<code>2026-06-02T09:30:00Z</code>"))
}

// TestFormatCapsLength ensures oversized messages are cut to the API-safe size.
func TestFormatCapsLength(t *testing.T) {
	t.Parallel()

	evt := restockEvent()
	var specs monitor.Specs
	for i := range 15 {
		specs = specs.Set(strings.Repeat("k", i+1), strings.Repeat("v", 400))
	}
	evt.Product.Specs = specs
	msg := Format(evt)
	require.Equal(t, maxMessageLen, len([]rune(msg)))
}

// TestDomainTag covers suffix handling.
func TestDomainTag(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"clients.example.co.uk": "example",
		"app.vmiss.com":         "vmiss",
		"bgp.gd":                "bgp",
		"localhost":             "localhost",
		"":                      "site",
		"my-host.net":           "myhost",
	}
	for in, want := range cases {
		if got := DomainTag(in); got != want {
			t.Fatalf("DomainTag(%q): expected %q, got %q", in, want, got)
		}
	}
}

// TestNotifyPostsForm ensures the Bot API receives an HTML form post.
func TestNotifyPostsForm(t *testing.T) {
	t.Parallel()

	n, mt := newTestNotifier(t, time.Millisecond)
	var form map[string]string
	mt.RegisterResponder(http.MethodPost, sendURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		form = map[string]string{
			"chat_id":    req.PostForm.Get("chat_id"),
			"parse_mode": req.PostForm.Get("parse_mode"),
			"preview":    req.PostForm.Get("disable_web_page_preview"),
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	require.True(t, n.Notify(context.Background(), restockEvent()))
	require.Equal(t, map[string]string{"chat_id": "42", "parse_mode": "HTML", "preview": "true"}, form)
}

// TestNotifyRetriesOnceAfter429 ensures the advertised backoff is honored once.
func TestNotifyRetriesOnceAfter429(t *testing.T) {
	t.Parallel()

	n, mt := newTestNotifier(t, time.Millisecond)
	var (
		mu    sync.Mutex
		slept []time.Duration
		calls int
	)
	n.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		slept = append(slept, d)
		return nil
	}
	mt.RegisterResponder(http.MethodPost, sendURL, func(*http.Request) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return httpmock.NewStringResponse(http.StatusTooManyRequests, `{"ok":false,"parameters":{"retry_after":3}}`), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	require.True(t, n.Notify(context.Background(), restockEvent()))
	require.Equal(t, []time.Duration{3 * time.Second}, slept)
	require.Equal(t, 2, mt.GetTotalCallCount())
}

// TestNotifyGivesUpAfterSecond429 ensures a persistent 429 fails without looping.
func TestNotifyGivesUpAfterSecond429(t *testing.T) {
	t.Parallel()

	n, mt := newTestNotifier(t, time.Millisecond)
	n.sleep = func(context.Context, time.Duration) error { return nil }
	mt.RegisterResponder(http.MethodPost, sendURL, func(*http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusTooManyRequests, `{"ok":false}`)
		resp.Header.Set("Retry-After", "2")
		return resp, nil
	})

	require.False(t, n.Notify(context.Background(), restockEvent()))
	require.Equal(t, 2, mt.GetTotalCallCount())
}

// TestNotifyPacesSends ensures the owned limiter spaces consecutive sends.
func TestNotifyPacesSends(t *testing.T) {
	t.Parallel()

	n, mt := newTestNotifier(t, 60*time.Millisecond)
	mt.RegisterResponder(http.MethodPost, sendURL, httpmock.NewStringResponder(http.StatusOK, `{"ok":true}`))

	start := time.Now()
	for range 3 {
		require.True(t, n.Notify(context.Background(), restockEvent()))
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected paced sends to take at least 100ms, got %s", elapsed)
	}
}

// TestRetryAfter covers header fallback and clamping.
func TestRetryAfter(t *testing.T) {
	t.Parallel()

	require.Equal(t, 5*time.Second, retryAfter("5", []byte("not json")))
	require.Equal(t, 7*time.Second, retryAfter("5", []byte(`{"parameters":{"retry_after":7}}`)))
	require.Equal(t, time.Second, retryAfter("", nil))
	require.Equal(t, maxRetryAfter, retryAfter("3600", nil))
	require.False(t, Config{Token: "x"}.Enabled())
}
