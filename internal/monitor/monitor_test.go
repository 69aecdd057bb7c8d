package monitor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestAvailabilityJSON ensures the tri-state survives the persisted document encoding.
func TestAvailabilityJSON(t *testing.T) {
	t.Parallel()

	payload := struct {
		A Availability `json:"a"`
		B Availability `json:"b"`
		C Availability `json:"c"`
	}{A: InStock, B: OutOfStock}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.JSONEq(t, `{"a":true,"b":false,"c":null}`, string(data))

	var decoded struct {
		A Availability `json:"a"`
		B Availability `json:"b"`
		C Availability `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":true,"b":false}`), &decoded))
	require.Equal(t, InStock, decoded.A)
	require.Equal(t, OutOfStock, decoded.B)
	require.Equal(t, Unknown, decoded.C)
}

// TestSpecsKeepInsertionOrder ensures specs encode in the order they were collected.
func TestSpecsKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	var specs Specs
	specs = specs.Set("RAM", "2 GB")
	specs = specs.Set("CPU", "1 vCPU")
	specs = specs.SetDefault("RAM", "4 GB")

	data, err := json.Marshal(specs)
	require.NoError(t, err)
	if string(data) != `{"RAM":"2 GB","CPU":"1 vCPU"}` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var decoded Specs
	require.NoError(t, json.Unmarshal([]byte(`{"Disk":"20 GB","Port":1000}`), &decoded))
	require.Equal(t, Specs{{Key: "Disk", Value: "20 GB"}, {Key: "Port", Value: "1000"}}, decoded)
}

// TestRunMetaMergeKeepsIncompleteness ensures merged metadata never loses a degraded flag.
func TestRunMetaMergeKeepsIncompleteness(t *testing.T) {
	t.Parallel()

	a := RunMeta{DiscoveryStopReason: StopQueueExhausted}
	b := RunMeta{MayBeIncomplete: true, DiscoveryStopReason: StopFetchErrors, DiscoveryFetchErrors: 12}
	merged := a.Merge(b)
	if !merged.MayBeIncomplete || merged.DiscoveryStopReason != StopFetchErrors {
		t.Fatalf("expected degraded merge, got %+v", merged)
	}
	if merged.Complete() {
		t.Fatalf("expected incomplete run")
	}
	if merged.DiscoveryFetchErrors != 12 {
		t.Fatalf("expected 12 fetch errors, got %d", merged.DiscoveryFetchErrors)
	}
}

// TestProductCloneIsDeep ensures clones never alias maps or slices.
func TestProductCloneIsDeep(t *testing.T) {
	t.Parallel()

	p := Product{Locations: []string{"NY"}, CyclePrices: map[string]string{"Monthly": "1.00 USD"}}
	c := p.Clone()
	c.Locations[0] = "LA"
	c.CyclePrices["Monthly"] = "2.00 USD"
	if p.Locations[0] != "NY" || p.CyclePrices["Monthly"] != "1.00 USD" {
		t.Fatalf("expected original untouched, got %+v", p)
	}
}
