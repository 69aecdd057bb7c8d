package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures domain and stage collectors follow events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageDomainStart, Domain: "a.example"},
		{RunID: runID, TS: now, Stage: progress.StageDomainStart, Domain: "b.example"},
		{
			RunID:    runID,
			TS:       now.Add(5 * time.Second),
			Stage:    progress.StageDiscovery,
			Domain:   "a.example",
			Pages:    14,
			Products: 9,
			Dur:      4 * time.Second,
		},
		{RunID: runID, TS: now.Add(10 * time.Second), Stage: progress.StageDomainDone, Domain: "a.example", Dur: 10 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.domainsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.domainsCompleted.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.domainsRunning))
	require.InDelta(t, 14.0, testutil.ToFloat64(sink.stagePages.WithLabelValues("a.example", string(progress.StageDiscovery))), 1e-9)
	require.InDelta(t, 9.0, testutil.ToFloat64(sink.stageProducts.WithLabelValues("a.example", string(progress.StageDiscovery))), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.stageDuration, "stockmon_stage_duration_seconds"))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now.Add(20 * time.Second), Stage: progress.StageDomainError, Domain: "b.example", Note: "fetch failed"},
		{RunID: runID, TS: now.Add(21 * time.Second), Stage: progress.StageDomainError, Domain: "b.example"},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.domainsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.domainsRunning))
}
