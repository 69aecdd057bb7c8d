package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/vps-stock-monitor/internal/monitor"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)

	started := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	run := monitor.DomainRun{
		Domain:     "shop.example",
		OK:         true,
		DurationMS: 1500,
		Products: []monitor.Product{
			{ID: "a", Available: monitor.InStock},
			{ID: "b", Available: monitor.OutOfStock},
		},
		Meta: monitor.RunMeta{DiscoveryStopReason: monitor.StopFetchErrors, MayBeIncomplete: true, HiddenProbes: 12},
	}

	mock.ExpectExec("INSERT INTO domain_runs").
		WithArgs(
			"run-1",
			"shop.example",
			started,
			true,
			"",
			int64(1500),
			2,
			1,
			false,
			"fetch_errors",
			12,
			pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), "run-1", started, run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "runs", "events")
	require.NoError(t, err)

	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	evt := monitor.Event{
		Kind:   monitor.EventRestock,
		Domain: "shop.example",
		At:     at,
		Product: monitor.Product{
			ID:    "shop.example::https://shop.example/cart.php?a=add&pid=1",
			Name:  "KVM 1G",
			URL:   "https://shop.example/cart.php?a=add&pid=1",
			Price: "3.00 USD",
		},
	}
	mock.ExpectExec("INSERT INTO events").
		WithArgs("run-2", "RESTOCK", "shop.example", evt.Product.ID, "KVM 1G", evt.Product.URL, "3.00 USD", true, at, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	var failures []error
	EventRecorder{Store: store, RunID: "run-2", OnFail: func(err error) { failures = append(failures, err) }}.
		ObserveEvent(context.Background(), evt, true)
	require.Empty(t, failures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventWrapsError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)
	mock.ExpectExec("INSERT INTO stock_events").WillReturnError(errors.New("db down"))

	err = store.RecordEvent(context.Background(), "run-3", monitor.Event{Kind: monitor.EventNew}, false)
	require.ErrorContains(t, err, "insert event: db down")
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS domain_runs").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS stock_events").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHistoryStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHistoryStoreWithPool(mock, "runs; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)
	require.ErrorContains(t, store.RecordRun(context.Background(), "", time.Now(), monitor.DomainRun{}), "run id is required")

	_, err = NewHistoryStore(context.Background(), HistoryStoreConfig{})
	require.Error(t, err)
}
