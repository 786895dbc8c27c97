package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collectbook/internal/amqp"
	"collectbook/internal/anomaly"
	"collectbook/internal/core"
	"collectbook/internal/ports"
	"collectbook/internal/services"
	"collectbook/internal/storage/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExporter struct {
	mu   sync.Mutex
	rows []core.CollectionRecord
	err  error
}

func (f *fakeExporter) AppendCollection(_ context.Context, r core.CollectionRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.rows = append(f.rows, r)
	return "Collections!A2:G2", nil
}

type fixture struct {
	store    *memory.Store
	worker   *AnomalyWorker
	exporter *fakeExporter
	contract core.Contract
	march    core.CollectionRecord
}

// newFixture stores 1000 in February 2025 and 2000 in March 2025 for one
// customer on one site, a +100% month over month jump.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	customer, err := store.CreateCustomer(ctx, core.Customer{Code: "C1", Name: "Acme"})
	require.NoError(t, err)
	site, err := store.CreateSite(ctx, core.Site{Code: "S1", Name: "Yard"})
	require.NoError(t, err)
	contract, err := store.CreateContract(ctx, core.Contract{
		CustomerID: customer.ID, Number: "K-1", Title: "Service",
		Amount: decimal.NewFromInt(10000), Status: core.ContractActive,
	})
	require.NoError(t, err)

	add := func(amount int64, on core.Date) core.CollectionRecord {
		r, err := store.CreateCollection(ctx, core.CollectionRecord{
			ContractID: contract.ID, CustomerID: customer.ID, SiteID: site.ID,
			Amount: decimal.NewFromInt(amount), CollectedOn: on, Method: core.MethodTransfer,
		})
		require.NoError(t, err)
		return r
	}
	add(1000, core.NewDate(2025, 2, 10))
	march := add(2000, core.NewDate(2025, 3, 10))

	svc := services.NewAnomalyService(store, anomaly.NewDetector(anomaly.DefaultThresholds()), nil)
	exporter := &fakeExporter{}
	w := NewAnomalyWorker(svc, store, exporter, nil)
	w.now = func() time.Time { return time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC) }

	return &fixture{store: store, worker: w, exporter: exporter, contract: contract, march: march}
}

func TestHandleCollectionEvent_RecordsAlertsAndExports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, ev))

	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	// customer, site and overall scopes all jumped
	require.Len(t, alerts, 3)
	for _, a := range alerts {
		assert.Equal(t, anomaly.LevelWarning, a.Level)
		assert.Equal(t, core.Period{Year: 2025, Month: 3}, a.Period)
		assert.Contains(t, a.Reason, "+100.0%")
	}

	require.Len(t, f.exporter.rows, 1)
	assert.Equal(t, f.march.ID, f.exporter.rows[0].ID)

	// redelivery replaces alerts instead of duplicating them
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, ev))
	alerts, err = f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 3)
}

func TestHandleCollectionEvent_ClearsResolvedAlerts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, ev))
	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	// the March payment is corrected to an amount in line with February
	require.NoError(t, f.store.DeleteCollection(ctx, f.march.ID))
	smaller, err := f.store.CreateCollection(ctx, core.CollectionRecord{
		ContractID: f.contract.ID, CustomerID: f.march.CustomerID, SiteID: f.march.SiteID,
		Amount: decimal.NewFromInt(1100), CollectedOn: core.NewDate(2025, 3, 12), Method: core.MethodTransfer,
	})
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleCollectionEvent(ctx, amqp.NewCollectionEvent(amqp.EventCollectionRecorded, smaller)))
	alerts, err = f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestHandleCollectionEvent_RechecksLaterPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.worker.HandleCollectionEvent(ctx, amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)))
	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 3)

	// a backdated February payment makes February the baseline March matches
	feb, err := f.store.CreateCollection(ctx, core.CollectionRecord{
		ContractID: f.contract.ID, CustomerID: f.march.CustomerID, SiteID: f.march.SiteID,
		Amount: decimal.NewFromInt(1000), CollectedOn: core.NewDate(2025, 2, 20), Method: core.MethodTransfer,
	})
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleCollectionEvent(ctx, amqp.NewCollectionEvent(amqp.EventCollectionRecorded, feb)))
	alerts, err = f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts, "March alerts must be re-evaluated against the new February total")
}

func TestHandleCollectionEvent_SkipsFuturePeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// April 2025 would be a zero total, but it has not started yet
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)))
	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	for _, a := range alerts {
		assert.Equal(t, core.Period{Year: 2025, Month: 3}, a.Period)
	}
}

func TestHandleCollectionEvent_InactiveScopeKeepsNoAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	march := core.Period{Year: 2025, Month: 3}

	newcomer, err := f.store.CreateCustomer(ctx, core.Customer{Code: "C2", Name: "Newcomer"})
	require.NoError(t, err)
	contract, err := f.store.CreateContract(ctx, core.Contract{
		CustomerID: newcomer.ID, Number: "K-2", Title: "Trial",
		Amount: decimal.NewFromInt(500), Status: core.ContractActive,
	})
	require.NoError(t, err)
	only, err := f.store.CreateCollection(ctx, core.CollectionRecord{
		ContractID: contract.ID, CustomerID: newcomer.ID,
		Amount: decimal.NewFromInt(500), CollectedOn: core.NewDate(2025, 3, 5), Method: core.MethodCash,
	})
	require.NoError(t, err)

	// a stale alert left from before is cleared too
	_, err = f.store.SaveAlert(ctx, ports.Alert{
		Scope: ports.Scope{CustomerID: newcomer.ID}, Period: march,
		Level: anomaly.LevelWarning, Reason: "current total is 0",
	})
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteCollection(ctx, only.ID))
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, amqp.NewCollectionEvent(amqp.EventCollectionDeleted, only)))

	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	for _, a := range alerts {
		assert.NotEqual(t, newcomer.ID, a.Scope.CustomerID, "customer without activity must not keep an alert")
	}

	reports, err := f.worker.ScanCurrentPeriod(ctx)
	require.NoError(t, err)
	for _, r := range reports {
		assert.NotEqual(t, newcomer.ID, r.Scope.CustomerID)
	}
}

func TestHandleCollectionEvent_DeletedSkipsExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.DeleteCollection(ctx, f.march.ID))

	ev := amqp.NewCollectionEvent(amqp.EventCollectionDeleted, f.march)
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, ev))
	assert.Empty(t, f.exporter.rows)

	// a recorded event whose row is already gone is not retried
	ev = amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)
	require.NoError(t, f.worker.HandleCollectionEvent(ctx, ev))
	assert.Empty(t, f.exporter.rows)
}

func TestHandleCollectionEvent_ExportFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	f.exporter.err = errors.New("quota exceeded")

	ev := amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)
	err := f.worker.HandleCollectionEvent(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestHandleCollectionEvent_WithoutExporter(t *testing.T) {
	f := newFixture(t)
	f.worker.exporter = nil

	ev := amqp.NewCollectionEvent(amqp.EventCollectionRecorded, f.march)
	assert.NoError(t, f.worker.HandleCollectionEvent(context.Background(), ev))
}

func TestScanCurrentPeriod(t *testing.T) {
	f := newFixture(t)

	reports, err := f.worker.ScanCurrentPeriod(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 3)
	for _, r := range reports {
		assert.Equal(t, core.Period{Year: 2025, Month: 3}, r.Period)
		assert.True(t, r.Current.Equal(decimal.NewFromInt(2000)))
	}
}

func TestScanner_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := NewScanner(f.worker, time.Hour)
	assert.False(t, s.IsRunning())

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(ctx), "second start must fail")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.False(t, s.IsRunning())

	// the startup scan completes before the loop observes the stop
	alerts, err := f.store.ListAlerts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 3)

	assert.NoError(t, s.Stop(stopCtx), "stopping twice is a no-op")
}
