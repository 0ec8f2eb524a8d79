package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/config"
	"inventory-sync-service/internal/models"
)

type syncHarness struct {
	svc      *SyncService
	storeSvc *StoreService
	products *memProducts
	stores   *memStores
	audit    *memAudit
	runs     *memRuns
	fakes    map[string]*fakeCatalog
}

func newSyncHarness(t *testing.T, products []models.Product, stores []models.Store, cfg config.SyncConfig) *syncHarness {
	t.Helper()
	h := &syncHarness{
		products: newMemProducts(products...),
		stores:   newMemStores(stores...),
		audit:    &memAudit{},
		runs:     newMemRuns(),
		fakes:    make(map[string]*fakeCatalog),
	}
	for _, s := range stores {
		h.fakes[s.Domain] = newFakeCatalog(s.Domain)
	}

	logger := testLogger()
	storeSvc := NewStoreService(h.stores, h.products, newMemTokens(), catalogFactory(h.fakes), logger)
	h.storeSvc = storeSvc
	auditSvc := NewAuditService(h.audit, logger)
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Minute
	}
	h.svc = NewSyncService(h.runs, h.products, storeSvc, auditSvc, nil, cfg, logger)
	h.svc.SetRetrier(clients.NewRetrier(&clients.RetryConfig{
		MaxRetries:      2,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable},
	}))
	return h
}

func product(sku string, qty int) models.Product {
	return models.Product{ID: uuid.New(), SKU: sku, Name: "Product " + sku, Quantity: qty, NeedsSync: true, Version: 1}
}

func recordsFor(records []models.SyncAuditRecord, domain string) []models.SyncAuditRecord {
	var out []models.SyncAuditRecord
	for _, r := range records {
		if r.StoreDomain == domain {
			out = append(out, r)
		}
	}
	return out
}

func TestRunSync_PushesLocalQuantity(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 7)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	h.fakes["a.myshopify.com"].addVariant("ABC", 10, 11, 12, 3)

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.StoresProcessed)
	assert.Equal(t, 1, summary.ProductsAttempted)
	assert.Equal(t, 1, summary.ProductsUpdated)
	assert.Equal(t, 0, summary.ProductsFailed)
	assert.False(t, summary.Cancelled)

	// Mutation round trip
	assert.Equal(t, 7, h.fakes["a.myshopify.com"].quantity("ABC"))

	records := h.audit.syncRecords()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, models.SyncActionSuccess, rec.Action)
	require.NotNil(t, rec.OldQuantity)
	assert.Equal(t, 3, *rec.OldQuantity)
	assert.Equal(t, 7, rec.NewQuantity)
	assert.Equal(t, 4, rec.QuantityChange)
	assert.Equal(t, models.SyncTypeFull, rec.SyncType)
	assert.Equal(t, models.DefaultActor, rec.Actor)
	require.NotNil(t, rec.RemoteVariantID)
	assert.Equal(t, int64(11), *rec.RemoteVariantID)
	assert.Nil(t, rec.RunID)

	p := h.products.get("ABC")
	assert.False(t, p.NeedsSync)
	assert.NotNil(t, p.LastSynced)
	assert.Equal(t, 7, p.Quantity)
	assert.NotNil(t, h.stores.get("a.myshopify.com").LastSync)
}

func TestDeleteStore_DropsStoreLimiter(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 7)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	h.fakes["a.myshopify.com"].addVariant("ABC", 10, 11, 12, 3)

	_, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)
	assert.Contains(t, h.svc.limiters.limiters, "a.myshopify.com")

	require.NoError(t, h.storeSvc.DeleteStore(context.Background(), "a.myshopify.com"))
	assert.NotContains(t, h.svc.limiters.limiters, "a.myshopify.com")
}

func TestRunSync_IdempotentRerunLogsZeroDelta(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 5)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	h.fakes["a.myshopify.com"].addVariant("ABC", 1, 2, 3, 5)

	for i := 0; i < 2; i++ {
		_, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeSingle, SKUs: []string{"ABC"}})
		require.NoError(t, err)
	}

	records := h.audit.syncRecords()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, models.SyncActionSuccess, rec.Action)
		assert.Equal(t, 0, rec.QuantityChange)
		assert.Equal(t, models.SyncTypeSingle, rec.SyncType)
	}
	assert.Equal(t, 2, h.fakes["a.myshopify.com"].setCalls)
	assert.Equal(t, 5, h.products.get("ABC").Quantity)
}

func TestRunSync_ConnectivityFailureWritesOneSummaryRecord(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("P1", 1), product("P2", 2), product("P3", 3)},
		[]models.Store{
			connectedStore("a.myshopify.com", "Store A"),
			connectedStore("b.myshopify.com", "Store B"),
		},
		config.SyncConfig{})
	a := h.fakes["a.myshopify.com"]
	a.addVariant("P1", 1, 1, 1, 0)
	a.addVariant("P2", 2, 2, 2, 0)
	h.fakes["b.myshopify.com"].unreachable = "401 Unauthorized"

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.StoresProcessed)
	require.Len(t, summary.Stores, 2)

	storeA := summary.Stores[0]
	assert.Equal(t, "a.myshopify.com", storeA.Domain)
	assert.Equal(t, 3, storeA.ProductsAttempted)
	assert.Equal(t, 2, storeA.ProductsUpdated)
	assert.Equal(t, 1, storeA.ProductsFailed)

	storeB := summary.Stores[1]
	assert.False(t, storeB.Connected)
	assert.Equal(t, 3, storeB.ProductsSkipped)
	assert.Equal(t, 0, storeB.ProductsAttempted)
	assert.Contains(t, storeB.Error, "401 Unauthorized")

	records := h.audit.syncRecords()
	assert.Len(t, recordsFor(records, "a.myshopify.com"), 3)

	bRecords := recordsFor(records, "b.myshopify.com")
	require.Len(t, bRecords, 1)
	assert.Equal(t, ConnectivitySKU, bRecords[0].SKU)
	assert.Equal(t, models.SyncActionFailed, bRecords[0].Action)
	assert.Equal(t, 0, h.fakes["b.myshopify.com"].setCalls)

	stored := h.stores.get("b.myshopify.com")
	assert.False(t, stored.Connected)
	assert.Equal(t, "401 Unauthorized", stored.LastError)

	// Store B never received the quantities
	assert.True(t, h.products.get("P1").NeedsSync)
	assert.NotNil(t, h.products.get("P1").LastSynced)
}

func TestRunSync_NotFoundIsRecordedAsFailure(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("GHOST", 4)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProductsFailed)

	records := h.audit.syncRecords()
	require.Len(t, records, 1)
	assert.Equal(t, models.SyncActionFailed, records[0].Action)
	assert.Contains(t, records[0].ErrorMessage, "not found")
	assert.Nil(t, records[0].OldQuantity)
	assert.Equal(t, 0, records[0].QuantityChange)
	assert.True(t, h.products.get("GHOST").NeedsSync)
}

func TestRunSync_RetriesThrottledWrite(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 9)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	fake := h.fakes["a.myshopify.com"]
	fake.addVariant("ABC", 1, 2, 3, 0)
	fake.setErr = func(attempt int) error {
		if attempt == 1 {
			return &clients.RemoteAPIError{Method: "POST", Path: "/inventory_levels/set.json", StatusCode: http.StatusTooManyRequests, RetryAfter: time.Millisecond}
		}
		return nil
	}

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProductsUpdated)
	assert.Equal(t, 2, fake.setCalls)
	assert.Equal(t, 9, fake.quantity("ABC"))
}

func TestRunSync_RemoteErrorDoesNotAbortBatch(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("A1", 1), product("A2", 2)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	fake := h.fakes["a.myshopify.com"]
	fake.addVariant("A1", 1, 1, 1, 0)
	fake.addVariant("A2", 2, 2, 2, 0)
	fake.setErr = func(int) error {
		return &clients.RemoteAPIError{Method: "POST", Path: "/inventory_levels/set.json", StatusCode: http.StatusUnprocessableEntity, Body: "invalid"}
	}

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ProductsAttempted)
	assert.Equal(t, 2, summary.ProductsFailed)
	// 422 is not retried
	assert.Equal(t, 2, fake.setCalls)

	records := h.audit.syncRecords()
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, models.SyncActionFailed, rec.Action)
		assert.Contains(t, rec.ErrorMessage, "422")
		assert.NotNil(t, rec.RemoteVariantID)
	}
}

func TestRunSync_PanicBecomesFailure(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 1)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	h.fakes["a.myshopify.com"].panicOnFind = true

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ProductsFailed)

	records := h.audit.syncRecords()
	require.Len(t, records, 1)
	assert.Contains(t, records[0].ErrorMessage, "unexpected error")
}

func TestRunSync_ConcurrentStockChangeKeepsNeedsSync(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 5)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	fake := h.fakes["a.myshopify.com"]
	fake.addVariant("ABC", 1, 2, 3, 0)
	fake.onSet = func() {
		ok, err := h.products.CompareAndSetQuantity(context.Background(), "ABC", 1, 8)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)

	p := h.products.get("ABC")
	assert.Equal(t, 8, p.Quantity)
	assert.True(t, p.NeedsSync, "a newer local quantity must still be pushed")
}

func TestRunSync_ParallelStores(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 6)},
		[]models.Store{
			connectedStore("a.myshopify.com", "Store A"),
			connectedStore("b.myshopify.com", "Store B"),
		},
		config.SyncConfig{ParallelStores: true})
	h.fakes["a.myshopify.com"].addVariant("ABC", 1, 2, 3, 1)
	h.fakes["b.myshopify.com"].addVariant("ABC", 4, 5, 6, 2)

	summary, err := h.svc.RunSync(context.Background(), SyncRequest{Type: models.SyncTypeMulti, SKUs: []string{"ABC", " ABC "}})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.StoresProcessed)
	assert.Equal(t, 2, summary.ProductsUpdated)
	assert.Equal(t, "a.myshopify.com", summary.Stores[0].Domain)
	assert.Equal(t, 6, h.fakes["a.myshopify.com"].quantity("ABC"))
	assert.Equal(t, 6, h.fakes["b.myshopify.com"].quantity("ABC"))
	assert.False(t, h.products.get("ABC").NeedsSync)
}

func TestRunSync_RejectsBeforeRemoteCalls(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 1)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	ctx := context.Background()

	_, err := h.svc.RunSync(ctx, SyncRequest{Type: models.SyncTypeMulti, SKUs: []string{" ", ""}})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.RunSync(ctx, SyncRequest{Type: models.SyncTypeSingle, SKUs: []string{"A", "B"}})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.RunSync(ctx, SyncRequest{Type: "weekly"})
	assert.True(t, IsValidationError(err))

	_, err = h.svc.RunSync(ctx, SyncRequest{Type: models.SyncTypeMulti, SKUs: []string{"NOPE"}})
	assert.ErrorIs(t, err, ErrNoMatchingProducts)

	empty := newSyncHarness(t, []models.Product{product("ABC", 1)}, nil, config.SyncConfig{})
	_, err = empty.svc.RunSync(ctx, SyncRequest{Type: models.SyncTypeFull})
	assert.ErrorIs(t, err, ErrNoConnectedStores)

	assert.Equal(t, 0, h.fakes["a.myshopify.com"].findCalls)
	assert.Empty(t, h.audit.syncRecords())
}

func waitForRun(t *testing.T, runs *memRuns, id uuid.UUID) {
	t.Helper()
	select {
	case done := <-runs.done:
		require.Equal(t, id, done)
	case <-time.After(5 * time.Second):
		t.Fatal("sync run did not finish")
	}
}

func TestStartSync_CompletesInBackground(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("ABC", 2)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	h.fakes["a.myshopify.com"].addVariant("ABC", 1, 2, 3, 0)

	run, err := h.svc.StartSync(context.Background(), SyncRequest{Type: models.SyncTypeSingle, SKUs: []string{"ABC"}, TriggeredBy: "ops@example.com"})
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunRunning, run.Status)
	assert.Equal(t, []string{"ABC"}, run.GetSKUs())

	waitForRun(t, h.runs, run.ID)
	require.NoError(t, h.svc.Shutdown(context.Background()))

	stored, err := h.svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, stored.GetSummary().ProductsUpdated)

	records := h.audit.syncRecords()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].RunID)
	assert.Equal(t, run.ID, *records[0].RunID)
	assert.Equal(t, "ops@example.com", records[0].Actor)
	assert.False(t, h.svc.HasActiveRuns())
}

func TestCancelRun_StopsBeforeNextUnit(t *testing.T) {
	h := newSyncHarness(t,
		[]models.Product{product("P1", 1), product("P2", 2), product("P3", 3)},
		[]models.Store{connectedStore("a.myshopify.com", "Store A")},
		config.SyncConfig{})
	fake := h.fakes["a.myshopify.com"]
	fake.addVariant("P1", 1, 1, 1, 0)
	fake.addVariant("P2", 2, 2, 2, 0)
	fake.addVariant("P3", 3, 3, 3, 0)

	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	fake.onSet = func() {
		if first {
			first = false
			close(started)
			<-release
		}
	}

	run, err := h.svc.StartSync(context.Background(), SyncRequest{Type: models.SyncTypeFull})
	require.NoError(t, err)

	<-started
	assert.True(t, h.svc.HasActiveRuns())
	require.NoError(t, h.svc.CancelRun(context.Background(), run.ID))
	close(release)

	waitForRun(t, h.runs, run.ID)
	require.NoError(t, h.svc.Shutdown(context.Background()))

	stored, err := h.svc.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunCancelled, stored.Status)

	summary := stored.GetSummary()
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 1, summary.ProductsAttempted)
	assert.Len(t, h.audit.syncRecords(), 1)

	assert.ErrorIs(t, h.svc.CancelRun(context.Background(), run.ID), ErrRunNotFound)
}

func TestGetRun_NotFound(t *testing.T) {
	h := newSyncHarness(t, nil, nil, config.SyncConfig{})
	_, err := h.svc.GetRun(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRecoverInterruptedRuns(t *testing.T) {
	h := newSyncHarness(t, nil, nil, config.SyncConfig{})
	stale := &models.SyncRun{ID: uuid.New(), SyncType: models.SyncTypeFull, Status: models.SyncRunRunning}
	require.NoError(t, h.runs.CreateRun(context.Background(), stale))

	n, err := h.svc.RecoverInterruptedRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := h.runs.GetRun(context.Background(), stale.ID)
	assert.Equal(t, models.SyncRunFailed, got.Status)
}

func TestRecoverInterruptedRuns_WarnsOnce(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	runs := newMemRuns()
	svc := NewSyncService(runs, newMemProducts(), nil, nil, nil, config.SyncConfig{}, logger)

	n, err := svc.RecoverInterruptedRuns(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Empty(t, hook.AllEntries())

	require.NoError(t, runs.CreateRun(context.Background(), &models.SyncRun{ID: uuid.New(), SyncType: models.SyncTypeFull, Status: models.SyncRunRunning}))
	_, err = svc.RecoverInterruptedRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, int64(1), hook.LastEntry().Data["runs"])
}

func TestSyncTracker_RequiresEveryStoreAndOneVersion(t *testing.T) {
	tr := newSyncTracker(2)
	tr.recordSuccess("A", 3)
	tr.recordSuccess("A", 3)
	tr.recordSuccess("B", 1)
	tr.recordSuccess("C", 1)
	tr.recordSuccess("C", 2)

	assert.Equal(t, map[string]int64{"A": 3}, tr.completed())
}
