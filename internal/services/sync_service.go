package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/config"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

// ConnectivitySKU marks the single audit record written when a store fails
// its connectivity check.
const ConnectivitySKU = "*"

// SyncService pushes local quantities to every connected store
type SyncService struct {
	runs      repository.SyncRunRepositoryInterface
	products  repository.ProductRepositoryInterface
	stores    *StoreService
	audit     *AuditService
	publisher EventPublisher
	limiters  *StoreLimiters
	retrier   *clients.Retrier
	config    config.SyncConfig
	logger    *logrus.Entry

	activeRuns map[uuid.UUID]context.CancelFunc
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewSyncService creates a new sync service
func NewSyncService(
	runs repository.SyncRunRepositoryInterface,
	products repository.ProductRepositoryInterface,
	stores *StoreService,
	audit *AuditService,
	publisher EventPublisher,
	cfg config.SyncConfig,
	logger *logrus.Logger,
) *SyncService {
	retryConfig := clients.DefaultRetryConfig()
	retryConfig.MaxRetries = cfg.MaxRetries
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}

	s := &SyncService{
		runs:       runs,
		products:   products,
		stores:     stores,
		audit:      audit,
		publisher:  publisher,
		limiters:   NewStoreLimiters(cfg.CallDelay),
		retrier:    clients.NewRetrier(retryConfig),
		config:     cfg,
		logger:     logger.WithField("component", "sync"),
		activeRuns: make(map[uuid.UUID]context.CancelFunc),
	}
	if stores != nil {
		stores.OnDelete(func(_ context.Context, domain string) {
			s.limiters.Forget(domain)
		})
	}
	return s
}

// SetRetrier replaces the retry policy for inventory writes
func (s *SyncService) SetRetrier(retrier *clients.Retrier) {
	s.retrier = retrier
}

// SyncRequest selects what to push
type SyncRequest struct {
	Type        models.SyncType `json:"type"`
	SKUs        []string        `json:"skus,omitempty"`
	TriggeredBy string          `json:"triggeredBy,omitempty"`
}

// UnitSuccess is a completed push of one product to one store
type UnitSuccess struct {
	RemoteProductID int64
	RemoteVariantID int64
	OldQuantity     int
	NewQuantity     int
	Version         int64
	Duration        time.Duration
}

// SyncFailure is a push that did not happen or did not complete
type SyncFailure struct {
	Reason string
	// NotFound is set when the store has no variant with the SKU.
	NotFound bool
	// Skipped is set when the unit was never attempted remotely.
	Skipped           bool
	AttemptedQuantity int
	RemoteProductID   *int64
	RemoteVariantID   *int64
	Duration          time.Duration
}

// UnitResult is the outcome of one (product, store) unit. Exactly one of
// Success and Failure is set.
type UnitResult struct {
	SKU         string
	ProductName string
	Success     *UnitSuccess
	Failure     *SyncFailure
}

// StartSync validates the request, records a run and executes it in the
// background. The returned run is in RUNNING state.
func (s *SyncService) StartSync(ctx context.Context, req SyncRequest) (*models.SyncRun, error) {
	req, products, stores, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	run := &models.SyncRun{
		ID:          uuid.New(),
		SyncType:    req.Type,
		Status:      models.SyncRunRunning,
		TriggeredBy: req.TriggeredBy,
		StartedAt:   time.Now(),
	}
	if req.Type != models.SyncTypeFull {
		run.SetSKUs(req.SKUs)
	}
	run.SetSummary(&models.RunSummary{Stores: []models.StoreSummary{}})

	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	s.mu.Lock()
	s.activeRuns[run.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(runCtx, run, req, products, stores)

	s.logger.WithFields(logrus.Fields{
		"runId":    run.ID,
		"syncType": run.SyncType,
		"products": len(products),
		"stores":   len(stores),
	}).Info("Sync run started")

	return run, nil
}

// RunSync validates and executes a sync synchronously without a run row
func (s *SyncService) RunSync(ctx context.Context, req SyncRequest) (*models.RunSummary, error) {
	req, products, stores, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, nil, req, products, stores), nil
}

// CancelRun stops a running sync before its next unit
func (s *SyncService) CancelRun(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, exists := s.activeRuns[id]
	s.mu.Unlock()

	if !exists {
		return ErrRunNotFound
	}

	cancel()
	s.logger.WithField("runId", id).Info("Sync run cancellation requested")
	return nil
}

// HasActiveRuns reports whether any run is executing
func (s *SyncService) HasActiveRuns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeRuns) > 0
}

// GetRun retrieves a sync run by ID
func (s *SyncService) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns lists sync runs newest first
func (s *SyncService) ListRuns(ctx context.Context, opts repository.SyncRunListOptions) ([]models.SyncRun, int64, error) {
	if opts.Limit <= 0 || opts.Limit > 200 {
		opts.Limit = 20
	}
	return s.runs.ListRuns(ctx, opts)
}

// GetStats retrieves sync statistics
func (s *SyncService) GetStats(ctx context.Context) (*repository.SyncStats, error) {
	return s.runs.GetStats(ctx)
}

// RecoverInterruptedRuns fails runs a previous process left RUNNING
func (s *SyncService) RecoverInterruptedRuns(ctx context.Context) (int64, error) {
	n, err := s.runs.MarkInterruptedRuns(ctx, "interrupted by service restart")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.WithField("runs", n).Warn("Marked interrupted sync runs as failed")
	}
	return n, nil
}

// Shutdown cancels active runs and waits for them to record their state
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, cancel := range s.activeRuns {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare validates the request and loads the products and stores. It
// rejects before any remote call.
func (s *SyncService) prepare(ctx context.Context, req SyncRequest) (SyncRequest, []models.Product, []models.Store, error) {
	if req.Type == "" {
		req.Type = models.SyncTypeFull
	}
	if strings.TrimSpace(req.TriggeredBy) == "" {
		req.TriggeredBy = models.DefaultActor
	}
	req.SKUs = normalizeSKUs(req.SKUs)

	switch req.Type {
	case models.SyncTypeFull:
		req.SKUs = nil
	case models.SyncTypeSingle:
		if len(req.SKUs) != 1 {
			return req, nil, nil, newValidationError("skus", "exactly one SKU is required for a single sync")
		}
	case models.SyncTypeMulti:
		if len(req.SKUs) == 0 {
			return req, nil, nil, newValidationError("skus", "at least one SKU is required")
		}
	default:
		return req, nil, nil, newValidationError("type", fmt.Sprintf("unknown sync type %q", req.Type))
	}

	stores, err := s.stores.ConnectedStores(ctx)
	if err != nil {
		return req, nil, nil, fmt.Errorf("failed to list stores: %w", err)
	}
	if len(stores) == 0 {
		return req, nil, nil, ErrNoConnectedStores
	}

	var products []models.Product
	if req.Type == models.SyncTypeFull {
		products, err = s.products.ListAll(ctx)
	} else {
		products, err = s.products.ListBySKUs(ctx, req.SKUs)
	}
	if err != nil {
		return req, nil, nil, fmt.Errorf("failed to load products: %w", err)
	}
	if len(products) == 0 {
		return req, nil, nil, ErrNoMatchingProducts
	}

	return req, products, stores, nil
}

func normalizeSKUs(skus []string) []string {
	seen := make(map[string]bool, len(skus))
	out := make([]string, 0, len(skus))
	for _, sku := range skus {
		sku = models.NormalizeSKU(sku)
		if sku == "" || seen[sku] {
			continue
		}
		seen[sku] = true
		out = append(out, sku)
	}
	return out
}

// execute runs a recorded sync and stores its terminal state
func (s *SyncService) execute(ctx context.Context, run *models.SyncRun, req SyncRequest, products []models.Product, stores []models.Store) {
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.activeRuns[run.ID]; ok {
			cancel()
			delete(s.activeRuns, run.ID)
		}
		s.mu.Unlock()
		s.wg.Done()
	}()

	summary := s.run(ctx, &run.ID, req, products, stores)

	status := models.SyncRunCompleted
	errorMessage := ""
	if summary.Cancelled {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = models.SyncRunFailed
			errorMessage = fmt.Sprintf("sync timed out after %s", s.config.Timeout)
		} else {
			status = models.SyncRunCancelled
			errorMessage = "Cancelled by user"
		}
	}

	bg := context.WithoutCancel(ctx)
	if err := s.runs.UpdateRunSummary(bg, run.ID, summary); err != nil {
		s.logger.WithError(err).WithField("runId", run.ID).Error("Failed to store run summary")
	}
	if err := s.runs.UpdateRunStatus(bg, run.ID, status, errorMessage); err != nil {
		s.logger.WithError(err).WithField("runId", run.ID).Error("Failed to store run status")
	}

	run.Status = status
	run.ErrorMessage = errorMessage
	run.SetSummary(summary)

	if s.publisher != nil {
		if err := s.publisher.PublishSyncCompleted(bg, run, summary); err != nil {
			s.logger.WithError(err).WithField("runId", run.ID).Warn("Failed to publish sync completion")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"runId":     run.ID,
		"status":    status,
		"stores":    summary.StoresProcessed,
		"attempted": summary.ProductsAttempted,
		"updated":   summary.ProductsUpdated,
		"failed":    summary.ProductsFailed,
		"skipped":   summary.ProductsSkipped,
	}).Info("Sync run finished")
}

// run is the shared routine behind all three entry shapes
func (s *SyncService) run(ctx context.Context, runID *uuid.UUID, req SyncRequest, products []models.Product, stores []models.Store) *models.RunSummary {
	summary := &models.RunSummary{Stores: []models.StoreSummary{}}
	tracker := newSyncTracker(len(stores))

	if s.config.ParallelStores {
		results := make([]*models.StoreSummary, len(stores))
		var wg sync.WaitGroup
		for i := range stores {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ss := s.syncStore(ctx, runID, req, products, stores[i], tracker)
				results[i] = &ss
			}(i)
		}
		wg.Wait()
		for _, ss := range results {
			summary.Add(*ss)
		}
	} else {
		for i := range stores {
			if i > 0 {
				if err := sleepContext(ctx, s.config.StoreDelay); err != nil {
					break
				}
			}
			summary.Add(s.syncStore(ctx, runID, req, products, stores[i], tracker))
			if ctx.Err() != nil {
				break
			}
		}
	}

	if ctx.Err() != nil {
		summary.Cancelled = true
	}

	if versions := tracker.completed(); len(versions) > 0 {
		if err := s.products.ClearNeedsSync(context.WithoutCancel(ctx), versions); err != nil {
			s.logger.WithError(err).Error("Failed to clear needs_sync")
		}
	}

	return summary
}

// syncStore pushes every product to one store, serially
func (s *SyncService) syncStore(
	ctx context.Context,
	runID *uuid.UUID,
	req SyncRequest,
	products []models.Product,
	store models.Store,
	tracker *syncTracker,
) models.StoreSummary {
	bg := context.WithoutCancel(ctx)
	ss := models.StoreSummary{Domain: store.Domain, Name: store.Name, Connected: true}
	log := s.logger.WithField("domain", store.Domain)

	client, err := s.stores.ClientFor(ctx, &store)
	if err == nil {
		if err = s.limiters.Wait(ctx, store.Domain); err == nil {
			if result := s.stores.CheckConnectivity(ctx, &store, client); !result.OK {
				err = &clients.ConnectivityError{Domain: store.Domain, Reason: result.Error}
			}
		}
	} else {
		s.stores.MarkDisconnected(bg, &store, err.Error())
		err = &clients.ConnectivityError{Domain: store.Domain, Reason: err.Error()}
	}

	if err != nil {
		if ctx.Err() != nil {
			return ss
		}
		ss.Connected = false
		ss.Error = err.Error()
		ss.ProductsSkipped = len(products)
		log.WithError(err).Warn("Skipping store, connectivity check failed")

		_ = s.audit.RecordSyncAttempt(bg, &models.SyncAuditRecord{
			RunID:        runID,
			SKU:          ConnectivitySKU,
			ProductName:  fmt.Sprintf("%d products", len(products)),
			StoreName:    store.Name,
			StoreDomain:  store.Domain,
			Action:       models.SyncActionFailed,
			ErrorMessage: err.Error(),
			SyncType:     req.Type,
			Actor:        req.TriggeredBy,
		})
		return ss
	}

	var synced []string
	for _, product := range products {
		if ctx.Err() != nil {
			break
		}

		unit := s.syncUnit(ctx, client, store, product.SKU)
		s.recordUnit(bg, runID, req, store, unit)

		switch {
		case unit.Success != nil:
			ss.ProductsAttempted++
			ss.ProductsUpdated++
			synced = append(synced, unit.SKU)
			tracker.recordSuccess(unit.SKU, unit.Success.Version)
		case unit.Failure.Skipped:
			ss.ProductsSkipped++
		default:
			ss.ProductsAttempted++
			ss.ProductsFailed++
		}
	}

	now := time.Now()
	s.stores.TouchLastSync(bg, &store, now)
	if len(synced) > 0 {
		if err := s.products.MarkSynced(bg, synced, now); err != nil {
			log.WithError(err).Error("Failed to mark products synced")
		}
	}

	log.WithFields(logrus.Fields{
		"attempted": ss.ProductsAttempted,
		"updated":   ss.ProductsUpdated,
		"failed":    ss.ProductsFailed,
		"skipped":   ss.ProductsSkipped,
	}).Info("Store sync finished")

	return ss
}

// syncUnit pushes one product to one store. It never panics or returns an
// error; every outcome is a UnitResult.
func (s *SyncService) syncUnit(ctx context.Context, client clients.CatalogClient, store models.Store, sku string) (result UnitResult) {
	start := time.Now()
	result.SKU = sku

	fail := func(f *SyncFailure) UnitResult {
		f.Duration = time.Since(start)
		result.Success = nil
		result.Failure = f
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"domain": store.Domain,
				"sku":    sku,
				"panic":  r,
			}).Error("Recovered panic in sync unit")
			result = fail(&SyncFailure{Reason: fmt.Sprintf("unexpected error: %v", r)})
		}
	}()

	// Fresh read so the pushed quantity is the current one
	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		if repository.IsNotFound(err) {
			return fail(&SyncFailure{Reason: "product no longer exists locally", Skipped: true})
		}
		return fail(&SyncFailure{Reason: fmt.Sprintf("failed to read product: %v", err)})
	}
	result.ProductName = product.Name

	if err := s.limiters.Wait(ctx, store.Domain); err != nil {
		return fail(&SyncFailure{Reason: err.Error(), AttemptedQuantity: product.Quantity})
	}

	match, found, err := client.FindVariantBySku(ctx, product.SKU)
	if err != nil {
		return fail(&SyncFailure{
			Reason:            fmt.Sprintf("lookup failed: %v", err),
			AttemptedQuantity: product.Quantity,
		})
	}
	if !found {
		return fail(&SyncFailure{
			Reason:            fmt.Sprintf("SKU %s not found in store %s", product.SKU, store.Domain),
			NotFound:          true,
			AttemptedQuantity: product.Quantity,
		})
	}

	retry := s.retrier.Do(ctx, "set inventory level", func(ctx context.Context) error {
		if err := s.limiters.Wait(ctx, store.Domain); err != nil {
			return err
		}
		return client.SetInventoryLevel(ctx, match.InventoryItemID, product.Quantity, 0)
	})
	if retry.LastError != nil {
		return fail(&SyncFailure{
			Reason:            retry.LastError.Error(),
			AttemptedQuantity: product.Quantity,
			RemoteProductID:   &match.ProductID,
			RemoteVariantID:   &match.VariantID,
		})
	}

	result.Success = &UnitSuccess{
		RemoteProductID: match.ProductID,
		RemoteVariantID: match.VariantID,
		OldQuantity:     match.CurrentQuantity,
		NewQuantity:     product.Quantity,
		Version:         product.Version,
		Duration:        time.Since(start),
	}
	return result
}

// recordUnit writes the audit record for a unit result
func (s *SyncService) recordUnit(ctx context.Context, runID *uuid.UUID, req SyncRequest, store models.Store, unit UnitResult) {
	record := &models.SyncAuditRecord{
		RunID:       runID,
		SKU:         unit.SKU,
		ProductName: unit.ProductName,
		StoreName:   store.Name,
		StoreDomain: store.Domain,
		SyncType:    req.Type,
		Actor:       req.TriggeredBy,
	}

	if unit.Success != nil {
		old := unit.Success.OldQuantity
		productID, variantID := unit.Success.RemoteProductID, unit.Success.RemoteVariantID
		record.Action = models.SyncActionSuccess
		record.OldQuantity = &old
		record.NewQuantity = unit.Success.NewQuantity
		record.RemoteProductID = &productID
		record.RemoteVariantID = &variantID
		record.DurationMs = unit.Success.Duration.Milliseconds()
	} else {
		f := unit.Failure
		record.Action = models.SyncActionFailed
		if f.Skipped {
			record.Action = models.SyncActionSkipped
		}
		record.NewQuantity = f.AttemptedQuantity
		record.ErrorMessage = f.Reason
		record.RemoteProductID = f.RemoteProductID
		record.RemoteVariantID = f.RemoteVariantID
		record.DurationMs = f.Duration.Milliseconds()
	}

	_ = s.audit.RecordSyncAttempt(ctx, record)
}

// syncTracker collects per-product success across stores
type syncTracker struct {
	mu         sync.Mutex
	stores     int
	succeeded  map[string]int
	versions   map[string]int64
	mismatched map[string]bool
}

func newSyncTracker(stores int) *syncTracker {
	return &syncTracker{
		stores:     stores,
		succeeded:  make(map[string]int),
		versions:   make(map[string]int64),
		mismatched: make(map[string]bool),
	}
}

func (t *syncTracker) recordSuccess(sku string, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.versions[sku]; ok && prev != version {
		t.mismatched[sku] = true
	}
	t.versions[sku] = version
	t.succeeded[sku]++
}

// completed returns the pushed version of every product that succeeded in
// every store with the same version.
func (t *syncTracker) completed() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int64)
	for sku, n := range t.succeeded {
		if n == t.stores && !t.mismatched[sku] {
			out[sku] = t.versions[sku]
		}
	}
	return out
}
