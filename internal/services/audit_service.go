package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

// ActiveRunChecker reports whether any sync run is executing
type ActiveRunChecker interface {
	HasActiveRuns() bool
}

// AuditService is the append-only writer and reader for both audit kinds
type AuditService struct {
	repo   repository.AuditRepositoryInterface
	runs   ActiveRunChecker
	logger *logrus.Entry
}

// NewAuditService creates a new audit service
func NewAuditService(repo repository.AuditRepositoryInterface, logger *logrus.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		logger: logger.WithField("component", "audit"),
	}
}

// SetActiveRunChecker guards destructive operations against running syncs
func (s *AuditService) SetActiveRunChecker(runs ActiveRunChecker) {
	s.runs = runs
}

// RecordStockChange appends a stock audit record
func (s *AuditService) RecordStockChange(ctx context.Context, record *models.StockAuditRecord) error {
	record.QuantityChange = record.NewQuantity - record.OldQuantity
	if err := s.repo.CreateStockRecord(ctx, record); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"sku":    record.SKU,
			"action": record.Action,
		}).Error("Failed to write stock audit record")
		return fmt.Errorf("failed to record stock change: %w", err)
	}
	return nil
}

// RecordSyncAttempt appends a sync audit record
func (s *AuditService) RecordSyncAttempt(ctx context.Context, record *models.SyncAuditRecord) error {
	record.Normalize()
	if err := s.repo.CreateSyncRecord(ctx, record); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"sku":    record.SKU,
			"store":  record.StoreDomain,
			"action": record.Action,
		}).Error("Failed to write sync audit record")
		return fmt.Errorf("failed to record sync attempt: %w", err)
	}
	return nil
}

// ListStockRecords lists stock audit records newest first
func (s *AuditService) ListStockRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.StockAuditRecord, int64, error) {
	return s.repo.ListStockRecords(ctx, clampAuditOptions(opts))
}

// ListSyncRecords lists sync audit records newest first
func (s *AuditService) ListSyncRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.SyncAuditRecord, int64, error) {
	return s.repo.ListSyncRecords(ctx, clampAuditOptions(opts))
}

// ProductTrail is both audit kinds for one SKU
type ProductTrail struct {
	SKU          string                    `json:"sku"`
	StockRecords []models.StockAuditRecord `json:"stockRecords"`
	SyncRecords  []models.SyncAuditRecord  `json:"syncRecords"`
}

// ProductTrail returns the most recent audit history of one SKU
func (s *AuditService) ProductTrail(ctx context.Context, sku string, limit int) (*ProductTrail, error) {
	sku = models.NormalizeSKU(sku)
	if sku == "" {
		return nil, newValidationError("sku", "is required")
	}
	opts := clampAuditOptions(repository.AuditListOptions{SKU: sku, Limit: limit})

	stock, _, err := s.repo.ListStockRecords(ctx, opts)
	if err != nil {
		return nil, err
	}
	syncRecords, _, err := s.repo.ListSyncRecords(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &ProductTrail{SKU: sku, StockRecords: stock, SyncRecords: syncRecords}, nil
}

// ResetAuditHistory deletes all audit history and sync bookkeeping.
// Products and stores are kept.
func (s *AuditService) ResetAuditHistory(ctx context.Context) (*repository.ResetCounts, error) {
	if s.runs != nil && s.runs.HasActiveRuns() {
		return nil, ErrSyncInProgress
	}
	counts, err := s.repo.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reset audit history: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"stockRecords": counts.StockRecords,
		"syncRecords":  counts.SyncRecords,
		"syncRuns":     counts.SyncRuns,
	}).Warn("Audit history reset")
	return counts, nil
}

// ExportAll returns the complete audit history
func (s *AuditService) ExportAll(ctx context.Context) (*models.AuditSnapshot, error) {
	return s.repo.Export(ctx)
}

// ImportSnapshot inserts a previously exported history alongside existing rows
func (s *AuditService) ImportSnapshot(ctx context.Context, snapshot *models.AuditSnapshot) (*repository.ImportCounts, error) {
	if snapshot == nil {
		return nil, newValidationError("snapshot", "is required")
	}
	for i := range snapshot.StockRecords {
		if snapshot.StockRecords[i].SKU == "" {
			return nil, newValidationError("stockRecords", fmt.Sprintf("record %d has no sku", i))
		}
	}
	for i := range snapshot.SyncRecords {
		if snapshot.SyncRecords[i].SKU == "" {
			return nil, newValidationError("syncRecords", fmt.Sprintf("record %d has no sku", i))
		}
	}

	counts, err := s.repo.Import(ctx, snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to import audit snapshot: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"stockRecords": counts.StockRecords,
		"syncRecords":  counts.SyncRecords,
		"syncRuns":     counts.SyncRuns,
	}).Info("Audit snapshot imported")
	return counts, nil
}

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

func clampAuditOptions(opts repository.AuditListOptions) repository.AuditListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultAuditLimit
	}
	if opts.Limit > maxAuditLimit {
		opts.Limit = maxAuditLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}
