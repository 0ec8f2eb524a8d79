package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"inventory-sync-service/internal/models"
)

// AuditRepositoryInterface is the append-only audit store
type AuditRepositoryInterface interface {
	CreateStockRecord(ctx context.Context, record *models.StockAuditRecord) error
	CreateSyncRecord(ctx context.Context, record *models.SyncAuditRecord) error
	ListStockRecords(ctx context.Context, opts AuditListOptions) ([]models.StockAuditRecord, int64, error)
	ListSyncRecords(ctx context.Context, opts AuditListOptions) ([]models.SyncAuditRecord, int64, error)
	Reset(ctx context.Context) (*ResetCounts, error)
	Export(ctx context.Context) (*models.AuditSnapshot, error)
	Import(ctx context.Context, snapshot *models.AuditSnapshot) (*ImportCounts, error)
}

// AuditListOptions contains options for listing audit records
type AuditListOptions struct {
	SKU         string
	StoreDomain string
	Action      string
	SyncType    string
	BatchID     *uuid.UUID
	RunID       *uuid.UUID
	StartDate   time.Time
	EndDate     time.Time
	Limit       int
	Offset      int
}

// ResetCounts reports what a reset removed
type ResetCounts struct {
	StockRecords int64 `json:"stockRecords"`
	SyncRecords  int64 `json:"syncRecords"`
	SyncRuns     int64 `json:"syncRuns"`
}

// ImportCounts reports what an import inserted
type ImportCounts struct {
	StockRecords int `json:"stockRecords"`
	SyncRecords  int `json:"syncRecords"`
	SyncRuns     int `json:"syncRuns"`
}

// AuditRepository handles database operations for audit records
type AuditRepository struct {
	db *gorm.DB
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateStockRecord appends a stock audit record
func (r *AuditRepository) CreateStockRecord(ctx context.Context, record *models.StockAuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// CreateSyncRecord appends a sync audit record
func (r *AuditRepository) CreateSyncRecord(ctx context.Context, record *models.SyncAuditRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListStockRecords retrieves stock audit records newest first
func (r *AuditRepository) ListStockRecords(ctx context.Context, opts AuditListOptions) ([]models.StockAuditRecord, int64, error) {
	var records []models.StockAuditRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.StockAuditRecord{})
	if opts.SKU != "" {
		query = query.Where("sku = ?", opts.SKU)
	}
	if opts.Action != "" {
		query = query.Where("action = ?", opts.Action)
	}
	if opts.BatchID != nil {
		query = query.Where("batch_id = ?", *opts.BatchID)
	}
	query = applyDateRange(query, opts)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query, opts).Order("created_at DESC")
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListSyncRecords retrieves sync audit records newest first
func (r *AuditRepository) ListSyncRecords(ctx context.Context, opts AuditListOptions) ([]models.SyncAuditRecord, int64, error) {
	var records []models.SyncAuditRecord
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncAuditRecord{})
	if opts.SKU != "" {
		query = query.Where("sku = ?", opts.SKU)
	}
	if opts.StoreDomain != "" {
		query = query.Where("store_domain = ?", opts.StoreDomain)
	}
	if opts.Action != "" {
		query = query.Where("action = ?", opts.Action)
	}
	if opts.SyncType != "" {
		query = query.Where("sync_type = ?", opts.SyncType)
	}
	if opts.RunID != nil {
		query = query.Where("run_id = ?", *opts.RunID)
	}
	query = applyDateRange(query, opts)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = paginate(query, opts).Order("created_at DESC")
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func applyDateRange(query *gorm.DB, opts AuditListOptions) *gorm.DB {
	if !opts.StartDate.IsZero() {
		query = query.Where("created_at >= ?", opts.StartDate)
	}
	if !opts.EndDate.IsZero() {
		query = query.Where("created_at <= ?", opts.EndDate)
	}
	return query
}

func paginate(query *gorm.DB, opts AuditListOptions) *gorm.DB {
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	return query
}

// Reset deletes all audit history and sync bookkeeping in one transaction.
// Product and store rows are kept.
func (r *AuditRepository) Reset(ctx context.Context) (*ResetCounts, error) {
	counts := &ResetCounts{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stock := tx.Where("1 = 1").Delete(&models.StockAuditRecord{})
		if stock.Error != nil {
			return stock.Error
		}
		counts.StockRecords = stock.RowsAffected

		syncRecords := tx.Where("1 = 1").Delete(&models.SyncAuditRecord{})
		if syncRecords.Error != nil {
			return syncRecords.Error
		}
		counts.SyncRecords = syncRecords.RowsAffected

		runs := tx.Where("1 = 1").Delete(&models.SyncRun{})
		if runs.Error != nil {
			return runs.Error
		}
		counts.SyncRuns = runs.RowsAffected

		if err := tx.Model(&models.Product{}).Where("1 = 1").Updates(map[string]interface{}{
			"needs_sync":  false,
			"last_synced": nil,
		}).Error; err != nil {
			return err
		}

		return tx.Model(&models.Store{}).Where("1 = 1").Update("last_sync", nil).Error
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// Export reads the full audit history in insertion order
func (r *AuditRepository) Export(ctx context.Context) (*models.AuditSnapshot, error) {
	snapshot := &models.AuditSnapshot{ExportedAt: time.Now().UTC()}
	db := r.db.WithContext(ctx)

	if err := db.Order("created_at ASC").Find(&snapshot.StockRecords).Error; err != nil {
		return nil, err
	}
	if err := db.Order("created_at ASC").Find(&snapshot.SyncRecords).Error; err != nil {
		return nil, err
	}
	if err := db.Order("created_at ASC").Find(&snapshot.SyncRuns).Error; err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Import inserts snapshot rows as new records. Identities are regenerated
// so existing rows are never overwritten; sync records keep their run link
// through the regenerated run ids.
func (r *AuditRepository) Import(ctx context.Context, snapshot *models.AuditSnapshot) (*ImportCounts, error) {
	counts := &ImportCounts{}
	if snapshot == nil {
		return counts, nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		runIDs := make(map[uuid.UUID]uuid.UUID, len(snapshot.SyncRuns))
		for i := range snapshot.SyncRuns {
			run := snapshot.SyncRuns[i]
			newID := uuid.New()
			if run.ID != uuid.Nil {
				runIDs[run.ID] = newID
			}
			run.ID = newID
			if err := tx.Create(&run).Error; err != nil {
				return err
			}
			counts.SyncRuns++
		}

		for i := range snapshot.StockRecords {
			rec := snapshot.StockRecords[i]
			rec.ID = uuid.New()
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			counts.StockRecords++
		}

		for i := range snapshot.SyncRecords {
			rec := snapshot.SyncRecords[i]
			rec.ID = uuid.New()
			if rec.RunID != nil {
				if mapped, ok := runIDs[*rec.RunID]; ok {
					rec.RunID = &mapped
				} else {
					rec.RunID = nil
				}
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			counts.SyncRecords++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
