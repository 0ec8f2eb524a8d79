package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockAction is the kind of local stock mutation
type StockAction string

const (
	StockActionIn            StockAction = "stock_in"
	StockActionOut           StockAction = "stock_out"
	StockActionUpdate        StockAction = "stock_update"
	StockActionProductUpload StockAction = "product_upload"
)

// SyncAction is the outcome of one push to a remote store
type SyncAction string

const (
	SyncActionSuccess SyncAction = "sync_success"
	SyncActionFailed  SyncAction = "sync_failed"
	SyncActionSkipped SyncAction = "sync_skipped"
)

// SyncType is the entry shape that produced a sync audit record
type SyncType string

const (
	SyncTypeFull   SyncType = "full"
	SyncTypeSingle SyncType = "single"
	SyncTypeMulti  SyncType = "multi"
)

// DefaultActor is recorded when no operator is attached to a change.
const DefaultActor = "system"

// StockAuditRecord is an immutable entry for one local quantity change.
type StockAuditRecord struct {
	ID          uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SKU         string      `gorm:"type:varchar(255);not null;index:idx_stock_audit_sku" json:"sku"`
	ProductName string      `gorm:"type:varchar(500)" json:"productName"`
	Action      StockAction `gorm:"type:varchar(50);not null;index:idx_stock_audit_action" json:"action"`

	OldQuantity    int `gorm:"not null" json:"oldQuantity"`
	NewQuantity    int `gorm:"not null" json:"newQuantity"`
	QuantityChange int `gorm:"not null" json:"quantityChange"`

	Reason  string     `gorm:"type:varchar(255)" json:"reason,omitempty"`
	BatchID *uuid.UUID `gorm:"type:uuid;index:idx_stock_audit_batch" json:"batchId,omitempty"`
	Notes   string     `gorm:"type:text" json:"notes,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_stock_audit_created" json:"createdAt"`
}

// TableName specifies the table name for StockAuditRecord
func (StockAuditRecord) TableName() string {
	return "stock_audit_records"
}

// BeforeCreate keeps quantity_change equal to new - old.
func (r *StockAuditRecord) BeforeCreate(tx *gorm.DB) error {
	r.QuantityChange = r.NewQuantity - r.OldQuantity
	return nil
}

// SyncAuditRecord is an immutable entry for one (product, store) push attempt.
type SyncAuditRecord struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	RunID       *uuid.UUID `gorm:"type:uuid;index:idx_sync_audit_run" json:"runId,omitempty"`
	SKU         string     `gorm:"type:varchar(255);not null;index:idx_sync_audit_sku" json:"sku"`
	ProductName string     `gorm:"type:varchar(500)" json:"productName"`
	StoreName   string     `gorm:"type:varchar(255)" json:"storeName"`
	StoreDomain string     `gorm:"type:varchar(255);index:idx_sync_audit_store" json:"storeDomain"`
	Action      SyncAction `gorm:"type:varchar(50);not null;index:idx_sync_audit_action" json:"action"`

	// OldQuantity is nil when the remote pre-state was never read.
	OldQuantity    *int `json:"oldQuantity"`
	NewQuantity    int  `gorm:"not null" json:"newQuantity"`
	QuantityChange int  `gorm:"not null;default:0" json:"quantityChange"`

	ErrorMessage    string   `gorm:"type:text" json:"errorMessage,omitempty"`
	SyncType        SyncType `gorm:"type:varchar(20);not null;index:idx_sync_audit_type" json:"syncType"`
	RemoteProductID *int64   `json:"remoteProductId,omitempty"`
	RemoteVariantID *int64   `json:"remoteVariantId,omitempty"`
	DurationMs      int64    `gorm:"not null;default:0" json:"durationMs"`
	Actor           string   `gorm:"type:varchar(255);not null;default:'system'" json:"actor"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_sync_audit_created" json:"createdAt"`
}

// TableName specifies the table name for SyncAuditRecord
func (SyncAuditRecord) TableName() string {
	return "sync_audit_records"
}

// BeforeCreate keeps quantity_change equal to new - old when old is known.
func (r *SyncAuditRecord) BeforeCreate(tx *gorm.DB) error {
	r.Normalize()
	return nil
}

// Normalize derives quantity_change and fills the default actor.
func (r *SyncAuditRecord) Normalize() {
	if r.OldQuantity != nil {
		r.QuantityChange = r.NewQuantity - *r.OldQuantity
	} else {
		r.QuantityChange = 0
	}
	if r.Actor == "" {
		r.Actor = DefaultActor
	}
}

// AuditSnapshot is the export/import unit for audit history.
type AuditSnapshot struct {
	ExportedAt   time.Time          `json:"exportedAt"`
	StockRecords []StockAuditRecord `json:"stockRecords"`
	SyncRecords  []SyncAuditRecord  `json:"syncRecords"`
	SyncRuns     []SyncRun          `json:"syncRuns"`
}
