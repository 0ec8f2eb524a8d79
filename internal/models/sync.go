package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncRunStatus represents the status of a sync run
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "RUNNING"
	SyncRunCompleted SyncRunStatus = "COMPLETED"
	SyncRunFailed    SyncRunStatus = "FAILED"
	SyncRunCancelled SyncRunStatus = "CANCELLED"
)

// IsTerminal reports whether the run can no longer change state.
func (s SyncRunStatus) IsTerminal() bool {
	return s == SyncRunCompleted || s == SyncRunFailed || s == SyncRunCancelled
}

// StoreSummary is the per-store breakdown of a run
type StoreSummary struct {
	Domain            string `json:"domain"`
	Name              string `json:"name"`
	Connected         bool   `json:"connected"`
	ProductsAttempted int    `json:"productsAttempted"`
	ProductsUpdated   int    `json:"productsUpdated"`
	ProductsFailed    int    `json:"productsFailed"`
	ProductsSkipped   int    `json:"productsSkipped"`
	Error             string `json:"error,omitempty"`
}

// RunSummary is the operator-facing outcome of a sync run
type RunSummary struct {
	StoresProcessed   int            `json:"storesProcessed"`
	ProductsAttempted int            `json:"productsAttempted"`
	ProductsUpdated   int            `json:"productsUpdated"`
	ProductsFailed    int            `json:"productsFailed"`
	ProductsSkipped   int            `json:"productsSkipped"`
	Cancelled         bool           `json:"cancelled"`
	Stores            []StoreSummary `json:"stores"`
}

// Add folds one store's counters into the run totals.
func (s *RunSummary) Add(store StoreSummary) {
	s.StoresProcessed++
	s.ProductsAttempted += store.ProductsAttempted
	s.ProductsUpdated += store.ProductsUpdated
	s.ProductsFailed += store.ProductsFailed
	s.ProductsSkipped += store.ProductsSkipped
	s.Stores = append(s.Stores, store)
}

// SyncRun is the handle returned for a background sync
type SyncRun struct {
	ID       uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SyncType SyncType      `gorm:"type:varchar(20);not null;index:idx_sync_runs_type" json:"syncType"`
	Status   SyncRunStatus `gorm:"type:varchar(20);not null;default:'RUNNING';index:idx_sync_runs_status" json:"status"`

	// Requested SKUs for single/multi runs
	SKUs JSONB `gorm:"type:jsonb;default:'{}'" json:"skus,omitempty"`

	Summary      JSONB  `gorm:"type:jsonb;default:'{}'" json:"summary"`
	ErrorMessage string `gorm:"type:text" json:"errorMessage,omitempty"`
	TriggeredBy  string `gorm:"type:varchar(255)" json:"triggeredBy"`

	StartedAt   time.Time  `gorm:"default:CURRENT_TIMESTAMP" json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP;index:idx_sync_runs_created" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for SyncRun
func (SyncRun) TableName() string {
	return "sync_runs"
}

// GetSummary returns the run summary as a structured object
func (r *SyncRun) GetSummary() *RunSummary {
	summary := &RunSummary{}
	if r.Summary != nil {
		_ = r.Summary.Decode(summary)
	}
	return summary
}

// SetSummary sets the run summary from a structured object
func (r *SyncRun) SetSummary(summary *RunSummary) {
	if summary == nil {
		return
	}
	if j, err := ToJSONB(summary); err == nil {
		r.Summary = j
	}
}

// SetSKUs stores the requested SKU list
func (r *SyncRun) SetSKUs(skus []string) {
	r.SKUs = JSONB{"skus": skus}
}

// GetSKUs returns the requested SKU list
func (r *SyncRun) GetSKUs() []string {
	raw, ok := r.SKUs["skus"].([]interface{})
	if !ok {
		if list, ok := r.SKUs["skus"].([]string); ok {
			return list
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
