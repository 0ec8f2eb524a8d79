package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"inventory-sync-service/internal/models"
)

// SyncRunRepositoryInterface persists sync run handles
type SyncRunRepositoryInterface interface {
	CreateRun(ctx context.Context, run *models.SyncRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.SyncRunStatus, errorMessage string) error
	UpdateRunSummary(ctx context.Context, id uuid.UUID, summary *models.RunSummary) error
	ListRuns(ctx context.Context, opts SyncRunListOptions) ([]models.SyncRun, int64, error)
	GetStats(ctx context.Context) (*SyncStats, error)
	MarkInterruptedRuns(ctx context.Context, reason string) (int64, error)
}

// SyncRunRepository handles database operations for sync runs
type SyncRunRepository struct {
	db *gorm.DB
}

var _ SyncRunRepositoryInterface = (*SyncRunRepository)(nil)

// NewSyncRunRepository creates a new sync run repository
func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// CreateRun creates a new sync run
func (r *SyncRunRepository) CreateRun(ctx context.Context, run *models.SyncRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetRun retrieves a sync run by ID
func (r *SyncRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRunStatus updates the run status
func (r *SyncRunRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.SyncRunStatus, errorMessage string) error {
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	if status.IsTerminal() {
		now := time.Now()
		updates["completed_at"] = &now
	}
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// UpdateRunSummary stores the run summary
func (r *SyncRunRepository) UpdateRunSummary(ctx context.Context, id uuid.UUID, summary *models.RunSummary) error {
	summaryJSON, err := models.ToJSONB(summary)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"summary":    summaryJSON,
			"updated_at": time.Now(),
		}).Error
}

// ListRuns retrieves sync runs with pagination and filtering
func (r *SyncRunRepository) ListRuns(ctx context.Context, opts SyncRunListOptions) ([]models.SyncRun, int64, error) {
	var runs []models.SyncRun
	var total int64

	query := r.db.WithContext(ctx).Model(&models.SyncRun{})

	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.SyncType != "" {
		query = query.Where("sync_type = ?", opts.SyncType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}
	query = query.Order("created_at DESC")

	if err := query.Find(&runs).Error; err != nil {
		return nil, 0, err
	}

	return runs, total, nil
}

// GetStats retrieves run counters and the latest completion time
func (r *SyncRunRepository) GetStats(ctx context.Context) (*SyncStats, error) {
	stats := &SyncStats{}

	if err := r.db.WithContext(ctx).Model(&models.SyncRun{}).Count(&stats.TotalRuns).Error; err != nil {
		return nil, err
	}

	var statusCounts []struct {
		Status string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range statusCounts {
		switch models.SyncRunStatus(sc.Status) {
		case models.SyncRunCompleted:
			stats.CompletedRuns = sc.Count
		case models.SyncRunFailed:
			stats.FailedRuns = sc.Count
		case models.SyncRunRunning:
			stats.RunningRuns = sc.Count
		case models.SyncRunCancelled:
			stats.CancelledRuns = sc.Count
		}
	}

	var actionCounts []struct {
		Action string
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.SyncAuditRecord{}).
		Select("action, count(*) as count").
		Group("action").
		Scan(&actionCounts).Error; err != nil {
		return nil, err
	}
	for _, ac := range actionCounts {
		switch models.SyncAction(ac.Action) {
		case models.SyncActionSuccess:
			stats.SuccessfulPushes = ac.Count
		case models.SyncActionFailed:
			stats.FailedPushes = ac.Count
		case models.SyncActionSkipped:
			stats.SkippedPushes = ac.Count
		}
	}

	var lastRun models.SyncRun
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.SyncRunCompleted).
		Order("completed_at DESC").
		First(&lastRun).Error; err == nil && lastRun.CompletedAt != nil {
		stats.LastSyncAt = lastRun.CompletedAt
	}

	return stats, nil
}

// MarkInterruptedRuns fails runs left RUNNING by a previous process
func (r *SyncRunRepository) MarkInterruptedRuns(ctx context.Context, reason string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("status = ?", models.SyncRunRunning).
		Updates(map[string]interface{}{
			"status":        models.SyncRunFailed,
			"error_message": reason,
			"completed_at":  &now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// SyncRunListOptions contains options for listing sync runs
type SyncRunListOptions struct {
	Status   string
	SyncType string
	Limit    int
	Offset   int
}

// SyncStats contains sync statistics
type SyncStats struct {
	TotalRuns        int64      `json:"totalRuns"`
	CompletedRuns    int64      `json:"completedRuns"`
	FailedRuns       int64      `json:"failedRuns"`
	RunningRuns      int64      `json:"runningRuns"`
	CancelledRuns    int64      `json:"cancelledRuns"`
	SuccessfulPushes int64      `json:"successfulPushes"`
	FailedPushes     int64      `json:"failedPushes"`
	SkippedPushes    int64      `json:"skippedPushes"`
	LastSyncAt       *time.Time `json:"lastSyncAt,omitempty"`
}
