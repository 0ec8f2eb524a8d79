package services

import (
	"context"

	"inventory-sync-service/internal/models"
)

// EventPublisher announces stock and sync outcomes. A nil publisher is allowed.
type EventPublisher interface {
	PublishSyncCompleted(ctx context.Context, run *models.SyncRun, summary *models.RunSummary) error
	PublishStockChanged(ctx context.Context, record *models.StockAuditRecord) error
}
