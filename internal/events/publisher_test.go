package events

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inventory-sync-service/internal/models"
)

func TestNewPublisher_EmptyURLIsDisabled(t *testing.T) {
	p, err := NewPublisher("", logrus.New())
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	ctx := context.Background()
	assert.NoError(t, p.PublishSyncCompleted(ctx, &models.SyncRun{}, &models.RunSummary{}))
	assert.NoError(t, p.PublishStockChanged(ctx, &models.StockAuditRecord{SKU: "A"}))
	p.Close()
}

func TestNilPublisherIsSafe(t *testing.T) {
	var p *Publisher
	assert.False(t, p.Enabled())
	assert.NoError(t, p.PublishStockChanged(context.Background(), &models.StockAuditRecord{}))
}
