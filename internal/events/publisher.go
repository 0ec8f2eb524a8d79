package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/models"
)

const (
	SubjectSyncCompleted = "inventory.sync.completed"
	SubjectStockChanged  = "inventory.stock.changed"
)

// SyncCompletedEvent is published when a sync run reaches a terminal state
type SyncCompletedEvent struct {
	EventType   string               `json:"event_type"`
	RunID       uuid.UUID            `json:"run_id"`
	SyncType    models.SyncType      `json:"sync_type"`
	Status      models.SyncRunStatus `json:"status"`
	TriggeredBy string               `json:"triggered_by"`
	Summary     *models.RunSummary   `json:"summary"`
	Timestamp   time.Time            `json:"timestamp"`
}

// StockChangedEvent is published after every local quantity change
type StockChangedEvent struct {
	EventType   string             `json:"event_type"`
	SKU         string             `json:"sku"`
	Action      models.StockAction `json:"action"`
	OldQuantity int                `json:"old_quantity"`
	NewQuantity int                `json:"new_quantity"`
	BatchID     *uuid.UUID         `json:"batch_id,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Publisher publishes inventory events to NATS. A nil connection makes
// every publish a no-op.
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher connects to NATS. An empty URL yields a disabled publisher.
func NewPublisher(natsURL string, logger *logrus.Logger) (*Publisher, error) {
	p := &Publisher{logger: logger.WithField("component", "events.publisher")}
	if natsURL == "" {
		return p, nil
	}

	conn, err := nats.Connect(natsURL,
		nats.Name("inventory-sync-service"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p.conn = conn
	return p, nil
}

// Enabled reports whether events are delivered anywhere
func (p *Publisher) Enabled() bool {
	return p != nil && p.conn != nil
}

// Close drains the NATS connection
func (p *Publisher) Close() {
	if p.Enabled() {
		_ = p.conn.Drain()
	}
}

// PublishSyncCompleted announces a finished sync run
func (p *Publisher) PublishSyncCompleted(ctx context.Context, run *models.SyncRun, summary *models.RunSummary) error {
	return p.publish(SubjectSyncCompleted, SyncCompletedEvent{
		EventType:   SubjectSyncCompleted,
		RunID:       run.ID,
		SyncType:    run.SyncType,
		Status:      run.Status,
		TriggeredBy: run.TriggeredBy,
		Summary:     summary,
		Timestamp:   time.Now().UTC(),
	})
}

// PublishStockChanged announces a local stock change
func (p *Publisher) PublishStockChanged(ctx context.Context, record *models.StockAuditRecord) error {
	return p.publish(SubjectStockChanged, StockChangedEvent{
		EventType:   SubjectStockChanged,
		SKU:         record.SKU,
		Action:      record.Action,
		OldQuantity: record.OldQuantity,
		NewQuantity: record.NewQuantity,
		BatchID:     record.BatchID,
		Timestamp:   time.Now().UTC(),
	})
}

func (p *Publisher) publish(subject string, event interface{}) error {
	if !p.Enabled() {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", subject, err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.WithError(err).WithField("subject", subject).Error("Failed to publish event")
		return err
	}
	return nil
}
