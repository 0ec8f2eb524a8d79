package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
	"inventory-sync-service/internal/services"
)

// triggeredByHeader names the operator starting a run
const triggeredByHeader = "X-Triggered-By"

// SyncRunner is the sync surface used by SyncHandler
type SyncRunner interface {
	StartSync(ctx context.Context, req services.SyncRequest) (*models.SyncRun, error)
	CancelRun(ctx context.Context, id uuid.UUID) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error)
	ListRuns(ctx context.Context, opts repository.SyncRunListOptions) ([]models.SyncRun, int64, error)
	GetStats(ctx context.Context) (*repository.SyncStats, error)
}

// SyncHandler handles sync run endpoints
type SyncHandler struct {
	service SyncRunner
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(service SyncRunner) *SyncHandler {
	return &SyncHandler{service: service}
}

// SyncProduct pushes one product to every connected store
// POST /api/v1/sync/product/:sku
func (h *SyncHandler) SyncProduct(c *gin.Context) {
	h.start(c, services.SyncRequest{
		Type: models.SyncTypeSingle,
		SKUs: []string{c.Param("sku")},
	})
}

type syncProductsRequest struct {
	SKUs []string `json:"skus" binding:"required"`
}

// SyncProducts pushes a selection of products
// POST /api/v1/sync/products
func (h *SyncHandler) SyncProducts(c *gin.Context) {
	var req syncProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.start(c, services.SyncRequest{Type: models.SyncTypeMulti, SKUs: req.SKUs})
}

// SyncAll pushes the whole catalog
// POST /api/v1/sync/all
func (h *SyncHandler) SyncAll(c *gin.Context) {
	h.start(c, services.SyncRequest{Type: models.SyncTypeFull})
}

func (h *SyncHandler) start(c *gin.Context, req services.SyncRequest) {
	req.TriggeredBy = c.GetHeader(triggeredByHeader)

	run, err := h.service.StartSync(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": run})
}

// ListRuns returns sync runs newest first
// GET /api/v1/sync/runs
func (h *SyncHandler) ListRuns(c *gin.Context) {
	runs, total, err := h.service.ListRuns(c.Request.Context(), repository.SyncRunListOptions{
		Status:   c.Query("status"),
		SyncType: c.Query("syncType"),
		Limit:    queryInt(c, "limit", 20),
		Offset:   queryInt(c, "offset", 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  runs,
		"total": total,
	})
}

// GetRun returns a single run with its summary
// GET /api/v1/sync/runs/:id
func (h *SyncHandler) GetRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	run, err := h.service.GetRun(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":    run,
		"summary": run.GetSummary(),
	})
}

// CancelRun cancels a running sync
// POST /api/v1/sync/runs/:id/cancel
func (h *SyncHandler) CancelRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if err := h.service.CancelRun(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "sync run cancelled"})
}

// GetStats returns sync statistics
// GET /api/v1/sync/stats
func (h *SyncHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
