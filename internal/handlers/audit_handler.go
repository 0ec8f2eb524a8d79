package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
	"inventory-sync-service/internal/services"
)

// AuditReader is the audit surface used by AuditHandler
type AuditReader interface {
	ListStockRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.StockAuditRecord, int64, error)
	ListSyncRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.SyncAuditRecord, int64, error)
	ProductTrail(ctx context.Context, sku string, limit int) (*services.ProductTrail, error)
	ResetAuditHistory(ctx context.Context) (*repository.ResetCounts, error)
	ExportAll(ctx context.Context) (*models.AuditSnapshot, error)
	ImportSnapshot(ctx context.Context, snapshot *models.AuditSnapshot) (*repository.ImportCounts, error)
}

// AuditHandler handles audit log endpoints
type AuditHandler struct {
	service AuditReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(service AuditReader) *AuditHandler {
	return &AuditHandler{service: service}
}

// ListStock returns stock audit records
// GET /api/v1/audit/stock
func (h *AuditHandler) ListStock(c *gin.Context) {
	opts, err := auditOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, total, err := h.service.ListStockRecords(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"total": total,
	})
}

// ListSync returns sync audit records
// GET /api/v1/audit/sync
func (h *AuditHandler) ListSync(c *gin.Context) {
	opts, err := auditOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, total, err := h.service.ListSyncRecords(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  records,
		"total": total,
	})
}

// ProductTrail returns both audit kinds for one SKU
// GET /api/v1/audit/products/:sku
func (h *AuditHandler) ProductTrail(c *gin.Context) {
	trail, err := h.service.ProductTrail(c.Request.Context(), c.Param("sku"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": trail})
}

// Reset deletes all audit history
// POST /api/v1/audit/reset
func (h *AuditHandler) Reset(c *gin.Context) {
	counts, err := h.service.ResetAuditHistory(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

// Export downloads the complete audit history as JSON
// GET /api/v1/audit/export
func (h *AuditHandler) Export(c *gin.Context) {
	snapshot, err := h.service.ExportAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	filename := fmt.Sprintf("audit_export_%s.json", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.JSON(http.StatusOK, snapshot)
}

// Import loads a previously exported history
// POST /api/v1/audit/import
func (h *AuditHandler) Import(c *gin.Context) {
	var snapshot models.AuditSnapshot
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	counts, err := h.service.ImportSnapshot(c.Request.Context(), &snapshot)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": counts})
}

func auditOptions(c *gin.Context) (repository.AuditListOptions, error) {
	opts := repository.AuditListOptions{
		SKU:         c.Query("sku"),
		StoreDomain: c.Query("store"),
		Action:      c.Query("action"),
		SyncType:    c.Query("syncType"),
		Limit:       queryInt(c, "limit", 50),
		Offset:      queryInt(c, "offset", 0),
	}

	if v := c.Query("batchId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return opts, fmt.Errorf("invalid batchId")
		}
		opts.BatchID = &id
	}
	if v := c.Query("runId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return opts, fmt.Errorf("invalid runId")
		}
		opts.RunID = &id
	}

	var err error
	if opts.StartDate, err = parseDate(c.Query("startDate"), false); err != nil {
		return opts, fmt.Errorf("invalid startDate")
	}
	if opts.EndDate, err = parseDate(c.Query("endDate"), true); err != nil {
		return opts, fmt.Errorf("invalid endDate")
	}
	return opts, nil
}

// parseDate accepts RFC 3339 or a plain date. A plain end date covers the
// whole day.
func parseDate(value string, endOfDay bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
