package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/services"
)

// Comparer is the reconciliation surface used by ComparisonHandler
type Comparer interface {
	Compare(ctx context.Context, query services.ComparisonQuery) (*services.ComparisonPage, error)
	CompareOne(ctx context.Context, sku string) (*models.InventoryComparison, error)
}

// ComparisonHandler handles local vs remote inventory comparison
type ComparisonHandler struct {
	service Comparer
}

// NewComparisonHandler creates a new comparison handler
func NewComparisonHandler(service Comparer) *ComparisonHandler {
	return &ComparisonHandler{service: service}
}

// Compare returns one page of the comparison with stats
// GET /api/v1/inventory/comparison
func (h *ComparisonHandler) Compare(c *gin.Context) {
	includeLocations, _ := strconv.ParseBool(c.DefaultQuery("includeLocations", "false"))

	page, err := h.service.Compare(c.Request.Context(), services.ComparisonQuery{
		Status:           models.ComparisonStatus(c.Query("status")),
		Category:         c.Query("category"),
		Search:           c.Query("search"),
		Sort:             c.Query("sort"),
		Page:             queryInt(c, "page", 1),
		PageSize:         queryInt(c, "pageSize", 0),
		IncludeLocations: includeLocations,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":       page.Items,
		"pagination": page.Pagination,
		"stats":      page.Stats,
	})
}

// CompareOne compares a single SKU
// GET /api/v1/inventory/comparison/:sku
func (h *ComparisonHandler) CompareOne(c *gin.Context) {
	comparison, err := h.service.CompareOne(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": comparison})
}
