package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/services"
)

// StoreManager is the store registry surface used by StoreHandler
type StoreManager interface {
	RegisterStore(ctx context.Context, input services.RegisterStoreInput) (*services.StoreTestResult, error)
	ListStores(ctx context.Context) ([]models.Store, error)
	GetStore(ctx context.Context, domain string) (*models.Store, error)
	DeleteStore(ctx context.Context, domain string) error
	TestStore(ctx context.Context, domain string) (*services.StoreTestResult, error)
	ListLocations(ctx context.Context, domain string) ([]clients.Location, error)
	CreateRemoteProduct(ctx context.Context, domain, sku string) (*clients.RemoteProduct, error)
}

// StoreHandler handles remote store endpoints
type StoreHandler struct {
	service StoreManager
}

// NewStoreHandler creates a new store handler
func NewStoreHandler(service StoreManager) *StoreHandler {
	return &StoreHandler{service: service}
}

// List returns all stores
func (h *StoreHandler) List(c *gin.Context) {
	stores, err := h.service.ListStores(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  stores,
		"total": len(stores),
	})
}

// Create registers a store and checks it
func (h *StoreHandler) Create(c *gin.Context) {
	var input services.RegisterStoreInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.RegisterStore(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}

// Get returns one store
func (h *StoreHandler) Get(c *gin.Context) {
	store, err := h.service.GetStore(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": store})
}

// Delete removes a store
func (h *StoreHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteStore(c.Request.Context(), c.Param("domain")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "store deleted"})
}

// Test checks connectivity
func (h *StoreHandler) Test(c *gin.Context) {
	result, err := h.service.TestStore(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

// Locations lists remote stock locations
func (h *StoreHandler) Locations(c *gin.Context) {
	locations, err := h.service.ListLocations(c.Request.Context(), c.Param("domain"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": locations})
}

type createRemoteProductRequest struct {
	SKU string `json:"sku" binding:"required"`
}

// CreateRemoteProduct creates a local product in the store
func (h *StoreHandler) CreateRemoteProduct(c *gin.Context) {
	var req createRemoteProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.service.CreateRemoteProduct(c.Request.Context(), c.Param("domain"), req.SKU)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": product})
}
