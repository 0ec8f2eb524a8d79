package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const serviceName = "inventory-sync-service"

// Pinger checks a backing dependency, satisfied by *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger checks the optional location cache
type CachePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db    Pinger
	cache CachePinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

// WithCache reports the location cache on readiness. The cache is
// optional, so a failing cache degrades the response but never fails it.
func (h *HealthHandler) WithCache(cache CachePinger) *HealthHandler {
	h.cache = cache
	return h
}

// Health handles the health check endpoint
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": serviceName,
	})
}

// Ready reports ready only when the database answers
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}
	}

	response := gin.H{
		"status":  "ready",
		"service": serviceName,
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			response["cache"] = "unavailable: " + err.Error()
		} else {
			response["cache"] = "ok"
		}
	}
	c.JSON(http.StatusOK, response)
}
