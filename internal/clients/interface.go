package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CatalogClient is the per-store adapter over a remote catalog API.
// Implementations never retry; retry and pacing belong to the caller.
type CatalogClient interface {
	// FindVariantBySku returns the first variant carrying sku. The bool is
	// false when the SKU is absent after the bounded catalog scan.
	FindVariantBySku(ctx context.Context, sku string) (VariantMatch, bool, error)

	// FindVariantsBySku returns every variant carrying sku.
	FindVariantsBySku(ctx context.Context, sku string) ([]VariantMatch, error)

	// IndexCatalog scans the catalog once and groups variants by SKU.
	IndexCatalog(ctx context.Context) (map[string][]VariantMatch, error)

	// InventoryLevels returns per-location quantities for inventory items.
	InventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]InventoryLevel, error)

	// SetInventoryLevel sets the available quantity of an inventory item.
	// A zero locationID resolves to the store's first location.
	SetInventoryLevel(ctx context.Context, inventoryItemID int64, quantity int, locationID int64) error

	ListLocations(ctx context.Context) ([]Location, error)

	// TestConnectivity never returns an error; failures are in the result.
	TestConnectivity(ctx context.Context) ConnectivityResult

	CreateRemoteProduct(ctx context.Context, input RemoteProductInput) (*RemoteProduct, error)
}

// VariantMatch identifies a remote variant and its current quantity
type VariantMatch struct {
	ProductID       int64  `json:"productId"`
	ProductTitle    string `json:"productTitle,omitempty"`
	VariantID       int64  `json:"variantId"`
	VariantTitle    string `json:"variantTitle,omitempty"`
	InventoryItemID int64  `json:"inventoryItemId"`
	SKU             string `json:"sku"`
	CurrentQuantity int    `json:"currentQuantity"`
}

// InventoryLevel is the available quantity of one item at one location
type InventoryLevel struct {
	InventoryItemID int64 `json:"inventoryItemId"`
	LocationID      int64 `json:"locationId"`
	Available       int   `json:"available"`
}

// Location is a remote stock location
type Location struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
	City     string `json:"city,omitempty"`
	Country  string `json:"country,omitempty"`
	Legacy   bool   `json:"legacy"`
	Address1 string `json:"address1,omitempty"`
}

// ShopInfo is the subset of shop details returned by the connectivity check
type ShopInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Email    string `json:"email,omitempty"`
	Currency string `json:"currency,omitempty"`
	PlanName string `json:"planName,omitempty"`
}

// ConnectivityResult is the outcome of a connectivity check
type ConnectivityResult struct {
	OK    bool      `json:"ok"`
	Shop  *ShopInfo `json:"shop,omitempty"`
	Error string    `json:"error,omitempty"`
}

// RemoteProductInput is used to create a missing product remotely
type RemoteProductInput struct {
	Title       string  `json:"title"`
	SKU         string  `json:"sku"`
	Quantity    int     `json:"quantity"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	ProductType string  `json:"productType,omitempty"`
	Status      string  `json:"status,omitempty"`
}

// RemoteProduct is a created remote product with its first variant
type RemoteProduct struct {
	ID      int64        `json:"id"`
	Title   string       `json:"title"`
	Variant VariantMatch `json:"variant"`
}

// RemoteAPIError is returned for any non-2xx remote response
type RemoteAPIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
	RetryAfter time.Duration // from the Retry-After header, if any
}

func (e *RemoteAPIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("remote API error: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Unauthorized reports whether the store rejected the credential
func (e *RemoteAPIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// StatusCodeOf extracts the HTTP status from a RemoteAPIError chain, 0 otherwise
func StatusCodeOf(err error) int {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ConnectivityError is returned when a store is unreachable or rejects the connectivity check
type ConnectivityError struct {
	Domain string
	Reason string
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("store %s is not reachable: %s", e.Domain, e.Reason)
}

// LocationCache persists a store's resolved default location across restarts
type LocationCache interface {
	GetLocationID(ctx context.Context, domain string) (int64, bool)
	SetLocationID(ctx context.Context, domain string, locationID int64)
	Invalidate(ctx context.Context, domain string)
}
