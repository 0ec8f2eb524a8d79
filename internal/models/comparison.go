package models

// ComparisonStatus classifies local vs remote drift for one product
type ComparisonStatus string

const (
	StatusNotFound      ComparisonStatus = "not_found"
	StatusInSync        ComparisonStatus = "in_sync"
	StatusLocalHigher   ComparisonStatus = "local_higher"
	StatusShopifyHigher ComparisonStatus = "shopify_higher"
)

// Valid reports whether s is a known status.
func (s ComparisonStatus) Valid() bool {
	switch s {
	case StatusNotFound, StatusInSync, StatusLocalHigher, StatusShopifyHigher:
		return true
	}
	return false
}

// ClassifyComparison is a pure function of (found, difference).
func ClassifyComparison(found bool, difference int) ComparisonStatus {
	switch {
	case !found:
		return StatusNotFound
	case difference == 0:
		return StatusInSync
	case difference > 0:
		return StatusLocalHigher
	default:
		return StatusShopifyHigher
	}
}

// LocationQuantity is the available quantity of one variant at one location
type LocationQuantity struct {
	LocationID int64 `json:"locationId"`
	Available  int   `json:"available"`
}

// VariantFinding is one remote variant carrying the product's SKU
type VariantFinding struct {
	ProductID       int64              `json:"productId"`
	VariantID       int64              `json:"variantId"`
	InventoryItemID int64              `json:"inventoryItemId"`
	ProductTitle    string             `json:"productTitle,omitempty"`
	VariantTitle    string             `json:"variantTitle,omitempty"`
	Quantity        int                `json:"quantity"`
	Locations       []LocationQuantity `json:"locations,omitempty"`
}

// StoreFinding is what one connected store reports for a SKU
type StoreFinding struct {
	StoreDomain  string           `json:"storeDomain"`
	StoreName    string           `json:"storeName"`
	Found        bool             `json:"found"`
	Quantity     int              `json:"quantity"`
	VariantCount int              `json:"variantCount"`
	Variants     []VariantFinding `json:"variants,omitempty"`
	Error        string           `json:"error,omitempty"`
}

// InventoryComparison is the read-time projection of one product against
// every connected store. It is never persisted.
type InventoryComparison struct {
	SKU                  string           `json:"sku"`
	Name                 string           `json:"name"`
	Category             string           `json:"category,omitempty"`
	ImageURL             *string          `json:"imageUrl,omitempty"`
	LocalQuantity        int              `json:"localQuantity"`
	TotalShopifyQuantity int              `json:"totalShopifyQuantity"`
	TotalVariantsFound   int              `json:"totalVariantsFound"`
	Difference           int              `json:"difference"`
	Status               ComparisonStatus `json:"status"`
	StoresChecked        int              `json:"storesChecked"`
	StoreErrors          int              `json:"storeErrors"`
	Stores               []StoreFinding   `json:"stores"`
}

// NewInventoryComparison aggregates per-store findings for a product.
// For not_found products the remote total is zero, so the difference
// equals the local quantity.
func NewInventoryComparison(p *Product, stores []StoreFinding) *InventoryComparison {
	c := &InventoryComparison{
		SKU:           p.SKU,
		Name:          p.Name,
		Category:      p.Category,
		ImageURL:      p.ImageURL,
		LocalQuantity: p.Quantity,
		Stores:        stores,
	}
	if c.Stores == nil {
		c.Stores = []StoreFinding{}
	}
	for _, s := range stores {
		c.StoresChecked++
		if s.Error != "" {
			c.StoreErrors++
		}
		c.TotalShopifyQuantity += s.Quantity
		c.TotalVariantsFound += s.VariantCount
	}
	c.Difference = c.LocalQuantity - c.TotalShopifyQuantity
	c.Status = ClassifyComparison(c.TotalVariantsFound > 0, c.Difference)
	return c
}

// Unverified reports whether every store failed, so a not_found status
// means the SKU could not be looked up rather than that it is missing.
func (c *InventoryComparison) Unverified() bool {
	return c.StoresChecked > 0 && c.StoreErrors == c.StoresChecked
}
