package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product is the canonical local record for one SKU. Local quantity is the
// source of truth pushed to every connected store.
type Product struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SKU      string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_products_sku" json:"sku"`
	Name     string    `gorm:"type:varchar(500);not null" json:"name"`
	Category string    `gorm:"type:varchar(255);index:idx_products_category" json:"category,omitempty"`
	Quantity int       `gorm:"not null;default:0;check:chk_products_quantity,quantity >= 0" json:"quantity"`
	ImageURL *string   `gorm:"type:varchar(1000)" json:"imageUrl,omitempty"`

	// Sync bookkeeping
	NeedsSync  bool       `gorm:"default:false;index:idx_products_needs_sync" json:"needsSync"`
	LastSynced *time.Time `json:"lastSynced,omitempty"`

	// Version is bumped on every quantity write and used as the
	// compare-and-swap token for stock movements.
	Version int64 `gorm:"not null;default:1" json:"version"`

	CreatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

// TableName specifies the table name for Product
func (Product) TableName() string {
	return "products"
}

// NormalizeSKU trims surrounding whitespace from a SKU.
func NormalizeSKU(sku string) string {
	return strings.TrimSpace(sku)
}
