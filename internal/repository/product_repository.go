package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"inventory-sync-service/internal/models"
)

// ProductRepositoryInterface is the Catalog Store contract for products
type ProductRepositoryInterface interface {
	Create(ctx context.Context, product *models.Product) error
	GetBySKU(ctx context.Context, sku string) (*models.Product, error)
	List(ctx context.Context, opts ProductListOptions) ([]models.Product, int64, error)
	ListBySKUs(ctx context.Context, skus []string) ([]models.Product, error)
	ListAll(ctx context.Context) ([]models.Product, error)
	Update(ctx context.Context, product *models.Product) error
	CompareAndSetQuantity(ctx context.Context, sku string, expectedVersion int64, quantity int) (bool, error)
	MarkSynced(ctx context.Context, skus []string, syncedAt time.Time) error
	ClearNeedsSync(ctx context.Context, versions map[string]int64) error
	Categories(ctx context.Context) ([]string, error)
}

// ProductListOptions contains options for listing products
type ProductListOptions struct {
	Category  string
	Search    string
	NeedsSync *bool
	SortBy    string // sku, name, quantity, updated
	SortDesc  bool
	Limit     int
	Offset    int
}

// ProductRepository handles database operations for products
type ProductRepository struct {
	db *gorm.DB
}

var _ ProductRepositoryInterface = (*ProductRepository)(nil)

// NewProductRepository creates a new product repository
func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create creates a new product
func (r *ProductRepository) Create(ctx context.Context, product *models.Product) error {
	if product.Version == 0 {
		product.Version = 1
	}
	return r.db.WithContext(ctx).Create(product).Error
}

// GetBySKU retrieves a product by SKU
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("sku = ?", models.NormalizeSKU(sku)).
		First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// List retrieves products with filtering and pagination
func (r *ProductRepository) List(ctx context.Context, opts ProductListOptions) ([]models.Product, int64, error) {
	var products []models.Product
	var total int64

	query := r.filtered(ctx, opts)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order(productOrder(opts.SortBy, opts.SortDesc))
	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	if err := query.Find(&products).Error; err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (r *ProductRepository) filtered(ctx context.Context, opts ProductListOptions) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Product{})

	if opts.Category != "" {
		query = query.Where("category = ?", opts.Category)
	}
	if search := strings.TrimSpace(opts.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		query = query.Where("LOWER(sku) LIKE ? OR LOWER(name) LIKE ?", pattern, pattern)
	}
	if opts.NeedsSync != nil {
		query = query.Where("needs_sync = ?", *opts.NeedsSync)
	}
	return query
}

func productOrder(sortBy string, desc bool) string {
	column := "sku"
	switch sortBy {
	case "name":
		column = "name"
	case "quantity":
		column = "quantity"
	case "updated":
		column = "updated_at"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	if column == "sku" {
		return "sku " + dir
	}
	return column + " " + dir + ", sku ASC"
}

// ListBySKUs returns products in the order the SKUs were given. Unknown SKUs
// are omitted.
func (r *ProductRepository) ListBySKUs(ctx context.Context, skus []string) ([]models.Product, error) {
	if len(skus) == 0 {
		return []models.Product{}, nil
	}

	var found []models.Product
	if err := r.db.WithContext(ctx).Where("sku IN ?", skus).Find(&found).Error; err != nil {
		return nil, err
	}

	bySKU := make(map[string]models.Product, len(found))
	for _, p := range found {
		bySKU[p.SKU] = p
	}

	ordered := make([]models.Product, 0, len(found))
	seen := make(map[string]bool, len(skus))
	for _, sku := range skus {
		if p, ok := bySKU[sku]; ok && !seen[sku] {
			ordered = append(ordered, p)
			seen[sku] = true
		}
	}
	return ordered, nil
}

// ListAll returns the whole catalog ordered by SKU
func (r *ProductRepository) ListAll(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).Order("sku ASC").Find(&products).Error
	return products, err
}

// Update saves descriptive fields. Quantity only changes through
// CompareAndSetQuantity.
func (r *ProductRepository) Update(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("sku = ?", product.SKU).
		Updates(map[string]interface{}{
			"name":       product.Name,
			"category":   product.Category,
			"image_url":  product.ImageURL,
			"updated_at": time.Now(),
		}).Error
}

// CompareAndSetQuantity writes quantity only if the stored version still
// matches, bumping the version and flagging the product for sync.
func (r *ProductRepository) CompareAndSetQuantity(ctx context.Context, sku string, expectedVersion int64, quantity int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("sku = ? AND version = ?", sku, expectedVersion).
		Updates(map[string]interface{}{
			"quantity":   quantity,
			"version":    gorm.Expr("version + 1"),
			"needs_sync": true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSynced records the last successful push time
func (r *ProductRepository) MarkSynced(ctx context.Context, skus []string, syncedAt time.Time) error {
	if len(skus) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("sku IN ?", skus).
		Update("last_synced", syncedAt).Error
}

// ClearNeedsSync clears the flag for products still at the pushed version
func (r *ProductRepository) ClearNeedsSync(ctx context.Context, versions map[string]int64) error {
	if len(versions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for sku, version := range versions {
			if err := tx.Model(&models.Product{}).
				Where("sku = ? AND version = ?", sku, version).
				Update("needs_sync", false).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Categories returns the distinct non-empty categories
func (r *ProductRepository) Categories(ctx context.Context) ([]string, error) {
	var categories []string
	err := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("category <> ''").
		Distinct("category").
		Order("category ASC").
		Pluck("category", &categories).Error
	return categories, err
}
