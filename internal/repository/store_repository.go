package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"inventory-sync-service/internal/models"
)

// StoreRepositoryInterface is the Catalog Store contract for stores
type StoreRepositoryInterface interface {
	Create(ctx context.Context, store *models.Store) error
	GetByDomain(ctx context.Context, domain string) (*models.Store, error)
	List(ctx context.Context) ([]models.Store, error)
	ListConnected(ctx context.Context) ([]models.Store, error)
	UpdateConnectivity(ctx context.Context, domain string, connected bool, lastError string, checkedAt time.Time) error
	UpdateLastSync(ctx context.Context, domain string, syncedAt time.Time) error
	UpdateCredentials(ctx context.Context, domain, secretReference, encryptedToken string) error
	Delete(ctx context.Context, domain string) error
}

// StoreRepository handles database operations for stores
type StoreRepository struct {
	db *gorm.DB
}

var _ StoreRepositoryInterface = (*StoreRepository)(nil)

// NewStoreRepository creates a new store repository
func NewStoreRepository(db *gorm.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

// Create creates a new store
func (r *StoreRepository) Create(ctx context.Context, store *models.Store) error {
	return r.db.WithContext(ctx).Create(store).Error
}

// GetByDomain retrieves a store by domain
func (r *StoreRepository) GetByDomain(ctx context.Context, domain string) (*models.Store, error) {
	var store models.Store
	err := r.db.WithContext(ctx).Where("domain = ?", domain).First(&store).Error
	if err != nil {
		return nil, err
	}
	return &store, nil
}

// List retrieves all stores ordered by name
func (r *StoreRepository) List(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	err := r.db.WithContext(ctx).Order("name ASC, domain ASC").Find(&stores).Error
	return stores, err
}

// ListConnected retrieves stores whose last connectivity check succeeded
func (r *StoreRepository) ListConnected(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	err := r.db.WithContext(ctx).
		Where("connected = ?", true).
		Order("name ASC, domain ASC").
		Find(&stores).Error
	return stores, err
}

// UpdateConnectivity records the outcome of a connectivity check
func (r *StoreRepository) UpdateConnectivity(ctx context.Context, domain string, connected bool, lastError string, checkedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("domain = ?", domain).
		Updates(map[string]interface{}{
			"connected":  connected,
			"last_error": lastError,
			"last_check": checkedAt,
			"updated_at": time.Now(),
		}).Error
}

// UpdateLastSync records the end of a store's sync pass
func (r *StoreRepository) UpdateLastSync(ctx context.Context, domain string, syncedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("domain = ?", domain).
		Updates(map[string]interface{}{
			"last_sync":  syncedAt,
			"updated_at": time.Now(),
		}).Error
}

// UpdateCredentials replaces the stored credential reference
func (r *StoreRepository) UpdateCredentials(ctx context.Context, domain, secretReference, encryptedToken string) error {
	return r.db.WithContext(ctx).
		Model(&models.Store{}).
		Where("domain = ?", domain).
		Updates(map[string]interface{}{
			"secret_reference": secretReference,
			"encrypted_token":  encryptedToken,
			"updated_at":       time.Now(),
		}).Error
}

// Delete removes a store
func (r *StoreRepository) Delete(ctx context.Context, domain string) error {
	result := r.db.WithContext(ctx).Where("domain = ?", domain).Delete(&models.Store{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
