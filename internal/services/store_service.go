package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/clients/shopify"
	"inventory-sync-service/internal/encryption"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

// ClientFactory builds a catalog client for one store
type ClientFactory func(domain, accessToken string) clients.CatalogClient

// StoreService is the registry of remote stores and their credentials
type StoreService struct {
	repo      repository.StoreRepositoryInterface
	products  repository.ProductRepositoryInterface
	tokens    TokenStore
	newClient ClientFactory
	onDelete  []func(ctx context.Context, domain string)
	logger    *logrus.Entry
}

// NewStoreService creates a new store service. tokens may be nil when no
// credential backend is configured; registration is then rejected.
func NewStoreService(
	repo repository.StoreRepositoryInterface,
	products repository.ProductRepositoryInterface,
	tokens TokenStore,
	newClient ClientFactory,
	logger *logrus.Logger,
) *StoreService {
	return &StoreService{
		repo:      repo,
		products:  products,
		tokens:    tokens,
		newClient: newClient,
		logger:    logger.WithField("component", "stores"),
	}
}

// OnDelete registers a hook run after a store is removed, used to drop
// per-store state such as cached locations and rate limiters
func (s *StoreService) OnDelete(fn func(ctx context.Context, domain string)) {
	s.onDelete = append(s.onDelete, fn)
}

// RegisterStoreInput contains the data for registering a store
type RegisterStoreInput struct {
	Domain      string `json:"domain"`
	Name        string `json:"name"`
	AccessToken string `json:"accessToken"`
}

// StoreTestResult is the outcome of a connectivity check
type StoreTestResult struct {
	Store  *models.Store              `json:"store"`
	Result clients.ConnectivityResult `json:"result"`
}

// RegisterStore stores the credential, creates the row and checks the store
func (s *StoreService) RegisterStore(ctx context.Context, input RegisterStoreInput) (*StoreTestResult, error) {
	domain := shopify.NormalizeDomain(input.Domain)
	if domain == "" {
		return nil, newValidationError("domain", "is required")
	}
	token := strings.TrimSpace(input.AccessToken)
	if token == "" {
		return nil, newValidationError("accessToken", "is required")
	}
	if s.tokens == nil {
		return nil, ErrNoCredentialStore
	}

	if _, err := s.repo.GetByDomain(ctx, domain); err == nil {
		return nil, ErrDuplicateStore
	} else if !repository.IsNotFound(err) {
		return nil, err
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = domain
	}

	secretRef, encToken, err := s.tokens.PutToken(ctx, domain, token)
	if err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}

	store := &models.Store{
		Domain:          domain,
		Name:            name,
		SecretReference: secretRef,
		EncryptedToken:  encToken,
	}
	if err := s.repo.Create(ctx, store); err != nil {
		// Best effort rollback of the stored secret
		_ = s.tokens.DeleteToken(ctx, store)
		if repository.IsDuplicateKey(err) {
			return nil, ErrDuplicateStore
		}
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"domain": domain,
		"token":  encryption.MaskToken(token),
	}).Info("Store registered")

	result := s.CheckConnectivity(ctx, store, s.newClient(domain, token))
	return &StoreTestResult{Store: store, Result: result}, nil
}

// ListStores lists every registered store
func (s *StoreService) ListStores(ctx context.Context) ([]models.Store, error) {
	return s.repo.List(ctx)
}

// ConnectedStores lists stores whose last connectivity check succeeded
func (s *StoreService) ConnectedStores(ctx context.Context) ([]models.Store, error) {
	return s.repo.ListConnected(ctx)
}

// GetStore retrieves a store by domain
func (s *StoreService) GetStore(ctx context.Context, domain string) (*models.Store, error) {
	store, err := s.repo.GetByDomain(ctx, shopify.NormalizeDomain(domain))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	return store, nil
}

// DeleteStore removes a store and its stored credential
func (s *StoreService) DeleteStore(ctx context.Context, domain string) error {
	store, err := s.GetStore(ctx, domain)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, store.Domain); err != nil {
		if repository.IsNotFound(err) {
			return ErrStoreNotFound
		}
		return err
	}
	if s.tokens != nil {
		if err := s.tokens.DeleteToken(ctx, store); err != nil {
			s.logger.WithError(err).WithField("domain", store.Domain).Warn("Failed to delete store credentials")
		}
	}
	for _, fn := range s.onDelete {
		fn(ctx, store.Domain)
	}
	return nil
}

// ClientFor builds a catalog client with the store's credential
func (s *StoreService) ClientFor(ctx context.Context, store *models.Store) (clients.CatalogClient, error) {
	if s.tokens == nil {
		return nil, ErrNoCredentialStore
	}
	token, err := s.tokens.GetToken(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials for %s: %w", store.Domain, err)
	}
	return s.newClient(store.Domain, token), nil
}

// TestStore checks a store and records the result on its row
func (s *StoreService) TestStore(ctx context.Context, domain string) (*StoreTestResult, error) {
	store, err := s.GetStore(ctx, domain)
	if err != nil {
		return nil, err
	}

	client, err := s.ClientFor(ctx, store)
	if err != nil {
		result := clients.ConnectivityResult{OK: false, Error: err.Error()}
		s.recordConnectivity(ctx, store, result)
		return &StoreTestResult{Store: store, Result: result}, nil
	}

	result := s.CheckConnectivity(ctx, store, client)
	return &StoreTestResult{Store: store, Result: result}, nil
}

// CheckConnectivity tests the store with an existing client and flips its
// connected flag.
func (s *StoreService) CheckConnectivity(ctx context.Context, store *models.Store, client clients.CatalogClient) clients.ConnectivityResult {
	result := client.TestConnectivity(ctx)
	s.recordConnectivity(ctx, store, result)
	return result
}

// MarkDisconnected records a failed check that happened elsewhere
func (s *StoreService) MarkDisconnected(ctx context.Context, store *models.Store, reason string) {
	s.recordConnectivity(ctx, store, clients.ConnectivityResult{OK: false, Error: reason})
}

func (s *StoreService) recordConnectivity(ctx context.Context, store *models.Store, result clients.ConnectivityResult) {
	now := time.Now()
	store.Connected = result.OK
	store.LastError = result.Error
	store.LastCheck = &now

	if err := s.repo.UpdateConnectivity(ctx, store.Domain, result.OK, result.Error, now); err != nil {
		s.logger.WithError(err).WithField("domain", store.Domain).Error("Failed to record connectivity")
	}

	entry := s.logger.WithFields(logrus.Fields{
		"domain":    store.Domain,
		"connected": result.OK,
	})
	if result.OK {
		entry.Debug("Store connectivity verified")
	} else {
		entry.WithField("error", result.Error).Warn("Store connectivity failed")
	}
}

// TouchLastSync records the completion of a store's sync pass
func (s *StoreService) TouchLastSync(ctx context.Context, store *models.Store, at time.Time) {
	store.LastSync = &at
	if err := s.repo.UpdateLastSync(ctx, store.Domain, at); err != nil {
		s.logger.WithError(err).WithField("domain", store.Domain).Error("Failed to update last sync")
	}
}

// ListLocations lists a store's remote stock locations
func (s *StoreService) ListLocations(ctx context.Context, domain string) ([]clients.Location, error) {
	store, err := s.GetStore(ctx, domain)
	if err != nil {
		return nil, err
	}
	client, err := s.ClientFor(ctx, store)
	if err != nil {
		return nil, err
	}
	return client.ListLocations(ctx)
}

// CreateRemoteProduct creates a local product in a store that lacks it
func (s *StoreService) CreateRemoteProduct(ctx context.Context, domain, sku string) (*clients.RemoteProduct, error) {
	sku = models.NormalizeSKU(sku)
	if sku == "" {
		return nil, newValidationError("sku", "is required")
	}

	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	store, err := s.GetStore(ctx, domain)
	if err != nil {
		return nil, err
	}
	client, err := s.ClientFor(ctx, store)
	if err != nil {
		return nil, err
	}

	if _, found, err := client.FindVariantBySku(ctx, sku); err != nil {
		return nil, err
	} else if found {
		return nil, newValidationError("sku", fmt.Sprintf("already exists in %s", store.Domain))
	}

	remote, err := client.CreateRemoteProduct(ctx, clients.RemoteProductInput{
		Title:       product.Name,
		SKU:         product.SKU,
		Quantity:    product.Quantity,
		ImageURL:    product.ImageURL,
		ProductType: product.Category,
	})
	if err != nil {
		return remote, err
	}

	s.logger.WithFields(logrus.Fields{
		"domain":    store.Domain,
		"sku":       sku,
		"productId": remote.ID,
	}).Info("Remote product created")
	return remote, nil
}
