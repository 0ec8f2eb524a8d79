package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

// StockService owns the local catalog and every local quantity change
type StockService struct {
	products    repository.ProductRepositoryInterface
	audit       *AuditService
	publisher   EventPublisher
	maxAttempts int
	logger      *logrus.Entry
}

// NewStockService creates a new stock service
func NewStockService(
	products repository.ProductRepositoryInterface,
	audit *AuditService,
	publisher EventPublisher,
	maxAttempts int,
	logger *logrus.Logger,
) *StockService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &StockService{
		products:    products,
		audit:       audit,
		publisher:   publisher,
		maxAttempts: maxAttempts,
		logger:      logger.WithField("component", "stock"),
	}
}

// CreateProductInput contains the data for a new product
type CreateProductInput struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Quantity int     `json:"quantity"`
	ImageURL *string `json:"imageUrl"`
}

// UpdateProductInput patches descriptive fields. Quantity is not editable here.
type UpdateProductInput struct {
	Name     *string `json:"name"`
	Category *string `json:"category"`
	ImageURL *string `json:"imageUrl"`
}

// StockMovement is one stock-in, stock-out or quantity set request
type StockMovement struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
	Notes    string `json:"notes"`
}

// StockChange is the result of a committed quantity change
type StockChange struct {
	Product *models.Product          `json:"product"`
	Record  *models.StockAuditRecord `json:"record"`
}

// CreateProduct adds a product to the local catalog
func (s *StockService) CreateProduct(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	sku := models.NormalizeSKU(input.SKU)
	if sku == "" {
		return nil, newValidationError("sku", "is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, newValidationError("name", "is required")
	}
	if input.Quantity < 0 {
		return nil, newValidationError("quantity", "must not be negative")
	}

	product := &models.Product{
		SKU:       sku,
		Name:      name,
		Category:  strings.TrimSpace(input.Category),
		Quantity:  input.Quantity,
		ImageURL:  normalizeURL(input.ImageURL),
		NeedsSync: input.Quantity > 0,
		Version:   1,
	}
	if err := s.products.Create(ctx, product); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, ErrDuplicateSKU
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	if product.Quantity > 0 {
		s.record(ctx, &models.StockAuditRecord{
			SKU:         product.SKU,
			ProductName: product.Name,
			Action:      models.StockActionUpdate,
			OldQuantity: 0,
			NewQuantity: product.Quantity,
			Reason:      "initial_quantity",
		})
	}
	return product, nil
}

// GetProduct retrieves a product by SKU
func (s *StockService) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return product, nil
}

// ListProducts lists products with filtering and pagination
func (s *StockService) ListProducts(ctx context.Context, opts repository.ProductListOptions) ([]models.Product, int64, error) {
	if opts.Limit <= 0 || opts.Limit > 500 {
		opts.Limit = 50
	}
	return s.products.List(ctx, opts)
}

// ListCategories returns the distinct product categories
func (s *StockService) ListCategories(ctx context.Context) ([]string, error) {
	return s.products.Categories(ctx)
}

// UpdateProduct patches a product's descriptive fields
func (s *StockService) UpdateProduct(ctx context.Context, sku string, input UpdateProductInput) (*models.Product, error) {
	product, err := s.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, newValidationError("name", "must not be empty")
		}
		product.Name = name
	}
	if input.Category != nil {
		product.Category = strings.TrimSpace(*input.Category)
	}
	if input.ImageURL != nil {
		product.ImageURL = normalizeURL(input.ImageURL)
	}

	if err := s.products.Update(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}
	return product, nil
}

// StockIn adds quantity to a product
func (s *StockService) StockIn(ctx context.Context, sku string, movement StockMovement) (*StockChange, error) {
	if movement.Quantity <= 0 {
		return nil, newValidationError("quantity", "must be positive")
	}
	return s.applyChange(ctx, sku, models.StockActionIn, movement.Reason, movement.Notes, nil,
		func(current int) (int, error) {
			return current + movement.Quantity, nil
		})
}

// StockOut removes quantity from a product. The result may not go below zero.
func (s *StockService) StockOut(ctx context.Context, sku string, movement StockMovement) (*StockChange, error) {
	if movement.Quantity <= 0 {
		return nil, newValidationError("quantity", "must be positive")
	}
	return s.applyChange(ctx, sku, models.StockActionOut, movement.Reason, movement.Notes, nil,
		func(current int) (int, error) {
			if current < movement.Quantity {
				return 0, fmt.Errorf("%w: have %d, requested %d", ErrInsufficientStock, current, movement.Quantity)
			}
			return current - movement.Quantity, nil
		})
}

// SetQuantity overwrites a product's quantity
func (s *StockService) SetQuantity(ctx context.Context, sku string, movement StockMovement) (*StockChange, error) {
	if movement.Quantity < 0 {
		return nil, newValidationError("quantity", "must not be negative")
	}
	return s.applyChange(ctx, sku, models.StockActionUpdate, movement.Reason, movement.Notes, nil,
		func(int) (int, error) {
			return movement.Quantity, nil
		})
}

// applyChange runs a compare-and-swap quantity update against the current
// stored row, re-reading on a lost race.
func (s *StockService) applyChange(
	ctx context.Context,
	sku string,
	action models.StockAction,
	reason, notes string,
	batchID *uuid.UUID,
	compute func(current int) (int, error),
) (*StockChange, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		product, err := s.GetProduct(ctx, sku)
		if err != nil {
			return nil, err
		}

		newQuantity, err := compute(product.Quantity)
		if err != nil {
			return nil, err
		}

		ok, err := s.products.CompareAndSetQuantity(ctx, product.SKU, product.Version, newQuantity)
		if err != nil {
			return nil, fmt.Errorf("failed to update quantity: %w", err)
		}
		if !ok {
			s.logger.WithFields(logrus.Fields{
				"sku":     product.SKU,
				"attempt": attempt,
			}).Debug("Quantity changed concurrently, retrying")
			continue
		}

		record := &models.StockAuditRecord{
			SKU:         product.SKU,
			ProductName: product.Name,
			Action:      action,
			OldQuantity: product.Quantity,
			NewQuantity: newQuantity,
			Reason:      reason,
			BatchID:     batchID,
			Notes:       notes,
		}
		s.record(ctx, record)

		product.Quantity = newQuantity
		product.Version++
		product.NeedsSync = true
		return &StockChange{Product: product, Record: record}, nil
	}
	return nil, ErrConcurrentModification
}

// record writes the audit entry and announces the change. The quantity is
// already committed, so failures are logged only.
func (s *StockService) record(ctx context.Context, record *models.StockAuditRecord) {
	if err := s.audit.RecordStockChange(ctx, record); err != nil {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishStockChanged(ctx, record); err != nil {
			s.logger.WithError(err).WithField("sku", record.SKU).Warn("Failed to publish stock change")
		}
	}
}

// UploadMode selects how uploaded quantities are applied
type UploadMode string

const (
	UploadModeSet UploadMode = "set"
	UploadModeAdd UploadMode = "add"
)

// UploadRow is one parsed row of a stock upload
type UploadRow struct {
	Row      int     `json:"row"`
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Quantity int     `json:"quantity"`
	ImageURL *string `json:"imageUrl,omitempty"`
}

// UploadRowError describes a rejected upload row
type UploadRowError struct {
	Row     int    `json:"row"`
	SKU     string `json:"sku,omitempty"`
	Message string `json:"message"`
}

// UploadResult summarizes a stock upload
type UploadResult struct {
	BatchID   uuid.UUID        `json:"batchId"`
	Mode      UploadMode       `json:"mode"`
	Processed int              `json:"processed"`
	Created   int              `json:"created"`
	Updated   int              `json:"updated"`
	Unchanged int              `json:"unchanged"`
	Errors    []UploadRowError `json:"errors"`
}

// UploadStock applies a batch of rows under one batch id. Row errors are
// collected and do not stop the batch.
func (s *StockService) UploadStock(ctx context.Context, rows []UploadRow, mode UploadMode) (*UploadResult, error) {
	if mode == "" {
		mode = UploadModeSet
	}
	if mode != UploadModeSet && mode != UploadModeAdd {
		return nil, newValidationError("mode", "must be set or add")
	}
	if len(rows) == 0 {
		return nil, newValidationError("rows", "upload contains no rows")
	}

	batchID := uuid.New()
	result := &UploadResult{BatchID: batchID, Mode: mode, Errors: []UploadRowError{}}

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		outcome, err := s.applyUploadRow(ctx, row, mode, batchID)
		if err != nil {
			result.Errors = append(result.Errors, UploadRowError{Row: row.Row, SKU: row.SKU, Message: err.Error()})
			continue
		}
		switch outcome {
		case uploadCreated:
			result.Created++
		case uploadUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	s.logger.WithFields(logrus.Fields{
		"batchId":   batchID,
		"mode":      mode,
		"processed": result.Processed,
		"created":   result.Created,
		"updated":   result.Updated,
		"errors":    len(result.Errors),
	}).Info("Stock upload applied")

	return result, nil
}

type uploadOutcome int

const (
	uploadUnchanged uploadOutcome = iota
	uploadCreated
	uploadUpdated
)

func (s *StockService) applyUploadRow(ctx context.Context, row UploadRow, mode UploadMode, batchID uuid.UUID) (uploadOutcome, error) {
	sku := models.NormalizeSKU(row.SKU)
	if sku == "" {
		return uploadUnchanged, errors.New("sku is required")
	}
	if row.Quantity < 0 {
		return uploadUnchanged, errors.New("quantity must not be negative")
	}

	existing, err := s.products.GetBySKU(ctx, sku)
	if err != nil && !repository.IsNotFound(err) {
		return uploadUnchanged, err
	}

	if existing == nil {
		name := strings.TrimSpace(row.Name)
		if name == "" {
			name = sku
		}
		product := &models.Product{
			SKU:       sku,
			Name:      name,
			Category:  strings.TrimSpace(row.Category),
			Quantity:  row.Quantity,
			ImageURL:  normalizeURL(row.ImageURL),
			NeedsSync: true,
			Version:   1,
		}
		if err := s.products.Create(ctx, product); err != nil {
			if repository.IsDuplicateKey(err) {
				return uploadUnchanged, ErrDuplicateSKU
			}
			return uploadUnchanged, err
		}
		s.record(ctx, &models.StockAuditRecord{
			SKU:         sku,
			ProductName: name,
			Action:      models.StockActionProductUpload,
			OldQuantity: 0,
			NewQuantity: row.Quantity,
			Reason:      "upload",
			BatchID:     &batchID,
		})
		return uploadCreated, nil
	}

	if name := strings.TrimSpace(row.Name); name != "" && name != existing.Name {
		existing.Name = name
		if category := strings.TrimSpace(row.Category); category != "" {
			existing.Category = category
		}
		if err := s.products.Update(ctx, existing); err != nil {
			return uploadUnchanged, err
		}
	}

	target := row.Quantity
	if mode == UploadModeAdd {
		if row.Quantity == 0 {
			return uploadUnchanged, nil
		}
	} else if existing.Quantity == target {
		return uploadUnchanged, nil
	}

	_, err = s.applyChange(ctx, sku, models.StockActionProductUpload, "upload", "", &batchID,
		func(current int) (int, error) {
			if mode == UploadModeAdd {
				return current + row.Quantity, nil
			}
			return target, nil
		})
	if err != nil {
		return uploadUnchanged, err
	}
	return uploadUpdated, nil
}

func normalizeURL(u *string) *string {
	if u == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*u)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
