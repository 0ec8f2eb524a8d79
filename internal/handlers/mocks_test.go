package handlers

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
	"inventory-sync-service/internal/services"
)

// MockProductService is a mock implementation of ProductService
type MockProductService struct {
	mock.Mock
}

var _ ProductService = (*MockProductService)(nil)

func (m *MockProductService) CreateProduct(ctx context.Context, input services.CreateProductInput) (*models.Product, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductService) GetProduct(ctx context.Context, sku string) (*models.Product, error) {
	args := m.Called(ctx, sku)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductService) ListProducts(ctx context.Context, opts repository.ProductListOptions) ([]models.Product, int64, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.Product), args.Get(1).(int64), args.Error(2)
}

func (m *MockProductService) ListCategories(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockProductService) UpdateProduct(ctx context.Context, sku string, input services.UpdateProductInput) (*models.Product, error) {
	args := m.Called(ctx, sku, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Product), args.Error(1)
}

func (m *MockProductService) stockResult(args mock.Arguments) (*services.StockChange, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StockChange), args.Error(1)
}

func (m *MockProductService) StockIn(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error) {
	return m.stockResult(m.Called(ctx, sku, movement))
}

func (m *MockProductService) StockOut(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error) {
	return m.stockResult(m.Called(ctx, sku, movement))
}

func (m *MockProductService) SetQuantity(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error) {
	return m.stockResult(m.Called(ctx, sku, movement))
}

func (m *MockProductService) UploadStock(ctx context.Context, rows []services.UploadRow, mode services.UploadMode) (*services.UploadResult, error) {
	args := m.Called(ctx, rows, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.UploadResult), args.Error(1)
}

// MockSyncRunner is a mock implementation of SyncRunner
type MockSyncRunner struct {
	mock.Mock
}

var _ SyncRunner = (*MockSyncRunner)(nil)

func (m *MockSyncRunner) StartSync(ctx context.Context, req services.SyncRequest) (*models.SyncRun, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncRun), args.Error(1)
}

func (m *MockSyncRunner) CancelRun(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSyncRunner) GetRun(ctx context.Context, id uuid.UUID) (*models.SyncRun, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SyncRun), args.Error(1)
}

func (m *MockSyncRunner) ListRuns(ctx context.Context, opts repository.SyncRunListOptions) ([]models.SyncRun, int64, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.SyncRun), args.Get(1).(int64), args.Error(2)
}

func (m *MockSyncRunner) GetStats(ctx context.Context) (*repository.SyncStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.SyncStats), args.Error(1)
}

// MockAuditReader is a mock implementation of AuditReader
type MockAuditReader struct {
	mock.Mock
}

var _ AuditReader = (*MockAuditReader)(nil)

func (m *MockAuditReader) ListStockRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.StockAuditRecord, int64, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.StockAuditRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockAuditReader) ListSyncRecords(ctx context.Context, opts repository.AuditListOptions) ([]models.SyncAuditRecord, int64, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]models.SyncAuditRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockAuditReader) ProductTrail(ctx context.Context, sku string, limit int) (*services.ProductTrail, error) {
	args := m.Called(ctx, sku, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.ProductTrail), args.Error(1)
}

func (m *MockAuditReader) ResetAuditHistory(ctx context.Context) (*repository.ResetCounts, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ResetCounts), args.Error(1)
}

func (m *MockAuditReader) ExportAll(ctx context.Context) (*models.AuditSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuditSnapshot), args.Error(1)
}

func (m *MockAuditReader) ImportSnapshot(ctx context.Context, snapshot *models.AuditSnapshot) (*repository.ImportCounts, error) {
	args := m.Called(ctx, snapshot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.ImportCounts), args.Error(1)
}
