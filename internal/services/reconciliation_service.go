package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

// ReconciliationService computes the local vs remote comparison view. It
// never caches remote quantities.
type ReconciliationService struct {
	products        repository.ProductRepositoryInterface
	stores          *StoreService
	defaultPageSize int
	logger          *logrus.Entry
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(
	products repository.ProductRepositoryInterface,
	stores *StoreService,
	defaultPageSize int,
	logger *logrus.Logger,
) *ReconciliationService {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &ReconciliationService{
		products:        products,
		stores:          stores,
		defaultPageSize: defaultPageSize,
		logger:          logger.WithField("component", "reconciliation"),
	}
}

// Comparison sort orders
const (
	SortSmart      = "smart"
	SortSKU        = "sku"
	SortName       = "name"
	SortDifference = "difference"
	SortQuantity   = "quantity"
)

const maxComparisonPageSize = 200

// ComparisonQuery selects, orders and pages the comparison view
type ComparisonQuery struct {
	Status           models.ComparisonStatus
	Category         string
	Search           string
	Sort             string
	Page             int
	PageSize         int
	IncludeLocations bool
}

// ComparisonStats aggregates the comparison set before status filtering
type ComparisonStats struct {
	TotalProducts           int `json:"totalProducts"`
	InSync                  int `json:"inSync"`
	LocalHigher             int `json:"localHigher"`
	ShopifyHigher           int `json:"shopifyHigher"`
	NotFound                int `json:"notFound"`
	Unverified              int `json:"unverified"`
	TotalAbsoluteDifference int `json:"totalAbsoluteDifference"`
	StoresChecked           int `json:"storesChecked"`
	StoresWithErrors        int `json:"storesWithErrors"`
}

// Pagination describes one page of a filtered set
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ComparisonPage is one page of the comparison view
type ComparisonPage struct {
	Items      []*models.InventoryComparison `json:"items"`
	Pagination Pagination                    `json:"pagination"`
	Stats      ComparisonStats               `json:"stats"`
}

// storeCatalog is one connected store's catalog snapshot for a request
type storeCatalog struct {
	store  models.Store
	client clients.CatalogClient
	index  map[string][]clients.VariantMatch
	err    error
}

// Compare builds the comparison view. Each connected store's catalog is
// scanned once per call; a failing store is reported per product and does
// not abort the comparison.
func (s *ReconciliationService) Compare(ctx context.Context, query ComparisonQuery) (*ComparisonPage, error) {
	if query.Status != "" && !query.Status.Valid() {
		return nil, newValidationError("status", fmt.Sprintf("unknown status %q", query.Status))
	}
	if query.Sort == "" {
		query.Sort = SortSmart
	}
	if !validSort(query.Sort) {
		return nil, newValidationError("sort", fmt.Sprintf("unknown sort %q", query.Sort))
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = s.defaultPageSize
	}
	if query.PageSize > maxComparisonPageSize {
		query.PageSize = maxComparisonPageSize
	}

	products, _, err := s.products.List(ctx, repository.ProductListOptions{
		Category: query.Category,
		Search:   query.Search,
		SortBy:   "sku",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	catalogs, err := s.loadCatalogs(ctx)
	if err != nil {
		return nil, err
	}

	stats := ComparisonStats{StoresChecked: len(catalogs)}
	for _, c := range catalogs {
		if c.err != nil {
			stats.StoresWithErrors++
		}
	}

	all := make([]*models.InventoryComparison, 0, len(products))
	for i := range products {
		cmp := models.NewInventoryComparison(&products[i], findingsFromIndex(products[i].SKU, catalogs))
		stats.add(cmp)
		all = append(all, cmp)
	}

	filtered := all
	if query.Status != "" {
		filtered = make([]*models.InventoryComparison, 0, len(all))
		for _, cmp := range all {
			if cmp.Status == query.Status {
				filtered = append(filtered, cmp)
			}
		}
	}

	sortComparisons(filtered, query.Sort)

	total := len(filtered)
	start := (query.Page - 1) * query.PageSize
	if start > total {
		start = total
	}
	end := start + query.PageSize
	if end > total {
		end = total
	}
	items := filtered[start:end]

	if query.IncludeLocations {
		s.attachLocations(ctx, items, catalogs)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + query.PageSize - 1) / query.PageSize
	}

	return &ComparisonPage{
		Items: items,
		Pagination: Pagination{
			Page:       query.Page,
			PageSize:   query.PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
		Stats: stats,
	}, nil
}

// CompareOne compares a single product, always with per-location quantities
func (s *ReconciliationService) CompareOne(ctx context.Context, sku string) (*models.InventoryComparison, error) {
	product, err := s.products.GetBySKU(ctx, sku)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	stores, err := s.stores.ConnectedStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	findings := make([]models.StoreFinding, 0, len(stores))
	for _, store := range stores {
		finding := models.StoreFinding{StoreDomain: store.Domain, StoreName: store.Name}

		client, err := s.stores.ClientFor(ctx, &store)
		if err != nil {
			finding.Error = err.Error()
			findings = append(findings, finding)
			continue
		}

		matches, err := client.FindVariantsBySku(ctx, product.SKU)
		if err != nil {
			finding.Error = err.Error()
			findings = append(findings, finding)
			continue
		}

		finding = buildFinding(store, matches)
		if len(matches) > 0 {
			if err := fillLocations(ctx, client, &finding); err != nil {
				finding.Error = err.Error()
			}
		}
		findings = append(findings, finding)
	}

	return models.NewInventoryComparison(product, findings), nil
}

func (s *ReconciliationService) loadCatalogs(ctx context.Context) ([]*storeCatalog, error) {
	stores, err := s.stores.ConnectedStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	catalogs := make([]*storeCatalog, 0, len(stores))
	for _, store := range stores {
		c := &storeCatalog{store: store}
		catalogs = append(catalogs, c)

		client, err := s.stores.ClientFor(ctx, &store)
		if err != nil {
			c.err = err
			continue
		}
		c.client = client

		c.index, c.err = client.IndexCatalog(ctx)
		if c.err != nil {
			s.logger.WithError(c.err).WithField("domain", store.Domain).Warn("Failed to index store catalog")
		}
	}
	return catalogs, nil
}

func (s *ReconciliationService) attachLocations(ctx context.Context, items []*models.InventoryComparison, catalogs []*storeCatalog) {
	for _, c := range catalogs {
		if c.err != nil {
			continue
		}

		var findings []*models.StoreFinding
		for _, item := range items {
			for i := range item.Stores {
				if item.Stores[i].StoreDomain == c.store.Domain && len(item.Stores[i].Variants) > 0 {
					findings = append(findings, &item.Stores[i])
				}
			}
		}
		if len(findings) == 0 {
			continue
		}

		var ids []int64
		for _, f := range findings {
			for _, v := range f.Variants {
				ids = append(ids, v.InventoryItemID)
			}
		}
		levels, err := c.client.InventoryLevels(ctx, ids)
		if err != nil {
			s.logger.WithError(err).WithField("domain", c.store.Domain).Warn("Failed to load inventory levels")
			continue
		}
		byItem := groupLevels(levels)
		for _, f := range findings {
			for i := range f.Variants {
				f.Variants[i].Locations = byItem[f.Variants[i].InventoryItemID]
			}
		}
	}
}

func findingsFromIndex(sku string, catalogs []*storeCatalog) []models.StoreFinding {
	findings := make([]models.StoreFinding, 0, len(catalogs))
	for _, c := range catalogs {
		if c.err != nil {
			findings = append(findings, models.StoreFinding{
				StoreDomain: c.store.Domain,
				StoreName:   c.store.Name,
				Error:       c.err.Error(),
			})
			continue
		}
		findings = append(findings, buildFinding(c.store, c.index[sku]))
	}
	return findings
}

func buildFinding(store models.Store, matches []clients.VariantMatch) models.StoreFinding {
	finding := models.StoreFinding{
		StoreDomain:  store.Domain,
		StoreName:    store.Name,
		Found:        len(matches) > 0,
		VariantCount: len(matches),
	}
	for _, m := range matches {
		finding.Quantity += m.CurrentQuantity
		finding.Variants = append(finding.Variants, models.VariantFinding{
			ProductID:       m.ProductID,
			VariantID:       m.VariantID,
			InventoryItemID: m.InventoryItemID,
			ProductTitle:    m.ProductTitle,
			VariantTitle:    m.VariantTitle,
			Quantity:        m.CurrentQuantity,
		})
	}
	return finding
}

func fillLocations(ctx context.Context, client clients.CatalogClient, finding *models.StoreFinding) error {
	ids := make([]int64, 0, len(finding.Variants))
	for _, v := range finding.Variants {
		ids = append(ids, v.InventoryItemID)
	}
	levels, err := client.InventoryLevels(ctx, ids)
	if err != nil {
		return err
	}
	byItem := groupLevels(levels)
	for i := range finding.Variants {
		finding.Variants[i].Locations = byItem[finding.Variants[i].InventoryItemID]
	}
	return nil
}

func groupLevels(levels []clients.InventoryLevel) map[int64][]models.LocationQuantity {
	byItem := make(map[int64][]models.LocationQuantity)
	for _, l := range levels {
		byItem[l.InventoryItemID] = append(byItem[l.InventoryItemID], models.LocationQuantity{
			LocationID: l.LocationID,
			Available:  l.Available,
		})
	}
	return byItem
}

func (st *ComparisonStats) add(cmp *models.InventoryComparison) {
	st.TotalProducts++
	switch cmp.Status {
	case models.StatusInSync:
		st.InSync++
	case models.StatusLocalHigher:
		st.LocalHigher++
	case models.StatusShopifyHigher:
		st.ShopifyHigher++
	case models.StatusNotFound:
		st.NotFound++
	}
	if cmp.Unverified() {
		st.Unverified++
	}
	st.TotalAbsoluteDifference += abs(cmp.Difference)
}

func validSort(s string) bool {
	switch s {
	case SortSmart, SortSKU, SortName, SortDifference, SortQuantity:
		return true
	}
	return false
}

// sortComparisons orders the set. smart puts products known remotely first,
// then the largest drift, then SKU.
func sortComparisons(items []*models.InventoryComparison, by string) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch by {
		case SortName:
			if a.Name != b.Name {
				return a.Name < b.Name
			}
		case SortDifference:
			if abs(a.Difference) != abs(b.Difference) {
				return abs(a.Difference) > abs(b.Difference)
			}
		case SortQuantity:
			if a.LocalQuantity != b.LocalQuantity {
				return a.LocalQuantity > b.LocalQuantity
			}
		case SortSmart:
			aFound, bFound := a.TotalVariantsFound > 0, b.TotalVariantsFound > 0
			if aFound != bFound {
				return aFound
			}
			if abs(a.Difference) != abs(b.Difference) {
				return abs(a.Difference) > abs(b.Difference)
			}
		}
		return a.SKU < b.SKU
	})
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
