package services

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// memProducts is an in-memory product repository
type memProducts struct {
	mu    sync.Mutex
	items map[string]models.Product
	// beforeCAS runs before each compare-and-swap, used to simulate races
	beforeCAS func(sku string)
}

var _ repository.ProductRepositoryInterface = (*memProducts)(nil)

func newMemProducts(products ...models.Product) *memProducts {
	m := &memProducts{items: make(map[string]models.Product)}
	for _, p := range products {
		if p.Version == 0 {
			p.Version = 1
		}
		m.items[p.SKU] = p
	}
	return m
}

func (m *memProducts) Create(_ context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.items[product.SKU]; exists {
		return gorm.ErrDuplicatedKey
	}
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	if product.Version == 0 {
		product.Version = 1
	}
	m.items[product.SKU] = *product
	return nil
}

func (m *memProducts) GetBySKU(_ context.Context, sku string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[models.NormalizeSKU(sku)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &p, nil
}

func (m *memProducts) get(sku string) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[sku]
}

func (m *memProducts) sorted() []models.Product {
	out := make([]models.Product, 0, len(m.items))
	for _, p := range m.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out
}

func (m *memProducts) List(_ context.Context, opts repository.ProductListOptions) ([]models.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var filtered []models.Product
	for _, p := range m.sorted() {
		if opts.Category != "" && p.Category != opts.Category {
			continue
		}
		if q := strings.ToLower(opts.Search); q != "" &&
			!strings.Contains(strings.ToLower(p.SKU), q) && !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		if opts.NeedsSync != nil && p.NeedsSync != *opts.NeedsSync {
			continue
		}
		filtered = append(filtered, p)
	}
	total := int64(len(filtered))
	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			filtered = nil
		} else {
			filtered = filtered[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, total, nil
}

func (m *memProducts) ListBySKUs(_ context.Context, skus []string) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Product{}
	for _, sku := range skus {
		if p, ok := m.items[sku]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memProducts) ListAll(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *memProducts) Update(_ context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[product.SKU]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	p.Name = product.Name
	p.Category = product.Category
	p.ImageURL = product.ImageURL
	m.items[product.SKU] = p
	return nil
}

func (m *memProducts) CompareAndSetQuantity(_ context.Context, sku string, expectedVersion int64, quantity int) (bool, error) {
	if m.beforeCAS != nil {
		m.beforeCAS(sku)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[sku]
	if !ok || p.Version != expectedVersion {
		return false, nil
	}
	p.Quantity = quantity
	p.Version++
	p.NeedsSync = true
	m.items[sku] = p
	return true, nil
}

func (m *memProducts) MarkSynced(_ context.Context, skus []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sku := range skus {
		if p, ok := m.items[sku]; ok {
			p.LastSynced = &at
			m.items[sku] = p
		}
	}
	return nil
}

func (m *memProducts) ClearNeedsSync(_ context.Context, versions map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sku, v := range versions {
		if p, ok := m.items[sku]; ok && p.Version == v {
			p.NeedsSync = false
			m.items[sku] = p
		}
	}
	return nil
}

func (m *memProducts) Categories(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range m.sorted() {
		if p.Category != "" && !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}


// memStores is an in-memory store repository
type memStores struct {
	mu    sync.Mutex
	items map[string]models.Store
	order []string
}

var _ repository.StoreRepositoryInterface = (*memStores)(nil)

func newMemStores(stores ...models.Store) *memStores {
	m := &memStores{items: make(map[string]models.Store)}
	for _, s := range stores {
		m.items[s.Domain] = s
		m.order = append(m.order, s.Domain)
	}
	return m
}

func (m *memStores) Create(_ context.Context, store *models.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[store.Domain]; ok {
		return gorm.ErrDuplicatedKey
	}
	store.ID = uuid.New()
	m.items[store.Domain] = *store
	m.order = append(m.order, store.Domain)
	return nil
}

func (m *memStores) GetByDomain(_ context.Context, domain string) (*models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[domain]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (m *memStores) get(domain string) models.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[domain]
}

func (m *memStores) List(_ context.Context) ([]models.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Store{}
	for _, d := range m.order {
		if s, ok := m.items[d]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStores) ListConnected(ctx context.Context) ([]models.Store, error) {
	all, _ := m.List(ctx)
	out := []models.Store{}
	for _, s := range all {
		if s.Connected {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStores) UpdateConnectivity(_ context.Context, domain string, connected bool, lastError string, checkedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[domain]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.Connected = connected
	s.LastError = lastError
	s.LastCheck = &checkedAt
	m.items[domain] = s
	return nil
}

func (m *memStores) UpdateLastSync(_ context.Context, domain string, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[domain]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.LastSync = &syncedAt
	m.items[domain] = s
	return nil
}

func (m *memStores) UpdateCredentials(_ context.Context, domain, secretReference, encryptedToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[domain]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.SecretReference = secretReference
	s.EncryptedToken = encryptedToken
	m.items[domain] = s
	return nil
}

func (m *memStores) Delete(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[domain]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.items, domain)
	return nil
}

// memAudit is an in-memory audit repository
type memAudit struct {
	mu    sync.Mutex
	stock []models.StockAuditRecord
	sync  []models.SyncAuditRecord
}

var _ repository.AuditRepositoryInterface = (*memAudit)(nil)

func (m *memAudit) CreateStockRecord(_ context.Context, record *models.StockAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.New()
	record.QuantityChange = record.NewQuantity - record.OldQuantity
	m.stock = append(m.stock, *record)
	return nil
}

func (m *memAudit) CreateSyncRecord(_ context.Context, record *models.SyncAuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ID = uuid.New()
	record.Normalize()
	m.sync = append(m.sync, *record)
	return nil
}

func (m *memAudit) ListStockRecords(_ context.Context, opts repository.AuditListOptions) ([]models.StockAuditRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.StockAuditRecord
	for i := len(m.stock) - 1; i >= 0; i-- {
		if opts.SKU == "" || m.stock[i].SKU == opts.SKU {
			out = append(out, m.stock[i])
		}
	}
	return out, int64(len(out)), nil
}

func (m *memAudit) ListSyncRecords(_ context.Context, opts repository.AuditListOptions) ([]models.SyncAuditRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.SyncAuditRecord
	for i := len(m.sync) - 1; i >= 0; i-- {
		r := m.sync[i]
		if opts.SKU != "" && r.SKU != opts.SKU {
			continue
		}
		if opts.StoreDomain != "" && r.StoreDomain != opts.StoreDomain {
			continue
		}
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (m *memAudit) Reset(_ context.Context) (*repository.ResetCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := &repository.ResetCounts{StockRecords: int64(len(m.stock)), SyncRecords: int64(len(m.sync))}
	m.stock, m.sync = nil, nil
	return counts, nil
}

func (m *memAudit) Export(_ context.Context) (*models.AuditSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &models.AuditSnapshot{
		StockRecords: append([]models.StockAuditRecord(nil), m.stock...),
		SyncRecords:  append([]models.SyncAuditRecord(nil), m.sync...),
	}, nil
}

func (m *memAudit) Import(_ context.Context, snapshot *models.AuditSnapshot) (*repository.ImportCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock = append(m.stock, snapshot.StockRecords...)
	m.sync = append(m.sync, snapshot.SyncRecords...)
	return &repository.ImportCounts{StockRecords: len(snapshot.StockRecords), SyncRecords: len(snapshot.SyncRecords)}, nil
}

func (m *memAudit) syncRecords() []models.SyncAuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SyncAuditRecord(nil), m.sync...)
}

func (m *memAudit) stockRecords() []models.StockAuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StockAuditRecord(nil), m.stock...)
}

// memRuns is an in-memory sync run repository
type memRuns struct {
	mu   sync.Mutex
	runs map[uuid.UUID]models.SyncRun
	done chan uuid.UUID
}

var _ repository.SyncRunRepositoryInterface = (*memRuns)(nil)

func newMemRuns() *memRuns {
	return &memRuns{runs: make(map[uuid.UUID]models.SyncRun), done: make(chan uuid.UUID, 16)}
}

func (m *memRuns) CreateRun(_ context.Context, run *models.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *memRuns) GetRun(_ context.Context, id uuid.UUID) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &r, nil
}

func (m *memRuns) UpdateRunStatus(_ context.Context, id uuid.UUID, status models.SyncRunStatus, errorMessage string) error {
	m.mu.Lock()
	r := m.runs[id]
	r.Status = status
	r.ErrorMessage = errorMessage
	if status.IsTerminal() {
		now := time.Now()
		r.CompletedAt = &now
	}
	m.runs[id] = r
	m.mu.Unlock()
	if status.IsTerminal() {
		m.done <- id
	}
	return nil
}

func (m *memRuns) UpdateRunSummary(_ context.Context, id uuid.UUID, summary *models.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	r.SetSummary(summary)
	m.runs[id] = r
	return nil
}

func (m *memRuns) ListRuns(_ context.Context, _ repository.SyncRunListOptions) ([]models.SyncRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.SyncRun{}
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (m *memRuns) GetStats(_ context.Context) (*repository.SyncStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &repository.SyncStats{TotalRuns: int64(len(m.runs))}, nil
}

func (m *memRuns) MarkInterruptedRuns(_ context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.runs {
		if r.Status == models.SyncRunRunning {
			r.Status = models.SyncRunFailed
			r.ErrorMessage = reason
			m.runs[id] = r
			n++
		}
	}
	return n, nil
}

// memTokens is an in-memory token store
type memTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

var _ TokenStore = (*memTokens)(nil)

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]string)}
}

func (t *memTokens) PutToken(_ context.Context, domain, accessToken string) (string, string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[domain] = accessToken
	return "mem/" + domain, "", nil
}

func (t *memTokens) GetToken(_ context.Context, store *models.Store) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens[store.Domain], nil
}

func (t *memTokens) DeleteToken(_ context.Context, store *models.Store) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, store.Domain)
	return nil
}

// fakeCatalog is a scriptable CatalogClient for one store
type fakeCatalog struct {
	mu          sync.Mutex
	domain      string
	variants    map[string][]clients.VariantMatch
	levels      map[int64][]clients.InventoryLevel
	unreachable string
	indexErr    error
	setErr      func(attempt int) error
	setCalls    int
	findCalls   int
	panicOnFind bool
	created     []clients.RemoteProductInput
	onSet       func()
}

var _ clients.CatalogClient = (*fakeCatalog)(nil)

func newFakeCatalog(domain string) *fakeCatalog {
	return &fakeCatalog{
		domain:   domain,
		variants: make(map[string][]clients.VariantMatch),
		levels:   make(map[int64][]clients.InventoryLevel),
	}
}

func (f *fakeCatalog) addVariant(sku string, productID, variantID, itemID int64, qty int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.variants[sku] = append(f.variants[sku], clients.VariantMatch{
		ProductID:       productID,
		VariantID:       variantID,
		InventoryItemID: itemID,
		SKU:             sku,
		CurrentQuantity: qty,
	})
}

func (f *fakeCatalog) quantity(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v := f.variants[sku]; len(v) > 0 {
		return v[0].CurrentQuantity
	}
	return -1
}

func (f *fakeCatalog) FindVariantBySku(_ context.Context, sku string) (clients.VariantMatch, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.panicOnFind {
		panic("boom")
	}
	v := f.variants[sku]
	if len(v) == 0 {
		return clients.VariantMatch{}, false, nil
	}
	return v[0], true, nil
}

func (f *fakeCatalog) FindVariantsBySku(_ context.Context, sku string) ([]clients.VariantMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]clients.VariantMatch(nil), f.variants[sku]...), nil
}

func (f *fakeCatalog) IndexCatalog(_ context.Context) (map[string][]clients.VariantMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexErr != nil {
		return nil, f.indexErr
	}
	out := make(map[string][]clients.VariantMatch, len(f.variants))
	for k, v := range f.variants {
		out[k] = append([]clients.VariantMatch(nil), v...)
	}
	return out, nil
}

func (f *fakeCatalog) InventoryLevels(_ context.Context, ids []int64) ([]clients.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []clients.InventoryLevel
	for _, id := range ids {
		out = append(out, f.levels[id]...)
	}
	return out, nil
}

func (f *fakeCatalog) SetInventoryLevel(_ context.Context, itemID int64, quantity int, _ int64) error {
	f.mu.Lock()
	f.setCalls++
	attempt := f.setCalls
	onSet := f.onSet
	var err error
	if f.setErr != nil {
		err = f.setErr(attempt)
	}
	if err == nil {
		for sku, vs := range f.variants {
			for i := range vs {
				if vs[i].InventoryItemID == itemID {
					f.variants[sku][i].CurrentQuantity = quantity
				}
			}
		}
	}
	f.mu.Unlock()
	if onSet != nil {
		onSet()
	}
	return err
}

func (f *fakeCatalog) ListLocations(_ context.Context) ([]clients.Location, error) {
	return []clients.Location{{ID: 1, Name: "Main", Active: true}}, nil
}

func (f *fakeCatalog) TestConnectivity(_ context.Context) clients.ConnectivityResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreachable != "" {
		return clients.ConnectivityResult{OK: false, Error: f.unreachable}
	}
	return clients.ConnectivityResult{OK: true, Shop: &clients.ShopInfo{Domain: f.domain, Name: f.domain}}
}

func (f *fakeCatalog) CreateRemoteProduct(_ context.Context, input clients.RemoteProductInput) (*clients.RemoteProduct, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, input)
	return &clients.RemoteProduct{ID: 900, Title: input.Title, Variant: clients.VariantMatch{
		ProductID: 900, VariantID: 901, InventoryItemID: 902, SKU: input.SKU, CurrentQuantity: input.Quantity,
	}}, nil
}

// catalogFactory returns the fake registered for each domain
func catalogFactory(fakes map[string]*fakeCatalog) ClientFactory {
	return func(domain, _ string) clients.CatalogClient {
		if f, ok := fakes[domain]; ok {
			return f
		}
		return newFakeCatalog(domain)
	}
}

func connectedStore(domain, name string) models.Store {
	return models.Store{ID: uuid.New(), Domain: domain, Name: name, Connected: true, SecretReference: "mem/" + domain}
}
