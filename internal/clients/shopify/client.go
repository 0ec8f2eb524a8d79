package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"inventory-sync-service/internal/clients"
)

const (
	defaultAPIVersion = "2024-01"
	maxPageSize       = 250
	defaultMaxPages   = 20
	inventoryIDsBatch = 50
)

// Client implements clients.CatalogClient against the Shopify Admin REST API.
//
// Multi-location stores are treated as single-location: when no location is
// given, inventory writes go to the first location the store reports.
type Client struct {
	httpClient  *http.Client
	domain      string
	baseURL     string
	accessToken string
	apiVersion  string

	pageSize    int
	maxPages    int
	pageLimiter *rate.Limiter

	locationCache clients.LocationCache
	mu            sync.Mutex
	locationID    int64
}

var _ clients.CatalogClient = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at a non-default host
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithAPIVersion sets the Admin API version
func WithAPIVersion(version string) Option {
	return func(c *Client) {
		if version != "" {
			c.apiVersion = version
		}
	}
}

// WithPagination sets the catalog scan bounds and the pause between pages
func WithPagination(pageSize, maxPages int, pageDelay time.Duration) Option {
	return func(c *Client) {
		if pageSize > 0 && pageSize <= maxPageSize {
			c.pageSize = pageSize
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
		c.pageLimiter = newPageLimiter(pageDelay)
	}
}

// WithLocationCache shares resolved location ids across client instances
func WithLocationCache(cache clients.LocationCache) Option {
	return func(c *Client) { c.locationCache = cache }
}

// NewClient creates a new Shopify Admin API client for one store
func NewClient(domain, accessToken string, opts ...Option) *Client {
	domain = NormalizeDomain(domain)
	c := &Client{
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		domain:      domain,
		baseURL:     "https://" + domain,
		accessToken: accessToken,
		apiVersion:  defaultAPIVersion,
		pageSize:    maxPageSize,
		maxPages:    defaultMaxPages,
		pageLimiter: newPageLimiter(500 * time.Millisecond),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newPageLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// NormalizeDomain lowercases a store address, strips scheme, path and
// trailing slashes, and appends .myshopify.com to bare store handles.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.Index(d, "/"); i >= 0 {
		d = d[:i]
	}
	if d != "" && !strings.Contains(d, ".") {
		d += ".myshopify.com"
	}
	return d
}

// TestConnectivity calls /shop.json
func (c *Client) TestConnectivity(ctx context.Context) clients.ConnectivityResult {
	body, err := c.doRequest(ctx, http.MethodGet, "/shop.json", nil, nil)
	if err != nil {
		var apiErr *clients.RemoteAPIError
		if errors.As(err, &apiErr) && apiErr.Unauthorized() {
			return clients.ConnectivityResult{OK: false, Error: "access token rejected: " + err.Error()}
		}
		return clients.ConnectivityResult{OK: false, Error: err.Error()}
	}

	var response struct {
		Shop shopifyShop `json:"shop"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return clients.ConnectivityResult{OK: false, Error: fmt.Sprintf("failed to parse shop response: %v", err)}
	}

	return clients.ConnectivityResult{
		OK: true,
		Shop: &clients.ShopInfo{
			ID:       response.Shop.ID,
			Name:     response.Shop.Name,
			Domain:   response.Shop.MyshopifyDomain,
			Email:    response.Shop.Email,
			Currency: response.Shop.Currency,
			PlanName: response.Shop.PlanName,
		},
	}
}

// FindVariantBySku pages through the catalog until the first variant with sku
func (c *Client) FindVariantBySku(ctx context.Context, sku string) (clients.VariantMatch, bool, error) {
	sku = strings.TrimSpace(sku)
	var match clients.VariantMatch
	found := false

	err := c.scanCatalog(ctx, func(p shopifyProduct) bool {
		for _, v := range p.Variants {
			if strings.TrimSpace(v.SKU) == sku {
				match = toVariantMatch(p, v)
				found = true
				return true
			}
		}
		return false
	})
	if err != nil {
		return clients.VariantMatch{}, false, err
	}
	return match, found, nil
}

// FindVariantsBySku returns every variant with sku across the catalog
func (c *Client) FindVariantsBySku(ctx context.Context, sku string) ([]clients.VariantMatch, error) {
	sku = strings.TrimSpace(sku)
	var matches []clients.VariantMatch

	err := c.scanCatalog(ctx, func(p shopifyProduct) bool {
		for _, v := range p.Variants {
			if strings.TrimSpace(v.SKU) == sku {
				matches = append(matches, toVariantMatch(p, v))
			}
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// IndexCatalog groups every variant in the catalog by SKU
func (c *Client) IndexCatalog(ctx context.Context) (map[string][]clients.VariantMatch, error) {
	index := make(map[string][]clients.VariantMatch)

	err := c.scanCatalog(ctx, func(p shopifyProduct) bool {
		for _, v := range p.Variants {
			sku := strings.TrimSpace(v.SKU)
			if sku == "" {
				continue
			}
			index[sku] = append(index[sku], toVariantMatch(p, v))
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	return index, nil
}

// scanCatalog walks /products.json with a since_id cursor. It stops when
// visit returns true, on a short page, or after maxPages pages.
func (c *Client) scanCatalog(ctx context.Context, visit func(shopifyProduct) bool) error {
	var sinceID int64

	for page := 0; page < c.maxPages; page++ {
		if err := c.pageLimiter.Wait(ctx); err != nil {
			return err
		}

		params := url.Values{}
		params.Set("limit", strconv.Itoa(c.pageSize))
		params.Set("since_id", strconv.FormatInt(sinceID, 10))
		params.Set("fields", "id,title,variants")

		body, err := c.doRequest(ctx, http.MethodGet, "/products.json", params, nil)
		if err != nil {
			return err
		}

		var response struct {
			Products []shopifyProduct `json:"products"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return fmt.Errorf("failed to parse products response: %w", err)
		}

		for _, p := range response.Products {
			if visit(p) {
				return nil
			}
		}

		if len(response.Products) < c.pageSize {
			return nil
		}
		sinceID = response.Products[len(response.Products)-1].ID
	}

	return nil
}

// InventoryLevels fetches per-location quantities for the given items
func (c *Client) InventoryLevels(ctx context.Context, inventoryItemIDs []int64) ([]clients.InventoryLevel, error) {
	levels := make([]clients.InventoryLevel, 0, len(inventoryItemIDs))

	for start := 0; start < len(inventoryItemIDs); start += inventoryIDsBatch {
		end := start + inventoryIDsBatch
		if end > len(inventoryItemIDs) {
			end = len(inventoryItemIDs)
		}

		ids := make([]string, 0, end-start)
		for _, id := range inventoryItemIDs[start:end] {
			ids = append(ids, strconv.FormatInt(id, 10))
		}

		params := url.Values{}
		params.Set("inventory_item_ids", strings.Join(ids, ","))
		params.Set("limit", strconv.Itoa(maxPageSize))

		body, err := c.doRequest(ctx, http.MethodGet, "/inventory_levels.json", params, nil)
		if err != nil {
			return nil, err
		}

		var response struct {
			InventoryLevels []shopifyInventoryLevel `json:"inventory_levels"`
		}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("failed to parse inventory levels response: %w", err)
		}

		for _, lvl := range response.InventoryLevels {
			available := 0
			if lvl.Available != nil {
				available = *lvl.Available
			}
			levels = append(levels, clients.InventoryLevel{
				InventoryItemID: lvl.InventoryItemID,
				LocationID:      lvl.LocationID,
				Available:       available,
			})
		}
	}

	return levels, nil
}

// SetInventoryLevel sets the available quantity at a location. With
// locationID 0 the store's first location is used; if a remembered first
// location is rejected it is re-resolved once.
func (c *Client) SetInventoryLevel(ctx context.Context, inventoryItemID int64, quantity int, locationID int64) error {
	if locationID != 0 {
		return c.setLevel(ctx, inventoryItemID, quantity, locationID)
	}

	resolved, remembered, err := c.defaultLocation(ctx)
	if err != nil {
		return err
	}
	err = c.setLevel(ctx, inventoryItemID, quantity, resolved)
	if err == nil || !remembered || !staleLocation(err) {
		return err
	}

	c.forgetLocation(ctx, resolved)
	fresh, _, rerr := c.defaultLocation(ctx)
	if rerr != nil || fresh == resolved {
		return err
	}
	return c.setLevel(ctx, inventoryItemID, quantity, fresh)
}

func (c *Client) setLevel(ctx context.Context, inventoryItemID int64, quantity int, locationID int64) error {
	payload := map[string]interface{}{
		"location_id":       locationID,
		"inventory_item_id": inventoryItemID,
		"available":         quantity,
	}
	_, err := c.doRequest(ctx, http.MethodPost, "/inventory_levels/set.json", nil, payload)
	return err
}

// staleLocation reports whether a set failure can mean the location is gone
func staleLocation(err error) bool {
	code := clients.StatusCodeOf(err)
	return code == http.StatusNotFound || code == http.StatusUnprocessableEntity
}

// defaultLocation resolves the store's first location once per client.
// remembered is true when the id came from the memo or the cache rather
// than a fresh listing.
func (c *Client) defaultLocation(ctx context.Context) (id int64, remembered bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locationID != 0 {
		return c.locationID, true, nil
	}

	if c.locationCache != nil {
		if id, ok := c.locationCache.GetLocationID(ctx, c.domain); ok && id != 0 {
			c.locationID = id
			return id, true, nil
		}
	}

	locations, err := c.ListLocations(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve location: %w", err)
	}
	if len(locations) == 0 {
		return 0, false, fmt.Errorf("store %s has no locations", c.domain)
	}

	c.locationID = locations[0].ID
	if c.locationCache != nil {
		c.locationCache.SetLocationID(ctx, c.domain, c.locationID)
	}
	return c.locationID, false, nil
}

// forgetLocation drops a rejected location from the memo and the cache
func (c *Client) forgetLocation(ctx context.Context, locationID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locationID == locationID {
		c.locationID = 0
	}
	if c.locationCache != nil {
		c.locationCache.Invalidate(ctx, c.domain)
	}
}

// ListLocations lists the store's stock locations
func (c *Client) ListLocations(ctx context.Context) ([]clients.Location, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/locations.json", nil, nil)
	if err != nil {
		return nil, err
	}

	var response struct {
		Locations []shopifyLocation `json:"locations"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse locations response: %w", err)
	}

	locations := make([]clients.Location, 0, len(response.Locations))
	for _, l := range response.Locations {
		locations = append(locations, clients.Location{
			ID:       l.ID,
			Name:     l.Name,
			Active:   l.Active,
			City:     l.City,
			Country:  l.CountryCode,
			Legacy:   l.Legacy,
			Address1: l.Address1,
		})
	}
	return locations, nil
}

// CreateRemoteProduct creates a single-variant product and sets its stock
func (c *Client) CreateRemoteProduct(ctx context.Context, input clients.RemoteProductInput) (*clients.RemoteProduct, error) {
	if strings.TrimSpace(input.SKU) == "" {
		return nil, errors.New("sku is required")
	}
	status := input.Status
	if status == "" {
		status = "active"
	}

	product := map[string]interface{}{
		"title":        input.Title,
		"product_type": input.ProductType,
		"status":       status,
		"variants": []map[string]interface{}{
			{
				"sku":                  strings.TrimSpace(input.SKU),
				"inventory_management": "shopify",
			},
		},
	}
	if input.ImageURL != nil && *input.ImageURL != "" {
		product["images"] = []map[string]interface{}{{"src": *input.ImageURL}}
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/products.json", nil, map[string]interface{}{"product": product})
	if err != nil {
		return nil, err
	}

	var response struct {
		Product shopifyProduct `json:"product"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse product response: %w", err)
	}
	if len(response.Product.Variants) == 0 {
		return nil, fmt.Errorf("created product %d has no variants", response.Product.ID)
	}

	created := &clients.RemoteProduct{
		ID:      response.Product.ID,
		Title:   response.Product.Title,
		Variant: toVariantMatch(response.Product, response.Product.Variants[0]),
	}

	if input.Quantity > 0 {
		if err := c.SetInventoryLevel(ctx, created.Variant.InventoryItemID, input.Quantity, 0); err != nil {
			return created, fmt.Errorf("product created but stock not set: %w", err)
		}
		created.Variant.CurrentQuantity = input.Quantity
	}

	return created, nil
}

// doRequest performs an authenticated HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, body interface{}) ([]byte, error) {
	fullURL := fmt.Sprintf("%s/admin/api/%s%s", c.baseURL, c.apiVersion, path)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, err
	}

	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &clients.RemoteAPIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: clients.ParseRetryAfter(resp),
		}
	}

	return respBody, nil
}

// Shopify data structures
type shopifyShop struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	MyshopifyDomain string `json:"myshopify_domain"`
	Currency        string `json:"currency"`
	PlanName        string `json:"plan_name"`
}

type shopifyProduct struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Variants []shopifyVariant `json:"variants"`
}

type shopifyVariant struct {
	ID                int64  `json:"id"`
	ProductID         int64  `json:"product_id"`
	Title             string `json:"title"`
	SKU               string `json:"sku"`
	InventoryQuantity int    `json:"inventory_quantity"`
	InventoryItemID   int64  `json:"inventory_item_id"`
}

type shopifyInventoryLevel struct {
	InventoryItemID int64 `json:"inventory_item_id"`
	LocationID      int64 `json:"location_id"`
	Available       *int  `json:"available"`
}

type shopifyLocation struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Address1    string `json:"address1"`
	City        string `json:"city"`
	CountryCode string `json:"country_code"`
	Active      bool   `json:"active"`
	Legacy      bool   `json:"legacy"`
}

func toVariantMatch(p shopifyProduct, v shopifyVariant) clients.VariantMatch {
	productID := v.ProductID
	if productID == 0 {
		productID = p.ID
	}
	return clients.VariantMatch{
		ProductID:       productID,
		ProductTitle:    p.Title,
		VariantID:       v.ID,
		VariantTitle:    v.Title,
		InventoryItemID: v.InventoryItemID,
		SKU:             strings.TrimSpace(v.SKU),
		CurrentQuantity: v.InventoryQuantity,
	}
}
