package handlers

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"inventory-sync-service/internal/models"
	"inventory-sync-service/internal/repository"
	"inventory-sync-service/internal/services"
)

// maxUploadBytes caps a stock upload file
const maxUploadBytes = 10 << 20

// ProductService is the catalog surface used by ProductHandler
type ProductService interface {
	CreateProduct(ctx context.Context, input services.CreateProductInput) (*models.Product, error)
	GetProduct(ctx context.Context, sku string) (*models.Product, error)
	ListProducts(ctx context.Context, opts repository.ProductListOptions) ([]models.Product, int64, error)
	ListCategories(ctx context.Context) ([]string, error)
	UpdateProduct(ctx context.Context, sku string, input services.UpdateProductInput) (*models.Product, error)
	StockIn(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error)
	StockOut(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error)
	SetQuantity(ctx context.Context, sku string, movement services.StockMovement) (*services.StockChange, error)
	UploadStock(ctx context.Context, rows []services.UploadRow, mode services.UploadMode) (*services.UploadResult, error)
}

// ProductHandler handles local catalog and stock endpoints
type ProductHandler struct {
	service ProductService
}

// NewProductHandler creates a new product handler
func NewProductHandler(service ProductService) *ProductHandler {
	return &ProductHandler{service: service}
}

// List returns products
// GET /api/v1/products
func (h *ProductHandler) List(c *gin.Context) {
	opts := repository.ProductListOptions{
		Category: c.Query("category"),
		Search:   c.Query("search"),
		SortBy:   c.Query("sortBy"),
		SortDesc: c.Query("sortOrder") == "desc",
		Limit:    queryInt(c, "limit", 50),
		Offset:   queryInt(c, "offset", 0),
	}
	if v := c.Query("needsSync"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.NeedsSync = &b
		}
	}

	products, total, err := h.service.ListProducts(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  products,
		"total": total,
	})
}

// Create adds a product
// POST /api/v1/products
func (h *ProductHandler) Create(c *gin.Context) {
	var input services.CreateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.service.CreateProduct(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": product})
}

// Get returns one product
// GET /api/v1/products/:sku
func (h *ProductHandler) Get(c *gin.Context) {
	product, err := h.service.GetProduct(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": product})
}

// Update patches descriptive fields
// PATCH /api/v1/products/:sku
func (h *ProductHandler) Update(c *gin.Context) {
	var input services.UpdateProductInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.service.UpdateProduct(c.Request.Context(), c.Param("sku"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": product})
}

// Categories lists distinct categories
// GET /api/v1/products/categories
func (h *ProductHandler) Categories(c *gin.Context) {
	categories, err := h.service.ListCategories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"data": categories})
}

// StockIn adds quantity
// POST /api/v1/products/:sku/stock-in
func (h *ProductHandler) StockIn(c *gin.Context) {
	h.move(c, h.service.StockIn)
}

// StockOut removes quantity
// POST /api/v1/products/:sku/stock-out
func (h *ProductHandler) StockOut(c *gin.Context) {
	h.move(c, h.service.StockOut)
}

// SetQuantity overwrites quantity
// PUT /api/v1/products/:sku/quantity
func (h *ProductHandler) SetQuantity(c *gin.Context) {
	h.move(c, h.service.SetQuantity)
}

func (h *ProductHandler) move(c *gin.Context, apply func(context.Context, string, services.StockMovement) (*services.StockChange, error)) {
	var movement services.StockMovement
	if err := c.ShouldBindJSON(&movement); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	change, err := apply(c.Request.Context(), c.Param("sku"), movement)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": change})
}

// Upload applies a CSV or XLSX stock file
// POST /api/v1/products/upload
func (h *ProductHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please upload a CSV or Excel file"})
		return
	}
	defer file.Close()

	mode := services.UploadMode(strings.ToLower(c.DefaultPostForm("mode", string(services.UploadModeSet))))

	records, err := parseFile(file, header.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "The file contains no data rows"})
		return
	}

	rows, rowErrors := toUploadRows(records)
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid rows", "errors": rowErrors})
		return
	}

	result, err := h.service.UploadStock(c.Request.Context(), rows, mode)
	if err != nil {
		respondError(c, err)
		return
	}
	result.Processed += len(rowErrors)
	result.Errors = append(rowErrors, result.Errors...)

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// toUploadRows converts parsed records; rows with an unparseable quantity
// are reported and dropped.
func toUploadRows(records []map[string]string) ([]services.UploadRow, []services.UploadRowError) {
	rows := make([]services.UploadRow, 0, len(records))
	rowErrors := []services.UploadRowError{}

	for _, record := range records {
		rowNum, _ := strconv.Atoi(record["_row"])
		sku := record["sku"]

		qtyText := record["quantity"]
		if qtyText == "" {
			qtyText = record["qty"]
		}
		qty, err := strconv.Atoi(qtyText)
		if err != nil {
			// Spreadsheets often store whole numbers as floats
			f, ferr := strconv.ParseFloat(qtyText, 64)
			if ferr != nil || f != float64(int(f)) {
				rowErrors = append(rowErrors, services.UploadRowError{
					Row: rowNum, SKU: sku, Message: fmt.Sprintf("invalid quantity %q", qtyText),
				})
				continue
			}
			qty = int(f)
		}

		row := services.UploadRow{
			Row:      rowNum,
			SKU:      sku,
			Name:     record["name"],
			Category: record["category"],
			Quantity: qty,
		}
		if img := record["image_url"]; img != "" {
			row.ImageURL = &img
		}
		rows = append(rows, row)
	}
	return rows, rowErrors
}

func parseFile(file io.Reader, filename string) ([]map[string]string, error) {
	name := strings.ToLower(filename)
	if strings.HasSuffix(name, ".csv") {
		return parseCSV(file)
	} else if strings.HasSuffix(name, ".xlsx") {
		return parseXLSX(file)
	}
	return nil, fmt.Errorf("only CSV and XLSX files are supported")
}

func normalizeHeaders(headers []string) {
	for i := range headers {
		h := strings.TrimSpace(strings.ToLower(headers[i]))
		h = strings.TrimPrefix(h, "\ufeff")
		h = strings.TrimSuffix(h, " *")
		headers[i] = strings.ReplaceAll(h, " ", "_")
	}
}

func parseCSV(file io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	normalizeHeaders(headers)

	var rows []map[string]string
	lineNum := 1

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading line %d: %w", lineNum+1, err)
		}
		lineNum++

		row := make(map[string]string)
		empty := true
		for i, value := range record {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
				if row[headers[i]] != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		row["_row"] = strconv.Itoa(lineNum)
		rows = append(rows, row)
	}

	return rows, nil
}

func parseXLSX(file io.Reader) ([]map[string]string, error) {
	f, err := excelize.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in Excel file")
	}

	excelRows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	if len(excelRows) < 2 {
		return nil, fmt.Errorf("file must have a header row and at least one data row")
	}

	headers := excelRows[0]
	normalizeHeaders(headers)

	var rows []map[string]string
	for rowIdx, excelRow := range excelRows[1:] {
		row := make(map[string]string)
		empty := true
		for i, value := range excelRow {
			if i < len(headers) {
				row[headers[i]] = strings.TrimSpace(value)
				if row[headers[i]] != "" {
					empty = false
				}
			}
		}
		if empty {
			continue
		}
		row["_row"] = strconv.Itoa(rowIdx + 2)
		rows = append(rows, row)
	}

	return rows, nil
}
