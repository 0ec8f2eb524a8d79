package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"inventory-sync-service/internal/cache"
	"inventory-sync-service/internal/clients"
	"inventory-sync-service/internal/clients/shopify"
	"inventory-sync-service/internal/config"
	"inventory-sync-service/internal/database"
	"inventory-sync-service/internal/encryption"
	"inventory-sync-service/internal/events"
	"inventory-sync-service/internal/handlers"
	"inventory-sync-service/internal/middleware"
	"inventory-sync-service/internal/repository"
	"inventory-sync-service/internal/secrets"
	"inventory-sync-service/internal/services"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	db, err := database.Connect(cfg.DatabaseURL, cfg.Environment)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Fatal("Failed to get database handle")
	}
	logger.Info("Database models migrated")

	ctx := context.Background()

	// Location cache is optional
	redisClient, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, location lookups will not be cached")
		redisClient = nil
	}
	locationCache := cache.NewLocationCache(redisClient, cfg.Shopify.LocationCacheTTL, logger)

	// Events are optional
	publisher, err := events.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		logger.WithError(err).Warn("NATS unavailable, events disabled")
		publisher, _ = events.NewPublisher("", logger)
	}
	defer publisher.Close()

	tokens := newTokenStore(ctx, cfg, logger)

	httpClient := &http.Client{Timeout: cfg.Shopify.HTTPTimeout}
	newClient := func(domain, accessToken string) clients.CatalogClient {
		return shopify.NewClient(domain, accessToken,
			shopify.WithHTTPClient(httpClient),
			shopify.WithAPIVersion(cfg.Shopify.APIVersion),
			shopify.WithPagination(cfg.Shopify.PageSize, cfg.Shopify.MaxPages, cfg.Shopify.PageDelay),
			shopify.WithLocationCache(locationCache),
		)
	}

	// Initialize repositories
	productRepo := repository.NewProductRepository(db)
	storeRepo := repository.NewStoreRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	runRepo := repository.NewSyncRunRepository(db)

	// Initialize services
	auditService := services.NewAuditService(auditRepo, logger)
	stockService := services.NewStockService(productRepo, auditService, publisher, cfg.StockMaxCASAttempts, logger)
	storeService := services.NewStoreService(storeRepo, productRepo, tokens, newClient, logger)
	storeService.OnDelete(locationCache.Invalidate)
	reconciliationService := services.NewReconciliationService(productRepo, storeService, cfg.ComparisonPageSize, logger)
	syncService := services.NewSyncService(runRepo, productRepo, storeService, auditService, publisher, cfg.Sync, logger)
	auditService.SetActiveRunChecker(syncService)

	if _, err := syncService.RecoverInterruptedRuns(ctx); err != nil {
		logger.WithError(err).Error("Failed to recover interrupted sync runs")
	}

	healthHandler := handlers.NewHealthHandler(sqlDB)
	if redisClient != nil {
		healthHandler.WithCache(locationCache)
	}

	// Initialize handlers
	router := setupRouter(cfg, logger,
		healthHandler,
		handlers.NewProductHandler(stockService),
		handlers.NewStoreHandler(storeService),
		handlers.NewComparisonHandler(reconciliationService),
		handlers.NewSyncHandler(syncService),
		handlers.NewAuditHandler(auditService),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Inventory sync service starting on port %s (env: %s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	if err := syncService.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Sync runs did not stop in time")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	_ = sqlDB.Close()

	logger.Info("Server shutdown complete")
}

// newTokenStore prefers Secret Manager and falls back to row encryption.
// It returns nil when neither is configured.
func newTokenStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) services.TokenStore {
	if cfg.GCPProjectID != "" {
		manager, err := secrets.NewGCPSecretManager(ctx, cfg.GCPProjectID)
		if err == nil {
			logger.Info("GCP Secret Manager initialized")
			return services.NewSecretManagerTokenStore(manager)
		}
		logger.WithError(err).Warn("Failed to initialize GCP Secret Manager")
	}

	if cfg.TokenEncryptionKey != "" {
		cipher, err := encryption.NewTokenCipher(cfg.TokenEncryptionKey)
		if err == nil {
			logger.Info("Store tokens will be encrypted at rest")
			return services.NewEncryptedTokenStore(cipher)
		}
		logger.WithError(err).Error("Invalid TOKEN_ENCRYPTION_KEY")
	}

	logger.Warn("No credential store configured, store registration is disabled")
	return nil
}

// setupRouter configures the HTTP router
func setupRouter(
	cfg *config.Config,
	logger *logrus.Logger,
	healthHandler *handlers.HealthHandler,
	productHandler *handlers.ProductHandler,
	storeHandler *handlers.StoreHandler,
	comparisonHandler *handlers.ComparisonHandler,
	syncHandler *handlers.SyncHandler,
	auditHandler *handlers.AuditHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health check
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	v1 := router.Group("/api/v1")
	{
		// Local catalog
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.POST("", productHandler.Create)
			products.GET("/categories", productHandler.Categories)
			products.POST("/upload", productHandler.Upload)
			products.GET("/:sku", productHandler.Get)
			products.PATCH("/:sku", productHandler.Update)
			products.POST("/:sku/stock-in", productHandler.StockIn)
			products.POST("/:sku/stock-out", productHandler.StockOut)
			products.PUT("/:sku/quantity", productHandler.SetQuantity)
		}

		// Remote stores
		stores := v1.Group("/stores")
		{
			stores.GET("", storeHandler.List)
			stores.POST("", storeHandler.Create)
			stores.GET("/:domain", storeHandler.Get)
			stores.DELETE("/:domain", storeHandler.Delete)
			stores.POST("/:domain/test", storeHandler.Test)
			stores.GET("/:domain/locations", storeHandler.Locations)
			stores.POST("/:domain/products", storeHandler.CreateRemoteProduct)
		}

		// Comparison
		inventory := v1.Group("/inventory")
		{
			inventory.GET("/comparison", comparisonHandler.Compare)
			inventory.GET("/comparison/:sku", comparisonHandler.CompareOne)
		}

		// Sync runs
		sync := v1.Group("/sync")
		{
			sync.POST("/product/:sku", syncHandler.SyncProduct)
			sync.POST("/products", syncHandler.SyncProducts)
			sync.POST("/all", syncHandler.SyncAll)
			sync.GET("/runs", syncHandler.ListRuns)
			sync.GET("/runs/:id", syncHandler.GetRun)
			sync.POST("/runs/:id/cancel", syncHandler.CancelRun)
			sync.GET("/stats", syncHandler.GetStats)
		}

		// Audit
		audit := v1.Group("/audit")
		{
			audit.GET("/stock", auditHandler.ListStock)
			audit.GET("/sync", auditHandler.ListSync)
			audit.GET("/products/:sku", auditHandler.ProductTrail)
			audit.POST("/reset", auditHandler.Reset)
			audit.GET("/export", auditHandler.Export)
			audit.POST("/import", auditHandler.Import)
		}
	}

	return router
}
