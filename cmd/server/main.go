package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"seedream-proxy/internal/config"
	"seedream-proxy/internal/handlers"
	"seedream-proxy/internal/logging"
	"seedream-proxy/internal/middleware"
	"seedream-proxy/internal/replicate"
	"seedream-proxy/internal/services"
	"seedream-proxy/internal/supabase"
	"seedream-proxy/internal/uploads"
	"seedream-proxy/internal/upstream"
)

// verifyTimeout bounds the upload reachability check.
const verifyTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if !cfg.HasToken() {
		logger.Warn("REPLICATE_API_TOKEN is not set, generation requests will fail")
	}

	// Initialize Replicate client
	caller := upstream.NewClient(upstream.Options{
		Timeout:     cfg.Timeout(),
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: cfg.BackoffBase(),
		BackoffCap:  cfg.BackoffCap(),
		Logger:      logger.Named("upstream"),
	})

	schema, err := replicate.LookupSchema(cfg.InputSchema)
	if err != nil {
		logger.Fatal("Failed to select input schema", zap.Error(err))
	}

	replicateClient, err := replicate.NewClient(replicate.Options{
		BaseURL:         cfg.ReplicateAPIBaseURL,
		Token:           cfg.ReplicateAPIToken,
		Model:           cfg.ReplicateModel,
		PreferWait:      cfg.PreferWait,
		Schema:          schema,
		Caller:          caller,
		VersionCacheTTL: cfg.VersionCacheTTL,
		Logger:          logger.Named("replicate"),
	})
	if err != nil {
		logger.Fatal("Failed to initialize Replicate client", zap.Error(err))
	}

	// Initialize upload storage
	var (
		store     uploads.Store
		sweeper   uploads.Sweeper
		uploadDir string
	)
	switch cfg.UploadBackend {
	case config.UploadBackendSupabase:
		storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)
		if err != nil {
			logger.Fatal("Failed to initialize storage client", zap.Error(err))
		}
		store, sweeper = storageClient, storageClient
	default:
		localStore := uploads.NewLocalStore(cfg.UploadDir)
		store, sweeper = localStore, localStore
		uploadDir = localStore.Dir()
	}

	ingestorOpts := uploads.IngestorOptions{
		Store:    store,
		MaxBytes: int(cfg.UploadMaxBytes),
		Logger:   logger.Named("uploads"),
	}
	if cfg.VerifyUploads {
		ingestorOpts.Verifier = upstream.NewClient(upstream.Options{
			Timeout:    verifyTimeout,
			MaxRetries: 0,
			Logger:     logger.Named("uploads"),
		})
	}
	ingestor := uploads.NewIngestor(ingestorOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UploadTTL > 0 {
		go uploads.RunJanitor(ctx, sweeper, cfg.UploadTTL, cfg.UploadSweepInterval, logger.Named("janitor"))
	}

	// Initialize services and handlers
	generationService := services.NewGenerationService(replicateClient, cfg.CancelAbandoned, logger.Named("generate"))
	predictionService := services.NewPredictionService(replicateClient)

	// Setup router
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Fatal("Invalid TRUSTED_PROXIES", zap.Error(err))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Named("http")))
	router.Use(middleware.Recovery(logger))

	var limiter gin.HandlerFunc
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, logger.Named("ratelimit"))
	}

	handlers.RegisterRoutes(router, handlers.Routes{
		Health:      handlers.NewHealthHandler(cfg.HasToken(), caller.Timeout(), caller.MaxRetries()),
		Generate:    handlers.NewGenerateHandler(generationService),
		Predictions: handlers.NewPredictionsHandler(predictionService),
		Upload:      handlers.NewUploadHandler(ingestor, cfg.PublicBaseURL, int(cfg.UploadMaxBytes)),
		Files:       handlers.NewFilesHandler(uploadDir, cfg.StaticDir),
		Limiter:     limiter,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout()+5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Server starting",
		zap.String("port", cfg.Port),
		zap.String("model", cfg.ReplicateModel),
		zap.String("schema", schema.Name),
		zap.String("upload_backend", cfg.UploadBackend),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
	<-shutdownDone
	generationService.Wait()
	logger.Info("Server stopped")
}
