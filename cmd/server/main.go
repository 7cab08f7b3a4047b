package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartdigilab/backend/docs"
	"github.com/smartdigilab/backend/internal/config"
	"github.com/smartdigilab/backend/internal/database"
	"github.com/smartdigilab/backend/internal/handlers"
	mW "github.com/smartdigilab/backend/internal/middleware"
	"github.com/smartdigilab/backend/internal/services"
	"github.com/smartdigilab/backend/internal/storage"
	"github.com/smartdigilab/backend/internal/telemetry"
	"github.com/smartdigilab/backend/internal/workers"
	"go.uber.org/zap"
)

// @title SmartDigiLab Equipment Borrowing API
// @version 1.0
// @description API for borrowing and returning laboratory equipment
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(".env")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    cfg.Telemetry.Insecure,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Host = hostOf(cfg.Server.BaseURL)

	db, err := database.InitDatabase(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	redisClient := database.InitRedis(ctx, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	letters := storage.NewOSLetterStore(cfg.Storage.Root, cfg.Storage.MaxLetterBytes)
	orphans := services.NewRedisOrphanQueue(redisClient)
	ledger := services.NewStockLedger()

	authService := services.NewAuthService(db, redisClient, logger)
	borrowingService := services.NewBorrowingService(db, ledger, letters, orphans, logger)
	equipmentService := services.NewEquipmentService(db, ledger, letters, services.NewQRService(cfg.Server.BaseURL), logger)

	if cfg.SeedEnabled {
		if err := authService.SeedDefaultUsers(ctx, cfg.SeedPassword); err != nil {
			logger.Warn("failed to seed default users", zap.Error(err))
		} else {
			logger.Info("default users seeded")
		}
	}

	if redisClient != nil {
		workers.NewLetterSweeper(db, orphans, letters, cfg.SweeperInterval, logger).Start(ctx)
	} else {
		logger.Warn("letter sweeper disabled, redis unavailable")
	}

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:              authService,
		Borrowings:        handlers.NewBorrowingHandler(borrowingService, cfg.Storage.MaxLetterBytes, logger),
		Equipment:         handlers.NewEquipmentHandler(equipmentService, logger),
		SwaggerDocURL:     cfg.Server.BaseURL + "/swagger/doc.json",
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", zap.Error(err))
	}

	logger.Info("server stopped")
}
