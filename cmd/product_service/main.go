package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ridloal/product-catalog-service/internal/platform/auth"
	"github.com/ridloal/product-catalog-service/internal/platform/config"
	"github.com/ridloal/product-catalog-service/internal/platform/database"
	"github.com/ridloal/product-catalog-service/internal/platform/health"
	"github.com/ridloal/product-catalog-service/internal/platform/logger"
	"github.com/ridloal/product-catalog-service/internal/platform/middleware"
	productAPI "github.com/ridloal/product-catalog-service/internal/product/api"
	productRepo "github.com/ridloal/product-catalog-service/internal/product/repository"
	productService "github.com/ridloal/product-catalog-service/internal/product/service"
)

const (
	bootstrapRetryBase = time.Second
	bootstrapRetryMax  = 30 * time.Second
)

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load Config
	cfg := config.Load()

	// Setup Logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting_server", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup Database
	pgDialer, err := database.NewPgxDialer(cfg.DB.DSN())
	if err != nil {
		log.Error("invalid database configuration", zap.Error(err))
		return 1
	}
	dialer := database.NewBreakerDialer(pgDialer, database.DefaultBreakerConfig(), log)
	pool := database.NewPool(dialer, database.OptionsFromConfig(cfg.Pool), log)
	defer pool.Close()

	pool.Warm(ctx)

	bootstrap := productRepo.NewSchemaBootstrap(pool, log, cfg.DB.Seed)
	if cfg.DB.InitOnly {
		if err := bootstrap.Run(ctx); err != nil {
			return 1
		}
		return 0
	}
	if err := bootstrap.Run(ctx); err != nil {
		// Serve anyway; /ready tracks the database and the schema catches up.
		go func() {
			if err := bootstrap.RunWithRetry(ctx, bootstrapRetryBase, bootstrapRetryMax); err != nil {
				log.Warn("schema_bootstrap_stopped", zap.Error(err))
			}
		}()
	}

	scheduler := cron.New()
	if _, err := pool.ScheduleMaintenance(scheduler, cfg.Pool.MaintenanceSpec); err != nil {
		log.Warn("invalid pool maintenance schedule, maintenance disabled",
			zap.String("spec", cfg.Pool.MaintenanceSpec), zap.Error(err))
	}
	scheduler.Start()

	// Setup Dependencies
	gate := auth.NewGate(cfg.Auth, log)
	prodRepository := productRepo.NewPostgresProductRepository(pool, log)
	prodService := productService.NewProductService(prodRepository, log)
	productHandler := productAPI.NewProductHandler(prodService, log)
	probe := health.NewProbe(pool, cfg.Pool.AcquireTimeout, log)

	// Setup Gin Router
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(middleware.RequestID(), middleware.RequestLogger(log), gin.Recovery())

	probe.RegisterRoutes(router)
	productHandler.RegisterRoutes(router, gate.Middleware())

	srv := newServer(cfg.Server.Port, router)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Product Service running on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErr:
		log.Error("Failed to run Product Service server", zap.Error(err))
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown incomplete", zap.Error(err))
		exitCode = 1
	}
	<-scheduler.Stop().Done()

	log.Info("server_stopped")
	return exitCode
}
