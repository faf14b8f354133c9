package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	billingevents "github.com/pharmaflow/pharmaflow-backend/internal/billing/events"
	billinghandler "github.com/pharmaflow/pharmaflow-backend/internal/billing/handler"
	billingrepo "github.com/pharmaflow/pharmaflow-backend/internal/billing/repository"
	billingservice "github.com/pharmaflow/pharmaflow-backend/internal/billing/service"
	procevents "github.com/pharmaflow/pharmaflow-backend/internal/procurement/events"
	prochandler "github.com/pharmaflow/pharmaflow-backend/internal/procurement/handler"
	procrepo "github.com/pharmaflow/pharmaflow-backend/internal/procurement/repository"
	procservice "github.com/pharmaflow/pharmaflow-backend/internal/procurement/service"
	returnevents "github.com/pharmaflow/pharmaflow-backend/internal/returns/events"
	returnhandler "github.com/pharmaflow/pharmaflow-backend/internal/returns/handler"
	returnrepo "github.com/pharmaflow/pharmaflow-backend/internal/returns/repository"
	returnservice "github.com/pharmaflow/pharmaflow-backend/internal/returns/service"
	"github.com/pharmaflow/pharmaflow-backend/internal/stock/consumers"
	stockevents "github.com/pharmaflow/pharmaflow-backend/internal/stock/events"
	stockhandler "github.com/pharmaflow/pharmaflow-backend/internal/stock/handler"
	stockrepo "github.com/pharmaflow/pharmaflow-backend/internal/stock/repository"
	stockservice "github.com/pharmaflow/pharmaflow-backend/internal/stock/service"
	"github.com/pharmaflow/pharmaflow-backend/pkg/config"
	"github.com/pharmaflow/pharmaflow-backend/pkg/database"
	"github.com/pharmaflow/pharmaflow-backend/pkg/httputil"
	"github.com/pharmaflow/pharmaflow-backend/pkg/locking"
	"github.com/pharmaflow/pharmaflow-backend/pkg/logger"
	"github.com/pharmaflow/pharmaflow-backend/pkg/messaging"
)

const (
	expiryWindowDays   = 90
	expiryScanInterval = 6 * time.Hour
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	tolerance, err := decimal.NewFromString(cfg.Stock.RoundingTolerance)
	if err != nil {
		log.Fatal().Err(err).Str("value", cfg.Stock.RoundingTolerance).Msg("invalid rounding tolerance")
	}

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publishers
	stockPublisher, err := stockevents.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create stock event publisher")
	}
	procPublisher, err := procevents.NewProcurementEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create procurement event publisher")
	}
	billingPublisher, err := billingevents.NewBillingEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create billing event publisher")
	}
	returnPublisher, err := returnevents.NewReturnEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create return event publisher")
	}

	// Initialize repositories
	lotRepo := stockrepo.NewLotRepository(db)
	allocRepo := stockrepo.NewAllocationRepository(db)
	productCacheRepo := stockrepo.NewProductCacheRepository(db)
	seqRepo := procrepo.NewSequenceRepository(db)
	orderRepo := procrepo.NewOrderRepository(db)
	inwardRepo := procrepo.NewInwardRepository(db)
	billingRepo := billingrepo.NewBillingRepository(db)
	returnRepo := returnrepo.NewReturnRepository(db)

	// Initialize services
	locks := locking.New(cfg.Stock.LockTimeout)
	allocator := stockservice.NewAllocator(db, lotRepo, allocRepo, locks, stockPublisher, log)
	reporting := stockservice.NewReportingService(lotRepo, log)
	orderService := procservice.NewOrderService(db, orderRepo, seqRepo, procPublisher, tolerance, log)
	inwardService := procservice.NewInwardService(db, inwardRepo, orderRepo, seqRepo, lotRepo, procPublisher, stockPublisher, tolerance, log)
	billingService := billingservice.NewBillingService(db, billingRepo, seqRepo, allocator, billingPublisher, stockPublisher, tolerance, log)
	returnService := returnservice.NewReturnService(db, returnRepo, allocRepo, lotRepo, seqRepo, allocator, returnPublisher, stockPublisher, log)

	// Initialize handlers
	stockHandler := stockhandler.NewStockHandler(reporting, log)
	orderHandler := prochandler.NewOrderHandler(orderService, log)
	inwardHandler := prochandler.NewInwardHandler(inwardService, log)
	billingHandler := billinghandler.NewBillingHandler(billingService, log)
	returnHandler := returnhandler.NewReturnHandler(returnService, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start catalog event consumer
	productConsumer, err := consumers.NewProductEventConsumer(rmq, productCacheRepo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create product event consumer")
	}
	if err := productConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start product event consumer")
	}

	// Start expiry scanner
	scanner := stockservice.NewExpiryScanner(lotRepo, stockPublisher, expiryWindowDays, expiryScanInterval, log)
	scanner.Start(ctx)
	defer scanner.Stop()

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.Identity)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Purchase order routes
		r.Route("/orders", func(r chi.Router) {
			r.Get("/", orderHandler.List)
			r.Post("/", orderHandler.Create)
			r.Get("/{id}", orderHandler.Get)
			r.Put("/{id}", orderHandler.Update)
			r.Post("/{id}/cancel", orderHandler.Cancel)
		})

		// Inward receipt routes
		r.Route("/inwards", func(r chi.Router) {
			r.Get("/", inwardHandler.List)
			r.Post("/", inwardHandler.Receive)
			r.Get("/{id}", inwardHandler.Get)
			r.Post("/{id}/complete", inwardHandler.Complete)
			r.Post("/{id}/cancel", inwardHandler.Cancel)
		})

		// Billing routes
		r.Route("/billings", func(r chi.Router) {
			r.Get("/", billingHandler.List)
			r.Post("/", billingHandler.Finalize)
			r.Get("/{id}", billingHandler.Get)
		})

		// Return routes
		r.Route("/returns", func(r chi.Router) {
			r.Get("/", returnHandler.List)
			r.Post("/", returnHandler.Create)
			r.Get("/{id}", returnHandler.Get)
			r.Put("/{id}", returnHandler.Update)
			r.Post("/{id}/process", returnHandler.Process)
			r.Post("/{id}/cancel", returnHandler.Cancel)
			r.Delete("/{id}", returnHandler.Delete)
		})

		// Stock reporting routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/summary", stockHandler.Summary)
			r.Get("/{productId}/on-hand", stockHandler.OnHand)
			r.Get("/{productId}/valuation", stockHandler.Valuation)
			r.Get("/{productId}/lots", stockHandler.LotHistory)
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop background work
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
