package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/fleetsync/server/internal/config"
	"github.com/fleetsync/server/internal/handlers"
	custommw "github.com/fleetsync/server/internal/middleware"
	"github.com/fleetsync/server/internal/observability"
	"github.com/fleetsync/server/internal/repository"
	"github.com/fleetsync/server/internal/services"
)

const version = "1.0.0"

// @title FleetSync Server API
// @version 1.0
// @description Target/current state reconciliation and canary rollouts for IoT fleets
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	telemetry, err := observability.Initialize(context.Background(), observability.NewConfig("fleetsync-server", version))
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}

	// Initialize database
	var db *sql.DB
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
	} else {
		log.Println("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Repositories
	deviceRepo := repository.NewDeviceRepository(db)
	targetRepo := repository.NewTargetStateRepository(db)
	currentRepo := repository.NewCurrentStateRepository(db)
	rolloutRepo := repository.NewRolloutRepository(db)
	statusRepo := repository.NewRolloutDeviceRepository(db)
	eventRepo := repository.NewRolloutEventRepository(db)

	// Services
	hub := services.NewNotificationHub()
	go hub.Run()

	metrics, err := services.NewFleetMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	differ := services.NewStateDiffer()
	fingerprints := services.NewFingerprintService()
	stateService := services.NewDeviceStateService(targetRepo, currentRepo, deviceRepo, differ, fingerprints, hub, metrics)

	locks := services.NewRolloutLocks()
	rollback := services.NewRollbackManager(rolloutRepo, statusRepo, eventRepo, targetRepo, locks, hub, metrics)
	orchestrator := services.NewRolloutOrchestrator(
		rolloutRepo, statusRepo, eventRepo, deviceRepo, targetRepo, currentRepo,
		rollback, locks, hub, metrics,
		services.OrchestratorConfig{
			TickInterval: time.Duration(cfg.Rollout.TickIntervalSeconds) * time.Second,
			GracePeriod:  time.Duration(cfg.Rollout.GracePeriodSeconds) * time.Second,
			OnStuck:      services.StuckBatchPolicy(cfg.Rollout.OnStuck),
			AutoRollback: cfg.Rollout.AutoRollback,
		},
	)

	// Handlers
	deviceHandler := handlers.NewDeviceHandler(deviceRepo, targetRepo)
	syncHandler := handlers.NewDeviceSyncHandler(stateService)
	targetStateHandler := handlers.NewTargetStateHandler(targetRepo, currentRepo, deviceRepo, hub, metrics)
	rolloutHandler := handlers.NewRolloutHandler(orchestrator, rollback, rolloutRepo, statusRepo, eventRepo)
	wsHandler := handlers.NewWebSocketHandler(hub)
	healthHandler := handlers.NewHealthHandler()

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("fleetsync-server"))
	if httpMetrics, err := observability.NewHTTPMetrics(); err == nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	} else {
		log.Printf("HTTP metrics disabled: %v", err)
	}
	r.Use(custommw.APIKeyAuth(cfg.Security.APIKey, cfg.Security.APIKeyHeader))

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/api/health", healthHandler.HealthCheck)
	r.Get("/swagger/*", httpSwagger.WrapHandler)
	r.Get("/ws", wsHandler.HandleConnection)

	r.Route("/api/v1", func(r chi.Router) {
		// Device-facing sync channel
		r.Get("/device/{uuid}/state", syncHandler.GetTargetState)
		r.Patch("/device/state", syncHandler.ReportCurrentState)

		// Operator: device inventory
		r.Route("/devices", func(r chi.Router) {
			r.Post("/", deviceHandler.ProvisionDevice)
			r.Get("/", deviceHandler.ListDevices)
			r.Get("/{uuid}", deviceHandler.GetDevice)
			r.Delete("/{uuid}", deviceHandler.DeactivateDevice)

			r.Get("/{uuid}/current-state", targetStateHandler.GetCurrentState)
			r.Route("/{uuid}/target-state", func(r chi.Router) {
				r.Get("/", targetStateHandler.GetTargetState)
				r.Put("/", targetStateHandler.SetDraft)
				r.Delete("/", targetStateHandler.ClearTargetState)
				r.Post("/deploy", targetStateHandler.Deploy)
				r.Post("/cancel", targetStateHandler.CancelPendingDeploy)
				r.Get("/history", targetStateHandler.GetHistory)
			})
		})

		// Operator: rollouts
		r.Route("/rollouts", func(r chi.Router) {
			r.Post("/", rolloutHandler.CreateRollout)
			r.Get("/", rolloutHandler.ListRollouts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rolloutHandler.GetRollout)
				r.Get("/devices", rolloutHandler.ListRolloutDevices)
				r.Get("/events", rolloutHandler.ListRolloutEvents)
				r.Post("/start", rolloutHandler.StartRollout)
				r.Post("/pause", rolloutHandler.PauseRollout)
				r.Post("/resume", rolloutHandler.ResumeRollout)
				r.Post("/cancel", rolloutHandler.CancelRollout)
				r.Post("/advance", rolloutHandler.AdvanceBatch)
				r.Post("/rollback", rolloutHandler.RollbackAll)
				r.Post("/devices/{uuid}/health", rolloutHandler.ReportDeviceHealth)
				r.Post("/devices/{uuid}/rollback", rolloutHandler.RollbackDevice)
			})
		})
	})

	// Background rollout evaluation
	orchestrator.Start()

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("FleetSync Server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	orchestrator.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := telemetry.Shutdown(ctx); err != nil {
		log.Printf("Telemetry shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
