package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"example.com/parkwise/services/iot/internal/api"
	"example.com/parkwise/services/iot/internal/auth"
	"example.com/parkwise/services/iot/internal/core"
	"example.com/parkwise/services/iot/internal/infrastructure"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the parking IoT API server",
	Long:  `Launches the HTTP server handling device provisioning, telemetry ingestion and the occupancy cascade.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing parking IoT service...")

	logger.Info("Connecting to database...")
	db, err := infrastructure.NewDatabase(cfg.Database)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	// The cache and both publishers are optional: the service keeps
	// serving from the database alone when they are unreachable.
	var cache core.Cache
	logger.Info("Connecting to cache...")
	if redisCache, err := infrastructure.NewCache(cfg.Redis); err != nil {
		logger.WithError(err).Warn("Cache unavailable, continuing without it")
	} else {
		cache = redisCache
		defer redisCache.Close()
	}

	var events core.EventPublisher
	if cfg.ServiceBus.ConnectionString != "" {
		logger.Info("Connecting to messaging service...")
		if messaging, err := infrastructure.NewMessaging(cfg.ServiceBus); err != nil {
			logger.WithError(err).Warn("Messaging service unavailable, continuing without it")
		} else {
			events = messaging
			defer messaging.Close()
		}
	}

	var broker core.Broker
	if cfg.MQTT.BrokerURL != "" {
		logger.Info("Connecting to MQTT broker...")
		if publisher, err := infrastructure.NewMQTTPublisher(cfg.MQTT, logger); err != nil {
			logger.WithError(err).Warn("MQTT broker unavailable, continuing without it")
		} else {
			broker = publisher
			defer publisher.Close()
		}
	}

	stores := core.NewStores(db.DB)
	services := &core.Services{
		Devices:   core.NewDeviceService(stores, cache, events, logger, cfg.Connectivity),
		Telemetry: core.NewTelemetryService(stores, cache, broker, logger),
	}

	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	handlers := api.NewHandlers(services)
	api.SetupRoutes(router, handlers, tokens, logger)

	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("Parking IoT API listening on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("Parking IoT service shutdown complete")
	return nil
}
