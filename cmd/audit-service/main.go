package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frottis-lab/dashboard/pkg/audit"
	"github.com/frottis-lab/dashboard/pkg/common/config"
	"github.com/frottis-lab/dashboard/pkg/common/database"
	"github.com/frottis-lab/dashboard/pkg/common/kafka"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/gateway/middleware"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("audit-service")
	cfg := config.Load()

	if !cfg.KafkaEnabled() {
		logger.Log.Fatal("KAFKA_BROKERS is required by the audit service")
	}

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to connect to postgres")
	}
	defer database.ClosePostgres()

	repo := audit.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("Failed to migrate audit tables")
	}
	service := audit.NewService(repo)

	consumer := kafka.NewConsumer(cfg, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The consumer stops on an event it cannot store; shutting down leaves the
	// offset uncommitted so the restarted service picks the event up again.
	consumerErr := make(chan error, 1)
	go func() {
		if err := consumer.Consume(ctx, service.HandleEvent); err != nil && ctx.Err() == nil {
			consumerErr <- err
		}
	}()

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	audit.NewHandler(service).Register(router.PathPrefix("/api/v1").Subrouter())

	port := cfg.AuditPort
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":  cfg.ServerHost,
			"port":  port,
			"topic": cfg.KafkaEventsTopic,
		}).Info("Audit service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	failed := false
	select {
	case <-quit:
	case err := <-consumerErr:
		logger.Log.WithError(err).Error("Consumer stopped")
		failed = true
	}

	logger.Log.Info("Shutting down audit service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Audit service stopped")
	if failed {
		_ = consumer.Close()
		_ = database.ClosePostgres()
		os.Exit(1)
	}
}
