package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frottis-lab/dashboard/pkg/backend"
	"github.com/frottis-lab/dashboard/pkg/common/config"
	"github.com/frottis-lab/dashboard/pkg/common/database"
	"github.com/frottis-lab/dashboard/pkg/common/kafka"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/dashboard"
	"github.com/frottis-lab/dashboard/pkg/export"
	"github.com/frottis-lab/dashboard/pkg/gateway/auth"
	"github.com/frottis-lab/dashboard/pkg/gateway/middleware"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/gorilla/mux"
)

func main() {
	logger.Init("dashboard-gateway")
	cfg := config.Load()

	labels, err := export.LoadLabels(cfg.LabelsFile)
	if err != nil {
		logger.Log.WithError(err).WithField("path", cfg.LabelsFile).Warn("Labels file unusable, using defaults")
	}

	var events dashboard.EventPublisher
	if cfg.KafkaEnabled() {
		producer := kafka.NewProducer(cfg)
		defer producer.Close()
		events = producer
	} else {
		logger.Log.Info("KAFKA_BROKERS not set, dashboard events are not published")
	}

	service := dashboard.NewService(backend.New(cfg), labels, events)

	// Rate limiting is shared across replicas when redis is reachable
	var limiter middleware.Limiter = middleware.NewTokenBucket(cfg.RateLimitRPS, cfg.RateLimitBurst)
	if rdb := database.GetRedis(cfg); rdb != nil {
		limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitRPS)
		defer database.CloseRedis()
	}

	oidcAuth, err := auth.NewOIDCAuthenticator(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret)
	if err != nil {
		logger.Log.WithError(err).Warn("OIDC authentication not configured, running without auth")
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(limiter))
	router.Use(middleware.BodyLimit(cfg.MaxRequestBody))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	if oidcAuth != nil {
		apiRouter.Use(middleware.Authenticate(oidcAuth))
	}
	actor := func(r *http.Request) string { return middleware.Actor(r.Context()) }
	dashboard.NewHandler(service, actor, cfg.MaxUploadBytes).Register(apiRouter)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"backend": cfg.BackendBaseURL,
		}).Info("Dashboard gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down dashboard gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Dashboard gateway stopped")
}
