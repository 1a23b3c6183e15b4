package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/collections-gateway/api/swagger"
	"github.com/noah-isme/collections-gateway/internal/handler"
	internalmiddleware "github.com/noah-isme/collections-gateway/internal/middleware"
	"github.com/noah-isme/collections-gateway/internal/models"
	"github.com/noah-isme/collections-gateway/internal/repository"
	"github.com/noah-isme/collections-gateway/internal/service"
	"github.com/noah-isme/collections-gateway/pkg/cache"
	"github.com/noah-isme/collections-gateway/pkg/config"
	"github.com/noah-isme/collections-gateway/pkg/database"
	"github.com/noah-isme/collections-gateway/pkg/jobs"
	"github.com/noah-isme/collections-gateway/pkg/logger"
	corsmiddleware "github.com/noah-isme/collections-gateway/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/collections-gateway/pkg/middleware/requestid"
)

// @title Collections Gateway
// @version 0.1.0
// @description Form save pipeline for DINA collection records
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	keyPrefix := cfg.Redis.KeyPrefix + ":"

	authSvc, err := service.NewAuthService(logr, service.AuthConfig{
		Secret:       cfg.JWT.Secret,
		PublicKeyPEM: cfg.JWT.PublicKeyPEM,
		Issuer:       cfg.JWT.Issuer,
		Audience:     cfg.JWT.Audience,
		Leeway:       cfg.JWT.Leeway,
	})
	if err != nil {
		logr.Fatal("failed to init auth", zap.Error(err))
	}

	operations := repository.NewOperationsRepository(repository.OperationsConfig{
		BaseURL:     cfg.Upstream.BaseURL,
		Timeout:     cfg.Upstream.Timeout,
		Compact:     cfg.Upstream.Compact,
		ServiceURLs: cfg.Upstream.ServiceURLs,
	}, logr, repository.WithUpstreamObserver(metricsSvc))
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient, keyPrefix+"cache:", logr), metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	submitSvc := service.NewSubmitService(operations, validate, logr, service.WithSubmitObserver(metricsSvc))
	querySvc := service.NewQueryService(operations, cacheSvc, cfg.Cache.TTL, logr)
	sampleSvc := service.NewMaterialSampleService(submitSvc, operations, cacheSvc, logr, service.MaterialSampleConfig{
		DuplicateCheck: cfg.DuplicateCheck.Enabled,
		LookupTTL:      cfg.Cache.LookupTTL,
	})
	personSvc := service.NewPersonService(querySvc, submitSvc, logr)
	preferenceSvc := service.NewPreferenceService(repository.NewPreferenceRepository(db), metricsSvc, validate, logr)
	sessionSvc := service.NewSessionService(repository.NewSessionRepository(redisClient, keyPrefix), querySvc, sampleSvc, preferenceSvc, validate, logr, service.SessionConfig{
		TTL:            cfg.Sessions.TTL,
		SubmitLockTTL:  cfg.Sessions.SubmitLockTTL,
		ConfirmDisable: cfg.Sessions.ConfirmDisable,
	})

	bulkRepo := repository.NewBulkJobRepository(db)
	bulkWorker := service.NewBulkWorker(bulkRepo, sampleSvc, metricsSvc, logr)
	var bulkSvc *service.BulkService
	bulkQueue := jobs.NewQueue(service.BulkJobType, bulkWorker.Handle, jobs.QueueConfig{
		Workers:       cfg.BulkSave.Workers,
		BufferSize:    cfg.BulkSave.BufferSize,
		MaxRetries:    cfg.BulkSave.MaxRetries,
		RetryDelay:    cfg.BulkSave.RetryDelay,
		MaxRetryDelay: cfg.BulkSave.MaxRetryDelay,
		Logger:        logr,
		OnGiveUp: func(ctx context.Context, job jobs.Job, err error) {
			bulkSvc.Abandon(ctx, job, err)
		},
	})
	bulkSvc = service.NewBulkService(bulkRepo, bulkQueue, validate, logr, service.BulkConfig{
		RecoverLimit:         cfg.BulkSave.RecoverLimit,
		ServiceAuthorization: cfg.BulkSave.ServiceAuthorization,
	})
	bulkQueue.Start(ctx)
	defer bulkQueue.Stop()
	bulkSvc.RecoverPendingJobs(ctx)

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})
	authHandler := handler.NewAuthHandler()
	personHandler := handler.NewPersonHandler(personSvc)
	sampleHandler := handler.NewMaterialSampleHandler(querySvc, bulkSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc)
	preferenceHandler := handler.NewPreferenceHandler(preferenceSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.JWT(authSvc))
	write := internalmiddleware.RequireWrite()

	api.GET("/auth/me", authHandler.Me)
	api.GET("/metrics/summary", internalmiddleware.RequireRoles(models.RoleAdmin), metricsHandler.Summary)

	persons := api.Group("/persons")
	persons.Use(internalmiddleware.Audit(logr, "person"))
	persons.GET("/:id", personHandler.Get)
	persons.POST("", write, personHandler.Create)
	persons.PATCH("/:id", write, personHandler.Update)

	samples := api.Group("/material-samples")
	samples.Use(internalmiddleware.Audit(logr, "material-sample"))
	samples.GET("/:id", sampleHandler.Get)
	samples.POST("/bulk", write, sampleHandler.BulkSave)
	api.GET("/bulk-jobs/:id", sampleHandler.BulkJob)

	sessions := api.Group("/sessions")
	sessions.Use(internalmiddleware.Audit(logr, "session"))
	sessions.POST("", sessionHandler.Open)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.DELETE("/:id", sessionHandler.Delete)
	sessions.PUT("/:id/sections/:section", sessionHandler.SetSection)
	sessions.POST("/:id/sections/:section/confirm", sessionHandler.ConfirmSection)
	sessions.POST("/:id/sections/:section/cancel", sessionHandler.CancelSection)
	sessions.POST("/:id/preview", sessionHandler.Preview)
	sessions.POST("/:id/submit", write, sessionHandler.Submit)

	api.GET("/preferences", preferenceHandler.Get)
	api.PUT("/preferences", preferenceHandler.Update)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}
