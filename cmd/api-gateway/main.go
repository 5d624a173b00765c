package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/evidtrack/evidence-api/api/swagger"
	"github.com/evidtrack/evidence-api/internal/handler"
	"github.com/evidtrack/evidence-api/internal/middleware"
	"github.com/evidtrack/evidence-api/internal/models"
	"github.com/evidtrack/evidence-api/internal/repository"
	"github.com/evidtrack/evidence-api/internal/service"
	"github.com/evidtrack/evidence-api/pkg/cache"
	"github.com/evidtrack/evidence-api/pkg/config"
	"github.com/evidtrack/evidence-api/pkg/database"
	"github.com/evidtrack/evidence-api/pkg/jobs"
	"github.com/evidtrack/evidence-api/pkg/logger"
	corsmiddleware "github.com/evidtrack/evidence-api/pkg/middleware/cors"
	reqidmiddleware "github.com/evidtrack/evidence-api/pkg/middleware/requestid"
	"github.com/evidtrack/evidence-api/pkg/storage"
)

// @title Evidence Tracker API
// @version 1.0.0
// @description File storage and access control service for evidence tracking
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Caching is an optimisation; the API stays up without Redis.
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	accessLogRepo := repository.NewAccessLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	localStorage, err := storage.NewLocalStorage(cfg.Files.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare storage directory", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Files.SignedURLSecret, cfg.Files.SignedURLTTL)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Files.StatsCacheTTL, logr, redisClient != nil)

	authService := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "evidence-api",
	})

	fileService := service.NewFileService(fileRepo, groupRepo, accessLogRepo, localStorage, signer,
		cacheService, userRepo, logr, service.FileServiceConfig{
			MaxFileSize:   cfg.Files.MaxFileSizeBytes,
			AllowedMIMEs:  cfg.Files.AllowedMIMEs,
			APIPrefix:     cfg.APIPrefix,
			StatsCacheTTL: cfg.Files.StatsCacheTTL,
			CleanupMinAge: cfg.Files.CleanupMinAge,
		})
	fileService.SetMetrics(metricsService)

	exportService := service.NewExportService(fileRepo, logr, nil, nil)

	authHandler := handler.NewAuthHandler(authService)
	fileHandler := handler.NewFileHandler(fileService, exportService, cfg.Files.MaxFileSizeBytes)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	cleanupQueue := jobs.NewQueue("file-cleanup", func(ctx context.Context, job jobs.Job) error {
		_, err := fileService.CleanupOrphans(ctx)
		return err
	}, jobs.QueueConfig{Workers: 1, Logger: logr})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanupQueue.Start(rootCtx)
	defer cleanupQueue.Stop()
	go scheduleCleanup(rootCtx, cleanupQueue, cfg.Files.CleanupInterval, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("", middleware.JWT(authService))
		authed.POST("/logout", authHandler.Logout)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	files := api.Group("/files", middleware.JWT(authService))
	{
		files.POST("", fileHandler.Upload)
		files.GET("", fileHandler.List)
		files.GET("/stats/summary", fileHandler.Stats)
		files.GET("/export", fileHandler.Export)
		files.GET("/download/:filename", fileHandler.Download)
		files.GET("/:id", fileHandler.Get)
		files.GET("/:id/url", fileHandler.GetDownloadURL)
		files.PUT("/:id", fileHandler.Update)
		files.DELETE("/:id", fileHandler.Delete)
		files.GET("/:id/access-log", middleware.RequireRoles(models.RoleAdmin), fileHandler.AccessLog)
	}

	api.GET("/system/metrics", middleware.JWT(authService), middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

func scheduleCleanup(ctx context.Context, queue *jobs.Queue, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := jobs.Job{ID: uuid.NewString(), Type: "orphan-cleanup"}
			if err := queue.Enqueue(job); err != nil {
				logr.Sugar().Warnw("failed to enqueue cleanup job", "error", err)
			}
		}
	}
}
