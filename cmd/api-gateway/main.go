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

	_ "github.com/noah-isme/uni-enrollment-api/api/swagger"
	"github.com/noah-isme/uni-enrollment-api/internal/handler"
	internalmiddleware "github.com/noah-isme/uni-enrollment-api/internal/middleware"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	"github.com/noah-isme/uni-enrollment-api/internal/repository"
	"github.com/noah-isme/uni-enrollment-api/internal/service"
	"github.com/noah-isme/uni-enrollment-api/pkg/cache"
	"github.com/noah-isme/uni-enrollment-api/pkg/config"
	"github.com/noah-isme/uni-enrollment-api/pkg/database"
	"github.com/noah-isme/uni-enrollment-api/pkg/jobs"
	"github.com/noah-isme/uni-enrollment-api/pkg/logger"
	"github.com/noah-isme/uni-enrollment-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/uni-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/uni-enrollment-api/pkg/middleware/requestid"
)

// @title University Enrollment API
// @version 1.0.0
// @description Section scheduling and enrollment request review
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()

	if cfg.Migrations.AutoMigrate {
		migrator, err := database.NewMigrator(db, logr)
		if err != nil {
			logr.Fatal("failed to init migrator", zap.Error(err))
		}
		if err := migrator.Up(); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, section cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metrics := service.NewMetricsService()

	sectionRepo := repository.NewSectionRepository(db)
	requestRepo := repository.NewEnrollmentRequestRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, "enrollment")
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Enrollment.SectionCacheTTL, logr, cfg.Enrollment.SectionCacheEnabled)

	queue := jobs.NewQueue("notifications", jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: time.Second,
		Logger:     logr,
	})
	var mailer mail.Mailer
	if cfg.Notifications.EmailEnabled {
		sendgrid, err := mail.NewSendgridMailer(mail.SendgridConfig{
			APIKey:        cfg.Notifications.SendgridAPIKey,
			FromEmail:     cfg.Notifications.FromEmail,
			FromName:      cfg.Notifications.FromName,
			SubjectPrefix: cfg.Notifications.SubjectPrefix,
		}, logr)
		if err != nil {
			logr.Warn("email notifications disabled", zap.Error(err))
		} else {
			mailer = sendgrid
		}
	}
	notificationSvc := service.NewNotificationService(notificationRepo, userRepo, queue, mailer, metrics, logr)
	queue.Start(context.Background())

	scheduler := service.NewSectionSchedulerService(
		sectionRepo,
		service.NewRoomConflictStrategy(sectionRepo),
		service.NewDoctorAvailabilityStrategy(userRepo, sectionRepo),
		auditRepo,
		cacheSvc,
		metrics,
		validate,
		logr,
		service.SectionSchedulerConfig{DefaultCapacity: cfg.Enrollment.DefaultSectionCapacity},
	)
	workflow := service.NewEnrollmentWorkflowService(
		database.NewTransactor(db, nil),
		sectionRepo,
		requestRepo,
		enrollmentRepo,
		courseRepo,
		notificationSvc,
		auditRepo,
		cacheSvc,
		metrics,
		validate,
		logr,
		service.EnrollmentWorkflowConfig{PassingScore: cfg.Enrollment.PassingScore},
	)
	rosters := service.NewRosterExportService(sectionRepo, enrollmentRepo, logr)
	authSvc := service.NewAuthService(userRepo, auditRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	checks := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		checks["redis"] = cache.Pinger{Client: redisClient}
	}

	authHandler := handler.NewAuthHandler(authSvc)
	sectionHandler := handler.NewSectionHandler(scheduler, rosters)
	requestHandler := handler.NewEnrollmentRequestHandler(workflow)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)
	secured.GET("/notifications", notificationHandler.List)

	reviewers := internalmiddleware.RequireRoles(models.RoleITOfficer, models.RoleAdmin)

	sections := secured.Group("/sections")
	sections.GET("", sectionHandler.List)
	sections.GET("/:id", sectionHandler.Get)
	sections.POST("", reviewers, sectionHandler.Propose)
	sections.PUT("/:id", reviewers, sectionHandler.Reschedule)
	sections.GET("/:id/roster",
		internalmiddleware.RequireRoles(models.RoleDoctor, models.RoleITOfficer, models.RoleAdmin, models.RoleAdvisor),
		sectionHandler.Roster)

	requests := secured.Group("/enrollment-requests")
	requesters := internalmiddleware.RequireRoles(models.RoleStudent, models.RoleITOfficer, models.RoleAdmin)
	requests.POST("", requesters, requestHandler.Submit)
	requests.GET("", requesters, requestHandler.List)
	requests.POST("/approve-all", reviewers, requestHandler.ApproveAll)
	requests.POST("/:id/approve", reviewers, requestHandler.Approve)
	requests.POST("/:id/reject", reviewers, requestHandler.Reject)

	secured.POST("/enrollments/:id/withdraw",
		internalmiddleware.RequireRoles(models.RoleStudent, models.RoleITOfficer, models.RoleAdmin),
		requestHandler.Withdraw)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "prefix", cfg.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	queue.Stop()
}
