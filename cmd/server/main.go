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

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/notify"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.RunMigrations {
		if err := db.Migrate(); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.Notify.SendGridAPIKey != "" {
		sg, err := notify.NewSendGridMailer(notify.SendGridConfig{
			APIKey:    cfg.Notify.SendGridAPIKey,
			BaseURL:   cfg.Notify.SendGridBaseURL,
			FromEmail: cfg.Notify.FromEmail,
			FromName:  cfg.Notify.FromName,
			Timeout:   10 * time.Second,
		})
		if err != nil {
			logger.Fatal("Failed to configure SendGrid", zap.Error(err))
		}
		mailer = sg
	} else {
		logger.Warn("SENDGRID_API_KEY not set, confirmation emails are logged only")
	}

	dispatcher := notify.NewDispatcher(mailer, notify.Config{
		Workers:     cfg.Notify.Workers,
		QueueSize:   cfg.Notify.QueueSize,
		MaxAttempts: cfg.Notify.MaxAttempts,
		Backoff:     cfg.Notify.Backoff,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	dispatcher.Start(workerCtx)

	aggregateService := service.NewAggregateService(db, redisClient, cfg.Redis.AggregateTTL)
	voucherService := service.NewVoucherService(db, eventPublisher)
	orderService := service.NewOrderService(
		db,
		db,
		voucherService,
		aggregateService,
		redisClient,
		cfg.Redis.IdempotencyTTL,
		eventPublisher,
		dispatcher,
	)
	reconcileService := service.NewReconcileService(db, db, aggregateService, db, redisClient, service.ReconcileConfig{
		HealVouchers: cfg.Reconcile.HealVouchers,
		Parallelism:  cfg.Reconcile.Parallelism,
	})

	reconcileWorker := worker.NewReconcileWorker(reconcileService, cfg.Reconcile.Interval)
	go func() {
		if err := reconcileWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Reconcile worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, voucherService, aggregateService, reconcileService, map[string]api.Pinger{
		"postgres": db.Ping,
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router, cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// Counter updates started by in-flight requests finish before resources close.
	orderService.Wait()
	dispatcher.Stop()

	workerCancel()
	reconcileWorker.Stop()

	logger.Info("Server exited")
}
