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

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/broker"
	"storefront/internal/gateway"
	"storefront/internal/imagestore"
	"storefront/internal/mailer"
	"storefront/internal/redisclient"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront service")

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	checks := map[string]api.Checker{"postgres": db}

	// the product cache is optional; a typed nil must not leak into the interface
	var cache service.ProductCache
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ProductTTL)
	if err != nil {
		logger.Warn("Redis unavailable, product cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
		checks["redis"] = redisClient
		logger.Info("Redis connected")
	}

	var images imagestore.Store
	if backend, err := imagestore.New(imagestore.Config{
		Backend:        cfg.Images.Backend,
		CloudName:      cfg.Images.CloudName,
		APIKey:         cfg.Images.APIKey,
		APISecret:      cfg.Images.APISecret,
		MinioEndpoint:  cfg.Images.MinioEndpoint,
		MinioAccessKey: cfg.Images.MinioAccessKey,
		MinioSecretKey: cfg.Images.MinioSecretKey,
		MinioBucket:    cfg.Images.MinioBucket,
		MinioUseSSL:    cfg.Images.MinioUseSSL,
	}); err != nil {
		logger.Warn("Image storage unavailable, uploads disabled", zap.Error(err))
	} else {
		images = backend
	}

	mail, err := mailer.New(mailer.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if err != nil {
		logger.Fatal("Failed to configure mailer", zap.Error(err))
	}
	mailNotifier := mailer.NewNotifier(mail)

	var (
		paymentNotifier service.PaymentNotifier = mailNotifier
		orderEvents     service.OrderEvents
		notifyWorker    *worker.NotificationWorker
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if cfg.Kafka.Enabled() {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()

		publisher := broker.NewEventPublisher(producer)
		paymentNotifier = publisher
		orderEvents = publisher

		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		notifyWorker = worker.NewNotificationWorker(consumer, mailNotifier)
		go func() {
			if err := notifyWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
		logger.Info("Kafka enabled, notices are delivered by the worker", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		logger.Info("Kafka disabled, notices are mailed in-process")
	}

	tokens := auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL, cfg.JWT.ResetTTL)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)
	if gw.SecretKey() == "" {
		logger.Warn("PAYSTACK_SECRET_KEY is empty, every webhook will be rejected")
	}

	catalogService := service.NewCatalogService(db, cache, images, cfg.Business.DefaultPageSize, cfg.Business.LowStockThreshold)
	cartService := service.NewCartService(db, db)
	orderService := service.NewOrderService(db, db, orderEvents)
	paymentService := service.NewPaymentService(db, cartService, cache, paymentNotifier, gw, service.PaymentConfig{
		WebhookSecret: gw.SecretKey(),
		CallbackURL:   cfg.Gateway.CallbackURL,
		Currency:      cfg.Gateway.Currency,
	})
	accountService := service.NewAccountService(db, db, tokens, images, mailNotifier, cfg.JWT.ResetURLFmt)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Catalog:        catalogService,
		Carts:          cartService,
		Orders:         orderService,
		Payments:       paymentService,
		Accounts:       accountService,
		Tokens:         tokens,
		Checks:         checks,
		NotifyTimeout:  cfg.Business.NotifyTimeout,
		MaxUploadBytes: cfg.Images.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
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

	workerCancel()
	if notifyWorker != nil {
		if err := notifyWorker.Stop(); err != nil {
			logger.Warn("Error stopping notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
