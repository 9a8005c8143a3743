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

	"backoffice-service/config"
	"backoffice-service/internal/api"
	"backoffice-service/internal/broker"
	"backoffice-service/internal/notify"
	"backoffice-service/internal/razorpay"
	"backoffice-service/internal/redisclient"
	"backoffice-service/internal/service"
	"backoffice-service/internal/store"
	"backoffice-service/internal/util"
	"backoffice-service/internal/worker"

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
	logger.Info("Starting back-office service")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	clock, err := util.NewClock(cfg.Business.Timezone)
	if err != nil {
		log.Fatalf("Failed to load timezone: %v", err)
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureSchema(schemaCtx); err != nil {
		schemaCancel()
		log.Fatalf("Failed to prepare database: %v", err)
	}
	schemaCancel()
	logger.Info("Database connected")

	registry := notify.NewRegistry(cfg.Server.WSSendTimeout)

	checks := map[string]api.ReadinessCheck{"postgres": db.Ping}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var broadcaster service.Broadcaster = registry
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, payment outcomes reach this instance's clients only", zap.Error(err))
	} else {
		defer redisClient.Close()
		logger.Info("Redis connected")

		relay := redisclient.NewRelay(redisClient, registry)
		broadcaster = relay
		checks["redis"] = redisClient.Ping
		checks["relay"] = relay.Ready
		go relay.Serve(workerCtx)
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(producer)

	counterService := service.NewCounterService(db, nil)
	identifierService := service.NewIdentifierService(counterService, service.NewIdentifierFormatter(nil))
	dispatchService := service.NewDispatchImportService(db, counterService, eventPublisher, clock, cfg.Business.DispatchNumberMode)
	paymentService := service.NewPaymentService(
		db,
		razorpay.NewClient(cfg.Razorpay),
		broadcaster,
		eventPublisher,
		clock,
		cfg.Razorpay,
	)

	if cfg.Razorpay.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}
	if cfg.Razorpay.WebhookURL != "" {
		logger.Info("Expecting gateway webhooks", zap.String("url", cfg.Razorpay.WebhookURL))
	}

	var notificationWorker *worker.NotificationWorker
	if cfg.WhatsApp.WebhookURL != "" {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
		notificationWorker = worker.NewNotificationWorker(consumer, db, cfg.WhatsApp)
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("WHATSAPP_WEBHOOK_URL not set, notification worker disabled")
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Deps{
		Dispatch:      dispatchService,
		Payments:      paymentService,
		Counters:      counterService,
		Identifiers:   identifierService,
		Registry:      registry,
		Clock:         clock,
		Checks:        checks,
		WSSendTimeout: cfg.Server.WSSendTimeout,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if notificationWorker != nil {
		if err := notificationWorker.Stop(); err != nil {
			logger.Warn("Error stopping notification worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
