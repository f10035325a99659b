package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"mentor-chat/internal/config"
	"mentor-chat/internal/db"
	"mentor-chat/internal/handlers"
	"mentor-chat/internal/logging"
	"mentor-chat/internal/observability"
	"mentor-chat/internal/rabbitmq"
	"mentor-chat/internal/repositories"
	"mentor-chat/internal/telemetry"
	"mentor-chat/internal/ws"
)

const auditRoutingKey = "audit.mentorchat"

func main() {
	configPath := flag.String("config", "", "optional config file")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, "")
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracer, err := telemetry.InitTracer(context.Background(), cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	database, err := db.Connect(cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)),
	)

	audit := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Env, logger)

	messageRepo := repositories.NewMessageRepo(database)
	hub := ws.NewHub(logger)

	messageHandler := handlers.NewMessageHandler(messageRepo, hub, audit, logger)
	chatWS := ws.NewChatWebSocketHandler(hub, logger)

	if cfg.Env != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	messageHandler.Register(router)
	router.GET("/ws/chats/:user_a/:user_b", chatWS.Handle)

	handlers.RegisterDebugRoutes(router, audit, hub, cfg.Env == "development")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("devserver listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		errs <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	case s := <-sig:
		logger.Info("signal received", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(ctx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}
}
