package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/Ihnore-Ihor/PI-CMS/internal/auth"
	"github.com/Ihnore-Ihor/PI-CMS/internal/config"
	"github.com/Ihnore-Ihor/PI-CMS/internal/db"
	"github.com/Ihnore-Ihor/PI-CMS/internal/handlers"
	"github.com/Ihnore-Ihor/PI-CMS/internal/logger"
	"github.com/Ihnore-Ihor/PI-CMS/internal/middleware"
	"github.com/Ihnore-Ihor/PI-CMS/internal/observability"
	"github.com/Ihnore-Ihor/PI-CMS/internal/rabbitmq"
	"github.com/Ihnore-Ihor/PI-CMS/internal/relay"
	"github.com/Ihnore-Ihor/PI-CMS/internal/repositories"
	"github.com/Ihnore-Ihor/PI-CMS/internal/roster"
	"github.com/Ihnore-Ihor/PI-CMS/internal/telemetry"
	"github.com/Ihnore-Ihor/PI-CMS/internal/tracing"
	"github.com/Ihnore-Ihor/PI-CMS/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing setup")
	}

	database, err := db.Connect(cfg.DatabaseDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	userRepo := repositories.NewUserRepo(database)
	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := relay.NewHub()
	wsHandler := ws.NewHandler(relay.Deps{
		Hub:      hub,
		Users:    userRepo,
		Chats:    chatRepo,
		Messages: messageRepo,
		Verifier: verifier,
		Audit:    auditEmitter,
		Log:      log,
	})

	rosterClient := roster.NewClient(cfg.RosterBaseURL)
	directoryHandler := handlers.NewDirectoryHandler(rosterClient, log)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws", wsHandler.Serve)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/directory/students", middleware.AuthMiddleware(verifier), directoryHandler.ListStudents)
	handlers.RegisterHealthRoutes(router, database)
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	server := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("chat relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("stopped")
}
