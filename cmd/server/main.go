package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/ksred/brokerlink-api/internal/alerts"
	"github.com/ksred/brokerlink-api/internal/auth"
	"github.com/ksred/brokerlink-api/internal/broker"
	"github.com/ksred/brokerlink-api/internal/config"
	"github.com/ksred/brokerlink-api/internal/crypto"
	"github.com/ksred/brokerlink-api/internal/database"
	"github.com/ksred/brokerlink-api/internal/oauth"
	"github.com/ksred/brokerlink-api/internal/session"
	"github.com/ksred/brokerlink-api/internal/tokens"
	"github.com/ksred/brokerlink-api/internal/trading"
	"github.com/ksred/brokerlink-api/internal/webhook"
	"github.com/ksred/brokerlink-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the credential, order and webhook services and runs the API
// server with graceful shutdown.
func main() {
	cfg := config.GetConfig()

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	cipher, err := crypto.NewCipher(cfg.EncryptionKey)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize credential cipher")
	}

	router := gin.Default()

	// Credential subsystem
	alerter := alerts.NewEmitter(db)
	tokenClient := oauth.NewTokenClient(cfg.OAuthClients())
	oauthService := oauth.NewService(db, tokenClient, cipher, cfg.StateTTL)
	tokenManager := tokens.NewManager(db, tokenClient, cipher, alerter, cfg.RefreshSkew)
	oauthHandlers := oauth.NewGinHandlers(oauthService, tokenManager)

	// Legacy gateway session
	sessionAdapter := session.NewAdapter(cfg.GatewayBaseURL)
	keepAlive := session.NewKeepAliveRunner(sessionAdapter, cfg.KeepAliveInterval)
	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	defer keepAliveCancel()
	go keepAlive.Start(keepAliveCtx)

	// Order submission
	factory := broker.NewFactory(tokenManager, sessionAdapter, cfg)
	tradingService := trading.NewService(db, factory, cfg.BrokerTimeout)
	tradingHandlers := trading.NewGinHandlers(tradingService)

	// Payment webhooks
	webhookService := webhook.NewService(db, cfg.WebhookSecret, alerter)
	webhookHandlers := webhook.NewGinHandlers(webhookService)

	// API authentication
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		authService.RegisterAPICredentials(apiKey, os.Getenv("API_SECRET"))
	}

	setupRoutes(router, cfg, authHandlers, oauthHandlers, tradingHandlers, webhookHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	keepAliveCancel()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Auth routes: public endpoint issuing bearer tokens
// - OAuth routes: broker connection lifecycle, bearer protected
// - Order routes: idempotent submission and history, bearer protected
// - Webhook route: signed payment processor deliveries, no bearer auth
func setupRoutes(
	router *gin.Engine,
	cfg *config.Config,
	authHandlers *auth.GinHandlers,
	oauthHandlers *oauth.GinHandlers,
	tradingHandlers *trading.GinHandlers,
	webhookHandlers *webhook.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		oauthGroup := v1.Group("/oauth")
		oauthGroup.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			oauthGroup.POST("/initiate", oauthHandlers.InitiateHandler())
			oauthGroup.POST("/callback", oauthHandlers.CallbackHandler())
			oauthGroup.POST("/disconnect", oauthHandlers.DisconnectHandler())
			oauthGroup.GET("/status", oauthHandlers.StatusHandler())
		}

		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth(cfg.JWTSecret))
		{
			orders.POST("", tradingHandlers.CreateOrderHandler())
			orders.GET("", tradingHandlers.ListOrdersHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderStatusHandler())
		}

		payments := v1.Group("/payments")
		{
			payments.POST("/webhook", webhookHandlers.EventHandler())
		}
	}
}
