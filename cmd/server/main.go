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

	"github.com/payper/payper-api/internal/auth"
	"github.com/payper/payper-api/internal/database"
	"github.com/payper/payper-api/internal/fulfillment"
	"github.com/payper/payper-api/internal/gateway"
	"github.com/payper/payper-api/internal/notifications"
	"github.com/payper/payper-api/internal/payments"
	"github.com/payper/payper-api/internal/vault"
	"github.com/payper/payper-api/pkg/middleware"
	"github.com/payper/payper-api/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	dbPath := getenv("DATABASE_PATH", "payper.db")
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := getenv("JWT_SECRET", "payper-secret-key")

	// Development fallback key; production must set VAULT_KEY
	devVaultKey := "6465762d6f6e6c792d6b65792d6465762d6f6e6c792d6b65792d646576212121"
	cipher, err := vault.NewCipher(getenv("VAULT_KEY", devVaultKey))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid VAULT_KEY")
	}

	gatewayClient := gateway.NewClient(
		getenv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
		os.Getenv("GATEWAY_CLIENT_ID"),
		os.Getenv("GATEWAY_CLIENT_SECRET"),
	)

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)

	vaultService := vault.NewService(db, cipher, gatewayClient)
	fulfillmentService := fulfillment.NewService(db)
	fulfillmentHandlers := fulfillment.NewGinHandlers(fulfillmentService)

	emailClient := notifications.NewEmailClient(
		getenv("EMAIL_API_URL", "http://localhost:8081/send"),
		os.Getenv("EMAIL_API_KEY"),
	)
	dispatcher := notifications.NewDispatcher(db, emailClient, time.Minute)

	paymentsService := payments.NewService(
		db,
		vaultService,
		gatewayClient,
		fulfillmentService,
		dispatcher,
		getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
	)
	paymentsHandlers := payments.NewGinHandlers(paymentsService)

	// Background workers: notification dispatch and rate window eviction
	limiter := ratelimit.NewLimiter()
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	go dispatcher.Start(workerCtx)
	go limiter.StartSweeper(workerCtx, 5*time.Minute)

	router := gin.Default()
	setupRoutes(router, limiter, jwtSecret, authHandlers, paymentsHandlers, fulfillmentHandlers)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
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

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// The rate limit middleware runs first on every payment route so abusive
// traffic is rejected before any credential lookup or provider call.
func setupRoutes(
	router *gin.Engine,
	limiter *ratelimit.Limiter,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	paymentsHandlers *payments.GinHandlers,
	fulfillmentHandlers *fulfillment.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		authGroup.Use(middleware.RateLimit(limiter, ratelimit.PolicyAPI))
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Payment routes
		paymentsGroup := v1.Group("/payments")
		{
			// Provider push: public, generous window, no auth (the provider
			// cannot hold our JWTs)
			paymentsGroup.POST("/webhook",
				middleware.RateLimit(limiter, ratelimit.PolicyWebhook),
				paymentsHandlers.WebhookHandler())

			// Store-facing: strict window + JWT
			paymentsGroup.POST("/verify",
				middleware.RateLimit(limiter, ratelimit.PolicyPayment),
				middleware.JWTAuth(jwtSecret),
				paymentsHandlers.VerifyHandler())
			paymentsGroup.POST("/checkout",
				middleware.RateLimit(limiter, ratelimit.PolicyPayment),
				middleware.JWTAuth(jwtSecret),
				paymentsHandlers.CreateCheckoutHandler())

			// Credential exchange: very strict window, internal only
			paymentsGroup.POST("/connect/refresh",
				middleware.RateLimit(limiter, ratelimit.PolicyOAuth),
				middleware.InternalAuth(jwtSecret),
				paymentsHandlers.RefreshTokenHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/orders/:order_id/delivered", fulfillmentHandlers.ConfirmDeliveryHandler())
		}
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
