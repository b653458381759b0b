// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"

	"benefix/internal/domain/benefit"
	"benefix/internal/domain/checkout"
	"benefix/internal/domain/coupon"
	"benefix/internal/domain/loyalty"
	"benefix/internal/infrastructure/http/v1/handlers"
	"benefix/internal/infrastructure/http/v1/middleware"
	"benefix/internal/infrastructure/storage/postgres"
	"benefix/internal/infrastructure/storage/postgres/promo_repo"
	"benefix/pkg/logger"
)

// RouterConfig holds router configuration.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks)
	Pool *postgres.Pool

	// TxManager wraps transactional access for repositories
	TxManager *postgres.TxManager

	// Logger for request logging
	Logger *logger.Logger

	// JWTValidator for token validation; nil disables authentication
	// (local development only)
	JWTValidator middleware.JWTValidator
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints (no auth required)
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	// Wire the calculation engine.
	benefitRepo := promo_repo.NewBenefitRepo(cfg.TxManager)
	couponRepo := promo_repo.NewCouponRepo(cfg.TxManager)
	loyaltyRepo := promo_repo.NewLoyaltyRepo(cfg.TxManager)

	recorder, err := postgres.NewCalculationStore(cfg.TxManager)
	if err != nil {
		return nil, err
	}

	collector := benefit.NewCollector(benefitRepo)
	couponLedger := coupon.NewLedger(couponRepo)
	loyaltyLedger := loyalty.NewLedger(loyaltyRepo)
	checkoutService := checkout.NewService(collector, couponLedger, loyaltyLedger, recorder, cfg.TxManager)

	baseHandler := handlers.NewBaseHandler()
	checkoutHandler := handlers.NewCheckoutHandler(baseHandler, checkoutService)

	// API v1
	apiV1 := router.Group("/api/v1")
	if cfg.JWTValidator != nil {
		apiV1.Use(middleware.Auth(cfg.JWTValidator))
	}
	{
		checkoutHandler.RegisterRoutes(apiV1.Group("/checkout"))
	}

	return router, nil
}
