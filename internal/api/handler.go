package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Checker is a dependency pinged by /ready
type Checker interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer needs
type Deps struct {
	Catalog  *service.CatalogService
	Carts    *service.CartService
	Orders   *service.OrderService
	Payments *service.PaymentService
	Accounts *service.AccountService
	Tokens   *auth.TokenManager

	// Checks are pinged by /ready, keyed by name
	Checks         map[string]Checker
	NotifyTimeout  time.Duration
	MaxUploadBytes int64
	AllowedOrigins []string
}

// Handler contains HTTP handlers
type Handler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	orders   *service.OrderService
	payments *service.PaymentService
	accounts *service.AccountService
	tokens   *auth.TokenManager

	checks         map[string]Checker
	notifyTimeout  time.Duration
	maxUploadBytes int64
	allowedOrigins []string
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	if d.NotifyTimeout <= 0 {
		d.NotifyTimeout = 30 * time.Second
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 5 << 20
	}
	return &Handler{
		catalog:        d.Catalog,
		carts:          d.Carts,
		orders:         d.Orders,
		payments:       d.Payments,
		accounts:       d.Accounts,
		tokens:         d.Tokens,
		checks:         d.Checks,
		notifyTimeout:  d.NotifyTimeout,
		maxUploadBytes: d.MaxUploadBytes,
		allowedOrigins: d.AllowedOrigins,
		logger:         util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	if len(h.allowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", h.register)
		v1.POST("/auth/login", h.login)
		v1.POST("/auth/forgot-password", h.forgotPassword)
		v1.POST("/auth/reset-password", h.resetPassword)

		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		// signed by the gateway, not by a user token
		v1.POST("/payments/webhook", h.paymentWebhook)
	}

	authed := v1.Group("")
	authed.Use(h.authRequired())
	{
		authed.GET("/users/me", h.getProfile)
		authed.PUT("/users/me", h.updateProfile)
		authed.POST("/users/me/avatar", h.uploadAvatar)

		authed.GET("/products/low-stock", h.lowStock)
		authed.POST("/products", h.createProduct)
		authed.PUT("/products/:id", h.updateProduct)
		authed.DELETE("/products/:id", h.deleteProduct)
		authed.POST("/products/:id/image", h.uploadProductImage)

		authed.GET("/cart", h.getCart)
		authed.POST("/cart", h.addCartItem)
		authed.PUT("/cart/:id", h.updateCartItem)
		authed.DELETE("/cart/:id", h.removeCartItem)

		authed.POST("/orders", h.placeOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/history", h.orderHistory)
		authed.GET("/orders/:id", h.getOrder)
		authed.PUT("/orders/:id/status", h.setOrderStatus)

		authed.POST("/payments/initiate", h.initiatePayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// pathID parses a positive integer path parameter, answering 400 when it is not one
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
