package httpserver

import (
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bodyshop-storefront/internal/events"
	"bodyshop-storefront/internal/metrics"
	"bodyshop-storefront/internal/repository/localstate"
	"bodyshop-storefront/internal/service/auth"
	"bodyshop-storefront/internal/service/cart"
	"bodyshop-storefront/internal/service/catalog"
	"bodyshop-storefront/internal/service/checkout"
)

// Deps are the services behind the API. DB and Metrics may be nil.
type Deps struct {
	State    localstate.Repository
	Carts    *cart.Registry
	Catalog  *catalog.Service
	Auth     *auth.Service
	Checkout *checkout.Service
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	DB       Pinger
}

type Options struct {
	CORSOrigins []string
	// SecureCookie marks the session cookie Secure; set behind TLS.
	SecureCookie bool
	// MaxImportBytes caps the CSV accepted by the cart import.
	MaxImportBytes int64
}

// api holds what every handler needs.
type api struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	// done is closed on shutdown to end event streams.
	done chan struct{}
}

func newAPI(logger zerolog.Logger, deps Deps, opts Options) (*api, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("httpserver: session state repository is required")
	case deps.Carts == nil, deps.Catalog == nil, deps.Auth == nil, deps.Checkout == nil:
		return nil, errors.New("httpserver: cart, catalog, auth and checkout services are required")
	case deps.Bus == nil:
		return nil, errors.New("httpserver: event bus is required")
	}
	if opts.MaxImportBytes <= 0 {
		opts.MaxImportBytes = 1 << 20
	}
	return &api{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "http").Logger(),
		done:   make(chan struct{}),
	}, nil
}

// buildRouter wires routes for the API.
func buildRouter(h *api) *gin.Engine {
	router := gin.New()
	router.Use(requestID(), requestLogger(h.logger, h.deps.Metrics), gin.Recovery())
	if len(h.opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     h.opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", sessionHeader, requestIDHeader},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", sessionHeader, requestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(h.deps.DB))
	if h.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	v1.POST("/session", h.issueSession)

	scoped := v1.Group("", sessionMiddleware())

	scoped.GET("/cart", h.getCart)
	scoped.POST("/cart/items", h.addCartItem)
	scoped.PATCH("/cart/items/:id", h.updateCartItem)
	scoped.POST("/cart/items/:id/increase", h.increaseCartItem)
	scoped.POST("/cart/items/:id/decrease", h.decreaseCartItem)
	scoped.DELETE("/cart/items/:id", h.removeCartItem)
	scoped.POST("/cart/buy", h.buyProduct)
	scoped.POST("/cart/checkout", h.proceedToCheckout)
	scoped.POST("/cart/import", h.importCart)

	scoped.GET("/checkout", h.prepareCheckout)
	scoped.POST("/orders", h.submitOrder)
	scoped.GET("/orders/history.xlsx", h.exportHistory)

	scoped.GET("/favorites", h.listFavorites)
	scoped.POST("/favorites/:id/toggle", h.toggleFavorite)
	scoped.DELETE("/favorites/:id", h.removeFavorite)
	scoped.POST("/favorites/:id/cart", h.moveFavoriteToCart)

	scoped.GET("/products", h.listProducts)
	scoped.GET("/products/:slug", h.getProduct)

	scoped.POST("/auth/login", h.login)
	scoped.POST("/auth/register", h.register)
	scoped.POST("/auth/refresh", h.refresh)
	scoped.POST("/auth/logout", h.logout)
	scoped.GET("/auth/status", h.authStatus)

	scoped.POST("/phone/validate", h.validatePhone)
	scoped.POST("/phone/format", h.formatPhone)

	scoped.GET("/events", h.streamEvents)

	return router
}
