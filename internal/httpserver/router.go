package httpserver

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/storefront"
)

type catalog interface {
	Products(ctx context.Context) (backend.ProductsPage, error)
	Product(ctx context.Context, id string) (domain.Product, error)
}

type accountClient interface {
	MyOrders(ctx context.Context, token string) ([]domain.Order, error)
	VerifyPayment(ctx context.Context, token, txnID string) (backend.VerifyResponse, error)
}

// Deps are the collaborators of the router.
type Deps struct {
	Registry       *storefront.Registry
	Catalog        catalog
	Account        accountClient
	Ready          func(ctx context.Context) error
	AllowedOrigins []string
	SecureCookies  bool
}

// buildRouter wires routes for the storefront edge.
func buildRouter(logger *log.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if deps.Catalog == nil || deps.Account == nil {
		return nil, errors.New("backend clients are required")
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", sessionHeader},
			ExposeHeaders:    []string{sessionHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ready))

	h := &handlers{registry: deps.Registry, catalog: deps.Catalog, account: deps.Account, logger: logger}

	router.GET("/products", h.listProducts)
	router.GET("/products/:id", h.getProduct)

	returns := router.Group("/payment", returnMiddleware(deps.Registry))
	returns.GET("/success", h.paymentSuccess)
	returns.GET("/failure", h.paymentFailure)
	returns.POST("/success", h.paymentSuccess)
	returns.POST("/failure", h.paymentFailure)

	device := router.Group("/", deviceMiddleware(deps.Registry, deps.SecureCookies))
	device.POST("/tabs", h.openTab)
	device.POST("/identity/:provider", h.pushIdentity)
	device.GET("/auth/me", h.me)
	device.POST("/auth/signout", h.signOut)
	device.GET("/orders", h.orders)

	tab := device.Group("/", tabMiddleware(deps.Registry))
	tab.GET("/cart", h.getCart)
	tab.POST("/cart/refresh", h.refreshCart)
	tab.POST("/cart/items", h.addItem)
	tab.PATCH("/cart/items", h.updateItem)
	tab.DELETE("/cart/items", h.removeItem)
	tab.DELETE("/cart", h.clearCart)

	tab.GET("/checkout", h.checkoutState)
	tab.POST("/checkout", h.beginCheckout)
	tab.POST("/checkout/address", h.submitAddress)
	tab.POST("/checkout/back", h.checkoutBack)
	tab.POST("/checkout/method", h.selectMethod)
	tab.POST("/checkout/confirm", h.confirm)

	tab.POST("/analytics/pageview", h.pageView)
	tab.POST("/analytics/click", h.click)
	tab.POST("/analytics/visibility", h.visibility)
	tab.POST("/analytics/unload", h.unload)

	return router, nil
}

type handlers struct {
	registry *storefront.Registry
	catalog  catalog
	account  accountClient
	logger   *log.Logger
}
