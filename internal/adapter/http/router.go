package http

import (
	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Orders    *OrderHandler
	Carts     *CartHandler
	Stock     *StockHandler
	Discounts *DiscountHandler
	Tokens    *TokenHandler
}

func NewRouter(h Handlers, authz *middleware.Authz) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.MetricsMiddleware())
	r.Use(middleware.Logging(logging.New("http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})
	// Prometheus endpoint (scraped by Prometheus)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/v1/token", h.Tokens.IssueToken)

	write := authz.Require(security.PermOrdersWrite)
	admin := authz.Require(security.PermOrdersAdmin)

	v1 := r.Group("/v1")
	{
		v1.POST("/cart/items", write, h.Carts.AddItem)
		v1.GET("/cart", write, h.Carts.List)
		v1.POST("/checkout/quote", write, h.Carts.Quote)

		v1.POST("/orders", write, h.Orders.CreateOrder)
		v1.GET("/orders/:id", authz.Require(security.PermOrdersRead), h.Orders.GetOrderByID)
		v1.POST("/orders/:id/payment-proof", write, h.Orders.UploadPaymentProof)
		v1.POST("/orders/:id/cancel", write, h.Orders.Cancel())
		v1.POST("/orders/:id/confirm", write, h.Orders.Confirm())
		v1.POST("/orders/:id/approve", admin, h.Orders.Approve())
		v1.POST("/orders/:id/reject", admin, h.Orders.Reject())
		v1.POST("/orders/:id/ship", admin, h.Orders.Ship())

		stores := v1.Group("/stores/:storeId")
		stores.GET("/products/:productId/stock", authz.Require(security.PermStockRead), h.Stock.Balance)
		stores.GET("/products/:productId/stock/entries", authz.Require(security.PermStockRead), h.Stock.Entries)
		stores.POST("/products/:productId/stock", authz.Require(security.PermStockWrite), h.Stock.Adjust)
		stores.GET("/discounts", authz.Require(security.PermDiscountsRead), h.Discounts.List)
		stores.POST("/discounts", authz.Require(security.PermDiscountsWrite), h.Discounts.Create)
	}

	return r
}
