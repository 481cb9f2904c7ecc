package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
)

// CartHandler serves the customer's cart and checkout previews.
type CartHandler struct {
	carts     usecase.CartRepo
	lifecycle *usecase.OrderLifecycle
	timeout   time.Duration
}

func NewCartHandler(carts usecase.CartRepo, lc *usecase.OrderLifecycle, timeout time.Duration) *CartHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CartHandler{carts: carts, lifecycle: lc, timeout: timeout}
}

type addCartItemReq struct {
	StoreID   int64 `json:"storeId" binding:"required,gt=0"`
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

func customerOnly(c *gin.Context) (domain.Actor, bool) {
	actor, _ := middleware.ActorFrom(c)
	if actor.Role != domain.RoleCustomer {
		c.JSON(http.StatusForbidden, errorResp{Error: "forbidden", Message: "only customers have carts"})
		return actor, false
	}
	return actor, true
}

func (h *CartHandler) AddItem(c *gin.Context) {
	actor, ok := customerOnly(c)
	if !ok {
		return
	}
	var req addCartItemReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	it := &domain.CartItem{CustomerID: actor.ID, StoreID: req.StoreID, ProductID: req.ProductID, Quantity: req.Quantity}
	if err := h.carts.Add(ctx, it); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, it)
}

func (h *CartHandler) List(c *gin.Context) {
	actor, ok := customerOnly(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	items, err := h.carts.List(ctx, actor.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type quoteReq struct {
	CartItemIDs []int64 `json:"cartItemIds" binding:"required,min=1,dive,gt=0"`
	VoucherCode string  `json:"voucherCode"`
}

type quoteResp struct {
	Lines           []domain.OrderLine `json:"lines"`
	Subtotal        int64              `json:"subtotal"`
	VoucherDiscount int64              `json:"voucherDiscount"`
	TotalPrice      int64              `json:"totalPrice"`
	VoucherError    string             `json:"voucherError,omitempty"`
}

func (h *CartHandler) Quote(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	var req quoteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	q, err := h.lifecycle.Quote(ctx, actor, req.CartItemIDs, req.VoucherCode)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := quoteResp{Lines: q.Lines, Subtotal: q.Subtotal, VoucherDiscount: q.VoucherDiscount, TotalPrice: q.TotalPrice}
	if q.VoucherErr != nil {
		resp.VoucherError = q.VoucherErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}
