package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
)

type StockHandler struct {
	ledger  *usecase.StockLedger
	timeout time.Duration
}

func NewStockHandler(l *usecase.StockLedger, timeout time.Duration) *StockHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StockHandler{ledger: l, timeout: timeout}
}

type stockResp struct {
	StoreID   int64 `json:"storeId"`
	ProductID int64 `json:"productId"`
	OnHand    int64 `json:"onHand"`
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

// storeScope parses :storeId and checks the caller administers that store.
func storeScope(c *gin.Context) (int64, bool) {
	storeID, ok := pathID(c, "storeId")
	if !ok {
		return 0, false
	}
	actor, _ := middleware.ActorFrom(c)
	if !actor.ManagesStore(storeID) {
		c.JSON(http.StatusForbidden, errorResp{Error: "forbidden", Message: "not an admin of this store"})
		return 0, false
	}
	return storeID, true
}

func (h *StockHandler) Balance(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	b, err := h.ledger.Balance(ctx, storeID, productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stockResp{StoreID: storeID, ProductID: productID, OnHand: b.OnHand, Held: b.Held, Available: b.Available()})
}

func (h *StockHandler) Entries(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.ledger.Entries(ctx, storeID, productID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

type adjustReq struct {
	Type     string `json:"type" binding:"required,oneof=IN OUT"`
	Quantity int64  `json:"quantity" binding:"required,gt=0"`
	Reason   string `json:"reason"`
}

func (h *StockHandler) Adjust(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "productId")
	if !ok {
		return
	}
	var req adjustReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	e, err := h.ledger.Adjust(ctx, storeID, productID, req.Quantity, domain.TxType(req.Type), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}
