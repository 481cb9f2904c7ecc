package http

import (
	"context"
	"net/http"
	"time"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type DiscountHandler struct {
	repo    usecase.DiscountRepo
	timeout time.Duration
}

func NewDiscountHandler(repo usecase.DiscountRepo, timeout time.Duration) *DiscountHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DiscountHandler{repo: repo, timeout: timeout}
}

type createDiscountReq struct {
	Type        string          `json:"type" binding:"required,oneof=PERCENTAGE BUY1GET1 NOMINAL"`
	Code        string          `json:"code"`
	ProductID   *int64          `json:"productId"`
	Value       decimal.Decimal `json:"value"`
	Unit        string          `json:"unit"`
	StartDate   time.Time       `json:"startDate" binding:"required"`
	EndDate     time.Time       `json:"endDate" binding:"required"`
	MinPurchase int64           `json:"minPurchase"`
	MaxDiscount *int64          `json:"maxDiscount"`
}

func (h *DiscountHandler) Create(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	var req createDiscountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	d := &domain.Discount{
		Type:        domain.DiscountType(req.Type),
		Code:        req.Code,
		StoreID:     storeID,
		ProductID:   req.ProductID,
		Value:       req.Value,
		Unit:        domain.NominalUnit(req.Unit),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		MinPurchase: req.MinPurchase,
		MaxDiscount: req.MaxDiscount,
	}
	if err := h.repo.Create(ctx, d); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *DiscountHandler) List(c *gin.Context) {
	storeID, ok := storeScope(c)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	ds, err := h.repo.ListByStore(ctx, storeID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discounts": ds})
}
