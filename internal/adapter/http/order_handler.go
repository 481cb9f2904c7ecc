package http

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	lifecycle *usecase.OrderLifecycle
	proofs    *usecase.PaymentProofGateway
	timeout   time.Duration
	maxProof  int64
}

func NewOrderHandler(lc *usecase.OrderLifecycle, proofs *usecase.PaymentProofGateway, timeout time.Duration, maxProofBytes int) *OrderHandler {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxProofBytes <= 0 {
		maxProofBytes = usecase.DefaultMaxProofBytes
	}
	return &OrderHandler{lifecycle: lc, proofs: proofs, timeout: timeout, maxProof: int64(maxProofBytes)}
}

type createOrderReq struct {
	AddressID     int64   `json:"addressId" binding:"required,gt=0"`
	PaymentMethod string  `json:"paymentMethod" binding:"required"`
	CartItemIDs   []int64 `json:"cartItemIds" binding:"required,min=1,dive,gt=0"`
	VoucherCode   string  `json:"voucherCode"`
}

type createOrderResp struct {
	Order        *domain.Order `json:"order"`
	VoucherError string        `json:"voucherError,omitempty"`
}

func (h *OrderHandler) ctx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// CreateOrder handler: translate to use case input
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx, cancel := h.ctx(c)
	defer cancel()

	out, err := h.lifecycle.CreateOrder(ctx, usecase.CreateOrderInput{
		Actor:          actor,
		AddressID:      req.AddressID,
		PaymentMethod:  domain.PaymentMethod(req.PaymentMethod),
		CartItemIDs:    req.CartItemIDs,
		VoucherCode:    req.VoucherCode,
		IdempotencyKey: c.GetHeader("X-Idempotency-Key"), // prevent duplicated requests
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := createOrderResp{Order: out.Order}
	if out.VoucherErr != nil {
		resp.VoucherError = out.VoucherErr.Error()
	}
	status := http.StatusCreated
	if out.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func (h *OrderHandler) GetOrderByID(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	ctx, cancel := h.ctx(c)
	defer cancel()

	o, err := h.lifecycle.Get(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// UploadPaymentProof expects a multipart form with the image in "file".
func (h *OrderHandler) UploadPaymentProof(c *gin.Context) {
	actor, _ := middleware.ActorFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxProof+64<<10)

	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "multipart field \"file\" required")
		return
	}
	if fh.Size > h.maxProof {
		badRequest(c, "proof image too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxProof+1))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	ctx, cancel := h.ctx(c)
	defer cancel()
	o, err := h.proofs.Upload(ctx, actor, c.Param("id"), contentType, data)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

type transitionFunc func(ctx context.Context, actor domain.Actor, orderID string) (*domain.Order, error)

func (h *OrderHandler) transition(fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, _ := middleware.ActorFrom(c)
		ctx, cancel := h.ctx(c)
		defer cancel()

		o, err := fn(ctx, actor, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func (h *OrderHandler) Cancel() gin.HandlerFunc  { return h.transition(h.lifecycle.Cancel) }
func (h *OrderHandler) Confirm() gin.HandlerFunc { return h.transition(h.lifecycle.ConfirmReceived) }
func (h *OrderHandler) Ship() gin.HandlerFunc    { return h.transition(h.lifecycle.Ship) }

func (h *OrderHandler) Approve() gin.HandlerFunc {
	return h.transition(func(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
		return h.proofs.Decide(ctx, actor, id, true)
	})
}

func (h *OrderHandler) Reject() gin.HandlerFunc {
	return h.transition(func(ctx context.Context, actor domain.Actor, id string) (*domain.Order, error) {
		return h.proofs.Decide(ctx, actor, id, false)
	})
}
