package http

import (
	"context"
	"errors"
	"net/http"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
)

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	// set for insufficient stock
	StoreID   int64  `json:"storeId,omitempty"`
	ProductID int64  `json:"productId,omitempty"`
	Available *int64 `json:"available,omitempty"`
	Line      *int   `json:"line,omitempty"`
}

// writeError maps use case errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	var ise *domain.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		resp := errorResp{Error: "insufficient_stock", Message: err.Error(),
			StoreID: ise.StoreID, ProductID: ise.ProductID, Available: &ise.Available}
		if ise.Line >= 0 {
			resp.Line = &ise.Line
		}
		c.JSON(http.StatusConflict, resp)
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResp{Error: "invalid_transition", Message: err.Error()})
	case errors.Is(err, usecase.ErrDuplicate):
		c.JSON(http.StatusConflict, errorResp{Error: "duplicate_request", Message: err.Error()})
	case errors.Is(err, domain.ErrDiscountNotApplicable):
		c.JSON(http.StatusUnprocessableEntity, errorResp{Error: "discount_not_applicable", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResp{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, errorResp{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, errorResp{Error: "timeout"})
	default:
		logging.From(c).Error("request failed", "err", err)
		c.JSON(http.StatusInternalServerError, errorResp{Error: "internal_error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorResp{Error: "bad_request", Message: msg})
}
