package kafka

import (
	"context"
	"errors"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

// StockAdjuster is satisfied by *usecase.StockLedger.
type StockAdjuster interface {
	Adjust(ctx context.Context, storeID, productID, qty int64, typ domain.TxType, reason string) (domain.StockEntry, error)
}

// StockAdjustmentHandler books warehouse stock movements into the ledger.
type StockAdjustmentHandler struct {
	Ledger StockAdjuster
}

func NewStockAdjustmentHandler(l StockAdjuster) *StockAdjustmentHandler {
	return &StockAdjustmentHandler{Ledger: l}
}

// Handle drops adjustments the ledger refuses, since redelivery cannot fix
// them. Other errors are returned so the offset is not committed.
func (h *StockAdjustmentHandler) Handle(ctx context.Context, ev usecase.StockAdjustedMsg) error {
	reason := ev.Reason
	if reason == "" {
		reason = "warehouse feed"
	}
	_, err := h.Ledger.Adjust(ctx, ev.StoreID, ev.ProductID, ev.Quantity, domain.TxType(ev.Type), reason)
	if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrInsufficientStock) {
		logging.FromCtx(ctx).Warn("stock adjustment rejected", "store_id", ev.StoreID,
			"product_id", ev.ProductID, "type", ev.Type, "qty", ev.Quantity, "err", err)
		return nil
	}
	return err
}
