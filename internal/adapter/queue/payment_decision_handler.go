package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
)

// DecisionGateway is satisfied by *usecase.PaymentProofGateway.
type DecisionGateway interface {
	Decide(ctx context.Context, actor domain.Actor, orderID string, approve bool) (*domain.Order, error)
}

// PaymentDecisionHandler applies moderation decisions from the back office.
type PaymentDecisionHandler struct {
	GW DecisionGateway
}

func NewPaymentDecisionHandler(gw DecisionGateway) *PaymentDecisionHandler {
	return &PaymentDecisionHandler{GW: gw}
}

// HandleDecision is intended to be used with queue.JSONHandler[usecase.PaymentDecisionMsg].
// A redelivered decision for an order that already moved on is acked.
func (h *PaymentDecisionHandler) HandleDecision(ctx context.Context, msg usecase.PaymentDecisionMsg) error {
	if msg.OrderID == "" || msg.AdminID <= 0 {
		return Permanent(fmt.Errorf("%w: decision needs orderId and adminId", domain.ErrInvalidInput))
	}
	approve := msg.Approve
	switch strings.ToUpper(msg.Decision) {
	case "":
	case "APPROVE":
		approve = true
	case "REJECT":
		approve = false
	default:
		return Permanent(fmt.Errorf("%w: decision %q", domain.ErrInvalidInput, msg.Decision))
	}

	actor := domain.Actor{ID: msg.AdminID, Role: domain.RoleSuperAdmin}
	if msg.StoreID > 0 {
		actor = domain.Actor{ID: msg.AdminID, Role: domain.RoleStoreAdmin, StoreID: msg.StoreID}
	}

	_, err := h.GW.Decide(ctx, actor, msg.OrderID, approve)
	switch {
	case err == nil:
		logging.FromCtx(ctx).Info("payment decision applied", "order_id", msg.OrderID,
			"approve", approve, "admin_id", msg.AdminID)
		return nil
	case errors.Is(err, domain.ErrInvalidTransition):
		logging.FromCtx(ctx).Warn("payment decision ignored", "order_id", msg.OrderID, "err", err)
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrInvalidInput):
		return Permanent(err)
	}
	return err
}
