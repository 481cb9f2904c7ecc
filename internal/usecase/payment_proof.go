package usecase

import (
	"context"
	"fmt"

	domain "github.com/aq2208/gorder-fulfillment/internal/entity"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
)

const DefaultMaxProofBytes = 1 << 20

// PaymentProofGateway accepts proof uploads and moderation decisions and
// turns them into lifecycle transitions.
type PaymentProofGateway struct {
	lifecycle    *OrderLifecycle
	store        ProofStore
	maxBytes     int
	allowedTypes map[string]struct{}
}

func NewPaymentProofGateway(lc *OrderLifecycle, store ProofStore, maxBytes int, allowedTypes []string) *PaymentProofGateway {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxProofBytes
	}
	if len(allowedTypes) == 0 {
		allowedTypes = []string{"image/jpeg", "image/png"}
	}
	allowed := make(map[string]struct{}, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed[t] = struct{}{}
	}
	return &PaymentProofGateway{lifecycle: lc, store: store, maxBytes: maxBytes, allowedTypes: allowed}
}

// Upload stores the image and moves the order to WAITING_CONFIRMATION. The
// stored object is removed again if the transition is refused.
func (g *PaymentProofGateway) Upload(ctx context.Context, actor domain.Actor, orderID, contentType string, data []byte) (*domain.Order, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty proof image", domain.ErrInvalidInput)
	}
	if len(data) > g.maxBytes {
		return nil, fmt.Errorf("%w: proof image is %d bytes, limit %d", domain.ErrInvalidInput, len(data), g.maxBytes)
	}
	if _, ok := g.allowedTypes[contentType]; !ok {
		return nil, fmt.Errorf("%w: proof content type %q", domain.ErrInvalidInput, contentType)
	}

	// refuse early so nothing is stored for an order that cannot take a proof
	o, err := g.lifecycle.Get(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if _, _, err := domain.Next(o.Status, domain.EventUploadProof); err != nil {
		return nil, err
	}

	ref, err := g.store.Put(ctx, orderID, contentType, data)
	if err != nil {
		return nil, fmt.Errorf("store proof: %w", err)
	}
	updated, err := g.lifecycle.UploadPaymentProof(ctx, actor, orderID, ref)
	if err != nil {
		if derr := g.store.Delete(context.WithoutCancel(ctx), ref); derr != nil {
			logging.FromCtx(ctx).Warn("orphaned payment proof", "order_id", orderID, "ref", ref, "err", derr)
		}
		return nil, err
	}
	return updated, nil
}

// Decide applies an admin's moderation decision.
func (g *PaymentProofGateway) Decide(ctx context.Context, actor domain.Actor, orderID string, approve bool) (*domain.Order, error) {
	if approve {
		return g.lifecycle.ApprovePayment(ctx, actor, orderID)
	}
	return g.lifecycle.RejectPayment(ctx, actor, orderID)
}
