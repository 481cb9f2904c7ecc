package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	proofStoreService = "proofstore.ProofStore"
	methodPut         = "/" + proofStoreService + "/Put"
	methodDelete      = "/" + proofStoreService + "/Delete"
)

// jsonCodec lets the proof store speak gRPC without generated stubs.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type PutRequest struct {
	OrderID     string `json:"orderId"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type PutResponse struct {
	Ref string `json:"ref"`
}

type DeleteRequest struct {
	Ref string `json:"ref"`
}

type DeleteResponse struct{}

// ProofStoreClient implements usecase.ProofStore over the proof image service.
type ProofStoreClient struct {
	cc      grpc.ClientConnInterface
	timeout time.Duration
	ua      string
}

func NewProofStoreClientFromConn(cc grpc.ClientConnInterface, timeout time.Duration, userAgent string) *ProofStoreClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProofStoreClient{cc: cc, timeout: timeout, ua: userAgent}
}

func (c *ProofStoreClient) call(ctx context.Context, method string, in, out any) error {
	// ensure per-call timeout if caller didn't set one
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if c.ua != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-client", c.ua)
	}
	return c.cc.Invoke(ctx, method, in, out, grpc.ForceCodec(jsonCodec{}))
}

func (c *ProofStoreClient) Put(ctx context.Context, orderID, contentType string, data []byte) (string, error) {
	var resp PutResponse
	if err := c.call(ctx, methodPut, &PutRequest{OrderID: orderID, ContentType: contentType, Data: data}, &resp); err != nil {
		return "", fmt.Errorf("proof store put: %w", err)
	}
	if resp.Ref == "" {
		return "", fmt.Errorf("proof store put: empty ref for order %s", orderID)
	}
	return resp.Ref, nil
}

// Delete treats an already missing object as deleted.
func (c *ProofStoreClient) Delete(ctx context.Context, ref string) error {
	err := c.call(ctx, methodDelete, &DeleteRequest{Ref: ref}, &DeleteResponse{})
	if status.Code(err) == codes.NotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("proof store delete: %w", err)
	}
	return nil
}

var _ usecase.ProofStore = (*ProofStoreClient)(nil)
