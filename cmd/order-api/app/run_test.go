package app

import (
	"context"
	"testing"
	"time"

	"github.com/aq2208/gorder-fulfillment/configs"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/cache"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func memoryConfig() configs.Config {
	var cfg configs.Config
	cfg.App.Name = "fulfillment-test"
	cfg.App.HTTPAddr = "127.0.0.1:0"
	cfg.App.Storage = "memory"
	cfg.Security.JWTSecret = "test"
	cfg.Checkout.SweepInterval = 20 * time.Millisecond
	return cfg
}

func TestInitWithConfig_MemoryFallbacks(t *testing.T) {
	a, err := InitWithConfig(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &repo.MemoryProofStore{}, a.Core.Ports.Proofs)
	assert.IsType(t, &cache.MemoryIdempotencyStore{}, a.Core.Ports.Idempotency)
	assert.Nil(t, a.Core.Ports.Events)
	assert.Len(t, a.workers, 1, "only the sweeper runs without brokers")

	b, err := a.Core.Ledger.Balance(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(50), b.OnHand)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a, err := InitWithConfig(context.Background(), memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
}
