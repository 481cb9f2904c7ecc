package bootstrap

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aq2208/gorder-fulfillment/configs"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/http"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/http/middleware"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/repo"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	"github.com/gin-gonic/gin"
)

// Ports are the storage and messaging implementations the core runs on.
type Ports struct {
	Orders    usecase.OrderRepo
	Stock     usecase.StockRepo
	Discounts usecase.DiscountRepo
	Carts     usecase.CartRepo
	Products  usecase.ProductRepo
	Addresses usecase.AddressRepo
	Tx        usecase.TxManager
	Proofs    usecase.ProofStore

	// optional
	Idempotency usecase.IdempotencyStore
	Events      usecase.EventPublisher
	Cache       usecase.OrderCache
}

type Options struct {
	VoucherPolicy     usecase.VoucherPolicy
	PaymentDeadline   time.Duration
	SweepInterval     time.Duration
	MaxProofBytes     int
	AllowedProofTypes []string
	Now               usecase.Clock
}

// OptionsFromConfig reads the checkout and proof settings.
func OptionsFromConfig(cfg configs.Config) Options {
	return Options{
		VoucherPolicy:     usecase.VoucherPolicy(strings.ToUpper(cfg.Checkout.VoucherPolicy)),
		PaymentDeadline:   cfg.Checkout.PaymentDeadline,
		SweepInterval:     cfg.Checkout.SweepInterval,
		MaxProofBytes:     cfg.Proofs.MaxBytes,
		AllowedProofTypes: cfg.Proofs.AllowedTypes,
	}
}

// Core is the wired fulfillment domain.
type Core struct {
	Ports     Ports
	Options   Options
	Ledger    *usecase.StockLedger
	Pricing   *usecase.DiscountEngine
	Lifecycle *usecase.OrderLifecycle
	Proofs    *usecase.PaymentProofGateway
	Sweeper   *usecase.Sweeper
}

func NewCore(p Ports, o Options) *Core {
	if o.Now == nil {
		o.Now = time.Now
	}
	ledger := usecase.NewStockLedger(p.Stock, o.Now)
	pricing := usecase.NewDiscountEngine(p.Discounts, o.Now)
	lc := usecase.NewOrderLifecycle(usecase.LifecycleDeps{
		Orders:        p.Orders,
		Carts:         p.Carts,
		Products:      p.Products,
		Addresses:     p.Addresses,
		Pricing:       pricing,
		Ledger:        ledger,
		Tx:            p.Tx,
		Idempotency:   p.Idempotency,
		Events:        p.Events,
		Cache:         p.Cache,
		Now:           o.Now,
		VoucherPolicy: o.VoucherPolicy,
	})
	return &Core{
		Ports:     p,
		Options:   o,
		Ledger:    ledger,
		Pricing:   pricing,
		Lifecycle: lc,
		Proofs:    usecase.NewPaymentProofGateway(lc, p.Proofs, o.MaxProofBytes, o.AllowedProofTypes),
		Sweeper:   usecase.NewSweeper(lc, p.Orders, o.PaymentDeadline, o.SweepInterval, o.Now),
	}
}

// MySQLPorts returns the MySQL repositories. Proofs and the optional ports
// are left for the caller.
func MySQLPorts(db *sql.DB) Ports {
	return Ports{
		Orders:    repo.NewMySQLOrderRepo(db),
		Stock:     repo.NewMySQLStockRepo(db),
		Discounts: repo.NewMySQLDiscountRepo(db),
		Carts:     repo.NewMySQLCartRepo(db),
		Products:  repo.NewMySQLProductRepo(db),
		Addresses: repo.NewMySQLAddressRepo(db),
		Tx:        repo.NewMySQLTxManager(db),
	}
}

// MemoryPorts builds an in-process store from seed.
func MemoryPorts(ctx context.Context, seed repo.Seed) (Ports, *repo.MemoryStore, error) {
	s, err := repo.NewMemoryStore(ctx, seed)
	if err != nil {
		return Ports{}, nil, err
	}
	return Ports{
		Orders:    s.Orders,
		Stock:     s.Stock,
		Discounts: s.Discounts,
		Carts:     s.Carts,
		Products:  s.Products,
		Addresses: s.Addresses,
		Tx:        s.Tx,
		Proofs:    s.Proofs,
	}, s, nil
}

// NewRouter builds the HTTP surface over core.
func NewRouter(core *Core, cfg configs.Config) *gin.Engine {
	authCfg := middleware.AuthzConfig{
		Secret:   cfg.Security.JWTSecret,
		Issuer:   cfg.Security.Issuer,
		Audience: cfg.Security.Audience,
	}
	timeout := cfg.Checkout.RequestTimeout
	h := http.Handlers{
		Orders:    http.NewOrderHandler(core.Lifecycle, core.Proofs, timeout, core.Options.MaxProofBytes),
		Carts:     http.NewCartHandler(core.Ports.Carts, core.Lifecycle, timeout),
		Stock:     http.NewStockHandler(core.Ledger, timeout),
		Discounts: http.NewDiscountHandler(core.Ports.Discounts, timeout),
		Tokens:    http.NewTokenHandler(authCfg, cfg.Security.TTL),
	}
	return http.NewRouter(h, middleware.NewAuthz(authCfg))
}
