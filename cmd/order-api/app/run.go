package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aq2208/gorder-fulfillment/configs"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/cache"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/grpc"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/kafka"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/queue"
	"github.com/aq2208/gorder-fulfillment/internal/adapter/repo"
	"github.com/aq2208/gorder-fulfillment/internal/bootstrap"
	"github.com/aq2208/gorder-fulfillment/internal/logging"
	"github.com/aq2208/gorder-fulfillment/internal/usecase"
	_ "github.com/go-sql-driver/mysql"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Core   *bootstrap.Core
	Server *http.Server

	workers  []func(ctx context.Context) error
	cleanups []func()
}

func (a *App) onClose(f func()) { a.cleanups = append(a.cleanups, f) }

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
}

func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, error) {
	log := logging.New("bootstrap")
	a := &App{}

	ports, err := initStorage(ctx, cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	// payment proof images
	if cfg.ProofStore.Enabled {
		conn, err := grpc.Dial(grpc.DialConfig{
			Target:       cfg.ProofStore.Addr,
			Timeout:      cfg.ProofStore.Timeout,
			UseTLS:       cfg.ProofStore.UseTLS,
			CACertPath:   cfg.ProofStore.CACertPath,
			ServerName:   cfg.ProofStore.ServerName,
			MaxSendBytes: cfg.ProofStore.MaxSendBytes,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("proof store: %w", err)
		}
		a.onClose(func() { _ = conn.Close() })
		ports.Proofs = grpc.NewProofStoreClientFromConn(conn, cfg.ProofStore.Timeout, cfg.App.Name+"/proofs")
	} else if ports.Proofs == nil {
		log.Warn("proof store disabled, keeping payment proofs in memory")
		ports.Proofs = repo.NewMemoryProofStore()
	}

	// init redis
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.onClose(func() { _ = rdb.Close() })
		ports.Idempotency = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
		ports.Cache = cache.NewRedisCache(rdb, cfg.Cache.TTL)
	} else {
		ports.Idempotency = cache.NewMemoryIdempotencyStore(cfg.Idempotency.TTL)
	}

	// init rabbitmq: one channel publishes, one consumes
	var decisions *queue.Router
	if cfg.Rabbit.Enabled {
		conn, err := amqp.Dial(cfg.Rabbit.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq dial: %w", err)
		}
		a.onClose(func() { _ = conn.Close() })
		pubCh, err := conn.Channel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		producer, err := queue.NewRabbitProducer(pubCh, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey, cfg.Rabbit.DecisionQueue)
		if err != nil {
			a.Close()
			return nil, err
		}
		ports.Events = producer

		subCh, err := conn.Channel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("rabbitmq channel: %w", err)
		}
		opts := []queue.RouterOption{queue.WithLogger(logging.New("rabbitmq"))}
		if cfg.Rabbit.Prefetch > 0 {
			opts = append(opts, queue.WithPrefetch(cfg.Rabbit.Prefetch))
		}
		decisions = queue.NewRouter(subCh, opts...)
	}

	core := bootstrap.NewCore(ports, bootstrap.OptionsFromConfig(cfg))
	a.Core = core
	a.workers = append(a.workers, core.Sweeper.Run)

	if decisions != nil {
		queueName := cfg.Rabbit.DecisionQueue
		if queueName == "" {
			queueName = queue.DefaultDecisionQueue
		}
		h := queue.NewPaymentDecisionHandler(core.Proofs)
		decisions.Register(queueName, queue.JSONHandler[usecase.PaymentDecisionMsg]{HandleFunc: h.HandleDecision})
		a.workers = append(a.workers, decisions.Run)
	}

	// register kafka-listener
	if cfg.Kafka.Enabled {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("kafka group: %w", err)
		}
		h := kafka.NewStockAdjustmentHandler(core.Ledger)
		consumer := kafka.NewConsumer(grp, []string{cfg.Kafka.TopicAdjustments}, h.Handle)
		a.onClose(func() { _ = consumer.Close() })
		a.workers = append(a.workers, consumer.Start)
	}

	a.Server = &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      bootstrap.NewRouter(core, cfg),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return a, nil
}

func initStorage(ctx context.Context, cfg configs.Config, a *App) (bootstrap.Ports, error) {
	if cfg.App.Storage == "memory" {
		ports, _, err := bootstrap.MemoryPorts(ctx, bootstrap.DemoSeed(time.Now()))
		return ports, err
	}

	// init database
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return bootstrap.Ports{}, err
	}
	a.onClose(func() { _ = db.Close() })
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return bootstrap.Ports{}, fmt.Errorf("mysql ping: %w", err)
	}
	if err := repo.Migrate(pingCtx, db); err != nil {
		return bootstrap.Ports{}, err
	}
	return bootstrap.MySQLPorts(db), nil
}

// Run serves HTTP and the background workers until ctx is cancelled or one
// of them fails.
func (a *App) Run(ctx context.Context) error {
	log := logging.New("app")
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	return g.Wait()
}
