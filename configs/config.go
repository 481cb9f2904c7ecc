package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FULFILLMENT_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		HTTPAddr string `koanf:"http_addr"`
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
		// Storage is "mysql" or "memory".
		Storage string `koanf:"storage"`
	} `koanf:"app"`

	HTTP struct {
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
		IdleTimeout  time.Duration `koanf:"idle_timeout"`
	} `koanf:"http"`

	MySQL struct {
		DSN             string        `koanf:"dsn"`
		MaxOpenConns    int           `koanf:"max_open_conns"`
		MaxIdleConns    int           `koanf:"max_idle_conns"`
		ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	} `koanf:"mysql"`

	Redis struct {
		Enabled  bool   `koanf:"enabled"`
		Addr     string `koanf:"addr"`
		Password string `koanf:"password"`
		DB       int    `koanf:"db"`
	} `koanf:"redis"`

	Idempotency struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"idempotency"`

	Cache struct {
		TTL time.Duration `koanf:"ttl"`
	} `koanf:"cache"`

	Rabbit struct {
		Enabled       bool   `koanf:"enabled"`
		URL           string `koanf:"url"`
		Exchange      string `koanf:"exchange"`
		RoutingKey    string `koanf:"routing_key"`
		DecisionQueue string `koanf:"decision_queue"`
		Prefetch      int    `koanf:"prefetch"`
	} `koanf:"rabbitmq"`

	Kafka struct {
		Enabled          bool     `koanf:"enabled"`
		Brokers          []string `koanf:"brokers"`
		GroupID          string   `koanf:"group_id"`
		TopicAdjustments string   `koanf:"topic_adjustments"`
	} `koanf:"kafka"`

	ProofStore struct {
		Enabled      bool          `koanf:"enabled"`
		Addr         string        `koanf:"addr"`
		Timeout      time.Duration `koanf:"timeout"`
		UseTLS       bool          `koanf:"use_tls"`
		CACertPath   string        `koanf:"ca_cert_path"`
		ServerName   string        `koanf:"server_name"`
		MaxSendBytes int           `koanf:"max_send_bytes"`
	} `koanf:"proof_store"`

	Security struct {
		JWTSecret string        `koanf:"jwt_secret"`
		Issuer    string        `koanf:"issuer"`
		Audience  string        `koanf:"audience"`
		TTL       time.Duration `koanf:"ttl"`
	} `koanf:"security"`

	Checkout struct {
		PaymentDeadline time.Duration `koanf:"payment_deadline"`
		SweepInterval   time.Duration `koanf:"sweep_interval"`
		VoucherPolicy   string        `koanf:"voucher_policy"`
		RequestTimeout  time.Duration `koanf:"request_timeout"`
	} `koanf:"checkout"`

	Proofs struct {
		MaxBytes     int      `koanf:"max_bytes"`
		AllowedTypes []string `koanf:"allowed_types"`
	} `koanf:"proofs"`
}

func Load(pathDir, envName string) (Config, error) {
	k := koanf.New(".")
	// 1) base
	if err := k.Load(file.Provider(fmt.Sprintf("%s/base.yaml", pathDir)), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("load base: %w", err)
	}

	// 2) env override (dev/staging/prod). Optional: allow missing for local runs.
	_ = k.Load(file.Provider(fmt.Sprintf("%s/%s.yaml", pathDir, envName)), yaml.Parser())

	// 3) environment variables override (prefix FULFILLMENT_, nested with __)
	// e.g. FULFILLMENT_MYSQL__DSN, FULFILLMENT_CHECKOUT__VOUCHER_POLICY
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings of every enabled adapter.
func (c Config) Validate() error {
	var errs []error
	if c.App.HTTPAddr == "" {
		errs = append(errs, errors.New("app.http_addr required"))
	}
	switch c.App.Storage {
	case "mysql":
		if c.MySQL.DSN == "" {
			errs = append(errs, errors.New("mysql.dsn required when app.storage=mysql"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("app.storage must be mysql or memory, got %q", c.App.Storage))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, errors.New("security.jwt_secret required"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr required when redis is enabled"))
	}
	if c.Rabbit.Enabled && c.Rabbit.URL == "" {
		errs = append(errs, errors.New("rabbitmq.url required when rabbitmq is enabled"))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers required when kafka is enabled"))
		}
		if c.Kafka.TopicAdjustments == "" || c.Kafka.GroupID == "" {
			errs = append(errs, errors.New("kafka.topic_adjustments and kafka.group_id required when kafka is enabled"))
		}
	}
	if c.ProofStore.Enabled && c.ProofStore.Addr == "" {
		errs = append(errs, errors.New("proof_store.addr required when proof_store is enabled"))
	}
	switch strings.ToUpper(c.Checkout.VoucherPolicy) {
	case "", "LENIENT", "STRICT":
	default:
		errs = append(errs, fmt.Errorf("checkout.voucher_policy must be LENIENT or STRICT, got %q", c.Checkout.VoucherPolicy))
	}
	if c.Checkout.PaymentDeadline < 0 || c.Checkout.SweepInterval < 0 {
		errs = append(errs, errors.New("checkout durations must not be negative"))
	}
	return errors.Join(errs...)
}
