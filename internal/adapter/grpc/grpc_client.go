package grpc

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

type DialConfig struct {
	Target       string
	Timeout      time.Duration
	UseTLS       bool
	CACertPath   string
	ServerName   string
	MaxRecvBytes int
	MaxSendBytes int
}

// Dial creates a lazily connecting client for cfg.Target. extra options are
// appended last, so tests can swap the dialer.
func Dial(cfg DialConfig, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	// Base options
	opts := []grpc.DialOption{
		grpc.WithConnectParams(grpc.ConnectParams{
			Backoff: backoff.Config{
				BaseDelay:  200 * time.Millisecond,
				Multiplier: 1.6,
				Jitter:     0.2,
				MaxDelay:   5 * time.Second,
			},
			MinConnectTimeout: cfg.Timeout,
		}),
		grpc.WithDefaultServiceConfig(`{"loadBalancingPolicy":"round_robin"}`),
	}

	// Credentials
	if cfg.UseTLS {
		var creds credentials.TransportCredentials
		if cfg.CACertPath != "" {
			pem, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, err
			}
			pool := x509.NewCertPool()
			if ok := pool.AppendCertsFromPEM(pem); !ok {
				return nil, ErrBadCACert
			}
			tlsCfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
			if cfg.ServerName != "" {
				tlsCfg.ServerName = cfg.ServerName
			}
			creds = credentials.NewTLS(tlsCfg)
		} else {
			// System CA
			creds = credentials.NewClientTLSFromCert(nil, cfg.ServerName)
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	// Size limits (optional)
	if cfg.MaxRecvBytes > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvBytes)))
	}
	if cfg.MaxSendBytes > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(cfg.MaxSendBytes)))
	}

	return grpc.NewClient(cfg.Target, append(opts, extra...)...)
}

var ErrBadCACert = &badCACert{"unable to parse CA cert"}

type badCACert struct{ msg string }

func (e *badCACert) Error() string { return e.msg }
