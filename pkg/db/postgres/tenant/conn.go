package tenant

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/canopy-network/ingestx/pkg/db/models/indexer"
	"github.com/canopy-network/ingestx/pkg/db/postgres"
	"github.com/canopy-network/ingestx/pkg/retry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Conn is the handle a slot caches. *pgxpool.Pool satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Opener opens a live handle for a descriptor.
type Opener func(ctx context.Context, desc indexer.DatabaseConnection) (Conn, error)

// PoolOpener returns an Opener backed by pgxpool. Opening is retried on the tenant
// schedule; rejected credentials and unknown databases fail on the first attempt.
func PoolOpener(logger *zap.Logger, poolConf *postgres.PoolConfig) Opener {
	return func(ctx context.Context, desc indexer.DatabaseConnection) (Conn, error) {
		config, err := PoolConfig(desc)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		if poolConf != nil {
			poolConf.Apply(config)
		}

		var pool *pgxpool.Pool
		err = retry.WithBackoff(ctx, retry.TenantConfig(), logger, "tenant_connection", func() error {
			p, openErr := pgxpool.NewWithConfig(ctx, config)
			if openErr != nil {
				return retry.Permanent(openErr)
			}
			if pingErr := p.Ping(ctx); pingErr != nil {
				p.Close()
				if postgres.IsSQLState(pingErr, postgres.AuthFailureCodes...) {
					return retry.Permanent(pingErr)
				}
				return pingErr
			}
			pool = p
			return nil
		})
		if err != nil {
			return nil, err
		}
		return pool, nil
	}
}

// Verify opens a single connection to desc, runs a trivial query and closes it.
// No retries are made; the result reflects the database right now.
func Verify(ctx context.Context, desc indexer.DatabaseConnection, timeout time.Duration) error {
	config, err := PoolConfig(desc)
	if err != nil {
		return err
	}
	config.MinConns = 0
	config.MaxConns = 1

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(verifyCtx, config)
	if err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	defer pool.Close()

	var now time.Time
	if err := pool.QueryRow(verifyCtx, `SELECT NOW()`).Scan(&now); err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	return nil
}

// DSN renders the descriptor as a postgres URL. TLS is configured separately, so the
// URL always carries sslmode=disable.
func DSN(desc indexer.DatabaseConnection) string {
	port := desc.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(desc.Username, desc.Password),
		Host:     net.JoinHostPort(desc.Host, strconv.Itoa(port)),
		Path:     "/" + desc.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// PoolConfig builds the pgxpool configuration for a descriptor, TLS included.
func PoolConfig(desc indexer.DatabaseConnection) (*pgxpool.Config, error) {
	if desc.Host == "" || desc.Database == "" {
		return nil, errors.New("connection descriptor requires host and database")
	}
	config, err := pgxpool.ParseConfig(DSN(desc))
	if err != nil {
		return nil, fmt.Errorf("parse tenant dsn: %w", err)
	}
	tlsConf, err := TLSConfig(desc)
	if err != nil {
		return nil, err
	}
	config.ConnConfig.TLSConfig = tlsConf
	config.ConnConfig.Fallbacks = nil
	return config, nil
}

// TLSConfig returns nil when SSL is disabled. Certificate verification is skipped when
// ssl_config is absent or reject_unauthorized is explicitly false.
func TLSConfig(desc indexer.DatabaseConnection) (*tls.Config, error) {
	if !desc.SSLEnabled {
		return nil, nil
	}
	ssl := desc.SSLConfig
	if ssl == nil {
		return &tls.Config{
			ServerName:         desc.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}, nil
	}

	conf := &tls.Config{
		ServerName: desc.Host,
		MinVersion: tls.VersionTLS12,
	}
	if ssl.ServerName != "" {
		conf.ServerName = ssl.ServerName
	}
	if ssl.RejectUnauthorized != nil && !*ssl.RejectUnauthorized {
		conf.InsecureSkipVerify = true
	}

	if ssl.CA != "" {
		roots := x509.NewCertPool()
		if !roots.AppendCertsFromPEM([]byte(ssl.CA)) {
			return nil, errors.New("ssl_config.ca contains no PEM certificates")
		}
		conf.RootCAs = roots
	}

	if ssl.Cert != "" || ssl.Key != "" {
		pair, err := tls.X509KeyPair([]byte(ssl.Cert), []byte(ssl.Key))
		if err != nil {
			return nil, fmt.Errorf("ssl_config client certificate: %w", err)
		}
		conf.Certificates = []tls.Certificate{pair}
	}

	return conf, nil
}
