package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// StoreOption настраивает пул соединений Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	maxConns       int
	connLifetime   time.Duration
	connIdleTime   time.Duration
	connectTimeout time.Duration
}

func defaultStoreOptions() storeOptions {
	return storeOptions{
		maxConns:       25,
		connLifetime:   30 * time.Minute,
		connIdleTime:   5 * time.Minute,
		connectTimeout: 5 * time.Second,
	}
}

// WithMaxConns ограничивает число открытых соединений; простаивающих держим столько же.
func WithMaxConns(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.maxConns = n
		}
	}
}

// WithConnLifetime задаёт максимальный возраст соединения в пуле.
func WithConnLifetime(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		if d > 0 {
			o.connLifetime = d
		}
	}
}

// WithConnectTimeout ограничивает Ping при открытии и в health-проверке.
func WithConnectTimeout(d time.Duration) StoreOption {
	return func(o *storeOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// Store держит пул соединений, общий для всех репозиториев сервиса.
type Store struct {
	db             *sql.DB
	connectTimeout time.Duration
}

// Open подключается через pgx и не возвращает Store, пока база не ответила на Ping.
func Open(ctx context.Context, dsn string, options ...StoreOption) (*Store, error) {
	opts := defaultStoreOptions()
	for _, option := range options {
		option(&opts)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(opts.maxConns)
	db.SetMaxIdleConns(opts.maxConns)
	db.SetConnMaxLifetime(opts.connLifetime)
	db.SetConnMaxIdleTime(opts.connIdleTime)

	store := &Store{db: db, connectTimeout: opts.connectTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул репозиториям и тестам.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping используется readiness-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	pingCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// MaxConns возвращает размер пула, с которым открыт Store.
func (s *Store) MaxConns() int {
	if s == nil || s.db == nil {
		return 0
	}
	return s.db.Stats().MaxOpenConnections
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
