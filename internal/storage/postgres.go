// Package storage provides database and object storage access.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Connection pool defaults, applied when the config leaves them zero.
// Sized for one API server plus one worker sharing a small Postgres.
const (
	defaultMaxOpenConns = 25
	defaultMaxIdleConns = 5
	defaultConnLifetime = 30 * time.Minute
	connectPingTimeout  = 5 * time.Second
)

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func (cfg PostgresConfig) dsn() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

func (cfg PostgresConfig) withPoolDefaults() PostgresConfig {
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = defaultConnLifetime
	}
	return cfg
}

// PostgresDB wraps the database connection pool shared by the document
// repository and the vector store.
type PostgresDB struct {
	*sql.DB
	config PostgresConfig
}

// NewPostgres opens a connection pool and verifies it with a bounded ping.
func NewPostgres(cfg PostgresConfig) (*PostgresDB, error) {
	cfg = cfg.withPoolDefaults()

	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db, config: cfg}, nil
}

// Close closes the connection pool.
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}

// Health checks database connectivity.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error. Chunk batch upserts rely on this for all-or-nothing writes.
func (db *PostgresDB) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
