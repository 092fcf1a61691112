package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/andresuchdata/orderpoint/internal/config"
)

type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted

	// dbName is the NOTIFY payload so workers on shared Postgres
	// clusters only wake for their own database.
	dbName string

	// notifyFn is the configured notification function, validated as an
	// identifier at config load.
	notifyFn string
}

var (
	dbInstance *DB
	once       sync.Once
)

// NewDB creates a new database connection pool
func NewDB(cfg *config.DatabaseConfig) (*DB, error) {
	var err error
	once.Do(func() {
		connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

		var db *sqlx.DB
		db, err = sqlx.Connect("postgres", connStr)
		if err != nil {
			return
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Initialize with a semaphore to limit concurrent operations
		dbInstance = &DB{
			DB:       db,
			sem:      semaphore.NewWeighted(10),
			dbName:   cfg.DBName,
			notifyFn: cfg.NotifyFunction,
		}
	})

	return dbInstance, err
}

// Open builds a pool outside the singleton, used by the admin CLI which
// takes an explicit connection string. It connects through the pgx
// stdlib driver, which accepts URL-style strings as well.
func Open(connStr, notifyFn string) (*DB, error) {
	db, err := sqlx.Connect("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	var dbName string
	if err := db.Get(&dbName, "SELECT current_database()"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to resolve database name: %w", err)
	}
	return &DB{DB: db, sem: semaphore.NewWeighted(10), dbName: dbName, notifyFn: notifyFn}, nil
}

// Name returns the connected database name.
func (db *DB) Name() string { return db.dbName }

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	// Acquire semaphore
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}
