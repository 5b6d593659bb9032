// Package postgres implements MS (the metadata store) on Postgres via
// GORM, with schema managed by embedded goose migrations rather than
// AutoMigrate, so upgrades are reviewable SQL instead of reflection-driven
// DDL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store is MS: the durable record of Job/RetryAttempt/DeadLetter/ScheduledJob
// state, implementing storage.JobStore, storage.RetryAttemptStore,
// storage.DeadLetterStore and storage.ScheduledJobStore.
type Store struct {
	db *gorm.DB
}

// New opens a pooled connection, runs pending goose migrations, and
// returns a ready Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	if err := runMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	gcfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}
	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txKey struct{}

// dbFor returns the transaction bound to ctx by Transaction, or s.db when
// none is bound, so every store method stays atomic-aware without each
// call site having to plumb a *gorm.DB through its own signature.
func (s *Store) dbFor(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

// Transaction runs fn with ctx carrying a single *gorm.DB transaction;
// every JobStore/RetryAttemptStore/DeadLetterStore call made with that ctx
// joins the same transaction, so RC's record-attempt-then-transition
// sequences commit or roll back as one unit.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database for migrations: %w", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetBaseFS(embedMigrations)
	return goose.Up(db, "migrations")
}
