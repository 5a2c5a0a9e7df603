// Package store implements the durable order, earning and directory
// repositories on PostgreSQL. Concurrency control for lifecycle transitions
// lives here: every state-changing write is conditional on the expected prior
// status, and an order update, its history append and an earning insert commit
// in one transaction or not at all.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"feastline/internal/config"
	"feastline/internal/domain"
	"feastline/pkg/logger"
)

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, cfg config.Postgres, log *logger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	log.Action("db_connected").Info("connected to PostgreSQL")
	return pool, nil
}

// mapErr translates low-level failures into the domain taxonomy. A deadline
// hit means the outcome is unknown, not a failure.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrUnavailable
	}
	return err
}

// uniqueViolationOn reports whether err is a unique-constraint failure on the
// named constraint. Other unique violations (a PK collision on a generated id)
// pass through as plain errors.
func uniqueViolationOn(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
