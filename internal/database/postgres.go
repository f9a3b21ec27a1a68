package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

const (
	MaxConns        = 10
	MinConns        = 2
	MaxConnLifetime = 10 * time.Minute
	MaxConnIdleTime = 5 * time.Minute
	ConnectTimeout  = 5 * time.Second
)

// PooledBackend is the pooled relational style: one shared pgx pool,
// validated with a ping on creation and reused across cycles.
type PooledBackend struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPooledBackend(ctx context.Context, databaseURL string, log zerolog.Logger) (*PooledBackend, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}

	config.MaxConns = MaxConns
	config.MinConns = MinConns
	config.MaxConnLifetime = MaxConnLifetime
	config.MaxConnIdleTime = MaxConnIdleTime
	config.ConnConfig.ConnectTimeout = ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres pool: %w", err)
	}

	return &PooledBackend{
		pool: pool,
		log:  log.With().Str("component", "database").Str("style", "pooled").Logger(),
	}, nil
}

// Begin opens a destination transaction on the pool. Only the destination
// side of a sync needs this.
func (b *PooledBackend) Begin(ctx context.Context) (Tx, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return pgxTx{tx: tx}, nil
}

// pgxTx adapts a pgx transaction to the Tx surface.
type pgxTx struct {
	tx pgx.Tx
}

func (t pgxTx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t pgxTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t pgxTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// Acquire returns the shared pool surface; pgxpool handles per-query
// checkout internally.
func (b *PooledBackend) Acquire(ctx context.Context) (Conn, error) {
	return pooledConn{pool: b.pool}, nil
}

func (b *PooledBackend) Release(conn Conn) {}

func (b *PooledBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *PooledBackend) Close() error {
	b.pool.Close()
	return nil
}

type pooledConn struct {
	pool *pgxpool.Pool
}

func (c pooledConn) Query(ctx context.Context, query string, args ...any) ([]models.Row, error) {
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []models.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(models.Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
