package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 2 * time.Second
	// reuseCapacity bounds how many idle legacy connections are kept warm
	// between cycles. Anything above this is closed on release.
	reuseCapacity = 2
)

// RetryingBackend is the ad-hoc style for legacy/ODBC-grade endpoints: no
// persistent link is trusted across cycles, so each acquire may dial fresh
// with a bounded retry policy. Released connections are parked in a small
// reuse pool and revalidated on the next acquire.
type RetryingBackend struct {
	driver   string
	dsn      string
	attempts int
	backoff  time.Duration
	idle     chan *sql.DB
	log      zerolog.Logger
}

func NewRetryingBackend(driver, dsn string, attempts int, backoff time.Duration, log zerolog.Logger) *RetryingBackend {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &RetryingBackend{
		driver:   driver,
		dsn:      dsn,
		attempts: attempts,
		backoff:  backoff,
		idle:     make(chan *sql.DB, reuseCapacity),
		log:      log.With().Str("component", "database").Str("style", "retrying").Logger(),
	}
}

func (b *RetryingBackend) Acquire(ctx context.Context) (Conn, error) {
	// Reuse a parked connection when it still answers.
	select {
	case db := <-b.idle:
		if err := db.PingContext(ctx); err == nil {
			return &legacyConn{db: db}, nil
		}
		b.log.Debug().Msg("parked legacy connection went stale, dialing fresh")
		db.Close()
	default:
	}

	db, err := withRetry(ctx, b.attempts, b.backoff, func() (*sql.DB, error) {
		return b.dial(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to legacy database after %d attempts: %w", b.attempts, err)
	}
	return &legacyConn{db: db}, nil
}

func (b *RetryingBackend) dial(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(b.driver, b.dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(MaxConnIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (b *RetryingBackend) Release(conn Conn) {
	lc, ok := conn.(*legacyConn)
	if !ok || lc.db == nil {
		return
	}
	select {
	case b.idle <- lc.db:
	default:
		lc.db.Close()
	}
}

func (b *RetryingBackend) Ping(ctx context.Context) error {
	conn, err := b.Acquire(ctx)
	if err != nil {
		return err
	}
	b.Release(conn)
	return nil
}

func (b *RetryingBackend) Close() error {
	for {
		select {
		case db := <-b.idle:
			if err := db.Close(); err != nil {
				b.log.Warn().Err(err).Msg("failed to close legacy connection")
			}
		default:
			return nil
		}
	}
}

// withRetry runs dial up to attempts times with a fixed delay between
// tries. The final failure is propagated, never swallowed.
func withRetry[T any](ctx context.Context, attempts int, backoff time.Duration, dial func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
		v, err := dial()
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return zero, lastErr
}

type legacyConn struct {
	db *sql.DB
}

func (c *legacyConn) Query(ctx context.Context, query string, args ...any) ([]models.Row, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []models.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}
