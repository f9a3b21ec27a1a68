package database

import (
	"context"
	"time"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

// Conn is one usable connection surface. Implementations may be backed by
// a shared pool or by a dedicated session.
type Conn interface {
	Query(ctx context.Context, query string, args ...any) ([]models.Row, error)
}

// Tx is one open destination transaction. Statements execute inside it and
// become visible only on Commit; Rollback after Commit is a no-op, so
// callers may defer it unconditionally.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner is implemented by backends that can host transactional writes.
// Only such a backend can serve as a sync destination.
type TxBeginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Backend abstracts one configured database. Two styles exist: a pooled
// relational backend reused across cycles, and a retrying ad-hoc backend
// for legacy endpoints where no persistent link can be trusted.
type Backend interface {
	// Acquire hands out a connection, dialing with the backend's retry
	// policy if needed.
	Acquire(ctx context.Context) (Conn, error)
	// Release returns a connection; pooled connections self-manage,
	// ad-hoc ones are kept for reuse up to a small capacity or closed.
	Release(conn Conn)
	Ping(ctx context.Context) error
	Close() error
}

// normalizeValue maps driver-native values onto JSON-stable forms so that a
// row fetched fresh hashes identically to the same row after a snapshot
// persistence round trip.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(val)
	default:
		return v
	}
}
