package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

// Manager owns every configured backend, keyed by database name.
type Manager struct {
	mu       sync.RWMutex
	backends map[string]Backend
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		backends: make(map[string]Backend),
		log:      log.With().Str("component", "connections").Logger(),
	}
}

// Register adds a backend under key, closing any previous registration.
func (m *Manager) Register(key string, b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.backends[key]; ok {
		old.Close()
	}
	m.backends[key] = b
}

func (m *Manager) backend(key string) (Backend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.backends[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrNoSuchDatabase, key)
	}
	return b, nil
}

// Acquire checks out a connection for key, applying the backend's retry
// policy. The caller must Release it.
func (m *Manager) Acquire(ctx context.Context, key string) (Conn, error) {
	b, err := m.backend(key)
	if err != nil {
		return nil, err
	}
	return b.Acquire(ctx)
}

func (m *Manager) Release(key string, conn Conn) {
	b, err := m.backend(key)
	if err != nil {
		return
	}
	b.Release(conn)
}

// Destination returns the transaction opener behind key. Transactional
// apply needs a backend that can host writes; a legacy backend cannot be a
// sync target.
func (m *Manager) Destination(key string) (TxBeginner, error) {
	b, err := m.backend(key)
	if err != nil {
		return nil, err
	}
	tb, ok := b.(TxBeginner)
	if !ok {
		return nil, fmt.Errorf("database %q cannot host transactional writes, cannot be a sync destination", key)
	}
	return tb, nil
}

// RunQueries executes a batch of named queries concurrently against one
// acquired connection and returns results keyed by the same names. Query
// failures are not retried: a failed fetch fails the whole batch.
func (m *Manager) RunQueries(ctx context.Context, key string, queries map[string]string) (map[string][]models.Row, error) {
	conn, err := m.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer m.Release(key, conn)

	var mu sync.Mutex
	results := make(map[string][]models.Row, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for name, query := range queries {
		name, query := name, query
		g.Go(func() error {
			rows, err := conn.Query(gctx, query)
			if err != nil {
				return fmt.Errorf("query %q failed: %w", name, err)
			}
			mu.Lock()
			results[name] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Ping checks liveness of one backend.
func (m *Manager) Ping(ctx context.Context, key string) error {
	b, err := m.backend(key)
	if err != nil {
		return err
	}
	return b.Ping(ctx)
}

// Keys lists the registered database names.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.backends))
	for k := range m.backends {
		keys = append(keys, k)
	}
	return keys
}

// CloseAll drains every backend on shutdown. Individual failures are
// logged, not fatal: shutdown completes even if one backend is unreachable.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.backends {
		if err := b.Close(); err != nil {
			m.log.Warn().Err(err).Str("database", key).Msg("failed to close backend")
		}
		delete(m.backends, key)
	}
}
