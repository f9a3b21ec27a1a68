package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/database"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/diff"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/snapshot"
)

// fakeBackend serves canned rows keyed by query text and records every
// transaction it hands out, standing in for a real database in orchestrator
// tests.
type fakeBackend struct {
	mu          sync.Mutex
	rowsByQuery map[string][]models.Row
	acquireHook func()
	execErr     error // injected into every transaction's Exec
	txs         []*fakeTx
}

func (f *fakeBackend) Acquire(ctx context.Context) (database.Conn, error) {
	if f.acquireHook != nil {
		f.acquireHook()
	}
	return f, nil
}

func (f *fakeBackend) Release(conn database.Conn) {}
func (f *fakeBackend) Ping(ctx context.Context) error { return nil }
func (f *fakeBackend) Close() error                   { return nil }

func (f *fakeBackend) Query(ctx context.Context, query string, args ...any) ([]models.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowsByQuery[query], nil
}

func (f *fakeBackend) Begin(ctx context.Context) (database.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{execErr: f.execErr}
	f.txs = append(f.txs, tx)
	return tx, nil
}

// lastTx returns the most recently opened transaction.
func (f *fakeBackend) lastTx(t *testing.T) *fakeTx {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.txs, "no transaction was opened")
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	stmts      []string
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) error {
	if t.execErr != nil {
		return t.execErr
	}
	t.stmts = append(t.stmts, sql)
	return nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func productJob() models.SyncJob {
	return models.SyncJob{
		SourceKey:      "web",
		DestinationKey: "dest",
		Tables: []models.TableSpec{
			{Name: "products", KeyField: "code", Primary: true},
		},
	}
}

func newTestOrchestrator(t *testing.T, source, dest *fakeBackend) (*Orchestrator, *snapshot.Store, string) {
	t.Helper()

	conns := database.NewManager(zerolog.Nop())
	if source != nil {
		conns.Register("web", source)
	}
	if dest != nil {
		conns.Register("dest", dest)
	}

	dir := t.TempDir()
	store, err := snapshot.NewStore(dir, zerolog.Nop())
	require.NoError(t, err)

	return NewOrchestrator(conns, diff.NewEngine(zerolog.Nop()), store, NewStats("web"), zerolog.Nop()), store, dir
}

// TestRunCycle_NoOp: identical source state across cycles must not touch
// the destination or rewrite the snapshot file.
func TestRunCycle_NoOp(t *testing.T) {
	rows := []models.Row{
		{"code": "A", "name": "X"},
		{"code": "B", "name": "Y"},
	}
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": rows,
	}}

	orch, store, dir := newTestOrchestrator(t, source, nil)
	require.NoError(t, store.Save("web", models.DatabaseSnapshot{"products": rows}))

	primary := filepath.Join(dir, "web.json.gz")
	before, err := os.ReadFile(primary)
	require.NoError(t, err)

	result, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Zero(t, result.Changed())

	after, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a no-op cycle must leave the snapshot file untouched")

	stats := orch.Stats().Snapshot()
	assert.Equal(t, int64(1), stats["web"].SuccessfulCycles)
}

// TestRunCycle_BootstrapFromDestination: with no prior snapshot and a
// populated destination, the destination's content becomes the baseline and
// gets persisted before the first diff, so nothing is re-inserted.
func TestRunCycle_BootstrapFromDestination(t *testing.T) {
	rows := []models.Row{
		{"code": "A", "name": "X"},
	}
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": rows,
	}}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{
		`SELECT * FROM "products"`: rows,
	}}

	orch, store, _ := newTestOrchestrator(t, source, dest)

	result, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err)
	assert.True(t, result.Bootstrap, "cycle should have bootstrapped a baseline")
	assert.True(t, result.NoOp, "baseline equals current state, nothing to apply")

	baseline := store.Load("web")
	require.Contains(t, baseline, "products")
	assert.Len(t, baseline["products"], 1)
}

func TestRunCycle_EmptyDestinationEmptyBaseline(t *testing.T) {
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{}}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{}}

	orch, store, _ := newTestOrchestrator(t, source, dest)

	result, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err)
	assert.False(t, result.Bootstrap)
	assert.True(t, result.NoOp)
	assert.True(t, store.Load("web").IsEmpty(), "no baseline persisted for an empty world")
}

func TestRunCycle_UnknownSourceFailsAndCounts(t *testing.T) {
	orch, _, _ := newTestOrchestrator(t, nil, nil)

	_, err := orch.RunCycle(context.Background(), productJob())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNoSuchDatabase)

	stats := orch.Stats().Snapshot()
	assert.Equal(t, int64(1), stats["web"].FailedCycles)
	assert.NotEmpty(t, stats["web"].LastError)
	assert.False(t, stats["web"].LastErrorAt.IsZero())
}

// TestRunCycle_NoOverlap: a trigger landing mid-cycle is rejected with
// ErrCycleInFlight, never queued.
func TestRunCycle_NoOverlap(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	source := &fakeBackend{
		rowsByQuery: map[string][]models.Row{},
		acquireHook: func() {
			close(started)
			<-release
		},
	}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{}}

	orch, _, _ := newTestOrchestrator(t, source, dest)

	done := make(chan struct{})
	go func() {
		defer close(done)
		orch.RunCycle(context.Background(), productJob())
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never started")
	}
	assert.True(t, orch.Active())

	_, err := orch.RunCycle(context.Background(), productJob())
	assert.ErrorIs(t, err, models.ErrCycleInFlight)

	close(release)
	<-done
	assert.False(t, orch.Active())
}

func TestForceSnapshot(t *testing.T) {
	rows := []models.Row{
		{"code": "A", "name": "X"},
		{"code": "B", "name": "Y"},
	}
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": rows,
	}}

	orch, store, _ := newTestOrchestrator(t, source, nil)

	count, err := orch.ForceSnapshot(context.Background(), productJob(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	snap := store.Load("web")
	assert.Len(t, snap["products"], 2)
}

// TestRunCycle_AppliesDiffTransactionally: a non-empty diff must run inside
// one committed destination transaction and only then persist the snapshot.
func TestRunCycle_AppliesDiffTransactionally(t *testing.T) {
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": {
			{"code": "A", "name": "renamed"},
			{"code": "B", "name": "new"},
		},
	}}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{}}

	orch, store, _ := newTestOrchestrator(t, source, dest)
	require.NoError(t, store.Save("web", models.DatabaseSnapshot{
		"products": {{"code": "A", "name": "old"}},
	}))

	result, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserts)
	assert.Equal(t, 1, result.Updates)
	assert.False(t, result.NoOp)

	tx := dest.lastTx(t)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
	require.NotEmpty(t, tx.stmts)
	for _, stmt := range tx.stmts {
		assert.Contains(t, stmt, "ON CONFLICT", "apply must use idempotent upserts")
	}

	saved := store.Load("web")
	assert.Len(t, saved["products"], 2, "snapshot persists the applied state")
}

// TestRunCycle_StaleSnapshotReapplies: after a crash between commit and
// snapshot save, the next cycle sees the same diff again. Re-applying it as
// upserts must succeed and converge instead of failing on existing rows.
func TestRunCycle_StaleSnapshotReapplies(t *testing.T) {
	stale := models.DatabaseSnapshot{
		"products": {{"code": "A", "name": "old"}},
	}
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": {
			{"code": "A", "name": "renamed"},
			{"code": "B", "name": "new"},
		},
	}}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{}}

	orch, store, _ := newTestOrchestrator(t, source, dest)
	require.NoError(t, store.Save("web", stale))

	first, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err)

	// Rewind the snapshot to its pre-cycle state, as if the process died
	// after the commit but before the save.
	require.NoError(t, store.Save("web", stale))

	second, err := orch.RunCycle(context.Background(), productJob())
	require.NoError(t, err, "re-applying an already-applied diff must not fail")
	assert.Equal(t, first.Inserts, second.Inserts)
	assert.Equal(t, first.Updates, second.Updates)

	require.Len(t, dest.txs, 2)
	assert.True(t, dest.txs[1].committed)
	assert.Equal(t, dest.txs[0].stmts, dest.txs[1].stmts, "the rerun replays the same statements")
	assert.Len(t, store.Load("web")["products"], 2, "the rerun converges the snapshot")
}

// TestRunCycle_MidApplyFailureRollsBack: any statement failure must roll
// back the whole transaction and leave the stored snapshot untouched.
func TestRunCycle_MidApplyFailureRollsBack(t *testing.T) {
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": {{"code": "A", "name": "renamed"}},
	}}
	dest := &fakeBackend{
		rowsByQuery: map[string][]models.Row{},
		execErr:     errors.New("connection reset"),
	}

	orch, store, dir := newTestOrchestrator(t, source, dest)
	require.NoError(t, store.Save("web", models.DatabaseSnapshot{
		"products": {{"code": "A", "name": "old"}},
	}))

	primary := filepath.Join(dir, "web.json.gz")
	before, err := os.ReadFile(primary)
	require.NoError(t, err)

	_, err = orch.RunCycle(context.Background(), productJob())
	require.Error(t, err)

	tx := dest.lastTx(t)
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)

	after, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, before, after, "a failed apply must not advance the snapshot")

	stats := orch.Stats().Snapshot()
	assert.Equal(t, int64(1), stats["web"].FailedCycles)
}

// TestRunCycle_UniqueViolationClassified: a 23505 from the destination is
// surfaced as a UniqueViolationError carrying the conflicting-key detail.
func TestRunCycle_UniqueViolationClassified(t *testing.T) {
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM products": {{"code": "B", "name": "new"}},
	}}
	dest := &fakeBackend{
		rowsByQuery: map[string][]models.Row{},
		execErr:     &pgconn.PgError{Code: "23505", Detail: "Key (code)=(B) already exists."},
	}

	orch, store, _ := newTestOrchestrator(t, source, dest)
	require.NoError(t, store.Save("web", models.DatabaseSnapshot{
		"products": {{"code": "A", "name": "old"}},
	}))

	_, err := orch.RunCycle(context.Background(), productJob())
	require.Error(t, err)

	var uv *models.UniqueViolationError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, "products", uv.Table)
	assert.Contains(t, uv.Detail, "(code)=(B)")
	assert.True(t, dest.lastTx(t).rolledBack)
}

// TestRunCycle_PrimaryTableAppliedFirst: the table flagged primary lands
// before the others inside the transaction, whatever its configured position.
func TestRunCycle_PrimaryTableAppliedFirst(t *testing.T) {
	job := models.SyncJob{
		SourceKey:      "web",
		DestinationKey: "dest",
		Tables: []models.TableSpec{
			{Name: "orders", KeyField: "id"},
			{Name: "products", KeyField: "code", Primary: true},
		},
	}
	source := &fakeBackend{rowsByQuery: map[string][]models.Row{
		"SELECT * FROM orders":   {{"id": 1, "product": "A"}},
		"SELECT * FROM products": {{"code": "A", "name": "X"}},
	}}
	dest := &fakeBackend{rowsByQuery: map[string][]models.Row{}}

	orch, _, _ := newTestOrchestrator(t, source, dest)

	_, err := orch.RunCycle(context.Background(), job)
	require.NoError(t, err)

	tx := dest.lastTx(t)
	require.Len(t, tx.stmts, 2)
	assert.Contains(t, tx.stmts[0], `"products"`)
	assert.Contains(t, tx.stmts[1], `"orders"`)
}
