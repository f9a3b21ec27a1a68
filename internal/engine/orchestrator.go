package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/database"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/diff"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/snapshot"
)

// pgUniqueViolation is the SQLSTATE for unique-constraint violations.
const pgUniqueViolation = "23505"

// Orchestrator drives the fetch -> diff -> apply -> persist cycle for one
// or more configured sync jobs. At most one cycle runs at a time; a trigger
// arriving mid-cycle is rejected with ErrCycleInFlight, never queued.
type Orchestrator struct {
	conns    *database.Manager
	differ   *diff.Engine
	store    *snapshot.Store
	stats    *Stats
	log      zerolog.Logger
	inFlight atomic.Bool
}

func NewOrchestrator(conns *database.Manager, differ *diff.Engine, store *snapshot.Store, stats *Stats, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		conns:  conns,
		differ: differ,
		store:  store,
		stats:  stats,
		log:    log.With().Str("component", "engine").Logger(),
	}
}

// Active reports whether a cycle is currently running, so a caller can
// observe a stuck cycle and decide to intervene.
func (o *Orchestrator) Active() bool { return o.inFlight.Load() }

// Stats exposes the orchestrator's counters for reporting collaborators.
func (o *Orchestrator) Stats() *Stats { return o.stats }

// RunCycle executes one full sync cycle for job. The returned result is
// populated on success; on failure the error carries the failing stage and
// the destination transaction has been rolled back.
func (o *Orchestrator) RunCycle(ctx context.Context, job models.SyncJob) (*models.CycleResult, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return nil, models.ErrCycleInFlight
	}
	defer o.inFlight.Store(false)

	result := &models.CycleResult{
		CycleID:   uuid.New(),
		SourceKey: job.SourceKey,
		StartedAt: time.Now(),
	}
	log := o.log.With().Stringer("cycle_id", result.CycleID).Str("source", job.SourceKey).Logger()

	err := o.runCycle(ctx, job, result, log)
	result.Duration = time.Since(result.StartedAt)

	if err != nil {
		o.stats.RecordFailure(job.SourceKey, err)
		log.Error().Err(err).Dur("duration", result.Duration).Msg("sync cycle failed")
		return nil, err
	}

	o.stats.RecordSuccess(job.SourceKey, result.Duration)
	log.Info().
		Int("inserts", result.Inserts).
		Int("updates", result.Updates).
		Int("deletes", result.Deletes).
		Bool("no_op", result.NoOp).
		Dur("duration", result.Duration).
		Msg("sync cycle completed")
	return result, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, job models.SyncJob, result *models.CycleResult, log zerolog.Logger) error {
	// Fetch the current full state of every configured table, in parallel,
	// over one acquired source connection.
	current, err := o.fetchState(ctx, job.SourceKey, job.Tables, false)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	previous := o.store.Load(job.SourceKey)
	if previous.IsEmpty() {
		previous, err = o.bootstrap(ctx, job, log)
		if err != nil {
			return fmt.Errorf("bootstrap failed: %w", err)
		}
		result.Bootstrap = !previous.IsEmpty()
	}

	// Diff every table with its own key field.
	diffs := make(map[string]diff.Result, len(job.Tables))
	totalChanged := 0
	for _, spec := range job.Tables {
		d := o.differ.Diff(previous[spec.Name], current[spec.Name], spec.KeyField)
		diffs[spec.Name] = d
		totalChanged += d.Changed()
		result.Inserts += len(d.Inserts)
		result.Updates += len(d.Updates)
		result.Deletes += len(d.Deletes)
		result.Skipped += d.Skipped
	}

	if totalChanged == 0 {
		// Nothing to apply: no transaction, and the stored snapshot stays
		// as-is. The next diff reproduces the same no-op.
		result.NoOp = true
		return nil
	}

	if err := o.apply(ctx, job, diffs, log); err != nil {
		return err
	}

	// The apply committed; persisting the snapshot is the durability
	// boundary. A crash before this point repeats the same diff next
	// cycle and the upserts absorb it.
	if err := o.store.Save(job.SourceKey, current); err != nil {
		return fmt.Errorf("snapshot save failed: %w", err)
	}
	return nil
}

// fetchState reads the full current rows of every table from one database.
// fromDestination selects the destination-side table names.
func (o *Orchestrator) fetchState(ctx context.Context, dbKey string, tables []models.TableSpec, fromDestination bool) (models.DatabaseSnapshot, error) {
	queries := make(map[string]string, len(tables))
	for _, spec := range tables {
		if fromDestination {
			queries[spec.Name] = "SELECT * FROM " + pgx.Identifier{spec.Destination()}.Sanitize()
		} else {
			queries[spec.Name] = spec.FetchQuery()
		}
	}

	results, err := o.conns.RunQueries(ctx, dbKey, queries)
	if err != nil {
		return nil, err
	}

	snap := make(models.DatabaseSnapshot, len(results))
	for name, rows := range results {
		snap[name] = rows
	}
	return snap, nil
}

// bootstrap synthesizes a baseline snapshot when none exists. If any
// configured table already holds rows in the destination, the destination's
// current content across every table becomes the baseline and is persisted
// before the first diff, so a first run after a crash or migration does not
// re-insert already-present data. An empty destination yields an empty
// baseline.
func (o *Orchestrator) bootstrap(ctx context.Context, job models.SyncJob, log zerolog.Logger) (models.DatabaseSnapshot, error) {
	destState, err := o.fetchState(ctx, job.DestinationKey, job.Tables, true)
	if err != nil {
		return nil, err
	}

	if destState.IsEmpty() {
		log.Info().Msg("no snapshot and empty destination, starting from empty baseline")
		return models.DatabaseSnapshot{}, nil
	}

	log.Warn().Int("rows", destState.RowCount()).
		Msg("no snapshot but destination holds data, bootstrapping baseline from destination")
	if err := o.store.Save(job.SourceKey, destState); err != nil {
		return nil, fmt.Errorf("failed to persist bootstrapped baseline: %w", err)
	}
	return destState, nil
}

// apply opens one destination transaction and applies every table's diff,
// primary table first, then the rest in configuration order: inserts, then
// updates, then deletes per table. Any error rolls back the whole cycle; no
// partial table survives.
func (o *Orchestrator) apply(ctx context.Context, job models.SyncJob, diffs map[string]diff.Result, log zerolog.Logger) error {
	dest, err := o.conns.Destination(job.DestinationKey)
	if err != nil {
		return err
	}

	tx, err := dest.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin destination transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, spec := range job.OrderedTables() {
		d := diffs[spec.Name]
		if d.Changed() == 0 {
			continue
		}
		if err := o.applyTable(ctx, tx, spec, d, log); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit destination transaction: %w", err)
	}
	return nil
}

func (o *Orchestrator) applyTable(ctx context.Context, tx database.Tx, spec models.TableSpec, d diff.Result, log zerolog.Logger) error {
	var stmts []statement

	upserts, err := buildUpserts(spec, d.Inserts)
	if err != nil {
		return err
	}
	stmts = append(stmts, upserts...)

	upserts, err = buildUpserts(spec, d.Updates)
	if err != nil {
		return err
	}
	stmts = append(stmts, upserts...)
	stmts = append(stmts, buildDeletes(spec, d.Deletes)...)

	for _, stmt := range stmts {
		if err := tx.Exec(ctx, stmt.sql, stmt.args...); err != nil {
			return o.classifyApplyError(spec, err, log)
		}
	}

	log.Debug().Str("table", spec.Name).
		Int("inserts", len(d.Inserts)).
		Int("updates", len(d.Updates)).
		Int("deletes", len(d.Deletes)).
		Msg("applied table diff")
	return nil
}

// classifyApplyError distinguishes unique-constraint violations, which
// indicate a key collision the diff did not anticipate (e.g. a concurrent
// external write). They are logged with the backend's conflicting-key
// detail but still fail the cycle.
func (o *Orchestrator) classifyApplyError(spec models.TableSpec, err error, log zerolog.Logger) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		log.Error().Str("table", spec.Name).Str("detail", pgErr.Detail).
			Msg("unique constraint violation during apply")
		return &models.UniqueViolationError{Table: spec.Name, Detail: pgErr.Detail, Err: err}
	}
	return fmt.Errorf("apply failed for table %s: %w", spec.Name, err)
}

// ForceSnapshot rebuilds the stored snapshot for job's source directly from
// a database's current state, bypassing diffing. fromDestination selects
// which side to read; reading the destination is the recovery path used
// when the snapshot store and the source disagree.
func (o *Orchestrator) ForceSnapshot(ctx context.Context, job models.SyncJob, fromDestination bool) (int, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return 0, models.ErrCycleInFlight
	}
	defer o.inFlight.Store(false)

	dbKey := job.SourceKey
	if fromDestination {
		dbKey = job.DestinationKey
	}
	state, err := o.fetchState(ctx, dbKey, job.Tables, fromDestination)
	if err != nil {
		return 0, fmt.Errorf("failed to read current state from %s: %w", dbKey, err)
	}
	if err := o.store.Save(job.SourceKey, state); err != nil {
		return 0, err
	}

	o.log.Info().Str("source", job.SourceKey).Str("read_from", dbKey).
		Int("rows", state.RowCount()).Msg("snapshot rebuilt")
	return state.RowCount(), nil
}
