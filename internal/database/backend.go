package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

// Backend stores entities in PostgreSQL.
//
// ─────────────────────────────────────────────────────────────────────────────
// OPTIMISTIC CONCURRENCY ON POSTGRES
// ─────────────────────────────────────────────────────────────────────────────
//
// A snapshot is a REPEATABLE READ transaction, so every read inside it sees the
// database as of its first statement. Nothing is locked while the unit of work
// runs. At commit:
//
//  1. every entity that was read but not written is re-selected FOR SHARE; if
//     another transaction changed it after our snapshot, Postgres aborts with a
//     serialization failure (40001).
//  2. every entity that was read and written is updated with a version guard
//     (WHERE version = <seen>); zero rows affected means we lost the race.
//  3. entities observed absent are inserted with ON CONFLICT DO NOTHING; zero
//     rows affected means someone created them first.
//
// All three outcomes surface as datastore.ErrConcurrentTransaction and the
// whole transaction is rolled back.
// ─────────────────────────────────────────────────────────────────────────────
type Backend struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewBackend constructs a Backend over an existing pool.
func NewBackend(pool *pgxpool.Pool, log *zap.Logger) *Backend {
	return &Backend{pool: pool, log: log}
}

// Begin opens a REPEATABLE READ transaction.
func (b *Backend) Begin(ctx context.Context) (datastore.Snapshot, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgSnapshot{tx: tx, log: b.log}, nil
}

// AllocateIDs bumps the high-water mark of the scope and returns the first id
// of the reserved range.
func (b *Backend) AllocateIDs(ctx context.Context, parent *datastore.Key, kind string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("allocate %d ids: count must be positive", n)
	}
	scope := datastore.ScopeKey(parent, kind)
	var last int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO id_allocations (scope, next_id)
		 VALUES ($1, $2)
		 ON CONFLICT (scope) DO UPDATE SET next_id = id_allocations.next_id + EXCLUDED.next_id
		 RETURNING next_id`,
		scope, int64(n),
	).Scan(&last)
	if err != nil {
		if pgCode(err) == pgerrcode.NumericValueOutOfRange {
			return 0, apperr.ErrIDSpaceExhausted.WithDetail("scope %q", scope)
		}
		return 0, fmt.Errorf("allocate ids: %w", err)
	}
	return last - int64(n) + 1, nil
}

// Close closes the pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

type pgSnapshot struct {
	tx   pgx.Tx
	log  *zap.Logger
	done bool
}

func (s *pgSnapshot) Get(ctx context.Context, key *datastore.Key) (datastore.Record, error) {
	rec := datastore.Record{Key: key}
	err := s.tx.QueryRow(ctx,
		`SELECT version, data FROM entities WHERE path = $1`,
		key.Path(),
	).Scan(&rec.Version, &rec.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return datastore.Record{}, datastore.ErrNoSuchEntity
		}
		return datastore.Record{}, mapConflict(fmt.Errorf("get entity: %w", err))
	}
	return rec, nil
}

func (s *pgSnapshot) Scan(ctx context.Context, kind string, ancestor *datastore.Key) ([]datastore.Record, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if ancestor == nil {
		rows, err = s.tx.Query(ctx,
			`SELECT path, version, data
			 FROM entities
			 WHERE kind = $1
			 ORDER BY path COLLATE "C"`,
			kind,
		)
	} else {
		prefix := ancestor.Path()
		rows, err = s.tx.Query(ctx,
			`SELECT path, version, data
			 FROM entities
			 WHERE kind = $1 AND (path = $2 OR starts_with(path, $3))
			 ORDER BY path COLLATE "C"`,
			kind, prefix, datastore.DescendantPrefix(ancestor),
		)
	}
	if err != nil {
		return nil, mapConflict(fmt.Errorf("scan entities: %w", err))
	}
	defer rows.Close()

	var recs []datastore.Record
	for rows.Next() {
		var (
			path string
			rec  datastore.Record
		)
		if err := rows.Scan(&path, &rec.Version, &rec.Data); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		if rec.Key, err = datastore.ParsePath(path); err != nil {
			return nil, fmt.Errorf("stored path %q: %w", path, err)
		}
		recs = append(recs, rec)
	}
	return recs, mapConflict(rows.Err())
}

func (s *pgSnapshot) Commit(ctx context.Context, reads map[string]int64, writes []datastore.Mutation) (err error) {
	if s.done {
		return datastore.ErrTxDone
	}
	s.done = true
	defer func() {
		if err != nil {
			_ = s.tx.Rollback(ctx)
		}
	}()

	// ── Step 1: lock the read set. ─────────────────────────────────────────
	written := make(map[string]bool, len(writes))
	for _, m := range writes {
		written[m.Key.Path()] = true
	}
	var readOnly []string
	for path := range reads {
		if !written[path] {
			readOnly = append(readOnly, path)
		}
	}
	if len(readOnly) > 0 {
		if err = s.validateReads(ctx, reads, readOnly); err != nil {
			return err
		}
	}

	// ── Step 2: guarded writes in one round trip. ──────────────────────────
	if len(writes) > 0 {
		batch := &pgx.Batch{}
		for _, m := range writes {
			queueWrite(batch, m, reads)
		}
		br := s.tx.SendBatch(ctx, batch)
		for _, m := range writes {
			tag, execErr := br.Exec()
			if execErr != nil {
				_ = br.Close()
				return mapConflict(fmt.Errorf("write %s: %w", m.Key, execErr))
			}
			if tag.RowsAffected() != 1 {
				_ = br.Close()
				return datastore.ErrConcurrentTransaction.WithDetail("%s changed", m.Key)
			}
		}
		if err = br.Close(); err != nil {
			return mapConflict(fmt.Errorf("close batch: %w", err))
		}
	}

	// ── Step 3: commit. ────────────────────────────────────────────────────
	if err = s.tx.Commit(ctx); err != nil {
		return mapConflict(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

func (s *pgSnapshot) validateReads(ctx context.Context, reads map[string]int64, paths []string) error {
	rows, err := s.tx.Query(ctx,
		`SELECT path, version FROM entities WHERE path = ANY($1) FOR SHARE`,
		paths,
	)
	if err != nil {
		return mapConflict(fmt.Errorf("lock read set: %w", err))
	}
	defer rows.Close()

	current := make(map[string]int64, len(paths))
	for rows.Next() {
		var (
			path    string
			version int64
		)
		if err := rows.Scan(&path, &version); err != nil {
			return fmt.Errorf("scan read set: %w", err)
		}
		current[path] = version
	}
	if err := rows.Err(); err != nil {
		return mapConflict(fmt.Errorf("lock read set: %w", err))
	}
	for _, p := range paths {
		if current[p] != reads[p] {
			return datastore.ErrConcurrentTransaction.WithDetail("%q changed", p)
		}
	}
	return nil
}

// queueWrite picks the statement matching what the unit of work observed.
func queueWrite(batch *pgx.Batch, m datastore.Mutation, reads map[string]int64) {
	path := m.Key.Path()
	var parent string
	if p := m.Key.Parent(); p != nil {
		parent = p.Path()
	}
	seen, wasRead := reads[path]
	switch {
	case wasRead && seen > 0:
		batch.Queue(
			`UPDATE entities SET version = version + 1, data = $2, updated_at = now()
			 WHERE path = $1 AND version = $3`,
			path, m.Data, seen,
		)
	case wasRead:
		batch.Queue(
			`INSERT INTO entities (path, kind, parent_path, version, data)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (path) DO NOTHING`,
			path, m.Key.Kind(), parent, m.Data,
		)
	default:
		// Blind write: last writer wins unless the row moved after our snapshot,
		// which REPEATABLE READ reports as a serialization failure.
		batch.Queue(
			`INSERT INTO entities (path, kind, parent_path, version, data)
			 VALUES ($1, $2, $3, 1, $4)
			 ON CONFLICT (path) DO UPDATE
			 SET version = entities.version + 1, data = EXCLUDED.data, updated_at = now()`,
			path, m.Key.Kind(), parent, m.Data,
		)
	}
}

func (s *pgSnapshot) Rollback(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.Warn("rollback failed", zap.Error(err))
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// mapConflict turns serialization failures and deadlocks into the retryable
// conflict error.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	switch pgCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return datastore.ErrConcurrentTransaction.Wrap(err)
	}
	return err
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
