package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/datastore"
)

func TestMapConflict(t *testing.T) {
	for _, code := range []string{pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected} {
		err := mapConflict(fmt.Errorf("commit: %w", &pgconn.PgError{Code: code}))
		assert.ErrorIs(t, err, datastore.ErrConcurrentTransaction, code)
	}

	other := &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	assert.Same(t, other, mapConflict(other))
	assert.NoError(t, mapConflict(nil))
}

// setupTestClient connects to CC_TEST_DATABASE_URL, applies the migrations and
// empties the tables. Tests are skipped when the variable is unset.
func setupTestClient(t *testing.T) *datastore.Client {
	t.Helper()
	url := os.Getenv("CC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CC_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	_, rest, ok := strings.Cut(url, "://")
	require.True(t, ok, "CC_TEST_DATABASE_URL must be a URL")
	require.NoError(t, migrateURL("pgx5://"+rest, zap.NewNop()))

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE entities, id_allocations`)
	require.NoError(t, err)

	c := datastore.NewClient(NewBackend(pool, zap.NewNop()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type doc struct {
	N int `json:"n"`
}

func putDoc(t *testing.T, c *datastore.Client, k *datastore.Key, n int) {
	t.Helper()
	_, err := datastore.Transact(context.Background(), c, func(tx *datastore.Tx) (struct{}, error) {
		return struct{}{}, tx.Put(k, doc{N: n})
	})
	require.NoError(t, err)
}

func TestPostgres_CommitAndRead(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	k := datastore.NewNameKey("Doc", "a", nil)

	putDoc(t, c, k, 1)
	putDoc(t, c, k, 2)

	var got doc
	require.NoError(t, c.Get(ctx, k, &got))
	assert.Equal(t, 2, got.N)

	err := c.Get(ctx, datastore.NewNameKey("Doc", "missing", nil), &got)
	assert.ErrorIs(t, err, datastore.ErrNoSuchEntity)
}

func TestPostgres_StaleReadConflicts(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	a := datastore.NewNameKey("Doc", "a", nil)
	b := datastore.NewIDKey("Doc", 1, a)
	putDoc(t, c, a, 1)

	_, err := datastore.Transact(ctx, c, func(tx *datastore.Tx) (struct{}, error) {
		var v doc
		if err := tx.Get(ctx, a, &v); err != nil {
			return struct{}{}, err
		}
		putDoc(t, c, a, 10)
		return struct{}{}, tx.Put(b, doc{N: v.N})
	})
	require.ErrorIs(t, err, datastore.ErrConcurrentTransaction)

	var v doc
	assert.ErrorIs(t, c.Get(ctx, b, &v), datastore.ErrNoSuchEntity)
}

func TestPostgres_GuardedUpdateConflicts(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	a := datastore.NewNameKey("Doc", "a", nil)
	putDoc(t, c, a, 1)

	_, err := datastore.Transact(ctx, c, func(tx *datastore.Tx) (struct{}, error) {
		var v doc
		if err := tx.Get(ctx, a, &v); err != nil {
			return struct{}{}, err
		}
		putDoc(t, c, a, 10)
		v.N++
		return struct{}{}, tx.Put(a, v)
	})
	require.True(t, errors.Is(err, datastore.ErrConcurrentTransaction), "got %v", err)

	var v doc
	require.NoError(t, c.Get(ctx, a, &v))
	assert.Equal(t, 10, v.N)
}

func TestPostgres_AncestorScan(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	alice := datastore.NewNameKey("Profile", "alice", nil)
	alice2 := datastore.NewNameKey("Profile", "alice2", nil)
	putDoc(t, c, datastore.NewIDKey("Doc", 2, alice), 2)
	putDoc(t, c, datastore.NewIDKey("Doc", 1, alice), 1)
	putDoc(t, c, datastore.NewIDKey("Doc", 1, alice2), 3)

	recs, err := c.Scan(ctx, "Doc", alice)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Key.ID())
	assert.True(t, recs[0].Key.Parent().Equal(alice))
}

func TestPostgres_AllocateIDs(t *testing.T) {
	c := setupTestClient(t)
	ctx := context.Background()
	parent := datastore.NewNameKey("Profile", "alice", nil)

	first, err := c.AllocateID(ctx, parent, "Conference")
	require.NoError(t, err)
	second, err := c.AllocateID(ctx, parent, "Conference")
	require.NoError(t, err)
	assert.Greater(t, second.ID(), first.ID())

	other, err := c.AllocateID(ctx, nil, "Conference")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other.ID())
}
