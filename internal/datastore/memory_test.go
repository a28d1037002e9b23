package datastore

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

func commitValue(t *testing.T, b *MemoryBackend, k *Key, n int) {
	t.Helper()
	ctx := context.Background()
	snap, err := b.Begin(ctx)
	require.NoError(t, err)
	data, _ := json.Marshal(counter{N: n})
	require.NoError(t, snap.Commit(ctx, nil, []Mutation{{Key: k, Data: data}}))
}

func versionsOf(b *MemoryBackend, k *Key) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.tree.Get(&memItem{path: k.Path()})
	if !ok {
		return 0
	}
	return len(it.versions)
}

func TestMemoryBackend_TrimsUnreachableVersions(t *testing.T) {
	b := NewMemoryBackend()
	k := NewNameKey("Counter", "a", nil)

	for i := 1; i <= 5; i++ {
		commitValue(t, b, k, i)
	}
	assert.Equal(t, 1, versionsOf(b, k))
}

func TestMemoryBackend_KeepsVersionsForLiveSnapshots(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	k := NewNameKey("Counter", "a", nil)
	commitValue(t, b, k, 1)

	old, err := b.Begin(ctx)
	require.NoError(t, err)
	commitValue(t, b, k, 2)
	commitValue(t, b, k, 3)

	rec, err := old.Get(ctx, k)
	require.NoError(t, err)
	var v counter
	require.NoError(t, json.Unmarshal(rec.Data, &v))
	assert.Equal(t, 1, v.N)

	require.NoError(t, old.Rollback(ctx))
	commitValue(t, b, k, 4)
	assert.Equal(t, 1, versionsOf(b, k))
}

func TestMemoryBackend_KeyCreatedAfterSnapshotIsInvisible(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	k := NewNameKey("Counter", "late", nil)

	snap, err := b.Begin(ctx)
	require.NoError(t, err)
	commitValue(t, b, k, 1)

	_, err = snap.Get(ctx, k)
	assert.ErrorIs(t, err, ErrNoSuchEntity)
	recs, err := snap.Scan(ctx, "Counter", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	require.NoError(t, snap.Rollback(ctx))
}

func TestMemoryBackend_SnapshotCommitsOnce(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()

	snap, err := b.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.Commit(ctx, nil, nil))
	assert.ErrorIs(t, snap.Commit(ctx, nil, nil), ErrTxDone)
	assert.NoError(t, snap.Rollback(ctx))
}

func TestMemoryBackend_AllocateExhaustion(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	b.ids[ScopeKey(nil, "Conference")] = math.MaxInt64 - 1

	first, err := b.AllocateIDs(ctx, nil, "Conference", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), first)

	_, err = b.AllocateIDs(ctx, nil, "Conference", 1)
	assert.ErrorIs(t, err, apperr.ErrIDSpaceExhausted)
	assert.Equal(t, apperr.AllocationExhausted, apperr.KindOf(err))
}

func TestTransact_PanicReleasesSnapshot(t *testing.T) {
	b := NewMemoryBackend()
	c := NewClient(b)
	t.Cleanup(func() { _ = c.Close() })
	k := NewNameKey("Counter", "a", nil)

	assert.Panics(t, func() {
		_, _ = Transact(context.Background(), c, func(tx *Tx) (struct{}, error) {
			var v counter
			_ = tx.Get(context.Background(), k, &v)
			panic("boom")
		})
	})

	b.mu.RLock()
	active := len(b.active)
	b.mu.RUnlock()
	assert.Equal(t, 0, active)

	for i := 1; i <= 50; i++ {
		commitValue(t, b, k, i)
	}
	assert.Equal(t, 1, versionsOf(b, k))
}
