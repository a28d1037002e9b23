package datastore

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

// memVersion is one committed value of a key. ts is the commit timestamp and
// doubles as the record version.
type memVersion struct {
	ts   int64
	data []byte
}

// memItem holds the version chain of one key, oldest first.
type memItem struct {
	path     string
	key      *Key
	versions []memVersion
}

func (it *memItem) latest() int64 {
	if len(it.versions) == 0 {
		return 0
	}
	return it.versions[len(it.versions)-1].ts
}

// visible returns the newest version committed at or before ts.
func (it *memItem) visible(ts int64) (memVersion, bool) {
	for i := len(it.versions) - 1; i >= 0; i-- {
		if it.versions[i].ts <= ts {
			return it.versions[i], true
		}
	}
	return memVersion{}, false
}

func lessItem(a, b *memItem) bool { return a.path < b.path }

// MemoryBackend is an in-process multi-version store ordered by key path.
// Every snapshot reads at a commit timestamp; versions no live snapshot can see
// are trimmed as keys are rewritten.
type MemoryBackend struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[*memItem]
	clock  int64
	active map[int64]int
	ids    map[string]int64
	closed bool
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		tree:   btree.NewG[*memItem](32, lessItem),
		active: make(map[int64]int),
		ids:    make(map[string]int64),
	}
}

// Begin takes a snapshot at the current commit timestamp.
func (b *MemoryBackend) Begin(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("memory backend closed")
	}
	ts := b.clock
	b.active[ts]++
	return &memSnapshot{b: b, ts: ts}, nil
}

// AllocateIDs implements Backend.
func (b *MemoryBackend) AllocateIDs(ctx context.Context, parent *Key, kind string, n int) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("allocate %d ids: count must be positive", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	scope := ScopeKey(parent, kind)
	cur := b.ids[scope]
	if cur > math.MaxInt64-int64(n) {
		return 0, apperr.ErrIDSpaceExhausted.WithDetail("scope %s", scope)
	}
	b.ids[scope] = cur + int64(n)
	return cur + 1, nil
}

// Close implements Backend.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// release drops one reference to the snapshot at ts. Caller holds b.mu.
func (b *MemoryBackend) release(ts int64) {
	if b.active[ts] <= 1 {
		delete(b.active, ts)
		return
	}
	b.active[ts]--
}

// oldestActive returns the smallest live snapshot timestamp. Caller holds b.mu.
func (b *MemoryBackend) oldestActive() (int64, bool) {
	var (
		oldest int64
		found  bool
	)
	for ts := range b.active {
		if !found || ts < oldest {
			oldest, found = ts, true
		}
	}
	return oldest, found
}

// trim drops versions that no live snapshot can observe. Caller holds b.mu.
func (b *MemoryBackend) trim(it *memItem) {
	oldest, ok := b.oldestActive()
	if !ok {
		it.versions = it.versions[len(it.versions)-1:]
		return
	}
	keep := 0
	for i := len(it.versions) - 1; i >= 0; i-- {
		if it.versions[i].ts <= oldest {
			keep = i
			break
		}
	}
	it.versions = it.versions[keep:]
}

type memSnapshot struct {
	b    *MemoryBackend
	ts   int64
	done bool
}

func (s *memSnapshot) Get(ctx context.Context, key *Key) (Record, error) {
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	if s.done {
		return Record{}, ErrTxDone
	}
	it, ok := s.b.tree.Get(&memItem{path: key.Path()})
	if !ok {
		return Record{}, ErrNoSuchEntity
	}
	v, ok := it.visible(s.ts)
	if !ok {
		return Record{}, ErrNoSuchEntity
	}
	return Record{Key: it.key, Version: v.ts, Data: cloneBytes(v.data)}, nil
}

func (s *memSnapshot) Scan(ctx context.Context, kind string, ancestor *Key) ([]Record, error) {
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	if s.done {
		return nil, ErrTxDone
	}
	var out []Record
	collect := func(it *memItem) {
		if it.key.Kind() != kind {
			return
		}
		if v, ok := it.visible(s.ts); ok {
			out = append(out, Record{Key: it.key, Version: v.ts, Data: cloneBytes(v.data)})
		}
	}
	if ancestor == nil {
		s.b.tree.Ascend(func(it *memItem) bool {
			collect(it)
			return true
		})
		return out, nil
	}
	prefix, desc := ancestor.Path(), DescendantPrefix(ancestor)
	s.b.tree.AscendGreaterOrEqual(&memItem{path: prefix}, func(it *memItem) bool {
		if !strings.HasPrefix(it.path, prefix) {
			return false
		}
		// Siblings such as "alice2" share the byte prefix of "alice".
		if it.path == prefix || strings.HasPrefix(it.path, desc) {
			collect(it)
		}
		return true
	})
	return out, nil
}

func (s *memSnapshot) Commit(ctx context.Context, reads map[string]int64, writes []Mutation) error {
	if err := ctx.Err(); err != nil {
		_ = s.Rollback(ctx)
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.done {
		return ErrTxDone
	}
	s.done = true
	s.b.release(s.ts)

	for path, seen := range reads {
		var cur int64
		if it, ok := s.b.tree.Get(&memItem{path: path}); ok {
			cur = it.latest()
		}
		if cur != seen {
			return ErrConcurrentTransaction.WithDetail("%q changed", path)
		}
	}
	for _, m := range writes {
		if it, ok := s.b.tree.Get(&memItem{path: m.Key.Path()}); ok && it.latest() > s.ts {
			return ErrConcurrentTransaction.WithDetail("%s changed", m.Key)
		}
	}
	if len(writes) == 0 {
		return nil
	}

	s.b.clock++
	ts := s.b.clock
	for _, m := range writes {
		path := m.Key.Path()
		it, ok := s.b.tree.Get(&memItem{path: path})
		if !ok {
			it = &memItem{path: path, key: m.Key}
			s.b.tree.ReplaceOrInsert(it)
		}
		it.versions = append(it.versions, memVersion{ts: ts, data: cloneBytes(m.Data)})
		s.b.trim(it)
	}
	return nil
}

func (s *memSnapshot) Rollback(ctx context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	s.b.release(s.ts)
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
