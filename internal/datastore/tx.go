package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

const (
	// DefaultBeginAttempts bounds how often a snapshot is requested before giving up.
	DefaultBeginAttempts = 3
	// MaxEntityGroups bounds the entity groups one transaction may touch.
	MaxEntityGroups = 25
)

// Client is the entry point to the store. It is safe for concurrent use.
type Client struct {
	backend       Backend
	beginAttempts int
	log           *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBeginAttempts sets the snapshot acquisition bound.
func WithBeginAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.beginAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient wraps a backend.
func NewClient(b Backend, opts ...Option) *Client {
	c := &Client{backend: b, beginAttempts: DefaultBeginAttempts, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the backend.
func (c *Client) Close() error { return c.backend.Close() }

// AllocateID reserves a fresh id for kind under parent and returns the complete key.
// Callers allocate before opening a transaction so every retry of the same logical
// creation writes the same key.
func (c *Client) AllocateID(ctx context.Context, parent *Key, kind string) (*Key, error) {
	id, err := c.backend.AllocateIDs(ctx, parent, kind, 1)
	if err != nil {
		return nil, fmt.Errorf("allocate %s id: %w", kind, err)
	}
	return NewIDKey(kind, id, parent), nil
}

// Get loads the entity at key into dst outside any transaction.
func (c *Client) Get(ctx context.Context, key *Key, dst any) error {
	snap, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = snap.Rollback(ctx) }()
	rec, err := snap.Get(ctx, key)
	if err != nil {
		return err
	}
	return Decode(rec, dst)
}

// GetMulti loads every present key from one snapshot, in input order. Absent keys
// are skipped.
func (c *Client) GetMulti(ctx context.Context, keys []*Key) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	snap, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Rollback(ctx) }()
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		rec, err := snap.Get(ctx, k)
		if errors.Is(err, ErrNoSuchEntity) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", k, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Scan returns the records of kind, optionally restricted to an ancestor, from a
// fresh snapshot.
func (c *Client) Scan(ctx context.Context, kind string, ancestor *Key) ([]Record, error) {
	snap, err := c.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Rollback(ctx) }()
	return snap.Scan(ctx, kind, ancestor)
}

// begin acquires a snapshot, retrying a bounded number of times.
func (c *Client) begin(ctx context.Context) (Snapshot, error) {
	attempt := 0
	snap, err := backoff.Retry(ctx, func() (Snapshot, error) {
		attempt++
		s, err := c.backend.Begin(ctx)
		if err != nil {
			c.log.Debug("snapshot unavailable", zap.Int("attempt", attempt), zap.Error(err))
		}
		return s, err
	},
		backoff.WithBackOff(snapshotBackOff()),
		backoff.WithMaxTries(uint(c.beginAttempts)),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrConcurrentTransaction.WithDetail("no snapshot after %d attempts", attempt).Wrap(err)
	}
	return snap, nil
}

func snapshotBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return b
}

// Transact runs work against one snapshot and commits its writes.
//
// An error returned by work rolls the unit back and is returned unchanged, so
// business outcomes travel out as typed values. A commit that loses a conflict
// returns ErrConcurrentTransaction and leaves no writes behind. The snapshot is
// released even when work panics. Transact never re-runs work; retry policy
// belongs to the caller.
func Transact[T any](ctx context.Context, c *Client, work func(tx *Tx) (T, error)) (T, error) {
	var zero T
	snap, err := c.begin(ctx)
	if err != nil {
		return zero, err
	}
	tx := newTx(snap)
	defer tx.rollback(ctx)

	res, err := work(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.commit(ctx); err != nil {
		if errors.Is(err, ErrConcurrentTransaction) {
			c.log.Debug("commit conflict", zap.Error(err))
		}
		return zero, err
	}
	return res, nil
}

// Tx is one unit of work. Reads observe the snapshot plus the unit's own writes.
// A Tx is not safe for concurrent use.
type Tx struct {
	snap   Snapshot
	groups map[string]struct{}
	reads  map[string]int64
	writes map[string]Mutation
	order  []string
	done   bool
}

func newTx(snap Snapshot) *Tx {
	return &Tx{
		snap:   snap,
		groups: make(map[string]struct{}),
		reads:  make(map[string]int64),
		writes: make(map[string]Mutation),
	}
}

// touch records the entity group of key.
func (tx *Tx) touch(key *Key) error {
	root := key.Root().Path()
	if _, ok := tx.groups[root]; ok {
		return nil
	}
	if len(tx.groups) >= MaxEntityGroups {
		return ErrCrossGroup.WithDetail("more than %d groups", MaxEntityGroups)
	}
	tx.groups[root] = struct{}{}
	return nil
}

// Get loads key into dst, or returns ErrNoSuchEntity.
func (tx *Tx) Get(ctx context.Context, key *Key, dst any) error {
	if tx.done {
		return ErrTxDone
	}
	if err := key.validate(); err != nil {
		return err
	}
	if err := tx.touch(key); err != nil {
		return err
	}
	path := key.Path()
	if m, ok := tx.writes[path]; ok {
		return json.Unmarshal(m.Data, dst)
	}
	rec, err := tx.snap.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNoSuchEntity):
		tx.observe(path, 0)
		return err
	case err != nil:
		return fmt.Errorf("get %s: %w", key, err)
	}
	tx.observe(path, rec.Version)
	return Decode(rec, dst)
}

// Put stages src to be written at key on commit.
func (tx *Tx) Put(key *Key, src any) error {
	if tx.done {
		return ErrTxDone
	}
	if err := key.validate(); err != nil {
		return err
	}
	if err := tx.touch(key); err != nil {
		return err
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	path := key.Path()
	if _, ok := tx.writes[path]; !ok {
		tx.order = append(tx.order, path)
	}
	tx.writes[path] = Mutation{Key: key, Data: data}
	return nil
}

// Scan returns the records of kind under ancestor, overlaid with staged writes.
// Only ancestor scans are allowed inside a transaction.
func (tx *Tx) Scan(ctx context.Context, kind string, ancestor *Key) ([]Record, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	if ancestor == nil {
		return nil, apperr.ErrInvalidQuery.WithDetail("only ancestor queries are allowed in a transaction")
	}
	if err := tx.touch(ancestor); err != nil {
		return nil, err
	}
	recs, err := tx.snap.Scan(ctx, kind, ancestor)
	if err != nil {
		return nil, fmt.Errorf("scan %s under %s: %w", kind, ancestor, err)
	}
	byPath := make(map[string]Record, len(recs))
	for _, r := range recs {
		p := r.Key.Path()
		tx.observe(p, r.Version)
		byPath[p] = r
	}
	for _, p := range tx.order {
		m := tx.writes[p]
		if m.Key.Kind() == kind && m.Key.HasAncestor(ancestor) {
			byPath[p] = Record{Key: m.Key, Data: m.Data}
		}
	}
	out := make([]Record, 0, len(byPath))
	for _, r := range byPath {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(out[i].Key.Path(), out[j].Key.Path()) < 0
	})
	return out, nil
}

// observe records the first version seen for path.
func (tx *Tx) observe(path string, version int64) {
	if _, ok := tx.reads[path]; !ok {
		tx.reads[path] = version
	}
}

func (tx *Tx) commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	writes := make([]Mutation, 0, len(tx.order))
	for _, p := range tx.order {
		writes = append(writes, tx.writes[p])
	}
	return tx.snap.Commit(ctx, tx.reads, writes)
}

func (tx *Tx) rollback(ctx context.Context) {
	if tx.done {
		return
	}
	tx.done = true
	_ = tx.snap.Rollback(ctx)
}

// Decode unmarshals a record payload into dst.
func Decode(rec Record, dst any) error {
	if err := json.Unmarshal(rec.Data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", rec.Key, err)
	}
	return nil
}
