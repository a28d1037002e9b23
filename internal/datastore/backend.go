// Package datastore implements the keyed entity store, the id allocator and the
// optimistic transaction manager the conference core is built on.
//
// Storage is pluggable through Backend. A Backend hands out snapshots: a snapshot
// reads a consistent point-in-time view and commits a write set only if nothing it
// read or wrote was changed by another commit after the snapshot was taken. Entity
// payloads are stored as JSON; the store never interprets them.
package datastore

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/conference-central/internal/apperr"
)

// Errors returned by the store.
var (
	// ErrNoSuchEntity is returned by point reads of an absent key.
	ErrNoSuchEntity = errors.New("datastore: no such entity")

	// ErrConcurrentTransaction is returned when a commit loses a conflict.
	ErrConcurrentTransaction = apperr.ErrConcurrentTransaction

	// ErrCrossGroup is returned when a transaction touches a second entity group.
	ErrCrossGroup = apperr.New(apperr.InvalidArgument, "transaction spans entity groups")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("datastore: transaction already finished")
)

// Record is a stored entity at a given version. Version 0 means absent.
type Record struct {
	Key     *Key
	Version int64
	Data    []byte
}

// Mutation is one write in a commit.
type Mutation struct {
	Key  *Key
	Data []byte
}

// Backend is the storage engine behind a Client.
type Backend interface {
	// Begin takes a snapshot.
	Begin(ctx context.Context) (Snapshot, error)
	// AllocateIDs reserves n consecutive ids for kind under parent and returns the
	// first one. Ids are never handed out twice for the same scope.
	AllocateIDs(ctx context.Context, parent *Key, kind string, n int) (int64, error)
	Close() error
}

// Snapshot is a point-in-time view that can be committed once.
type Snapshot interface {
	// Get returns the record for key, or ErrNoSuchEntity.
	Get(ctx context.Context, key *Key) (Record, error)
	// Scan returns all records of kind, restricted to descendants of ancestor
	// (inclusive) when ancestor is non-nil, in key path order.
	Scan(ctx context.Context, kind string, ancestor *Key) ([]Record, error)
	// Commit applies writes if every key in reads still has the recorded version
	// and no key in writes changed since the snapshot. reads maps key path to the
	// version observed, 0 for absent.
	Commit(ctx context.Context, reads map[string]int64, writes []Mutation) error
	// Rollback releases the snapshot without writing.
	Rollback(ctx context.Context) error
}

// ScopeKey names an id allocation scope.
func ScopeKey(parent *Key, kind string) string {
	if parent == nil {
		return kind
	}
	return parent.Path() + elementSep + kind
}
