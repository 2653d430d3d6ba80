// Package docstore is the document store the aggregation layer runs
// against: live queries with incremental change delivery, atomic
// read-check-write transactions, and snapshot counts.
package docstore

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
)

// MaxInValues is the largest predicate list a single query may carry.
// Identifier sets bigger than this must be chunked (see internal/chunk).
const MaxInValues = 10

// ErrNotFound is returned by operations that require an existing document.
var ErrNotFound = errors.New("docstore: document not found")

// Key addresses one document.
type Key struct {
	Collection string
	ID         string
}

// Query selects documents in a collection whose Field value is one of In.
// An empty Field selects the whole collection.
type Query struct {
	Collection string
	Field      string
	In         []string
}

// Snapshot is the full current value of one document at delivery time.
type Snapshot struct {
	ID  string
	raw bson.Raw
}

// NewSnapshot marshals doc into a snapshot. Used by store implementations
// and by test fixtures.
func NewSnapshot(id string, doc any) (Snapshot, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: id, raw: raw}, nil
}

func (s Snapshot) Decode(out any) error {
	return bson.Unmarshal(s.raw, out)
}

// Change is one delivery from a live query. Added carries inserted or
// modified documents as full values; Removed carries deleted ids.
type Change struct {
	Added   []Snapshot
	Removed []string
}

type (
	ChangeHandler func(Change)
	ErrorHandler  func(error)
	CancelFunc    func()
)

// Tx is the read-then-write access a transaction function gets. All writes
// commit atomically or not at all.
type Tx interface {
	Get(key Key, out any) (bool, error)
	Set(key Key, doc any) error
	Delete(key Key) error

	// Increment applies a signed delta to a numeric field of an existing
	// document. Returns ErrNotFound if the document is gone.
	Increment(key Key, field string, delta int64) error
}

// Store is the capability consumed by the aggregation layer.
//
// Subscribe opens a live query: the handler first receives the current
// matching set, then incremental changes in the store's commit order for
// that query. No ordering holds across distinct subscriptions. After the
// cancel function returns, no further callbacks fire. Removals carry only
// the deleted id; for queries on a field other than _id the store cannot
// tell whether the deleted document matched the predicate, so a delivery
// may name ids outside the subscriber's set and receivers must filter by
// key.
//
// RunTransaction executes fn with serializable isolation, retrying
// transparently on the store's own write conflicts; any other error from
// fn aborts with no partial effect.
type Store interface {
	Subscribe(ctx context.Context, q Query, onChange ChangeHandler, onError ErrorHandler) (CancelFunc, error)
	RunTransaction(ctx context.Context, fn func(Tx) error) error
	Count(ctx context.Context, q Query) (int64, error)

	Get(ctx context.Context, key Key, out any) (bool, error)
	Set(ctx context.Context, key Key, doc any) error
	Delete(ctx context.Context, key Key) error
	Find(ctx context.Context, q Query) ([]Snapshot, error)
}
