// Package fanin merges the change streams of many chunked live queries
// into single per-kind collections.
package fanin

import (
	"fmt"

	"snapgram/internal/docstore"
)

// Table is a keyed merge table for one entity kind. Events from every
// chunk subscription of that kind land here. An event touches only the
// key it names; the last delivered writer for a key wins.
//
// A Table is owned by the engine loop and must only be touched from it.
type Table[T any] struct {
	rows map[string]T
}

func NewTable[T any]() *Table[T] {
	return &Table[T]{rows: make(map[string]T)}
}

// Apply folds one change into the table: upserts for Added, deletions for
// Removed. Removing an absent key is a no-op.
func (t *Table[T]) Apply(ch docstore.Change) error {
	for _, snap := range ch.Added {
		var row T
		if err := snap.Decode(&row); err != nil {
			return fmt.Errorf("decode %s: %w", snap.ID, err)
		}
		t.rows[snap.ID] = row
	}
	for _, id := range ch.Removed {
		delete(t.rows, id)
	}
	return nil
}

// Prune drops every row keep rejects. Used after a subscription set
// shrinks: a cancelled chunk never sends removals for the rows it had
// delivered, so the owner evicts them by predicate instead.
func (t *Table[T]) Prune(keep func(id string, row T) bool) {
	for id, row := range t.rows {
		if !keep(id, row) {
			delete(t.rows, id)
		}
	}
}

// Get returns the current value for id, if present.
func (t *Table[T]) Get(id string) (T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

// Rows exposes the materialized collection for projection building. The
// map is the table's own storage; callers must not retain or mutate it.
func (t *Table[T]) Rows() map[string]T {
	return t.rows
}

func (t *Table[T]) Len() int {
	return len(t.rows)
}
