package fanin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgram/internal/docstore"
)

// ---- fake store tracking subscription lifecycles ----

type fakeSub struct {
	q         docstore.Query
	onChange  docstore.ChangeHandler
	cancelled bool
}

type fakeStore struct {
	mu   sync.Mutex
	subs []*fakeSub

	failNext bool
}

func (f *fakeStore) Subscribe(ctx context.Context, q docstore.Query, onChange docstore.ChangeHandler, onError docstore.ErrorHandler) (docstore.CancelFunc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return nil, errors.New("permission denied")
	}
	sub := &fakeSub{q: q, onChange: onChange}
	f.subs = append(f.subs, sub)
	return func() {
		f.mu.Lock()
		sub.cancelled = true
		f.mu.Unlock()
	}, nil
}

func (f *fakeStore) live() []*fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSub
	for _, s := range f.subs {
		if !s.cancelled {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeStore) RunTransaction(ctx context.Context, fn func(docstore.Tx) error) error {
	return errors.New("not implemented")
}
func (f *fakeStore) Count(ctx context.Context, q docstore.Query) (int64, error) { return 0, nil }
func (f *fakeStore) Get(ctx context.Context, key docstore.Key, out any) (bool, error) {
	return false, nil
}
func (f *fakeStore) Set(ctx context.Context, key docstore.Key, doc any) error  { return nil }
func (f *fakeStore) Delete(ctx context.Context, key docstore.Key) error        { return nil }
func (f *fakeStore) Find(ctx context.Context, q docstore.Query) ([]docstore.Snapshot, error) {
	return nil, nil
}

func specsForTest() []QuerySpec {
	return []QuerySpec{
		{Kind: KindPosts, Collection: "posts", Field: "authorId"},
		{Kind: KindStories, Collection: "stories", Field: "authorId"},
	}
}

func idRange(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("u%03d", i)
	}
	return ids
}

func TestMultiplexer_OneSubscriptionPerKindPerChunk(t *testing.T) {
	store := &fakeStore{}
	m := NewMultiplexer(store, specsForTest(), 10, func(Event) {}, func(Kind, error) {})
	defer m.Close()

	m.Reconcile(context.Background(), idRange(25)) // 3 chunks

	assert.Equal(t, 6, m.ActiveSubscriptions()) // 3 chunks x 2 kinds
	assert.Len(t, store.live(), 6)

	// Every id covered exactly once per kind.
	perKind := map[string]map[string]int{}
	for _, sub := range store.live() {
		coll := sub.q.Collection
		if perKind[coll] == nil {
			perKind[coll] = map[string]int{}
		}
		assert.LessOrEqual(t, len(sub.q.In), 10)
		for _, id := range sub.q.In {
			perKind[coll][id]++
		}
	}
	for coll, counts := range perKind {
		require.Len(t, counts, 25, "collection %s", coll)
		for id, n := range counts {
			assert.Equal(t, 1, n, "%s/%s", coll, id)
		}
	}
}

func TestMultiplexer_ReconcileOnlyActsOnDiff(t *testing.T) {
	store := &fakeStore{}
	m := NewMultiplexer(store, specsForTest(), 10, func(Event) {}, func(Kind, error) {})
	defer m.Close()

	m.Reconcile(context.Background(), idRange(10))
	require.Len(t, store.subs, 2)
	first := store.live()

	// Same set again: nothing opens, nothing cancels.
	m.Reconcile(context.Background(), idRange(10))
	assert.Len(t, store.subs, 2)
	for _, sub := range first {
		assert.False(t, sub.cancelled)
	}

	// Growing past the chunk boundary keeps the full first chunk running
	// and opens one new chunk per kind.
	m.Reconcile(context.Background(), idRange(11))
	assert.Equal(t, 4, m.ActiveSubscriptions())
	for _, sub := range first {
		assert.False(t, sub.cancelled, "unchanged chunk must keep its subscription")
	}

	// Shrinking back cancels only the extra chunk.
	m.Reconcile(context.Background(), idRange(10))
	assert.Equal(t, 2, m.ActiveSubscriptions())
	for _, sub := range first {
		assert.False(t, sub.cancelled)
	}
}

func TestMultiplexer_CancelledInFlightDeliveryIsNoOp(t *testing.T) {
	store := &fakeStore{}
	var events []Event
	m := NewMultiplexer(store, specsForTest(), 10, func(ev Event) { events = append(events, ev) }, func(Kind, error) {})

	m.Reconcile(context.Background(), idRange(5))
	subs := store.live()
	require.NotEmpty(t, subs)
	handler := subs[0].onChange

	m.Close()

	// A delivery racing the cancel must not reach the merge tables.
	handler(docstore.Change{Removed: []string{"u000"}})
	assert.Empty(t, events)
}

func TestMultiplexer_SubscribeFailureSparesSiblings(t *testing.T) {
	store := &fakeStore{failNext: true}
	var failures []Kind
	m := NewMultiplexer(store, specsForTest(), 10, func(Event) {}, func(k Kind, err error) {
		failures = append(failures, k)
	})
	defer m.Close()

	m.Reconcile(context.Background(), idRange(5))

	// First open failed, the rest went through untouched.
	require.Len(t, failures, 1)
	assert.Equal(t, 1, m.ActiveSubscriptions())

	// The failed chunk is retried on the next reconcile.
	m.Reconcile(context.Background(), idRange(5))
	assert.Equal(t, 2, m.ActiveSubscriptions())
}
