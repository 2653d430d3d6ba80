package fanin

import (
	"context"
	"sync/atomic"

	"snapgram/internal/chunk"
	"snapgram/internal/docstore"
)

// Kind labels one logical live query family.
type Kind string

const (
	KindPosts    Kind = "posts"
	KindStories  Kind = "stories"
	KindProfiles Kind = "profiles"
)

// QuerySpec describes how a kind maps onto the store: which collection to
// watch and which field the identifier chunks predicate on.
type QuerySpec struct {
	Kind       Kind
	Collection string
	Field      string
}

// Event is one delivery from some chunk subscription, tagged with the
// kind it belongs to. The chunk that produced it is not recorded.
type Event struct {
	Kind   Kind
	Change docstore.Change
}

// Multiplexer keeps exactly one live subscription per (kind, chunk) pair
// over a changing identifier set. Reconcile diffs the wanted chunk list
// against the running one: new chunks open, vanished chunks cancel,
// unchanged chunks keep their subscription untouched.
type Multiplexer struct {
	store     docstore.Store
	specs     []QuerySpec
	chunkSize int
	deliver   func(Event)
	onError   func(Kind, error)

	active map[string]*activeSub
}

type activeSub struct {
	cancel docstore.CancelFunc
	closed atomic.Bool
}

func NewMultiplexer(store docstore.Store, specs []QuerySpec, chunkSize int, deliver func(Event), onError func(Kind, error)) *Multiplexer {
	return &Multiplexer{
		store:     store,
		specs:     specs,
		chunkSize: chunkSize,
		deliver:   deliver,
		onError:   onError,
		active:    make(map[string]*activeSub),
	}
}

// Reconcile brings the running subscriptions in line with ids. Safe to
// call with the same set repeatedly; it only acts on the diff. A failure
// to open one chunk is reported through onError and never touches the
// sibling subscriptions; the chunk is retried on the next reconcile.
func (m *Multiplexer) Reconcile(ctx context.Context, ids []string) {
	chunks := chunk.Split(ids, m.chunkSize)

	want := make(map[string]struct{})
	for _, spec := range m.specs {
		for _, c := range chunks {
			key := subKey(spec.Kind, c)
			want[key] = struct{}{}
			if _, ok := m.active[key]; ok {
				continue
			}
			m.open(ctx, spec, c, key)
		}
	}

	for key, sub := range m.active {
		if _, ok := want[key]; !ok {
			sub.close()
			delete(m.active, key)
		}
	}
}

func (m *Multiplexer) open(ctx context.Context, spec QuerySpec, ids []string, key string) {
	sub := &activeSub{}
	q := docstore.Query{Collection: spec.Collection, Field: spec.Field, In: ids}
	cancel, err := m.store.Subscribe(ctx, q,
		func(ch docstore.Change) {
			// A cancelled-but-in-flight delivery must not leak into
			// the merge tables.
			if sub.closed.Load() {
				return
			}
			m.deliver(Event{Kind: spec.Kind, Change: ch})
		},
		func(err error) {
			if sub.closed.Load() {
				return
			}
			m.onError(spec.Kind, err)
		},
	)
	if err != nil {
		m.onError(spec.Kind, err)
		return
	}
	sub.cancel = cancel
	m.active[key] = sub
}

// Close cancels every running subscription.
func (m *Multiplexer) Close() {
	for key, sub := range m.active {
		sub.close()
		delete(m.active, key)
	}
}

// ActiveSubscriptions reports how many live queries are currently open.
func (m *Multiplexer) ActiveSubscriptions() int {
	return len(m.active)
}

func (s *activeSub) close() {
	s.closed.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
}

func subKey(kind Kind, c []string) string {
	return string(kind) + "|" + chunk.Key(c)
}
