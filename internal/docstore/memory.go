package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// MemStore is an in-process Store with the same observable semantics as the
// Mongo-backed one: subscribers get the current matching set first and then
// every later change, and transactions are serializable (they run one at a
// time under the store lock). It backs the dev server and the tests.
type MemStore struct {
	mu     sync.Mutex
	data   map[string]map[string]bson.Raw
	subs   map[int]*memSub
	nextID int
}

type memSub struct {
	q         Query
	onChange  ChangeHandler
	cancelled bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: make(map[string]map[string]bson.Raw),
		subs: make(map[int]*memSub),
	}
}

func (s *MemStore) Subscribe(ctx context.Context, q Query, onChange ChangeHandler, onError ErrorHandler) (CancelFunc, error) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	sub := &memSub{q: q, onChange: onChange}
	s.subs[id] = sub

	// Initial state goes through the same handler as every later change,
	// and is delivered before the lock drops so a concurrent write's
	// notification cannot overtake it. Handlers must not call back into
	// the store synchronously.
	onChange(Change{Added: s.findLocked(q)})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		sub.cancelled = true
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

func (s *MemStore) Set(ctx context.Context, key Key, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", key.Collection, key.ID, err)
	}
	s.mu.Lock()
	s.setLocked(key, raw)
	notify := s.notificationsLocked(key, raw, false)
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	old, ok := s.data[key.Collection][key.ID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.data[key.Collection], key.ID)
	notify := s.notificationsLocked(key, old, true)
	s.mu.Unlock()
	for _, fn := range notify {
		fn()
	}
	return nil
}

func (s *MemStore) Get(ctx context.Context, key Key, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[key.Collection][key.ID]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, bson.Unmarshal(raw, out)
}

func (s *MemStore) Find(ctx context.Context, q Query) ([]Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(q), nil
}

func (s *MemStore) Count(ctx context.Context, q Query) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.findLocked(q))), nil
}

// RunTransaction runs fn under the store lock, so concurrent transactions
// serialize. fn must only touch the store through the Tx it is handed.
func (s *MemStore) RunTransaction(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		s.mu.Unlock()
		return err
	}
	var notify []func()
	for _, op := range tx.ops {
		if op.delete {
			old, ok := s.data[op.key.Collection][op.key.ID]
			if !ok {
				continue
			}
			delete(s.data[op.key.Collection], op.key.ID)
			notify = append(notify, s.notificationsLocked(op.key, old, true)...)
		} else {
			s.setLocked(op.key, op.raw)
			notify = append(notify, s.notificationsLocked(op.key, op.raw, false)...)
		}
	}
	s.mu.Unlock()
	for _, deliver := range notify {
		deliver()
	}
	return nil
}

func (s *MemStore) setLocked(key Key, raw bson.Raw) {
	coll, ok := s.data[key.Collection]
	if !ok {
		coll = make(map[string]bson.Raw)
		s.data[key.Collection] = coll
	}
	coll[key.ID] = raw
}

func (s *MemStore) findLocked(q Query) []Snapshot {
	var out []Snapshot
	for id, raw := range s.data[q.Collection] {
		if matches(q, id, raw) {
			out = append(out, Snapshot{ID: id, raw: raw})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// notificationsLocked returns the deliveries owed to matching subscribers
// as closures, so the caller can fire them after dropping the lock.
func (s *MemStore) notificationsLocked(key Key, raw bson.Raw, removed bool) []func() {
	var out []func()
	for _, sub := range s.subs {
		if sub.cancelled || sub.q.Collection != key.Collection || !matches(sub.q, key.ID, raw) {
			continue
		}
		handler := sub.onChange
		var ch Change
		if removed {
			ch = Change{Removed: []string{key.ID}}
		} else {
			ch = Change{Added: []Snapshot{{ID: key.ID, raw: raw}}}
		}
		out = append(out, func() { handler(ch) })
	}
	return out
}

func matches(q Query, id string, raw bson.Raw) bool {
	if q.Field == "" {
		return true
	}
	val := id
	if q.Field != "_id" {
		v, err := raw.LookupErr(q.Field)
		if err != nil {
			return false
		}
		val, _ = v.StringValueOK()
	}
	for _, want := range q.In {
		if val == want {
			return true
		}
	}
	return false
}

type memOp struct {
	key    Key
	raw    bson.Raw
	delete bool
}

type memTx struct {
	s   *MemStore
	ops []memOp
}

func (t *memTx) effective(key Key) (bson.Raw, bool) {
	// Later staged writes shadow earlier ones and the base data.
	for i := len(t.ops) - 1; i >= 0; i-- {
		if t.ops[i].key == key {
			if t.ops[i].delete {
				return nil, false
			}
			return t.ops[i].raw, true
		}
	}
	raw, ok := t.s.data[key.Collection][key.ID]
	return raw, ok
}

func (t *memTx) Get(key Key, out any) (bool, error) {
	raw, ok := t.effective(key)
	if !ok {
		return false, nil
	}
	return true, bson.Unmarshal(raw, out)
}

func (t *memTx) Set(key Key, doc any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", key.Collection, key.ID, err)
	}
	t.ops = append(t.ops, memOp{key: key, raw: raw})
	return nil
}

func (t *memTx) Delete(key Key) error {
	t.ops = append(t.ops, memOp{key: key, delete: true})
	return nil
}

func (t *memTx) Increment(key Key, field string, delta int64) error {
	raw, ok := t.effective(key)
	if !ok {
		return ErrNotFound
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return err
	}
	doc[field] = asInt64(doc[field]) + delta
	updated, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	t.ops = append(t.ops, memOp{key: key, raw: updated})
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
