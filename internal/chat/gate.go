// Package chat gates direct messaging on a mutual follow relationship
// and keeps a live view of one conversation.
package chat

import (
	"context"
	"sync"

	"snapgram/internal/docstore"
	"snapgram/internal/model"
)

// Gate folds the two one-directional follow edges between two users into
// the single symmetric "channel open" fact. The two inputs arrive from
// independent subscriptions in either order; the gate is just the AND of
// whatever has arrived, so it is correct after each update individually.
type Gate struct {
	forward bool // self → peer
	reverse bool // peer → self
}

func (g *Gate) SetForward(present bool) { g.forward = present }
func (g *Gate) SetReverse(present bool) { g.reverse = present }

func (g Gate) Open() bool { return g.forward && g.reverse }

// GateWatcher keeps a Gate live from two edge subscriptions and reports
// every change of the combined boolean.
type GateWatcher struct {
	mu      sync.Mutex
	gate    Gate
	last    bool
	onOpen  func(bool)
	cancels []docstore.CancelFunc
}

// WatchGate subscribes to both follow edges between self and peer.
// onOpen fires with the new value whenever the combined boolean flips;
// until both initial deliveries arrive the gate reads closed.
func WatchGate(ctx context.Context, store docstore.Store, self, peer string, onOpen func(bool)) (*GateWatcher, error) {
	w := &GateWatcher{onOpen: onOpen}

	forwardID := model.FriendID(self, peer)
	forward, err := store.Subscribe(ctx, edgeQuery(self, peer),
		func(ch docstore.Change) { w.apply(true, forwardID, ch) },
		func(error) {},
	)
	if err != nil {
		return nil, err
	}
	w.cancels = append(w.cancels, forward)

	reverseID := model.FriendID(peer, self)
	reverse, err := store.Subscribe(ctx, edgeQuery(peer, self),
		func(ch docstore.Change) { w.apply(false, reverseID, ch) },
		func(error) {},
	)
	if err != nil {
		w.Close()
		return nil, err
	}
	w.cancels = append(w.cancels, reverse)
	return w, nil
}

func edgeQuery(from, to string) docstore.Query {
	return docstore.Query{
		Collection: model.CollFriends,
		Field:      "_id",
		In:         []string{model.FriendID(from, to)},
	}
}

func (w *GateWatcher) apply(forward bool, edgeID string, ch docstore.Change) {
	// The collection stream can carry removals of other users' edges, so
	// only deliveries that name the watched edge change the flag. An
	// initial delivery with nothing in it means the edge does not exist.
	var present, relevant bool
	for _, snap := range ch.Added {
		if snap.ID == edgeID {
			present, relevant = true, true
		}
	}
	for _, id := range ch.Removed {
		if id == edgeID {
			relevant = true
		}
	}
	if len(ch.Added) == 0 && len(ch.Removed) == 0 {
		relevant = true
	}
	if !relevant {
		return
	}

	w.mu.Lock()
	if forward {
		w.gate.SetForward(present)
	} else {
		w.gate.SetReverse(present)
	}
	open := w.gate.Open()
	changed := open != w.last
	w.last = open
	cb := w.onOpen
	w.mu.Unlock()

	if changed && cb != nil {
		cb(open)
	}
}

// Open reports the current combined state.
func (w *GateWatcher) Open() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.gate.Open()
}

func (w *GateWatcher) Close() {
	for _, cancel := range w.cancels {
		cancel()
	}
}
