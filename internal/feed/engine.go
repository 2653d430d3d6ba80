package feed

import (
	"context"
	"strings"
	"sync"
	"time"

	"snapgram/internal/docstore"
	"snapgram/internal/fanin"
	"snapgram/internal/model"
)

// Update is one published recompute of both projections.
type Update struct {
	Feed []Item      `json:"feed"`
	Tray []TrayGroup `json:"tray"`
}

// Notice is a non-fatal, user-visible subscription failure.
type Notice struct {
	Kind fanin.Kind
	Err  error
}

// Engine drives the pipeline for one user: it watches the user's follow
// edges, reconciles the chunked subscriptions whenever the followee set
// changes, folds every delivery into the merge tables, and republishes
// the projections.
//
// All application logic runs on one goroutine (the event loop); store
// callbacks only enqueue thunks onto it. The merge tables are never
// touched off the loop, so only the published snapshot and the watcher
// set need a lock.
type Engine struct {
	store  docstore.Store
	selfID string

	events chan func()
	ctx    context.Context
	cancel context.CancelFunc

	posts     *fanin.Table[model.Post]
	stories   *fanin.Table[model.Story]
	profiles  *fanin.Table[model.User]
	followees map[string]struct{}
	mux       *fanin.Multiplexer

	cancelFriends docstore.CancelFunc

	mu          sync.Mutex
	latest      Update
	watchers    map[int]chan Update
	nextWatcher int

	notice func(Notice)
}

// querySpecs maps the three logical query kinds onto store collections.
func querySpecs() []fanin.QuerySpec {
	return []fanin.QuerySpec{
		{Kind: fanin.KindPosts, Collection: model.CollPosts, Field: "authorId"},
		{Kind: fanin.KindStories, Collection: model.CollStories, Field: "authorId"},
		{Kind: fanin.KindProfiles, Collection: model.CollUsers, Field: "_id"},
	}
}

// NewEngine builds an engine for selfID. notice receives subscription
// failures; it may be called from the event loop and must not block.
func NewEngine(store docstore.Store, selfID string, buffer int, notice func(Notice)) *Engine {
	if buffer <= 0 {
		buffer = 256
	}
	if notice == nil {
		notice = func(Notice) {}
	}
	e := &Engine{
		store:     store,
		selfID:    selfID,
		events:    make(chan func(), buffer),
		posts:     fanin.NewTable[model.Post](),
		stories:   fanin.NewTable[model.Story](),
		profiles:  fanin.NewTable[model.User](),
		followees: make(map[string]struct{}),
		watchers:  make(map[int]chan Update),
		notice:    notice,
	}
	e.mux = fanin.NewMultiplexer(store, querySpecs(), docstore.MaxInValues,
		func(ev fanin.Event) { e.post(func() { e.applyEvent(ev) }) },
		func(kind fanin.Kind, err error) { e.post(func() { e.notice(Notice{Kind: kind, Err: err}) }) },
	)
	return e
}

// Start opens the follow-edge subscription and runs the event loop until
// ctx is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	cancelFriends, err := e.store.Subscribe(e.ctx,
		docstore.Query{Collection: model.CollFriends, Field: "from", In: []string{e.selfID}},
		func(ch docstore.Change) { e.post(func() { e.applyFriends(ch) }) },
		func(err error) { e.post(func() { e.notice(Notice{Kind: "friends", Err: err}) }) },
	)
	if err != nil {
		e.cancel()
		return err
	}
	e.cancelFriends = cancelFriends

	go e.run()
	return nil
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) run() {
	defer func() {
		e.mux.Close()
		if e.cancelFriends != nil {
			e.cancelFriends()
		}
	}()
	// The engine always covers at least itself.
	e.reconcile()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.events:
			fn()
		}
	}
}

// post enqueues a thunk onto the event loop, dropping it once the engine
// is stopped so late callbacks cannot mutate shared state.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.ctx.Done():
	}
}

func (e *Engine) applyFriends(ch docstore.Change) {
	for _, snap := range ch.Added {
		var f model.Friend
		if err := snap.Decode(&f); err != nil {
			e.notice(Notice{Kind: "friends", Err: err})
			continue
		}
		e.followees[f.To] = struct{}{}
	}
	for _, id := range ch.Removed {
		// Edge ids are "from/to". The store may surface deletions of
		// other users' edges on this stream, so only edges leaving self
		// count.
		if from, to, ok := strings.Cut(id, "/"); ok && from == e.selfID {
			delete(e.followees, to)
		}
	}
	e.reconcile()
	e.prune()
	e.recompute()
}

// prune evicts rows whose author left the identifier set; their
// subscriptions were cancelled and will never send removals.
func (e *Engine) prune() {
	covered := func(id string) bool {
		if id == e.selfID {
			return true
		}
		_, ok := e.followees[id]
		return ok
	}
	e.posts.Prune(func(_ string, p model.Post) bool { return covered(p.AuthorID) })
	e.stories.Prune(func(_ string, s model.Story) bool { return covered(s.AuthorID) })
	e.profiles.Prune(func(id string, _ model.User) bool { return covered(id) })
}

func (e *Engine) reconcile() {
	ids := make([]string, 0, len(e.followees)+1)
	ids = append(ids, e.selfID)
	for id := range e.followees {
		ids = append(ids, id)
	}
	e.mux.Reconcile(e.ctx, ids)
}

func (e *Engine) applyEvent(ev fanin.Event) {
	var err error
	switch ev.Kind {
	case fanin.KindPosts:
		err = e.posts.Apply(ev.Change)
	case fanin.KindStories:
		err = e.stories.Apply(ev.Change)
	case fanin.KindProfiles:
		err = e.profiles.Apply(ev.Change)
	}
	if err != nil {
		e.notice(Notice{Kind: ev.Kind, Err: err})
		return
	}
	e.recompute()
}

func (e *Engine) recompute() {
	u := Update{
		Feed: BuildFeed(e.posts.Rows(), e.profiles.Rows()),
		Tray: BuildStoryTray(e.stories.Rows(), e.profiles.Rows(), time.Now()),
	}
	e.mu.Lock()
	e.latest = u
	for _, ch := range e.watchers {
		// Watchers only ever need the newest update; stale ones are
		// replaced, never queued.
		select {
		case ch <- u:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- u:
			default:
			}
		}
	}
	e.mu.Unlock()
}

// Latest returns the most recently published projections.
func (e *Engine) Latest() Update {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

// Watch registers for projection updates. The returned channel carries
// the newest update only; call the cancel function when done.
func (e *Engine) Watch() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	e.mu.Lock()
	id := e.nextWatcher
	e.nextWatcher++
	e.watchers[id] = ch
	e.mu.Unlock()
	return ch, func() {
		e.mu.Lock()
		delete(e.watchers, id)
		e.mu.Unlock()
	}
}
