package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"snapgram/internal/docstore"
	"snapgram/internal/fanin"
	"snapgram/internal/model"
)

var (
	// ErrChannelClosed rejects composition while the mutual gate is shut.
	ErrChannelClosed = errors.New("chat: channel requires a mutual follow")

	// ErrEmptyMessage rejects blank input before any store round trip.
	ErrEmptyMessage = errors.New("chat: message text cannot be empty")
)

// Session is one open conversation between self and peer: a live message
// view plus the mutual gate that controls composing. History stays
// readable whatever the gate says; only sending is gated.
type Session struct {
	store  docstore.Store
	self   string
	peer   string
	chatID string

	gate *GateWatcher

	mu       sync.Mutex
	msgs     *fanin.Table[model.Message]
	onUpdate func()

	cancelMsgs docstore.CancelFunc
}

// OpenSession subscribes to the conversation and both gate edges.
// onGate reports compose-enable flips; onUpdate fires after every message
// delivery. Either may be nil.
func OpenSession(ctx context.Context, store docstore.Store, self, peer string, onGate func(bool), onUpdate func()) (*Session, error) {
	s := &Session{
		store:    store,
		self:     self,
		peer:     peer,
		chatID:   model.ChatID(self, peer),
		msgs:     fanin.NewTable[model.Message](),
		onUpdate: onUpdate,
	}

	gate, err := WatchGate(ctx, store, self, peer, onGate)
	if err != nil {
		return nil, fmt.Errorf("watch gate %s: %w", s.chatID, err)
	}
	s.gate = gate

	cancelMsgs, err := store.Subscribe(ctx,
		docstore.Query{Collection: model.CollMessages, Field: "chatId", In: []string{s.chatID}},
		s.applyMessages,
		func(error) {},
	)
	if err != nil {
		gate.Close()
		return nil, fmt.Errorf("subscribe messages %s: %w", s.chatID, err)
	}
	s.cancelMsgs = cancelMsgs
	return s, nil
}

func (s *Session) applyMessages(ch docstore.Change) {
	s.mu.Lock()
	err := s.msgs.Apply(ch)
	cb := s.onUpdate
	s.mu.Unlock()
	if err == nil && cb != nil {
		cb()
	}
}

// CanCompose reports whether sending is currently allowed.
func (s *Session) CanCompose() bool {
	return s.gate.Open()
}

// Send validates and writes one message. The gate is checked locally at
// call time; a closed channel never reaches the store.
func (s *Session) Send(ctx context.Context, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if !s.gate.Open() {
		return nil, ErrChannelClosed
	}

	msg := &model.Message{
		ID:        model.NewID(),
		ChatID:    s.chatID,
		SenderID:  s.self,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	key := docstore.Key{Collection: model.CollMessages, ID: msg.ID}
	if err := s.store.Set(ctx, key, msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Messages returns the conversation so far, oldest first.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	out := make([]model.Message, 0, s.msgs.Len())
	for _, m := range s.msgs.Rows() {
		out = append(out, m)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Session) Close() {
	s.gate.Close()
	if s.cancelMsgs != nil {
		s.cancelMsgs()
	}
}

// History fetches the conversation between two users without opening a
// session, oldest first. Used by the one-shot HTTP read.
func History(ctx context.Context, store docstore.Store, self, peer string) ([]model.Message, error) {
	snaps, err := store.Find(ctx, docstore.Query{
		Collection: model.CollMessages,
		Field:      "chatId",
		In:         []string{model.ChatID(self, peer)},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	out := make([]model.Message, 0, len(snaps))
	for _, snap := range snaps {
		var m model.Message
		if err := snap.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
