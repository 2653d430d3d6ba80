// Package api exposes the aggregation core over HTTP and WebSocket.
package api

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"snapgram/internal/chat"
	"snapgram/internal/common"
	"snapgram/internal/config"
	"snapgram/internal/docstore"
	"snapgram/internal/feed"
	"snapgram/internal/mutate"
	"snapgram/internal/profile"
)

// Server holds the per-user live engines and chat sessions behind the
// HTTP API. Engines start lazily on the first read for a user and live
// until Shutdown.
type Server struct {
	store    docstore.Store
	profiles *profile.Service
	mutator  *mutate.Mutator
	buffer   int

	mu       sync.Mutex
	engines  map[string]*engineRef
	sessions map[string]*chat.Session
}

type engineRef struct {
	engine  *feed.Engine
	notices chan feed.Notice
}

func NewServer(cfg *config.Config, store docstore.Store, profiles *profile.Service, mutator *mutate.Mutator) *Server {
	return &Server{
		store:    store,
		profiles: profiles,
		mutator:  mutator,
		buffer:   cfg.Sync.EventBuffer,
		engines:  make(map[string]*engineRef),
		sessions: make(map[string]*chat.Session),
	}
}

// Router wires every endpoint. Register and login are public; the rest
// sits behind the bearer-token middleware.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/register", s.handleRegister).Methods("POST")
	router.HandleFunc("/login", s.handleLogin).Methods("POST")
	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	authed := router.NewRoute().Subrouter()
	authed.Use(common.AuthMiddleware)

	authed.HandleFunc("/feed", s.handleFeed).Methods("GET")
	authed.HandleFunc("/stories", s.handleStoryTray).Methods("GET")
	authed.HandleFunc("/ws", s.handleWS).Methods("GET")

	authed.HandleFunc("/posts", s.handleCreatePost).Methods("POST")
	authed.HandleFunc("/posts/{id}", s.handleDeletePost).Methods("DELETE")
	authed.HandleFunc("/posts/{id}/like", s.handleToggleLike).Methods("POST")
	authed.HandleFunc("/posts/{id}/comments", s.handleAddComment).Methods("POST")
	authed.HandleFunc("/posts/{id}/comments", s.handleListComments).Methods("GET")

	authed.HandleFunc("/stories", s.handleCreateStory).Methods("POST")
	authed.HandleFunc("/stories/{id}", s.handleDeleteStory).Methods("DELETE")

	authed.HandleFunc("/friends/{id}", s.handleFollow).Methods("POST")
	authed.HandleFunc("/profile/{id}", s.handleGetProfile).Methods("GET")

	authed.HandleFunc("/chat/{peer}/gate", s.handleChatGate).Methods("GET")
	authed.HandleFunc("/chat/{peer}/messages", s.handleChatHistory).Methods("GET")
	authed.HandleFunc("/chat/{peer}/messages", s.handleChatSend).Methods("POST")

	return router
}

// engineFor returns the live engine for a user, starting one on first
// use.
func (s *Server) engineFor(userID string) (*engineRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.engines[userID]; ok {
		return ref, nil
	}

	ref := &engineRef{notices: make(chan feed.Notice, 16)}
	ref.engine = feed.NewEngine(s.store, userID, s.buffer, func(n feed.Notice) {
		log.Printf("subscription notice for %s (%s): %v", userID, n.Kind, n.Err)
		// Keep the newest notices; a slow websocket must not stall the
		// engine loop.
		select {
		case ref.notices <- n:
		default:
			select {
			case <-ref.notices:
			default:
			}
			select {
			case ref.notices <- n:
			default:
			}
		}
	})
	if err := ref.engine.Start(context.Background()); err != nil {
		return nil, err
	}
	s.engines[userID] = ref
	return ref, nil
}

// sessionFor returns the chat session between self and peer, opening it
// on first use.
func (s *Server) sessionFor(self, peer string) (*chat.Session, error) {
	key := self + "|" + peer
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		return sess, nil
	}
	sess, err := chat.OpenSession(context.Background(), s.store, self, peer, nil, nil)
	if err != nil {
		return nil, err
	}
	s.sessions[key] = sess
	return sess, nil
}

// Shutdown stops every engine and session.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ref := range s.engines {
		ref.engine.Stop()
		delete(s.engines, id)
	}
	for key, sess := range s.sessions {
		sess.Close()
		delete(s.sessions, key)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
