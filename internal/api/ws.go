package api

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"snapgram/internal/common"
	"snapgram/internal/feed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API authenticates with bearer tokens, not cookies, so cross
	// origin upgrades carry no ambient credentials.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsMessage struct {
	Type string `json:"type"` // update | notice

	Feed []feed.Item      `json:"feed,omitempty"`
	Tray []feed.TrayGroup `json:"tray,omitempty"`

	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleWS streams every projection recompute to the client. The UI just
// renders the last frame it received.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	ref, err := s.engineFor(claims.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "live feed unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed for %s: %v", claims.UserID, err)
		return
	}
	defer conn.Close()

	updates, cancel := ref.engine.Watch()
	defer cancel()

	// The read side only exists to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg wsMessage) bool {
		if err := conn.WriteJSON(msg); err != nil {
			return false
		}
		return true
	}

	latest := ref.engine.Latest()
	if !send(wsMessage{Type: "update", Feed: latest.Feed, Tray: latest.Tray}) {
		return
	}

	for {
		select {
		case <-done:
			return
		case u := <-updates:
			if !send(wsMessage{Type: "update", Feed: u.Feed, Tray: u.Tray}) {
				return
			}
		case n := <-ref.notices:
			if !send(wsMessage{Type: "notice", Kind: string(n.Kind), Error: n.Err.Error()}) {
				return
			}
		}
	}
}
