package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"snapgram/internal/chat"
	"snapgram/internal/common"
	"snapgram/internal/docstore"
	"snapgram/internal/model"
	"snapgram/internal/mutate"
	"snapgram/internal/profile"
)

type credentialsRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
	Bio      string `json:"bio,omitempty"`
}

type authResponse struct {
	User  *model.User `json:"user"`
	Token string      `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, token, err := s.profiles.Register(r.Context(), req.Handle, req.Password, req.Bio)
	if err != nil {
		if errors.Is(err, profile.ErrHandleTaken) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{User: user, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, token, err := s.profiles.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		if errors.Is(err, profile.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{User: user, Token: token})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, ref.engine.Latest().Feed)
}

func (s *Server) handleStoryTray(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	ref, err := s.engineFor(claims.UserID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "live stories unavailable")
		return
	}
	writeJSON(w, http.StatusOK, ref.engine.Latest().Tray)
}

type createPostRequest struct {
	MediaURL  string `json:"media_url"`
	MediaType string `json:"media_type"`
	Caption   string `json:"caption"`
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req createPostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := common.ValidateCaption(req.Caption); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// The author fields ride along denormalized so followers' feeds can
	// render the post before their profile fan-in catches up.
	var author model.User
	found, err := s.store.Get(r.Context(), docstore.Key{Collection: model.CollUsers, ID: claims.UserID}, &author)
	if err != nil || !found {
		author = model.User{ID: claims.UserID, Handle: claims.Handle}
	}

	post, err := s.mutator.CreatePost(r.Context(), author, req.MediaURL, req.MediaType, req.Caption)
	if err != nil {
		if errors.Is(err, mutate.ErrMissingMedia) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "create post failed")
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := s.mutator.DeletePost(r.Context(), mux.Vars(r)["id"], claims.UserID); err != nil {
		if errors.Is(err, mutate.ErrNotAuthor) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "delete post failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleLike(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	liked, err := s.mutator.ToggleLike(r.Context(), mux.Vars(r)["id"], claims.UserID)
	if err != nil {
		// Racing a concurrent post deletion is not an error for the
		// caller: the next fan-in event removes the post anyway.
		if errors.Is(err, docstore.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]bool{"liked": false})
			return
		}
		writeError(w, http.StatusConflict, "like failed, please retry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"liked": liked})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	comment, err := s.mutator.AddComment(r.Context(), mux.Vars(r)["id"], claims.UserID, req.Text)
	if err != nil {
		if errors.Is(err, mutate.ErrEmptyComment) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post is gone")
			return
		}
		writeError(w, http.StatusConflict, "comment failed, please retry")
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	postID := mux.Vars(r)["id"]
	snaps, err := s.store.Find(r.Context(), docstore.Query{
		Collection: model.CollComments, Field: "postId", In: []string{postID},
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "comments unavailable")
		return
	}
	comments := make([]model.Comment, 0, len(snaps))
	for _, snap := range snaps {
		var c model.Comment
		if err := snap.Decode(&c); err != nil {
			continue
		}
		comments = append(comments, c)
	}
	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.Before(comments[j].CreatedAt)
		}
		return comments[i].ID < comments[j].ID
	})
	writeJSON(w, http.StatusOK, comments)
}

type createStoryRequest struct {
	ImageURL string `json:"image_url"`
	Caption  string `json:"caption"`
}

func (s *Server) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req createStoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	story, err := s.mutator.CreateStory(r.Context(), claims.UserID, req.ImageURL, req.Caption)
	if err != nil {
		if errors.Is(err, mutate.ErrMissingMedia) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "create story failed")
		return
	}
	writeJSON(w, http.StatusCreated, story)
}

func (s *Server) handleDeleteStory(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	if err := s.mutator.DeleteStory(r.Context(), mux.Vars(r)["id"], claims.UserID); err != nil {
		if errors.Is(err, mutate.ErrNotAuthor) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, "delete story failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	target := mux.Vars(r)["id"]
	if target == claims.UserID {
		writeError(w, http.StatusBadRequest, "cannot follow yourself")
		return
	}
	if err := s.mutator.Follow(r.Context(), claims.UserID, target); err != nil {
		writeError(w, http.StatusBadGateway, "follow failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.GetProfile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such user")
			return
		}
		writeError(w, http.StatusBadGateway, "profile unavailable")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleChatGate(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	sess, err := s.sessionFor(claims.UserID, mux.Vars(r)["peer"])
	if err != nil {
		writeError(w, http.StatusBadGateway, "chat unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"open": sess.CanCompose()})
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	msgs, err := chat.History(r.Context(), s.store, claims.UserID, mux.Vars(r)["peer"])
	if err != nil {
		writeError(w, http.StatusBadGateway, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	claims, ok := common.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.sessionFor(claims.UserID, mux.Vars(r)["peer"])
	if err != nil {
		writeError(w, http.StatusBadGateway, "chat unavailable")
		return
	}
	msg, err := sess.Send(r.Context(), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, chat.ErrChannelClosed):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeError(w, http.StatusBadGateway, "send failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
