// Package profile handles account registration, login and profile reads.
package profile

import (
	"context"
	"errors"
	"fmt"

	"snapgram/internal/common"
	"snapgram/internal/docstore"
	"snapgram/internal/model"
)

var (
	ErrHandleTaken        = errors.New("profile: handle already taken")
	ErrInvalidCredentials = errors.New("profile: invalid handle or password")
)

// Profile is a user document plus snapshot statistics. The counts are
// aggregate reads, not part of the consistency-critical counter path.
type Profile struct {
	model.User
	PostsCount int64 `json:"posts_count"`
	Followers  int64 `json:"followers"`
	Following  int64 `json:"following"`
}

type Service struct {
	store docstore.Store
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store}
}

// Register creates an account and returns the user with a session token.
func (s *Service) Register(ctx context.Context, handle, password, bio string) (*model.User, string, error) {
	if err := common.ValidateHandle(handle); err != nil {
		return nil, "", err
	}
	if err := common.ValidatePassword(password); err != nil {
		return nil, "", err
	}

	taken, err := s.findByHandle(ctx, handle)
	if err != nil {
		return nil, "", err
	}
	if taken != nil {
		return nil, "", ErrHandleTaken
	}

	hash, err := common.HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user := &model.User{
		ID:           model.NewID(),
		Handle:       handle,
		Bio:          bio,
		PasswordHash: hash,
	}
	key := docstore.Key{Collection: model.CollUsers, ID: user.ID}
	if err := s.store.Set(ctx, key, user); err != nil {
		return nil, "", fmt.Errorf("create user: %w", err)
	}

	token, err := common.GenerateToken(user.ID, user.Handle)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login checks credentials and issues a session token.
func (s *Service) Login(ctx context.Context, handle, password string) (*model.User, string, error) {
	user, err := s.findByHandle(ctx, handle)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := common.CheckPassword(password, user.PasswordHash); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := common.GenerateToken(user.ID, user.Handle)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// GetProfile returns the user document with post and follow counts.
func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var user model.User
	key := docstore.Key{Collection: model.CollUsers, ID: userID}
	found, err := s.store.Get(ctx, key, &user)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, docstore.ErrNotFound
	}

	posts, err := s.store.Count(ctx, docstore.Query{
		Collection: model.CollPosts, Field: "authorId", In: []string{userID},
	})
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}
	following, err := s.store.Count(ctx, docstore.Query{
		Collection: model.CollFriends, Field: "from", In: []string{userID},
	})
	if err != nil {
		return nil, fmt.Errorf("count following: %w", err)
	}
	followers, err := s.store.Count(ctx, docstore.Query{
		Collection: model.CollFriends, Field: "to", In: []string{userID},
	})
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}

	return &Profile{
		User:       user,
		PostsCount: posts,
		Followers:  followers,
		Following:  following,
	}, nil
}

func (s *Service) findByHandle(ctx context.Context, handle string) (*model.User, error) {
	snaps, err := s.store.Find(ctx, docstore.Query{
		Collection: model.CollUsers, Field: "handle", In: []string{handle},
	})
	if err != nil {
		return nil, fmt.Errorf("find by handle: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	var user model.User
	if err := snaps[0].Decode(&user); err != nil {
		return nil, err
	}
	return &user, nil
}
