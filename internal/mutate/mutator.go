// Package mutate is the only write path for consistency-relevant state:
// counter-coupled transactions (likes, comments), follow edges, and the
// author-owned content documents.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"snapgram/internal/docstore"
	"snapgram/internal/model"
)

var (
	// ErrEmptyComment rejects whitespace-only comment text locally,
	// before any store round trip.
	ErrEmptyComment = errors.New("mutate: comment text cannot be empty")

	// ErrMissingMedia rejects a post without a media reference locally.
	ErrMissingMedia = errors.New("mutate: post requires a media reference")

	// ErrNotAuthor rejects a delete by anyone but the document's author.
	ErrNotAuthor = errors.New("mutate: only the author can delete this")
)

type Mutator struct {
	store docstore.Store
}

func NewMutator(store docstore.Store) *Mutator {
	return &Mutator{store: store}
}

// ToggleLike flips the user's like on a post inside one transaction: the
// existence check, the edge write and the likesCount delta commit as a
// unit, so the edge and the counter can never disagree. The store's own
// conflict retry makes a concurrent double toggle converge instead of
// double-applying. Returns whether the post ends up liked.
//
// Toggling a post that was deleted underneath resolves to a benign
// abort carrying docstore.ErrNotFound; callers treat it as a no-op.
func (m *Mutator) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	likeKey := docstore.Key{Collection: model.CollLikes, ID: model.LikeID(postID, userID)}
	postKey := docstore.Key{Collection: model.CollPosts, ID: postID}

	var liked bool
	err := m.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		var like model.Like
		exists, err := tx.Get(likeKey, &like)
		if err != nil {
			return err
		}
		if exists {
			if err := tx.Delete(likeKey); err != nil {
				return err
			}
			if err := tx.Increment(postKey, "likesCount", -1); err != nil {
				return err
			}
			liked = false
			return nil
		}
		if err := tx.Set(likeKey, &model.Like{
			ID:        likeKey.ID,
			PostID:    postID,
			UserID:    userID,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		if err := tx.Increment(postKey, "likesCount", 1); err != nil {
			return err
		}
		liked = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("toggle like %s: %w", postID, err)
	}
	return liked, nil
}

// AddComment appends a comment and bumps commentsCount in the same
// transaction. Text empty after trimming is rejected before the store is
// touched.
func (m *Mutator) AddComment(ctx context.Context, postID, authorID, text string) (*model.Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyComment
	}

	comment := &model.Comment{
		ID:        model.NewID(),
		PostID:    postID,
		AuthorID:  authorID,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	postKey := docstore.Key{Collection: model.CollPosts, ID: postID}

	err := m.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		if err := tx.Set(docstore.Key{Collection: model.CollComments, ID: comment.ID}, comment); err != nil {
			return err
		}
		return tx.Increment(postKey, "commentsCount", 1)
	})
	if err != nil {
		return nil, fmt.Errorf("add comment %s: %w", postID, err)
	}
	return comment, nil
}

// Follow writes the one-directional edge from → to. Idempotent: the edge
// id is deterministic, so a repeat follow overwrites the same document.
func (m *Mutator) Follow(ctx context.Context, from, to string) error {
	edge := &model.Friend{
		ID:        model.FriendID(from, to),
		From:      from,
		To:        to,
		CreatedAt: time.Now().UTC(),
	}
	key := docstore.Key{Collection: model.CollFriends, ID: edge.ID}
	if err := m.store.Set(ctx, key, edge); err != nil {
		return fmt.Errorf("follow %s: %w", to, err)
	}
	return nil
}

// CreatePost writes a new post with zeroed counters and the author's
// current handle and photo denormalized for feed fallback.
func (m *Mutator) CreatePost(ctx context.Context, author model.User, mediaURL, mediaType, caption string) (*model.Post, error) {
	if strings.TrimSpace(mediaURL) == "" {
		return nil, ErrMissingMedia
	}
	post := &model.Post{
		ID:             model.NewID(),
		AuthorID:       author.ID,
		AuthorHandle:   author.Handle,
		AuthorPhotoURL: author.PhotoURL,
		MediaURL:       mediaURL,
		MediaType:      mediaType,
		Caption:        caption,
		CreatedAt:      time.Now().UTC(),
	}
	key := docstore.Key{Collection: model.CollPosts, ID: post.ID}
	if err := m.store.Set(ctx, key, post); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return post, nil
}

// CreateStory writes a story stamped with the standard validity window.
// Nothing ever deletes it at expiry; readers filter on expiresAt.
func (m *Mutator) CreateStory(ctx context.Context, authorID, imageURL, caption string) (*model.Story, error) {
	if strings.TrimSpace(imageURL) == "" {
		return nil, ErrMissingMedia
	}
	now := time.Now().UTC()
	story := &model.Story{
		ID:        model.NewID(),
		AuthorID:  authorID,
		ImageURL:  imageURL,
		Caption:   caption,
		CreatedAt: now,
		ExpiresAt: now.Add(model.StoryTTL),
	}
	key := docstore.Key{Collection: model.CollStories, ID: story.ID}
	if err := m.store.Set(ctx, key, story); err != nil {
		return nil, fmt.Errorf("create story: %w", err)
	}
	return story, nil
}

// DeletePost removes the author's own post. Deleting an already-gone
// post is a no-op.
func (m *Mutator) DeletePost(ctx context.Context, postID, requesterID string) error {
	key := docstore.Key{Collection: model.CollPosts, ID: postID}
	var post model.Post
	found, err := m.store.Get(ctx, key, &post)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if post.AuthorID != requesterID {
		return fmt.Errorf("delete post %s: %w", postID, ErrNotAuthor)
	}
	return m.store.Delete(ctx, key)
}

// DeleteStory removes the author's own story ahead of its expiry.
func (m *Mutator) DeleteStory(ctx context.Context, storyID, requesterID string) error {
	key := docstore.Key{Collection: model.CollStories, ID: storyID}
	var story model.Story
	found, err := m.store.Get(ctx, key, &story)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if story.AuthorID != requesterID {
		return fmt.Errorf("delete story %s: %w", storyID, ErrNotAuthor)
	}
	return m.store.Delete(ctx, key)
}
