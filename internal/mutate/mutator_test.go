package mutate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgram/internal/docstore"
	"snapgram/internal/model"
)

func newPost(t *testing.T, store docstore.Store, id, authorID string) {
	t.Helper()
	require.NoError(t, store.Set(context.Background(),
		docstore.Key{Collection: model.CollPosts, ID: id},
		model.Post{ID: id, AuthorID: authorID, MediaURL: "m.jpg", CreatedAt: time.Now()}))
}

func getPost(t *testing.T, store docstore.Store, id string) model.Post {
	t.Helper()
	var p model.Post
	found, err := store.Get(context.Background(),
		docstore.Key{Collection: model.CollPosts, ID: id}, &p)
	require.NoError(t, err)
	require.True(t, found)
	return p
}

func likeExists(t *testing.T, store docstore.Store, postID, userID string) bool {
	t.Helper()
	var l model.Like
	found, err := store.Get(context.Background(),
		docstore.Key{Collection: model.CollLikes, ID: model.LikeID(postID, userID)}, &l)
	require.NoError(t, err)
	return found
}

func TestToggleLike_EdgeAndCounterMoveTogether(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	newPost(t, store, "p1", "author")

	liked, err := m.ToggleLike(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, int64(1), getPost(t, store, "p1").LikesCount)
	assert.True(t, likeExists(t, store, "p1", "u1"))

	liked, err = m.ToggleLike(context.Background(), "p1", "u1")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(0), getPost(t, store, "p1").LikesCount)
	assert.False(t, likeExists(t, store, "p1", "u1"))
}

// Toggling twice is the identity: likesCount and edge existence end where
// they started.
func TestToggleLike_IsItsOwnInverse(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	newPost(t, store, "p1", "author")

	for i := 0; i < 3; i++ {
		_, err := m.ToggleLike(context.Background(), "p1", "u1")
		require.NoError(t, err)
		_, err = m.ToggleLike(context.Background(), "p1", "u1")
		require.NoError(t, err)

		assert.Equal(t, int64(0), getPost(t, store, "p1").LikesCount)
		assert.False(t, likeExists(t, store, "p1", "u1"))
	}
}

// The end-to-end counter scenario: U likes, V likes, U unlikes.
func TestToggleLike_TwoUsersInterleaved(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	ctx := context.Background()
	newPost(t, store, "p1", "author")

	_, err := m.ToggleLike(ctx, "p1", "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), getPost(t, store, "p1").LikesCount)

	_, err = m.ToggleLike(ctx, "p1", "v")
	require.NoError(t, err)
	assert.Equal(t, int64(2), getPost(t, store, "p1").LikesCount)

	liked, err := m.ToggleLike(ctx, "p1", "u")
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, int64(1), getPost(t, store, "p1").LikesCount)
	assert.False(t, likeExists(t, store, "p1", "u"))
	assert.True(t, likeExists(t, store, "p1", "v"))
}

func TestToggleLike_ConcurrentTogglesSerialize(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	newPost(t, store, "p1", "author")

	const users = 8
	done := make(chan error, users)
	for i := 0; i < users; i++ {
		userID := string(rune('a' + i))
		go func() {
			_, err := m.ToggleLike(context.Background(), "p1", userID)
			done <- err
		}()
	}
	for i := 0; i < users; i++ {
		require.NoError(t, <-done)
	}

	// Every toggle applied exactly one +1: the counter always equals
	// the number of existing like edges.
	p := getPost(t, store, "p1")
	assert.Equal(t, int64(users), p.LikesCount)
	for i := 0; i < users; i++ {
		assert.True(t, likeExists(t, store, "p1", string(rune('a'+i))))
	}
}

func TestToggleLike_DeletedPostIsBenign(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)

	_, err := m.ToggleLike(context.Background(), "gone", "u1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	// The aborted transaction left nothing behind.
	assert.False(t, likeExists(t, store, "gone", "u1"))
}

func TestAddComment_PairsDocumentWithCounter(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	ctx := context.Background()
	newPost(t, store, "p1", "author")

	c1, err := m.AddComment(ctx, "p1", "u1", "first!")
	require.NoError(t, err)
	assert.Equal(t, int64(1), getPost(t, store, "p1").CommentsCount)

	c2, err := m.AddComment(ctx, "p1", "u2", "second")
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID, c2.ID)
	assert.Equal(t, int64(2), getPost(t, store, "p1").CommentsCount)

	n, err := store.Count(ctx, docstore.Query{
		Collection: model.CollComments, Field: "postId", In: []string{"p1"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "commentsCount must equal the comment documents")
}

func TestAddComment_RejectsBlankTextBeforeStore(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	ctx := context.Background()
	newPost(t, store, "p1", "author")

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := m.AddComment(ctx, "p1", "u1", text)
		assert.ErrorIs(t, err, ErrEmptyComment)
	}

	assert.Equal(t, int64(0), getPost(t, store, "p1").CommentsCount)
	n, err := store.Count(ctx, docstore.Query{
		Collection: model.CollComments, Field: "postId", In: []string{"p1"},
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddComment_DeletedPostAborts(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)

	_, err := m.AddComment(context.Background(), "gone", "u1", "hello?")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	n, err := store.Count(context.Background(), docstore.Query{
		Collection: model.CollComments, Field: "postId", In: []string{"gone"},
	})
	require.NoError(t, err)
	assert.Zero(t, n, "no orphan comment without its counter delta")
}

func TestFollow_WritesDeterministicEdge(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	ctx := context.Background()

	require.NoError(t, m.Follow(ctx, "alice", "bob"))
	require.NoError(t, m.Follow(ctx, "alice", "bob")) // idempotent

	n, err := store.Count(ctx, docstore.Query{
		Collection: model.CollFriends, Field: "from", In: []string{"alice"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var edge model.Friend
	found, err := store.Get(ctx,
		docstore.Key{Collection: model.CollFriends, ID: model.FriendID("alice", "bob")}, &edge)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", edge.From)
	assert.Equal(t, "bob", edge.To)
}

func TestCreatePost_RequiresMedia(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)

	_, err := m.CreatePost(context.Background(), model.User{ID: "u1"}, "  ", "image", "caption")
	assert.ErrorIs(t, err, ErrMissingMedia)

	n, _ := store.Count(context.Background(), docstore.Query{Collection: model.CollPosts})
	assert.Zero(t, n)
}

func TestCreatePost_DenormalizesAuthor(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)

	author := model.User{ID: "u1", Handle: "poster", PhotoURL: "me.jpg"}
	post, err := m.CreatePost(context.Background(), author, "pic.jpg", "image", "hello")
	require.NoError(t, err)

	stored := getPost(t, store, post.ID)
	assert.Equal(t, "poster", stored.AuthorHandle)
	assert.Equal(t, "me.jpg", stored.AuthorPhotoURL)
	assert.Zero(t, stored.LikesCount)
	assert.Zero(t, stored.CommentsCount)
}

func TestCreateStory_StampsExpiryWindow(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)

	story, err := m.CreateStory(context.Background(), "u1", "s.jpg", "")
	require.NoError(t, err)
	assert.Equal(t, model.StoryTTL, story.ExpiresAt.Sub(story.CreatedAt))
	assert.False(t, story.Expired(story.CreatedAt.Add(model.StoryTTL-time.Second)))
	assert.True(t, story.Expired(story.CreatedAt.Add(model.StoryTTL)))
}

func TestDeletePost_OnlyAuthorAndGoneIsNoOp(t *testing.T) {
	store := docstore.NewMemStore()
	m := NewMutator(store)
	ctx := context.Background()
	newPost(t, store, "p1", "author")

	assert.ErrorIs(t, m.DeletePost(ctx, "p1", "intruder"), ErrNotAuthor)
	require.NoError(t, m.DeletePost(ctx, "p1", "author"))

	// Deleting what is already gone resolves quietly.
	assert.NoError(t, m.DeletePost(ctx, "p1", "author"))
}
