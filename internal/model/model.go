package model

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Collection names in the document store. Subcollection paths from the
// mobile client (users/{a}/friends/{b}, posts/{p}/likes/{u}) are flattened
// into these collections with a composite document id.
const (
	CollUsers    = "users"
	CollFriends  = "friends"
	CollPosts    = "posts"
	CollLikes    = "likes"
	CollComments = "comments"
	CollStories  = "stories"
	CollMessages = "messages"
)

// StoryTTL is the validity window stamped onto a story at creation.
const StoryTTL = 24 * time.Hour

// NewID returns a new document id. ULIDs sort by creation time, so the
// feed's id-ascending tie break is stable across devices.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

type User struct {
	ID           string `bson:"_id" json:"id"`
	Handle       string `bson:"handle" json:"handle"`
	PhotoURL     string `bson:"photoUrl" json:"photo_url"`
	Bio          string `bson:"bio" json:"bio"`
	PasswordHash string `bson:"passwordHash" json:"-"`
}

// Friend is a one-directional follow edge. Its presence is the whole fact;
// nothing on it is ever mutated.
type Friend struct {
	ID        string    `bson:"_id" json:"id"`
	From      string    `bson:"from" json:"from"`
	To        string    `bson:"to" json:"to"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// FriendID builds the composite id for the from→to edge.
func FriendID(from, to string) string {
	return from + "/" + to
}

type Post struct {
	ID       string `bson:"_id" json:"id"`
	AuthorID string `bson:"authorId" json:"author_id"`

	// Denormalized author fields written with the post. The feed falls
	// back to these until the profile fan-in delivers the live document.
	AuthorHandle   string `bson:"authorHandle" json:"author_handle"`
	AuthorPhotoURL string `bson:"authorPhotoUrl" json:"author_photo_url"`

	MediaURL      string    `bson:"mediaUrl" json:"media_url"`
	MediaType     string    `bson:"mediaType" json:"media_type"`
	Caption       string    `bson:"caption" json:"caption"`
	CreatedAt     time.Time `bson:"createdAt" json:"created_at"`
	LikesCount    int64     `bson:"likesCount" json:"likes_count"`
	CommentsCount int64     `bson:"commentsCount" json:"comments_count"`
}

// Like is an existence-only edge under a post. Its presence must always
// agree with the +1 already folded into the post's likesCount, which is
// why it is only ever written inside a counter transaction.
type Like struct {
	ID        string    `bson:"_id" json:"id"`
	PostID    string    `bson:"postId" json:"post_id"`
	UserID    string    `bson:"userId" json:"user_id"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// LikeID builds the composite id for the (post, user) pair.
func LikeID(postID, userID string) string {
	return postID + "/" + userID
}

type Comment struct {
	ID        string    `bson:"_id" json:"id"`
	PostID    string    `bson:"postId" json:"post_id"`
	AuthorID  string    `bson:"authorId" json:"author_id"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

type Story struct {
	ID        string    `bson:"_id" json:"id"`
	AuthorID  string    `bson:"authorId" json:"author_id"`
	ImageURL  string    `bson:"imageUrl" json:"image_url"`
	Caption   string    `bson:"caption" json:"caption"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	ExpiresAt time.Time `bson:"expiresAt" json:"expires_at"`
}

// Expired reports whether the story is past its window at the given
// instant. Expiry is a read-time filter; nothing deletes the document.
func (s Story) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

type Message struct {
	ID        string    `bson:"_id" json:"id"`
	ChatID    string    `bson:"chatId" json:"chat_id"`
	SenderID  string    `bson:"senderId" json:"sender_id"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
}

// ChatID returns the order-independent pair key for a two-user chat, so
// both sides address the same message collection.
func ChatID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "_" + b
}
