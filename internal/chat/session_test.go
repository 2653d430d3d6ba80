package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapgram/internal/docstore"
)

func TestSession_ComposeGatedOnMutualFollow(t *testing.T) {
	store := docstore.NewMemStore()
	ctx := context.Background()

	// A follows B; B has not followed back: compose stays disabled.
	edge(t, store, "alice", "bob")

	var gateStates []bool
	sess, err := OpenSession(ctx, store, "alice", "bob",
		func(open bool) { gateStates = append(gateStates, open) }, nil)
	require.NoError(t, err)
	defer sess.Close()

	assert.False(t, sess.CanCompose())
	_, err = sess.Send(ctx, "hey")
	assert.ErrorIs(t, err, ErrChannelClosed)

	// B follows back: compose enables live, no reload of anything.
	edge(t, store, "bob", "alice")
	assert.True(t, sess.CanCompose())
	assert.Equal(t, []bool{true}, gateStates)

	msg, err := sess.Send(ctx, "hey")
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "hey", msg.Text)
}

func TestSession_RejectsBlankTextLocally(t *testing.T) {
	store := docstore.NewMemStore()
	edge(t, store, "alice", "bob")
	edge(t, store, "bob", "alice")

	sess, err := OpenSession(context.Background(), store, "alice", "bob", nil, nil)
	require.NoError(t, err)
	defer sess.Close()

	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := sess.Send(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}

	// Nothing reached the store.
	msgs, err := History(context.Background(), store, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSession_MessagesStreamInOrdered(t *testing.T) {
	store := docstore.NewMemStore()
	ctx := context.Background()
	edge(t, store, "alice", "bob")
	edge(t, store, "bob", "alice")

	var updates int
	alice, err := OpenSession(ctx, store, "alice", "bob", nil, func() { updates++ })
	require.NoError(t, err)
	defer alice.Close()

	bob, err := OpenSession(ctx, store, "bob", "alice", nil, nil)
	require.NoError(t, err)
	defer bob.Close()

	_, err = alice.Send(ctx, "one")
	require.NoError(t, err)
	_, err = bob.Send(ctx, "two")
	require.NoError(t, err)
	_, err = alice.Send(ctx, "three")
	require.NoError(t, err)

	// Both sides converge on the same ordered conversation.
	for _, sess := range []*Session{alice, bob} {
		msgs := sess.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, "one", msgs[0].Text)
		assert.Equal(t, "two", msgs[1].Text)
		assert.Equal(t, "three", msgs[2].Text)
	}
	assert.GreaterOrEqual(t, updates, 3)
}

func TestSession_HistoryStaysVisibleAfterGateCloses(t *testing.T) {
	store := docstore.NewMemStore()
	ctx := context.Background()
	edge(t, store, "alice", "bob")
	edge(t, store, "bob", "alice")

	sess, err := OpenSession(ctx, store, "alice", "bob", nil, nil)
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Send(ctx, "before the fallout")
	require.NoError(t, err)

	// The relationship breaks: composing stops, history does not.
	dropEdge(t, store, "bob", "alice")
	require.False(t, sess.CanCompose())

	_, err = sess.Send(ctx, "after")
	assert.ErrorIs(t, err, ErrChannelClosed)

	msgs := sess.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "before the fallout", msgs[0].Text)

	history, err := History(ctx, store, "alice", "bob")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHistory_OrderIndependentPairKey(t *testing.T) {
	store := docstore.NewMemStore()
	ctx := context.Background()
	edge(t, store, "alice", "bob")
	edge(t, store, "bob", "alice")

	sess, err := OpenSession(ctx, store, "bob", "alice", nil, nil)
	require.NoError(t, err)
	defer sess.Close()
	_, err = sess.Send(ctx, "hello")
	require.NoError(t, err)

	// Either side's view of the pair addresses the same conversation.
	fromAlice, err := History(ctx, store, "alice", "bob")
	require.NoError(t, err)
	fromBob, err := History(ctx, store, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, fromAlice, fromBob)
	require.Len(t, fromAlice, 1)
}
