package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayersdecker/gameplan/internal/keystore"
	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/securestore"
)

type fixture struct {
	convs *memConversationRepo
	msgs  *memMessageRepo
	keys  *memKeyRepo
	svc   *Service
}

// newFixture wires the service against in-memory repositories and a real
// key store / cipher, so the scenarios exercise the full encrypt-on-send
// decrypt-on-read path.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	convs := newMemConversationRepo()
	msgs := newMemMessageRepo()
	keys := newMemKeyRepo()
	ks := keystore.NewService(securestore.NewMemoryStore(), keys, convs, zerolog.Nop())
	svc := NewService(convs, msgs, ks, NewHub(), zerolog.Nop())
	return &fixture{convs: convs, msgs: msgs, keys: keys, svc: svc}
}

func TestHappyPathScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.FindConversation(ctx, "alice", "bob")
	require.ErrorIs(t, err, ErrConversationNotFound)

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)

	found, err := f.svc.FindConversation(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, convID, found)

	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "hi", "alice"))

	// Bob resolves the same key Alice used and reads the plaintext.
	bobView, err := f.svc.Messages(ctx, convID, "bob")
	require.NoError(t, err)
	require.Len(t, bobView, 1)
	assert.Equal(t, "hi", bobView[0].Text)
	assert.Equal(t, "alice", bobView[0].SenderID)
	assert.False(t, bobView[0].Read)
}

func TestKeyStabilityAcrossParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)

	aliceKey, err := f.keys.GetUserKey(ctx, convID, "alice")
	require.NoError(t, err)
	bobKey, err := f.keys.GetUserKey(ctx, convID, "bob")
	require.NoError(t, err)
	assert.Equal(t, aliceKey, bobKey, "both participants must hold the identical key value")
}

func TestUnreadAccounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "ping", "alice"))
	}
	assert.Equal(t, n, f.convs.unreadFor(convID, "bob"))
	assert.Equal(t, 0, f.convs.unreadFor(convID, "alice"))

	require.NoError(t, f.svc.MarkMessagesAsRead(ctx, convID, "bob"))
	assert.Equal(t, 0, f.convs.unreadFor(convID, "bob"))

	stored, err := f.msgs.ListMessages(ctx, convID)
	require.NoError(t, err)
	require.Len(t, stored, n)
	for _, msg := range stored {
		assert.True(t, msg.Read, "message %s should be flagged read", msg.ID)
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)
	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "from alice", "alice"))
	require.NoError(t, f.svc.SendMessage(ctx, convID, "bob", "from bob", "bob"))

	// Alice's sweep flips only Bob's message.
	require.NoError(t, f.svc.MarkMessagesAsRead(ctx, convID, "alice"))

	stored, err := f.msgs.ListMessages(ctx, convID)
	require.NoError(t, err)
	for _, msg := range stored {
		if msg.SenderID == "bob" {
			assert.True(t, msg.Read)
		} else {
			assert.False(t, msg.Read)
		}
	}
}

func TestTamperedMessageDroppedFromSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)
	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "first", "alice"))
	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "second", "alice"))
	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "third", "alice"))

	f.msgs.corrupt(convID, 1)

	var last []models.DecryptedMessage
	unsubscribe, err := f.svc.SubscribeToMessages(ctx, convID, "bob", func(msgs []models.DecryptedMessage) {
		last = msgs
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.Len(t, last, 2, "corrupted message must be omitted, others kept")
	assert.Equal(t, "first", last[0].Text)
	assert.Equal(t, "third", last[1].Text)
}

func TestSubscriptionDeliversOnSendAndStopsAfterUnsubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)

	var deliveries [][]models.DecryptedMessage
	unsubscribe, err := f.svc.SubscribeToMessages(ctx, convID, "bob", func(msgs []models.DecryptedMessage) {
		deliveries = append(deliveries, msgs)
	})
	require.NoError(t, err)

	require.Len(t, deliveries, 1, "initial delivery")
	assert.Empty(t, deliveries[0])

	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "hello", "alice"))
	require.Len(t, deliveries, 2)
	require.Len(t, deliveries[1], 1)
	assert.Equal(t, "hello", deliveries[1][0].Text)

	unsubscribe()
	require.NoError(t, f.svc.SendMessage(ctx, convID, "alice", "again", "alice"))
	assert.Len(t, deliveries, 2, "no deliveries after unsubscribe")
}

func TestSubscribeToConversationsOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)
	second, err := f.svc.CreateConversation(ctx, "alice", "carol", "Alice", "Carol")
	require.NoError(t, err)

	var last []models.ConversationSummary
	unsubscribe := f.svc.SubscribeToConversations(ctx, "alice", func(summaries []models.ConversationSummary) {
		last = summaries
	})
	defer unsubscribe()

	require.Len(t, last, 2)
	assert.Equal(t, second, last[0].ConversationID, "most recent activity first")

	// Activity in the older conversation moves it to the front.
	require.NoError(t, f.svc.SendMessage(ctx, first, "bob", "hey", "bob"))
	require.Len(t, last, 2)
	assert.Equal(t, first, last[0].ConversationID)
	assert.Equal(t, 1, last[0].Unread)
	assert.Equal(t, "Bob", last[0].PeerName)
}

type failingKeyStore struct{}

func (failingKeyStore) Provision(context.Context, string, []string) ([]byte, error) {
	return nil, errors.New("provision failed")
}

func (failingKeyStore) LoadKey(context.Context, string, string) ([]byte, error) {
	return nil, keystore.ErrKeyNotFound
}

func TestSendMessageFailsWithoutKey(t *testing.T) {
	convs := newMemConversationRepo()
	msgs := newMemMessageRepo()
	svc := NewService(convs, msgs, failingKeyStore{}, NewHub(), zerolog.Nop())
	ctx := context.Background()

	conv := models.Conversation{ID: "c1", User1ID: "alice", User2ID: "bob"}
	require.NoError(t, convs.CreateConversation(ctx, conv))

	err := svc.SendMessage(ctx, "c1", "alice", "hi", "alice")
	require.ErrorIs(t, err, keystore.ErrKeyNotFound)

	stored, err := msgs.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, stored, "nothing, plaintext included, may be persisted without a key")
}

func TestNonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	convID, err := f.svc.CreateConversation(ctx, "alice", "bob", "Alice", "Bob")
	require.NoError(t, err)

	_, err = f.svc.Messages(ctx, convID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	err = f.svc.SendMessage(ctx, convID, "mallory", "hi", "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	err = f.svc.MarkMessagesAsRead(ctx, convID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}
