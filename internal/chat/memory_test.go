package chat

import (
	"context"
	"encoding/base64"
	"sort"
	"sync"
	"time"

	"github.com/ayersdecker/gameplan/internal/models"
	"github.com/ayersdecker/gameplan/internal/repositories"
)

// In-memory repository implementations backing the service scenario
// tests. Append order stands in for the server-assigned timestamp order.

type memConversationRepo struct {
	mu     sync.Mutex
	convs  map[string]models.Conversation
	unread map[string]map[string]int
	seq    int
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{
		convs:  make(map[string]models.Conversation),
		unread: make(map[string]map[string]int),
	}
}

func (r *memConversationRepo) CreateConversation(_ context.Context, conv models.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	conv.CreatedAt = time.Unix(int64(r.seq), 0)
	conv.LastMessageAt = conv.CreatedAt
	r.convs[conv.ID] = conv
	r.unread[conv.ID] = map[string]int{conv.User1ID: 0, conv.User2ID: 0}
	return nil
}

func (r *memConversationRepo) GetConversation(_ context.Context, conversationID string) (models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return models.Conversation{}, repositories.ErrConversationNotFound
	}
	return conv, nil
}

func (r *memConversationRepo) ListConversationsFor(_ context.Context, userID string) ([]models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []models.Conversation
	for _, conv := range r.convs {
		if conv.HasParticipant(userID) {
			result = append(result, conv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastMessageAt.After(result[j].LastMessageAt)
	})
	return result, nil
}

func (r *memConversationRepo) ListSummariesFor(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	convs, err := r.ListConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []models.ConversationSummary
	for _, conv := range convs {
		peerID, peerName := conv.PeerOf(userID)
		result = append(result, models.ConversationSummary{
			ConversationID: conv.ID,
			PeerID:         peerID,
			PeerName:       peerName,
			Unread:         r.unread[conv.ID][userID],
			LastMessageAt:  conv.LastMessageAt,
		})
	}
	return result, nil
}

func (r *memConversationRepo) TouchLastMessage(_ context.Context, conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.convs[conversationID]
	if !ok {
		return repositories.ErrConversationNotFound
	}
	r.seq++
	conv.LastMessageAt = time.Unix(int64(r.seq), 0)
	r.convs[conversationID] = conv
	return nil
}

func (r *memConversationRepo) IncrementUnread(_ context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.unread[conversationID]; !ok {
		r.unread[conversationID] = map[string]int{}
	}
	r.unread[conversationID][userID]++
	return nil
}

func (r *memConversationRepo) ResetUnread(_ context.Context, conversationID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.unread[conversationID]; !ok {
		r.unread[conversationID] = map[string]int{}
	}
	r.unread[conversationID][userID] = 0
	return nil
}

func (r *memConversationRepo) unreadFor(conversationID, userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unread[conversationID][userID]
}

type memMessageRepo struct {
	mu   sync.Mutex
	msgs map[string][]models.Message
	seq  int
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{msgs: make(map[string][]models.Message)}
}

func (r *memMessageRepo) AppendMessage(_ context.Context, msg models.Message) (models.Message, error) {
	if err := msg.Validate(); err != nil {
		return models.Message{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg.CreatedAt = time.Unix(int64(r.seq), 0)
	r.msgs[msg.ConversationID] = append(r.msgs[msg.ConversationID], msg)
	return msg, nil
}

func (r *memMessageRepo) ListMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Message(nil), r.msgs[conversationID]...), nil
}

func (r *memMessageRepo) ListUnreadFromOthers(_ context.Context, conversationID, userID string) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []models.Message
	for _, msg := range r.msgs[conversationID] {
		if msg.SenderID != userID && !msg.Read {
			result = append(result, msg)
		}
	}
	return result, nil
}

func (r *memMessageRepo) MarkRead(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conversationID, msgs := range r.msgs {
		for i, msg := range msgs {
			if msg.ID == messageID {
				msg.Read = true
				r.msgs[conversationID][i] = msg
				return nil
			}
		}
	}
	return repositories.ErrMessageNotFound
}

// corrupt flips one ciphertext byte of the stored message at index i,
// simulating tampering with the backing store after send.
func (r *memMessageRepo) corrupt(conversationID string, i int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := r.msgs[conversationID][i]
	raw, err := base64.StdEncoding.DecodeString(msg.Ciphertext)
	if err != nil {
		panic(err)
	}
	raw[len(raw)-1] ^= 0x01
	msg.Ciphertext = base64.StdEncoding.EncodeToString(raw)
	r.msgs[conversationID][i] = msg
}

type memKeyRepo struct {
	mu   sync.Mutex
	keys map[string]map[string]string
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]map[string]string)}
}

func (r *memKeyRepo) SaveUserKey(_ context.Context, conversationID, userID, encodedKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[conversationID]; !ok {
		r.keys[conversationID] = map[string]string{}
	}
	r.keys[conversationID][userID] = encodedKey
	return nil
}

func (r *memKeyRepo) GetUserKey(_ context.Context, conversationID, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	encodedKey, ok := r.keys[conversationID][userID]
	if !ok {
		return "", repositories.ErrKeyNotFound
	}
	return encodedKey, nil
}

func (r *memKeyRepo) CountKeys(_ context.Context, conversationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys[conversationID]), nil
}

var (
	_ repositories.ConversationRepository = (*memConversationRepo)(nil)
	_ repositories.MessageRepository      = (*memMessageRepo)(nil)
	_ repositories.KeyRepository          = (*memKeyRepo)(nil)
)
