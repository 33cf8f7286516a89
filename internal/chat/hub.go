package chat

import "sync"

// Hub is the in-process change-notification fabric behind the live
// subscriptions: writers signal a conversation (or a user's inbox) and
// every registered subscriber gets re-delivered. Subscribers are plain
// callbacks; delivery content is the subscriber's concern.
type Hub struct {
	mu               sync.RWMutex
	nextID           int
	conversationSubs map[string]map[int]func()
	userSubs         map[string]map[int]func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conversationSubs: make(map[string]map[int]func()),
		userSubs:         make(map[string]map[int]func()),
	}
}

// SubscribeConversation registers notify against a conversation and
// returns an unsubscribe handle. Callers must invoke the handle when no
// longer interested to release the registration.
func (h *Hub) SubscribeConversation(conversationID string, notify func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conversationSubs[conversationID]; !ok {
		h.conversationSubs[conversationID] = make(map[int]func())
	}
	h.nextID++
	id := h.nextID
	h.conversationSubs[conversationID][id] = notify

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.conversationSubs[conversationID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.conversationSubs, conversationID)
			}
		}
	}
}

// SubscribeUser registers notify against a user's inbox and returns an
// unsubscribe handle.
func (h *Hub) SubscribeUser(userID string, notify func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.userSubs[userID]; !ok {
		h.userSubs[userID] = make(map[int]func())
	}
	h.nextID++
	id := h.nextID
	h.userSubs[userID][id] = notify

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if subs, ok := h.userSubs[userID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.userSubs, userID)
			}
		}
	}
}

// NotifyConversation signals every subscriber of a conversation.
// Callbacks run synchronously in the caller's goroutine, after the write
// that triggered them has completed.
func (h *Hub) NotifyConversation(conversationID string) {
	h.mu.RLock()
	notifies := make([]func(), 0, len(h.conversationSubs[conversationID]))
	for _, notify := range h.conversationSubs[conversationID] {
		notifies = append(notifies, notify)
	}
	h.mu.RUnlock()

	for _, notify := range notifies {
		notify()
	}
}

// NotifyUsers signals the inbox subscribers of each given user.
func (h *Hub) NotifyUsers(userIDs ...string) {
	h.mu.RLock()
	var notifies []func()
	for _, userID := range userIDs {
		for _, notify := range h.userSubs[userID] {
			notifies = append(notifies, notify)
		}
	}
	h.mu.RUnlock()

	for _, notify := range notifies {
		notify()
	}
}
