package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/bus"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core/events"
	"velo-chat-daemon/cmd/velo-chat-daemon/storage"
)

// Record keys in the persistence layer.
const (
	RecordUser     = "user"
	RecordChats    = "chats"
	RecordMessages = "messages"
)

const persistTimeout = 5 * time.Second

// Store is the authoritative collection of the user profile, chats and
// messages. Every mutation runs under one mutex, so each check-then-act is
// a single atomic turn; mutations are idempotent merges keyed by id and
// never remove an entity. State is written through to the record store
// after every mutation; a failed write is only logged, the next mutation
// re-persists the full collection.
type Store struct {
	mu           sync.Mutex
	user         types.UserProfile
	chats        []types.Chat
	messages     []types.Message
	activeChatID string

	records storage.RecordStore
	bus     *bus.EventBus
}

func New(records storage.RecordStore, eventBus *bus.EventBus) *Store {
	return &Store{
		records: records,
		bus:     eventBus,
	}
}

// Load reads the three persisted records. A missing or unparseable record
// falls back to an empty collection so a corrupted file never prevents
// startup.
func (s *Store) Load(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadRecord(ctx, s.records, RecordUser, &s.user)
	loadRecord(ctx, s.records, RecordChats, &s.chats)
	loadRecord(ctx, s.records, RecordMessages, &s.messages)

	log.Printf("Store: Loaded %d chats, %d messages", len(s.chats), len(s.messages))
}

func loadRecord(ctx context.Context, records storage.RecordStore, key string, dst interface{}) {
	data, err := records.Load(ctx, key)
	if err != nil {
		if err != storage.ErrNotFound {
			log.Printf("Store: WARN - failed to load record %q, starting empty: %v", key, err)
		}
		return
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Printf("Store: WARN - record %q is corrupted, starting empty: %v", key, err)
	}
}

// User returns the current profile.
func (s *Store) User() types.UserProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetUser replaces the profile and persists it.
func (s *Store) SetUser(p types.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = p
	s.persistUser()
}

// AssignAddress records the node address handed out by the transport
// layer. The address is immutable once assigned.
func (s *Store) AssignAddress(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.ID != "" && s.user.ID != addr {
		log.Printf("Store: WARN - node address changed from %s to %s", s.user.ID, addr)
	}
	s.user.ID = addr
	s.persistUser()
}

// Chats returns a copy of the chat list.
func (s *Store) Chats() []types.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// ChatByID looks a chat up by id.
func (s *Store) ChatByID(id string) (types.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findChat(id); c != nil {
		return *c, true
	}
	return types.Chat{}, false
}

// MessagesByChat returns the messages of one chat in arrival order.
func (s *Store) MessagesByChat(chatID string) []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Message
	for _, m := range s.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// ActiveChatID returns the currently active conversation, empty if none.
func (s *Store) ActiveChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeChatID
}

// SetActiveChat makes chatID the active conversation and resets its unread
// counter. Other chats' counters are untouched.
func (s *Store) SetActiveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeChatID = chatID
	if c := s.findChat(chatID); c != nil && c.UnreadCount != 0 {
		c.UnreadCount = 0
		s.persistChats()
		s.publish(events.ChatUpsertedEvent{Chat: *c})
	}
	s.publish(events.ActiveChatChangedEvent{ChatID: chatID})
}

// EnsureDirectChat returns the one-to-one chat with remote, creating it
// with a placeholder name and generated avatar if none exists. The
// check-then-act runs under the store lock, so racing inbound and outbound
// opens for the same address converge on a single chat.
func (s *Store) EnsureDirectChat(remote string) (types.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.chats {
		if !s.chats[i].IsGroup && s.chats[i].HasParticipant(remote) {
			return s.chats[i], false
		}
	}

	chat := types.Chat{
		ID:           uuid.NewString(),
		Name:         placeholderName(remote),
		IsGroup:      false,
		Participants: []string{s.user.ID, remote},
		UnreadCount:  0,
		Avatar:       peerAvatar(remote),
	}
	s.chats = append(s.chats, chat)
	s.persistChats()
	s.publish(events.ChatUpsertedEvent{Chat: chat})
	return chat, true
}

// InsertChat inserts chat if its id is not already known. First writer
// wins: an existing chat is never overwritten.
func (s *Store) InsertChat(chat types.Chat) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findChat(chat.ID) != nil {
		return false
	}
	s.chats = append(s.chats, chat)
	s.persistChats()
	s.publish(events.ChatUpsertedEvent{Chat: chat})
	return true
}

// AppendLocalMessage inserts a locally created message (outbound or
// synthetic) and updates the owning chat's last message. No-op if the id
// is already present.
func (s *Store) AppendLocalMessage(msg types.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findMessage(msg.ID) != nil {
		return false
	}
	s.messages = append(s.messages, msg)
	s.persistMessages()

	if c := s.findChat(msg.ChatID); c != nil {
		last := msg
		c.LastMessage = &last
		s.persistChats()
		s.publish(events.ChatUpsertedEvent{Chat: *c})
	}
	s.publish(events.MessageMergedEvent{Message: msg})
	return true
}

// MergeInbound merges a MESSAGE packet into the store. The local copy is
// stored with status delivered. Returns whether the message was newly
// inserted and whether its chat is the active one. A replay (known id) is
// a full no-op, keeping unread accounting idempotent.
func (s *Store) MergeInbound(msg types.Message) (inserted bool, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active = s.activeChatID == msg.ChatID
	if s.findMessage(msg.ID) != nil {
		return false, active
	}

	msg.Status = types.StatusDelivered
	s.messages = append(s.messages, msg)
	s.persistMessages()

	if c := s.findChat(msg.ChatID); c != nil {
		last := msg
		c.LastMessage = &last
		if !active {
			c.UnreadCount++
		}
		c.IsTyping = false
		c.TypingUser = ""
		s.persistChats()
		s.publish(events.ChatUpsertedEvent{Chat: *c})
	}
	s.publish(events.MessageMergedEvent{Message: msg})
	return true, active
}

// ApplyDeliveryConfirm advances the message to delivered, only from
// sending/sent. Unknown ids and regressions are no-ops.
func (s *Store) ApplyDeliveryConfirm(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(messageID)
	if m == nil || !canConfirmDelivery(m.Status) {
		return false
	}
	s.setStatus(m, types.StatusDelivered)
	return true
}

// ApplyReadReceipt forces the message to read, the terminal state. Unknown
// ids are no-ops.
func (s *Store) ApplyReadReceipt(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(messageID)
	if m == nil || statusRank(m.Status) >= statusRank(types.StatusRead) {
		return false
	}
	s.setStatus(m, types.StatusRead)
	return true
}

// MarkBroadcastOutcome records the fan-out result for an outbound message:
// sent if at least one participant received it, failed otherwise. A
// confirmation that raced ahead of the outcome is never regressed.
func (s *Store) MarkBroadcastOutcome(messageID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.findMessage(messageID)
	if m == nil {
		return
	}
	if ok {
		if m.Status == types.StatusSending {
			s.setStatus(m, types.StatusSent)
		}
		return
	}
	if m.Status == types.StatusSending || m.Status == types.StatusSent {
		s.setStatus(m, types.StatusFailed)
	}
}

// SetTyping updates the transient typing indicator of a chat. Returns
// false for unknown chats.
func (s *Store) SetTyping(chatID, typingUser string, isTyping bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findChat(chatID)
	if c == nil {
		return false
	}
	c.IsTyping = isTyping
	if isTyping {
		c.TypingUser = typingUser
	} else {
		c.TypingUser = ""
	}
	s.persistChats()
	s.publish(events.TypingChangedEvent{ChatID: chatID, TypingUser: c.TypingUser, IsTyping: isTyping})
	return true
}

// --- internals (caller holds s.mu) ---

func (s *Store) findChat(id string) *types.Chat {
	for i := range s.chats {
		if s.chats[i].ID == id {
			return &s.chats[i]
		}
	}
	return nil
}

func (s *Store) findMessage(id string) *types.Message {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return &s.messages[i]
		}
	}
	return nil
}

func (s *Store) setStatus(m *types.Message, status types.MessageStatus) {
	m.Status = status
	if c := s.findChat(m.ChatID); c != nil && c.LastMessage != nil && c.LastMessage.ID == m.ID {
		c.LastMessage.Status = status
		s.persistChats()
	}
	s.persistMessages()
	s.publish(events.MessageStatusChangedEvent{ChatID: m.ChatID, MessageID: m.ID, Status: status})
}

func (s *Store) persistUser()     { s.persistRecord(RecordUser, s.user) }
func (s *Store) persistChats()    { s.persistRecord(RecordChats, s.chats) }
func (s *Store) persistMessages() { s.persistRecord(RecordMessages, s.messages) }

func (s *Store) persistRecord(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("Store: ERROR - failed to marshal record %q: %v", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.records.Save(ctx, key, data); err != nil {
		log.Printf("Store: ERROR - failed to persist record %q: %v", key, err)
	}
}

func (s *Store) publish(event interface{}) {
	if s.bus != nil {
		s.bus.PublishAsync(event)
	}
}

// placeholderName derives the deterministic chat name for a fresh
// one-to-one conversation.
func placeholderName(addr string) string {
	short := addr
	if len(short) > 4 {
		short = short[:4]
	}
	return fmt.Sprintf("Node %s", short)
}

func peerAvatar(addr string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", addr)
}

// GroupAvatar derives the generated avatar for a group chat.
func GroupAvatar(groupID string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/identicon/svg?seed=%s", groupID)
}
