package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"velo-chat-daemon/cmd/velo-chat-daemon/assistant"
	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

const assistantTimeout = 45 * time.Second

// PacketSender delivers one packet to one peer address. Satisfied by the
// connection registry.
type PacketSender interface {
	Send(addr string, pkt protocol.Packet) bool
}

// Service implements the outbound side of the protocol: message send with
// delivery bookkeeping, typing signals, group creation and the assistant
// trigger.
type Service struct {
	store     *store.Store
	sender    PacketSender
	assistant assistant.Client
}

func NewService(st *store.Store, sender PacketSender, ai assistant.Client) *Service {
	return &Service{
		store:     st,
		sender:    sender,
		assistant: ai,
	}
}

// SendMessage creates a message in chatID, fans it out to every other
// participant and records the outcome: sent if at least one peer received
// it, failed if none did. There is no retry and no store-and-forward.
func (s *Service) SendMessage(chatID, content string, msgType types.MessageType) (types.Message, error) {
	user := s.store.User()
	if user.ID == "" {
		return types.Message{}, fmt.Errorf("node address not assigned yet")
	}
	if _, ok := s.store.ChatByID(chatID); !ok {
		return types.Message{}, fmt.Errorf("unknown chat %s", chatID)
	}
	if msgType == "" {
		msgType = types.MessageTypeText
	}

	msg := types.Message{
		ID:         uuid.NewString(),
		SenderID:   user.ID,
		SenderName: user.Name,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
		Type:       msgType,
		ChatID:     chatID,
		Status:     types.StatusSending,
	}
	s.store.AppendLocalMessage(msg)

	// Recipients store their copy as sent from the sender's perspective;
	// their own merge rewrites it to delivered.
	wire := msg
	wire.Status = types.StatusSent
	pkt, err := protocol.MessagePacket(wire)
	if err != nil {
		s.store.MarkBroadcastOutcome(msg.ID, false)
		return msg, err
	}

	ok := s.Broadcast(chatID, pkt)
	s.store.MarkBroadcastOutcome(msg.ID, ok)
	if ok {
		msg.Status = types.StatusSent
	} else {
		msg.Status = types.StatusFailed
	}

	if prompt, triggered := assistantPrompt(content); triggered {
		go s.askAssistant(chatID, prompt)
	}

	return msg, nil
}

// Broadcast fans pkt out to every participant of chatID except the local
// user, building each send independently. A participant with no open
// channel is skipped; the result is true if at least one send succeeded.
func (s *Service) Broadcast(chatID string, pkt protocol.Packet) bool {
	chat, ok := s.store.ChatByID(chatID)
	if !ok {
		return false
	}
	self := s.store.User().ID

	delivered := false
	for _, p := range chat.Participants {
		if p == self {
			continue
		}
		if s.sender.Send(p, pkt) {
			delivered = true
		}
	}
	return delivered
}

// SendTyping broadcasts the transient typing signal for chatID. Delivery
// is best effort and never blocks messaging.
func (s *Service) SendTyping(chatID string, isTyping bool) {
	user := s.store.User()
	pkt, err := protocol.NewPacket(protocol.PacketTyping, protocol.TypingPayload{
		ChatID:   chatID,
		UserID:   user.Name,
		IsTyping: isTyping,
	})
	if err != nil {
		log.Printf("Chat: Failed to build TYPING packet: %v", err)
		return
	}
	s.Broadcast(chatID, pkt)
}

// CreateGroup creates a group chat, invites every listed participant over
// its direct channel and selects the new conversation.
func (s *Service) CreateGroup(name string, participants []string) (types.Chat, error) {
	user := s.store.User()
	if user.ID == "" {
		return types.Chat{}, fmt.Errorf("node address not assigned yet")
	}

	// Participants form a unique ordered set; first occurrence wins.
	members := []string{user.ID}
	seen := map[string]bool{user.ID: true}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		members = append(members, p)
	}

	groupID := uuid.NewString()
	chat := types.Chat{
		ID:           groupID,
		Name:         name,
		IsGroup:      true,
		Participants: members,
		UnreadCount:  0,
		Avatar:       store.GroupAvatar(groupID),
	}
	s.store.InsertChat(chat)

	pkt, err := protocol.GroupInvitePacket(chat)
	if err != nil {
		return chat, err
	}
	for _, p := range members {
		if p == user.ID {
			continue
		}
		if !s.sender.Send(p, pkt) {
			log.Printf("Chat: No open channel to %s, group invite skipped", p)
		}
	}

	s.store.SetActiveChat(groupID)
	return chat, nil
}

// askAssistant fetches a reply and injects it as a synthetic message from
// the reserved assistant sender. Failures yield the fallback text; nothing
// here ever goes over the wire.
func (s *Service) askAssistant(chatID, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), assistantTimeout)
	defer cancel()

	reply, err := s.assistant.Complete(ctx, prompt)
	if err != nil {
		log.Printf("Chat: Assistant call failed: %v", err)
		reply = assistant.FailureReply
	}
	if reply == "" {
		return
	}

	s.store.AppendLocalMessage(types.Message{
		ID:         uuid.NewString(),
		SenderID:   assistant.SenderID,
		SenderName: assistant.SenderName,
		Content:    reply,
		Timestamp:  time.Now().UnixMilli(),
		Type:       types.MessageTypeText,
		ChatID:     chatID,
		Status:     types.StatusRead,
	})
}

// assistantPrompt extracts the prompt when content starts with the
// assistant trigger prefix.
func assistantPrompt(content string) (string, bool) {
	if !strings.HasPrefix(strings.ToLower(content), assistant.TriggerPrefix) {
		return "", false
	}
	return strings.TrimSpace(content[len(assistant.TriggerPrefix):]), true
}
