package protocol

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

// defaultTypingExpiry clears a typing indicator when the peer goes silent
// without sending an explicit stop. The protocol has no offline signal, so
// a vanished peer would otherwise leave a chat typing forever.
const defaultTypingExpiry = 6 * time.Second

// Sender delivers a packet to a peer address, reporting only success.
// Satisfied by the connection registry.
type Sender interface {
	Send(addr string, pkt Packet) bool
}

// Router decodes inbound wire frames and dispatches them to the store.
// Every handler is idempotent under replays and treats packets referencing
// unknown chat or message ids as no-ops. Malformed frames and unknown tags
// are dropped without error.
type Router struct {
	store  *store.Store
	sender Sender
	self   func() types.UserProfile

	typingExpiry time.Duration
	mu           sync.Mutex
	typingTimers map[string]*time.Timer
}

func NewRouter(st *store.Store, sender Sender, self func() types.UserProfile) *Router {
	return &Router{
		store:        st,
		sender:       sender,
		self:         self,
		typingExpiry: defaultTypingExpiry,
		typingTimers: make(map[string]*time.Timer),
	}
}

// HandlePacket routes one wire frame received from remote.
func (r *Router) HandlePacket(data []byte, remote string) {
	pkt, err := Decode(data)
	if err != nil {
		log.Printf("Router: Dropping malformed packet from %s: %v", remote, err)
		return
	}

	switch pkt.Type {
	case PacketMessage:
		r.handleMessage(pkt.Payload, remote)
	case PacketDeliveryConfirm:
		var p DeliveryConfirmPayload
		if err := json.Unmarshal(pkt.Payload, &p); err != nil {
			log.Printf("Router: Dropping malformed DELIVERY_CONFIRM from %s: %v", remote, err)
			return
		}
		r.store.ApplyDeliveryConfirm(p.MessageID)
	case PacketReadReceipt:
		var p ReadReceiptPayload
		if err := json.Unmarshal(pkt.Payload, &p); err != nil {
			log.Printf("Router: Dropping malformed READ_RECEIPT from %s: %v", remote, err)
			return
		}
		r.store.ApplyReadReceipt(p.MessageID)
	case PacketTyping:
		var p TypingPayload
		if err := json.Unmarshal(pkt.Payload, &p); err != nil {
			log.Printf("Router: Dropping malformed TYPING from %s: %v", remote, err)
			return
		}
		r.handleTyping(p)
	case PacketGroupInvite:
		var chat types.Chat
		if err := json.Unmarshal(pkt.Payload, &chat); err != nil || chat.ID == "" {
			log.Printf("Router: Dropping malformed GROUP_INVITE from %s", remote)
			return
		}
		r.store.InsertChat(chat)
	default:
		log.Printf("Router: Ignoring unknown packet type %q from %s", pkt.Type, remote)
	}
}

func (r *Router) handleMessage(payload json.RawMessage, remote string) {
	var msg types.Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
		log.Printf("Router: Dropping malformed MESSAGE from %s", remote)
		return
	}

	// Confirm receipt straight back to the sender; replays confirm again,
	// which the sender's monotonic status machine absorbs.
	if confirm, err := NewPacket(PacketDeliveryConfirm, DeliveryConfirmPayload{
		ChatID:    msg.ChatID,
		MessageID: msg.ID,
	}); err == nil {
		r.sender.Send(remote, confirm)
	}

	_, active := r.store.MergeInbound(msg)
	r.stopTypingTimer(msg.ChatID)

	if active {
		if receipt, err := NewPacket(PacketReadReceipt, ReadReceiptPayload{
			ChatID:    msg.ChatID,
			MessageID: msg.ID,
			UserID:    r.self().ID,
		}); err == nil {
			r.sender.Send(remote, receipt)
		}
	}
}

func (r *Router) handleTyping(p TypingPayload) {
	if !r.store.SetTyping(p.ChatID, p.UserID, p.IsTyping) {
		return
	}
	if p.IsTyping {
		r.resetTypingTimer(p.ChatID)
	} else {
		r.stopTypingTimer(p.ChatID)
	}
}

func (r *Router) resetTypingTimer(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.typingTimers[chatID]; ok {
		t.Stop()
	}
	r.typingTimers[chatID] = time.AfterFunc(r.typingExpiry, func() {
		r.store.SetTyping(chatID, "", false)
	})
}

func (r *Router) stopTypingTimer(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.typingTimers[chatID]; ok {
		t.Stop()
		delete(r.typingTimers, chatID)
	}
}
