package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/storage"
	"velo-chat-daemon/cmd/velo-chat-daemon/store"
)

type memRecords struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memRecords) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *memRecords) Save(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

type sentPacket struct {
	addr string
	pkt  Packet
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentPacket
}

func (c *captureSender) Send(addr string, pkt Packet) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentPacket{addr: addr, pkt: pkt})
	return true
}

func (c *captureSender) packets() []sentPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentPacket, len(c.sent))
	copy(out, c.sent)
	return out
}

func newTestRouter(t *testing.T) (*Router, *store.Store, *captureSender) {
	t.Helper()
	st := store.New(&memRecords{data: make(map[string][]byte)}, nil)
	st.Load(context.Background())
	st.AssignAddress("self-peer")

	st.InsertChat(types.Chat{
		ID:           "chat-1",
		Name:         "Peer One",
		Participants: []string{"self-peer", "peer-1"},
	})

	sender := &captureSender{}
	return NewRouter(st, sender, st.User), st, sender
}

func wireMessage(t *testing.T, id string) []byte {
	t.Helper()
	pkt, err := MessagePacket(types.Message{
		ID:         id,
		SenderID:   "peer-1",
		SenderName: "Peer One",
		Content:    "hi",
		Timestamp:  1700000000000,
		Type:       types.MessageTypeText,
		ChatID:     "chat-1",
		Status:     types.StatusSent,
	})
	if err != nil {
		t.Fatalf("MessagePacket: %v", err)
	}
	data, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestRouterMessageIsConfirmed(t *testing.T) {
	r, st, sender := newTestRouter(t)

	r.HandlePacket(wireMessage(t, "m1"), "peer-1")

	sent := sender.packets()
	if len(sent) != 1 {
		t.Fatalf("sent %d packets, want 1 (confirm only, chat inactive)", len(sent))
	}
	if sent[0].addr != "peer-1" || sent[0].pkt.Type != PacketDeliveryConfirm {
		t.Fatalf("unexpected reply %+v", sent[0])
	}

	msgs := st.MessagesByChat("chat-1")
	if len(msgs) != 1 || msgs[0].Status != types.StatusDelivered {
		t.Fatalf("merged messages = %+v", msgs)
	}
}

func TestRouterActiveChatSendsReadReceipt(t *testing.T) {
	r, st, sender := newTestRouter(t)
	st.SetActiveChat("chat-1")

	r.HandlePacket(wireMessage(t, "m1"), "peer-1")

	sent := sender.packets()
	if len(sent) != 2 {
		t.Fatalf("sent %d packets, want confirm + receipt", len(sent))
	}
	if sent[0].pkt.Type != PacketDeliveryConfirm || sent[1].pkt.Type != PacketReadReceipt {
		t.Fatalf("reply types = %s, %s", sent[0].pkt.Type, sent[1].pkt.Type)
	}
}

func TestRouterReplayedMessageConfirmsAgainWithoutMerging(t *testing.T) {
	r, st, sender := newTestRouter(t)

	frame := wireMessage(t, "m1")
	r.HandlePacket(frame, "peer-1")
	r.HandlePacket(frame, "peer-1")

	confirms := 0
	for _, p := range sender.packets() {
		if p.pkt.Type == PacketDeliveryConfirm {
			confirms++
		}
	}
	if confirms != 2 {
		t.Fatalf("confirms = %d, want 2", confirms)
	}

	if len(st.MessagesByChat("chat-1")) != 1 {
		t.Fatal("replay duplicated the message")
	}
	c, _ := st.ChatByID("chat-1")
	if c.UnreadCount != 1 {
		t.Fatalf("unread = %d, want 1", c.UnreadCount)
	}
}

func TestRouterDropsMalformedAndUnknownFrames(t *testing.T) {
	r, st, sender := newTestRouter(t)

	r.HandlePacket([]byte("garbage"), "peer-1")
	r.HandlePacket([]byte(`{"type":"PRESENCE","payload":{}}`), "peer-1")
	r.HandlePacket([]byte(`{"type":"MESSAGE","payload":{"content":"no id"}}`), "peer-1")
	r.HandlePacket([]byte(`{"type":"DELIVERY_CONFIRM","payload":"not an object"}`), "peer-1")
	r.HandlePacket([]byte(`{"type":"GROUP_INVITE","payload":{"name":"no id"}}`), "peer-1")

	if len(sender.packets()) != 0 {
		t.Fatalf("replies sent for dropped frames: %+v", sender.packets())
	}
	if len(st.MessagesByChat("chat-1")) != 0 {
		t.Fatal("dropped frame mutated the store")
	}
	if len(st.Chats()) != 1 {
		t.Fatal("dropped invite mutated the chat list")
	}
}

func TestRouterGroupInvite(t *testing.T) {
	r, st, _ := newTestRouter(t)

	pkt, err := GroupInvitePacket(types.Chat{
		ID:           "g1",
		Name:         "Friends",
		IsGroup:      true,
		Participants: []string{"peer-1", "self-peer"},
	})
	if err != nil {
		t.Fatalf("GroupInvitePacket: %v", err)
	}
	frame, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r.HandlePacket(frame, "peer-1")
	r.HandlePacket(frame, "peer-1")

	c, ok := st.ChatByID("g1")
	if !ok || !c.IsGroup || c.Name != "Friends" {
		t.Fatalf("invite chat = %+v, ok=%v", c, ok)
	}
	if len(st.Chats()) != 2 {
		t.Fatalf("chat count = %d, want 2", len(st.Chats()))
	}
}

func TestRouterTypingExpires(t *testing.T) {
	r, st, _ := newTestRouter(t)
	r.typingExpiry = 30 * time.Millisecond

	pkt, err := NewPacket(PacketTyping, TypingPayload{ChatID: "chat-1", UserID: "Peer One", IsTyping: true})
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	frame, err := Encode(pkt)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	r.HandlePacket(frame, "peer-1")
	c, _ := st.ChatByID("chat-1")
	if !c.IsTyping || c.TypingUser != "Peer One" {
		t.Fatalf("typing not set: %+v", c)
	}

	deadline := time.After(2 * time.Second)
	for {
		c, _ = st.ChatByID("chat-1")
		if !c.IsTyping {
			return
		}
		select {
		case <-deadline:
			t.Fatal("typing indicator never expired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRouterExplicitTypingStop(t *testing.T) {
	r, st, _ := newTestRouter(t)

	send := func(isTyping bool) {
		pkt, err := NewPacket(PacketTyping, TypingPayload{ChatID: "chat-1", UserID: "Peer One", IsTyping: isTyping})
		if err != nil {
			t.Fatalf("NewPacket: %v", err)
		}
		frame, err := Encode(pkt)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		r.HandlePacket(frame, "peer-1")
	}

	send(true)
	send(false)

	c, _ := st.ChatByID("chat-1")
	if c.IsTyping || c.TypingUser != "" {
		t.Fatalf("typing not cleared: %+v", c)
	}
}
