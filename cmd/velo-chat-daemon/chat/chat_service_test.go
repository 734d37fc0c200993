package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"velo-chat-daemon/cmd/velo-chat-daemon/assistant"
	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
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

// fakeSender delivers to the addresses listed in reachable and records
// every attempted send.
type fakeSender struct {
	mu        sync.Mutex
	reachable map[string]bool
	sent      map[string][]protocol.Packet
}

func newFakeSender(reachable ...string) *fakeSender {
	s := &fakeSender{
		reachable: make(map[string]bool),
		sent:      make(map[string][]protocol.Packet),
	}
	for _, addr := range reachable {
		s.reachable[addr] = true
	}
	return s
}

func (s *fakeSender) Send(addr string, pkt protocol.Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent[addr] = append(s.sent[addr], pkt)
	return s.reachable[addr]
}

func (s *fakeSender) sentTo(addr string) []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.sent[addr]...)
}

type fakeAssistant struct {
	reply string
	err   error
}

func (f *fakeAssistant) Complete(ctx context.Context, prompt string) (string, error) {
	return f.reply, f.err
}

func newTestService(t *testing.T, sender PacketSender, ai assistant.Client) (*Service, *store.Store) {
	t.Helper()
	st := store.New(&memRecords{data: make(map[string][]byte)}, nil)
	st.Load(context.Background())
	st.SetUser(types.UserProfile{ID: "self-peer", Name: "Alice"})
	if ai == nil {
		ai = &fakeAssistant{}
	}
	return NewService(st, sender, ai), st
}

func addDirectChat(st *store.Store, id string, peers ...string) {
	st.InsertChat(types.Chat{
		ID:           id,
		Name:         "test chat",
		Participants: append([]string{"self-peer"}, peers...),
	})
}

func TestSendMessageMarksSent(t *testing.T) {
	sender := newFakeSender("peer-1")
	svc, st := newTestService(t, sender, nil)
	addDirectChat(st, "chat-1", "peer-1")

	msg, err := svc.SendMessage("chat-1", "hello", "")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != types.StatusSent {
		t.Fatalf("returned status = %s, want sent", msg.Status)
	}
	if msg.Type != types.MessageTypeText {
		t.Fatalf("default type = %s, want text", msg.Type)
	}
	if msg.SenderID != "self-peer" || msg.SenderName != "Alice" {
		t.Fatalf("sender fields = %s/%s", msg.SenderID, msg.SenderName)
	}

	stored := st.MessagesByChat("chat-1")
	if len(stored) != 1 || stored[0].Status != types.StatusSent {
		t.Fatalf("stored = %+v, want one sent message", stored)
	}

	wire := sender.sentTo("peer-1")
	if len(wire) != 1 || wire[0].Type != protocol.PacketMessage {
		t.Fatalf("wire packets = %+v", wire)
	}
}

func TestSendMessageFailsWhenNoPeerReachable(t *testing.T) {
	svc, st := newTestService(t, newFakeSender(), nil)
	addDirectChat(st, "chat-1", "peer-1")

	msg, err := svc.SendMessage("chat-1", "hello", types.MessageTypeText)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", msg.Status)
	}

	stored := st.MessagesByChat("chat-1")
	if len(stored) != 1 || stored[0].Status != types.StatusFailed {
		t.Fatalf("stored = %+v, want one failed message (kept, not dropped)", stored)
	}
}

func TestSendMessagePartialDeliveryCountsAsSent(t *testing.T) {
	sender := newFakeSender("peer-2")
	svc, st := newTestService(t, sender, nil)
	addDirectChat(st, "g1", "peer-1", "peer-2", "peer-3")

	msg, err := svc.SendMessage("g1", "hello all", types.MessageTypeText)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.Status != types.StatusSent {
		t.Fatalf("status = %s, want sent (one recipient reached)", msg.Status)
	}

	// Fan-out must try every participant except the local user.
	for _, addr := range []string{"peer-1", "peer-2", "peer-3"} {
		if len(sender.sentTo(addr)) != 1 {
			t.Fatalf("no send attempt for %s", addr)
		}
	}
	if len(sender.sentTo("self-peer")) != 0 {
		t.Fatal("message was sent to the local user")
	}
}

func TestSendMessageUnknownChat(t *testing.T) {
	svc, _ := newTestService(t, newFakeSender(), nil)
	if _, err := svc.SendMessage("missing", "hello", ""); err == nil {
		t.Fatal("SendMessage to unknown chat succeeded")
	}
}

func TestSendMessageRequiresAddress(t *testing.T) {
	st := store.New(&memRecords{data: make(map[string][]byte)}, nil)
	st.Load(context.Background())
	svc := NewService(st, newFakeSender(), &fakeAssistant{})

	if _, err := svc.SendMessage("chat-1", "hello", ""); err == nil {
		t.Fatal("SendMessage before address assignment succeeded")
	}
}

func TestCreateGroup(t *testing.T) {
	sender := newFakeSender("peer-1", "peer-2")
	svc, st := newTestService(t, sender, nil)

	chat, err := svc.CreateGroup("Friends", []string{"peer-1", "peer-2", "self-peer", ""})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if !chat.IsGroup {
		t.Fatal("created chat is not a group")
	}
	if len(chat.Participants) != 3 {
		t.Fatalf("participants = %v, want local user + two peers", chat.Participants)
	}
	if chat.Participants[0] != "self-peer" {
		t.Fatalf("first participant = %s, want the local user", chat.Participants[0])
	}
	if chat.Avatar == "" {
		t.Fatal("group avatar not set")
	}

	for _, addr := range []string{"peer-1", "peer-2"} {
		pkts := sender.sentTo(addr)
		if len(pkts) != 1 || pkts[0].Type != protocol.PacketGroupInvite {
			t.Fatalf("invite packets for %s = %+v", addr, pkts)
		}
	}
	if st.ActiveChatID() != chat.ID {
		t.Fatalf("active chat = %q, want the new group", st.ActiveChatID())
	}
}

func TestCreateGroupDedupesParticipants(t *testing.T) {
	sender := newFakeSender("peer-1", "peer-2")
	svc, _ := newTestService(t, sender, nil)

	chat, err := svc.CreateGroup("Friends", []string{"peer-1", "peer-1", "peer-2", "peer-1"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if len(chat.Participants) != 3 {
		t.Fatalf("participants = %v, want local user + two unique peers", chat.Participants)
	}

	// A repeated address must not double the invite fan-out.
	for _, addr := range []string{"peer-1", "peer-2"} {
		if got := len(sender.sentTo(addr)); got != 1 {
			t.Fatalf("invites to %s = %d, want 1", addr, got)
		}
	}
}

func TestCreateGroupWithUnreachablePeerStillCreates(t *testing.T) {
	svc, st := newTestService(t, newFakeSender(), nil)

	chat, err := svc.CreateGroup("Friends", []string{"peer-1"})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, ok := st.ChatByID(chat.ID); !ok {
		t.Fatal("group missing from store")
	}
}

func waitForAssistantMessage(t *testing.T, st *store.Store, chatID string) types.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, m := range st.MessagesByChat(chatID) {
			if m.SenderID == assistant.SenderID {
				return m
			}
		}
		select {
		case <-deadline:
			t.Fatal("assistant reply never appeared")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAssistantTriggerInjectsReply(t *testing.T) {
	svc, st := newTestService(t, newFakeSender("peer-1"), &fakeAssistant{reply: "42"})
	addDirectChat(st, "chat-1", "peer-1")

	if _, err := svc.SendMessage("chat-1", "@gemini what is the answer?", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	reply := waitForAssistantMessage(t, st, "chat-1")
	if reply.Content != "42" {
		t.Fatalf("reply content = %q, want 42", reply.Content)
	}
	if reply.SenderName != assistant.SenderName {
		t.Fatalf("reply sender = %q", reply.SenderName)
	}
	if reply.Status != types.StatusRead {
		t.Fatalf("reply status = %s, want read (local-only message)", reply.Status)
	}
}

func TestAssistantFailureYieldsFallback(t *testing.T) {
	svc, st := newTestService(t, newFakeSender("peer-1"), &fakeAssistant{err: errors.New("boom")})
	addDirectChat(st, "chat-1", "peer-1")

	if _, err := svc.SendMessage("chat-1", "@gemini hello", ""); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	reply := waitForAssistantMessage(t, st, "chat-1")
	if reply.Content != assistant.FailureReply {
		t.Fatalf("reply content = %q, want fallback text", reply.Content)
	}
}

func TestAssistantPrompt(t *testing.T) {
	cases := []struct {
		content   string
		prompt    string
		triggered bool
	}{
		{"@gemini what is up", "what is up", true},
		{"@Gemini MixedCase", "MixedCase", true},
		{"@gemini", "", true},
		{"hello @gemini", "", false},
		{"plain message", "", false},
	}
	for _, tc := range cases {
		prompt, triggered := assistantPrompt(tc.content)
		if triggered != tc.triggered || prompt != tc.prompt {
			t.Errorf("assistantPrompt(%q) = (%q, %v), want (%q, %v)",
				tc.content, prompt, triggered, tc.prompt, tc.triggered)
		}
	}
}
