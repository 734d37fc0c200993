package connection

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
)

type fakeChannel struct {
	mu      sync.Mutex
	sent    []protocol.Packet
	sendErr error
	closed  bool
}

func (c *fakeChannel) Send(pkt protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, pkt)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDirectory mimics the store's locked lookup-or-create.
type fakeDirectory struct {
	mu     sync.Mutex
	chats  map[string]types.Chat
	active string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{chats: make(map[string]types.Chat)}
}

func (d *fakeDirectory) EnsureDirectChat(remote string) (types.Chat, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.chats[remote]; ok {
		return c, false
	}
	c := types.Chat{ID: uuid.NewString(), Participants: []string{"self-peer", remote}}
	d.chats[remote] = c
	return c, true
}

func (d *fakeDirectory) SetActiveChat(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = chatID
}

func (d *fakeDirectory) activeChat() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func typingPacket(t *testing.T) protocol.Packet {
	t.Helper()
	pkt, err := protocol.NewPacket(protocol.PacketTyping, protocol.TypingPayload{ChatID: "c", UserID: "u", IsTyping: true})
	if err != nil {
		t.Fatalf("NewPacket: %v", err)
	}
	return pkt
}

func TestRegisterCreatesChatOnce(t *testing.T) {
	dir := newFakeDirectory()
	r := NewRegistry(dir, nil)

	first := r.Register("peer-1", &fakeChannel{}, false)
	second := r.Register("peer-1", &fakeChannel{}, false)

	if first.ID != second.ID {
		t.Fatalf("re-register changed the chat: %s vs %s", first.ID, second.ID)
	}
	if !r.Has("peer-1") {
		t.Fatal("channel not registered")
	}
	if dir.activeChat() != "" {
		t.Fatal("chat selected without autoSelect")
	}
}

func TestRegisterReplacesAndClosesOldChannel(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)

	old := &fakeChannel{}
	r.Register("peer-1", old, false)
	replacement := &fakeChannel{}
	r.Register("peer-1", replacement, false)

	if !old.isClosed() {
		t.Fatal("replaced channel was not closed")
	}
	ch, _ := r.Get("peer-1")
	if ch != Channel(replacement) {
		t.Fatal("registry kept the old channel")
	}
}

func TestRegisterAutoSelect(t *testing.T) {
	dir := newFakeDirectory()
	r := NewRegistry(dir, nil)

	chat := r.Register("peer-1", &fakeChannel{}, true)
	if dir.activeChat() != chat.ID {
		t.Fatalf("active chat = %q, want %q", dir.activeChat(), chat.ID)
	}
}

func TestSendWithoutChannel(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)
	if r.Send("peer-1", typingPacket(t)) {
		t.Fatal("send without a channel reported success")
	}
}

func TestSendErrorDropsChannel(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)
	ch := &fakeChannel{sendErr: errors.New("stream reset")}
	r.Register("peer-1", ch, false)

	if r.Send("peer-1", typingPacket(t)) {
		t.Fatal("failed send reported success")
	}
	if r.Has("peer-1") {
		t.Fatal("broken channel kept in registry")
	}
	if !ch.isClosed() {
		t.Fatal("broken channel not closed")
	}
}

func TestSendDelivers(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)
	ch := &fakeChannel{}
	r.Register("peer-1", ch, false)

	if !r.Send("peer-1", typingPacket(t)) {
		t.Fatal("send failed")
	}
	if len(ch.sent) != 1 {
		t.Fatalf("channel received %d packets, want 1", len(ch.sent))
	}
}

func TestRemoveUnknownAddressIsSafe(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)
	r.Remove("peer-1")
	r.RemoveChannel("peer-1", &fakeChannel{})
}

func TestStaleChannelTeardownKeepsReplacement(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)

	// Peer opens a stream, then re-opens (reconnect or simultaneous
	// inbound+outbound). The replaced channel's read loop tears down last.
	old := &fakeChannel{}
	r.Register("peer-1", old, false)
	replacement := &fakeChannel{}
	r.Register("peer-1", replacement, false)

	r.RemoveChannel("peer-1", old)

	if !r.Has("peer-1") {
		t.Fatal("stale teardown evicted the fresh channel")
	}
	if replacement.isClosed() {
		t.Fatal("stale teardown closed the fresh channel")
	}
	if !r.Send("peer-1", typingPacket(t)) {
		t.Fatal("send failed after stale teardown")
	}
	if len(replacement.sent) != 1 {
		t.Fatalf("fresh channel received %d packets, want 1", len(replacement.sent))
	}
}

func TestRemoveChannelDropsOwnChannel(t *testing.T) {
	r := NewRegistry(newFakeDirectory(), nil)

	ch := &fakeChannel{}
	r.Register("peer-1", ch, false)
	r.RemoveChannel("peer-1", ch)

	if r.Has("peer-1") {
		t.Fatal("channel still registered after its own teardown")
	}
	if !ch.isClosed() {
		t.Fatal("channel not closed by its own teardown")
	}
}

func TestSelectReusesExistingChat(t *testing.T) {
	dir := newFakeDirectory()
	r := NewRegistry(dir, nil)

	chat := r.Register("peer-1", &fakeChannel{}, false)
	r.Select("peer-1")

	if dir.activeChat() != chat.ID {
		t.Fatalf("active chat = %q, want %q", dir.activeChat(), chat.ID)
	}
}
