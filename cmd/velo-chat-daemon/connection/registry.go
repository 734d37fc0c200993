package connection

import (
	"log"
	"sync"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/bus"
	"velo-chat-daemon/cmd/velo-chat-daemon/internal/core/events"
	"velo-chat-daemon/cmd/velo-chat-daemon/protocol"
)

// ChatDirectory is the slice of the store the registry needs: the
// lookup-or-create step on first channel open, and active-chat selection.
type ChatDirectory interface {
	EnsureDirectChat(remote string) (types.Chat, bool)
	SetActiveChat(chatID string)
}

// Registry maps peer address to open channel and tracks lifecycle. The
// one-to-one chat lookup on Register goes through the directory, whose
// locked check-then-act deduplicates racing inbound/outbound opens.
type Registry struct {
	mu        sync.Mutex
	channels  map[string]Channel
	directory ChatDirectory
	bus       *bus.EventBus
}

func NewRegistry(directory ChatDirectory, eventBus *bus.EventBus) *Registry {
	return &Registry{
		channels:  make(map[string]Channel),
		directory: directory,
		bus:       eventBus,
	}
}

// Register stores the channel for addr and performs the one-to-one chat
// lookup-or-create. With autoSelect the resulting chat becomes active.
func (r *Registry) Register(addr string, ch Channel, autoSelect bool) types.Chat {
	r.mu.Lock()
	if old, ok := r.channels[addr]; ok && old != ch {
		old.Close()
	}
	r.channels[addr] = ch
	r.mu.Unlock()

	chat, created := r.directory.EnsureDirectChat(addr)
	if created {
		log.Printf("Connection: New chat %s for peer %s", chat.ID, addr)
	}
	if autoSelect {
		r.directory.SetActiveChat(chat.ID)
	}
	if r.bus != nil {
		r.bus.PublishAsync(events.ConnectionOpenedEvent{Address: addr})
	}
	return chat
}

// Get returns the channel for addr, if any.
func (r *Registry) Get(addr string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[addr]
	return ch, ok
}

// Has reports whether an open channel exists for addr.
func (r *Registry) Has(addr string) bool {
	_, ok := r.Get(addr)
	return ok
}

// Remove drops the channel for addr. Safe to call for unknown addresses.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	ch, ok := r.channels[addr]
	delete(r.channels, addr)
	r.mu.Unlock()

	if !ok {
		return
	}
	ch.Close()
	if r.bus != nil {
		r.bus.PublishAsync(events.ConnectionClosedEvent{Address: addr})
	}
}

// RemoveChannel drops the channel for addr only while ch is still the one
// registered. A replaced channel's teardown therefore never evicts its
// replacement: when a peer re-opens a stream, the old read loop's deferred
// removal finds the fresh channel registered and leaves it alone.
func (r *Registry) RemoveChannel(addr string, ch Channel) {
	r.mu.Lock()
	cur, ok := r.channels[addr]
	if !ok || cur != ch {
		r.mu.Unlock()
		return
	}
	delete(r.channels, addr)
	r.mu.Unlock()

	ch.Close()
	if r.bus != nil {
		r.bus.PublishAsync(events.ConnectionClosedEvent{Address: addr})
	}
}

// Send writes pkt to the channel for addr. Returns false, without error,
// when no open channel exists; the caller decides whether that is a
// user-visible failure. A write error closes and removes the channel.
func (r *Registry) Send(addr string, pkt protocol.Packet) bool {
	ch, ok := r.Get(addr)
	if !ok {
		return false
	}
	if err := ch.Send(pkt); err != nil {
		log.Printf("Connection: Send to %s failed, dropping channel: %v", addr, err)
		r.RemoveChannel(addr, ch)
		return false
	}
	return true
}

// Select re-selects the existing one-to-one chat for an already connected
// peer, used when an invite targets a peer we are already talking to.
func (r *Registry) Select(addr string) {
	chat, _ := r.directory.EnsureDirectChat(addr)
	r.directory.SetActiveChat(chat.ID)
}
