package events

import (
	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
)

// MessageMergedEvent fires when a message is inserted into the store,
// whether locally created or received from a peer.
type MessageMergedEvent struct {
	Message types.Message
}

// MessageStatusChangedEvent fires on any delivery-status transition.
type MessageStatusChangedEvent struct {
	ChatID    string
	MessageID string
	Status    types.MessageStatus
}

// ChatUpsertedEvent fires when a chat is created or its metadata
// (last message, unread count) changes.
type ChatUpsertedEvent struct {
	Chat types.Chat
}

// TypingChangedEvent fires when a peer starts or stops typing in a chat.
type TypingChangedEvent struct {
	ChatID     string
	TypingUser string
	IsTyping   bool
}

// ConnectionOpenedEvent fires when a channel to a peer becomes usable.
type ConnectionOpenedEvent struct {
	Address string
}

// ConnectionClosedEvent fires when a channel to a peer is removed.
type ConnectionClosedEvent struct {
	Address string
}

// ActiveChatChangedEvent fires when the active conversation changes.
type ActiveChatChangedEvent struct {
	ChatID string
}
