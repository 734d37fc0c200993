package api

import (
	"encoding/json"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
)

type StatusResponse struct {
	State       string   `json:"state"`
	PeerID      string   `json:"peer_id,omitempty"`
	ListenAddrs []string `json:"listen_addrs,omitempty"`
	InviteLink  string   `json:"invite_link,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
}

type SendMessageRequest struct {
	ChatID  string            `json:"chatId"`
	Content string            `json:"content"`
	Type    types.MessageType `json:"type,omitempty"`
}

type TypingRequest struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

type SelectChatRequest struct {
	ChatID string `json:"chatId"`
}

type CreateGroupRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

type ConnectRequest struct {
	Address string `json:"address"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// WsEventType tags frames pushed to the UI over the websocket.
type WsEventType string

const (
	WsEventMessageMerged WsEventType = "MESSAGE_MERGED"
	WsEventMessageStatus WsEventType = "MESSAGE_STATUS"
	WsEventChatUpserted  WsEventType = "CHAT_UPSERTED"
	WsEventTyping        WsEventType = "TYPING"
	WsEventConnection    WsEventType = "CONNECTION"
	WsEventActiveChat    WsEventType = "ACTIVE_CHAT"
)

type WsEvent struct {
	Type    WsEventType `json:"type"`
	Payload interface{} `json:"payload"`
}

// WsCommandType tags frames the UI sends to the daemon.
type WsCommandType string

const (
	WsCmdSendMessage WsCommandType = "SEND_MESSAGE"
	WsCmdTyping      WsCommandType = "TYPING"
)

type WsCommand struct {
	Type    WsCommandType   `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type WsMessageStatusPayload struct {
	ChatID    string              `json:"chatId"`
	MessageID string              `json:"messageId"`
	Status    types.MessageStatus `json:"status"`
}

type WsTypingPayload struct {
	ChatID     string `json:"chatId"`
	TypingUser string `json:"typingUser,omitempty"`
	IsTyping   bool   `json:"isTyping"`
}

type WsConnectionPayload struct {
	Address string `json:"address"`
	Open    bool   `json:"open"`
}

type WsActiveChatPayload struct {
	ChatID string `json:"chatId"`
}
