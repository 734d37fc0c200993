package protocol

import (
	"encoding/json"
	"fmt"

	canonicaljson "github.com/gibson042/canonicaljson-go"

	"velo-chat-daemon/cmd/velo-chat-daemon/core/types"
)

// PacketType tags the closed set of wire packet kinds.
type PacketType string

const (
	PacketMessage         PacketType = "MESSAGE"
	PacketDeliveryConfirm PacketType = "DELIVERY_CONFIRM"
	PacketReadReceipt     PacketType = "READ_RECEIPT"
	PacketTyping          PacketType = "TYPING"
	PacketGroupInvite     PacketType = "GROUP_INVITE"
)

// Packet is one logical protocol message. Payload stays raw until the
// router dispatches on Type.
type Packet struct {
	Type    PacketType      `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DeliveryConfirmPayload acknowledges that a MESSAGE reached this node.
type DeliveryConfirmPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// ReadReceiptPayload reports that the message was read in the active chat.
type ReadReceiptPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// TypingPayload is the transient typing signal. UserID carries the display
// name shown next to the indicator.
type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// NewPacket wraps payload into a tagged packet.
func NewPacket(t PacketType, payload interface{}) (Packet, error) {
	raw, err := canonicaljson.Marshal(payload)
	if err != nil {
		return Packet{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Packet{Type: t, Payload: raw}, nil
}

// MessagePacket builds a MESSAGE packet carrying msg verbatim.
func MessagePacket(msg types.Message) (Packet, error) {
	return NewPacket(PacketMessage, msg)
}

// GroupInvitePacket builds a GROUP_INVITE packet carrying chat verbatim.
func GroupInvitePacket(chat types.Chat) (Packet, error) {
	return NewPacket(PacketGroupInvite, chat)
}

// Encode serializes a packet to its canonical wire bytes.
func Encode(p Packet) ([]byte, error) {
	data, err := canonicaljson.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode packet: %w", err)
	}
	return data, nil
}

// Decode parses wire bytes into a packet. The payload is not validated
// here; each handler decodes its own shape.
func Decode(data []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(data, &p); err != nil {
		return Packet{}, fmt.Errorf("failed to decode packet: %w", err)
	}
	if p.Type == "" {
		return Packet{}, fmt.Errorf("packet has no type tag")
	}
	return p, nil
}
