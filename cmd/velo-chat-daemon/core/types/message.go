package types

// MessageType classifies the content of a message.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// MessageStatus is the per-node-local delivery lifecycle stage of a message.
// The sender's copy walks sending -> sent -> delivered -> read; failed is
// reachable only from sending/sent. The recipient's copy is stored as
// delivered directly.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Message is one chat message. The JSON field names are the wire form: a
// MESSAGE packet carries this record verbatim.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName"`
	Content    string        `json:"content"`
	Timestamp  int64         `json:"timestamp"` // unix milliseconds
	Type       MessageType   `json:"type"`
	ChatID     string        `json:"chatId"`
	Status     MessageStatus `json:"status"`
}
