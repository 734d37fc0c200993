package types

// Chat is a conversation, one-to-one or group. Participants always include
// the local node's address. For non-group chats at most one Chat exists per
// unique remote participant.
type Chat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"isGroup"`
	Participants []string `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int      `json:"unreadCount"`
	Avatar       string   `json:"avatar"`
	IsTyping     bool     `json:"isTyping,omitempty"`
	TypingUser   string   `json:"typingUser,omitempty"`
}

// HasParticipant reports whether addr is listed in the chat.
func (c *Chat) HasParticipant(addr string) bool {
	for _, p := range c.Participants {
		if p == addr {
			return true
		}
	}
	return false
}

// UserProfile is the local node's identity as shown to peers. ID is empty
// until the transport layer assigns an address and immutable afterwards.
type UserProfile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}
