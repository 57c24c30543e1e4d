package bus

import (
	"time"
)

type InboundMessage struct {
	Channel     string
	SenderID    string
	SenderName  string
	ChatID      string
	ChatName    string
	MessageID   string
	Content     string
	Direct      bool // one-to-one conversation with the agent
	Guild       bool // shared channel subject to the allowed-channel gate
	MentionsBot bool
	Timestamp   time.Time
	Metadata    map[string]any
}

// SessionKey identifies the chat across platforms; it is the allowed-channel key.
func (m InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// UserKey identifies the author across platforms.
func (m InboundMessage) UserKey() string {
	return m.Channel + ":" + m.SenderID
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Typing   bool // typing indicator only, Content is ignored
	Metadata map[string]any
}
