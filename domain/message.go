// Package domain defines the core domain models for the safety-gated chat
// orchestrator: messages, conversations, safety verdicts, turn records and
// session configuration.
package domain

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageMetadata carries safety annotations attached to a message.
type MessageMetadata struct {
	Rewritten bool `json:"rewritten,omitempty"`
}

// Message is a single entry in a conversation. Messages are treated as
// immutable values once appended to a Conversation.
type Message struct {
	Role     Role             `json:"role"`
	Content  string           `json:"content"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// Conversation is the ordered, append-only message history owned by exactly
// one session. The first message, when a system prompt is configured, has
// role "system". Conversation is not safe for concurrent use; the owning
// session serializes access.
type Conversation struct {
	messages []Message
}

// NewConversation creates a conversation, seeded with a system message when
// systemPrompt is non-empty.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	if systemPrompt != "" {
		c.messages = append(c.messages, Message{Role: RoleSystem, Content: systemPrompt})
	}
	return c
}

// Append adds messages to the end of the history.
func (c *Conversation) Append(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
}

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	return len(c.messages)
}
