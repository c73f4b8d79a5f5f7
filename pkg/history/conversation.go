// Copyright 2024-2026 Aiku AI

package history

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Tokens is computed once at
// append time and never recomputed; the message is immutable after
// that.
type Message struct {
	Role   Role
	Text   string
	Tokens int
}

// Conversation is the rolling history for one peer: an optional pinned
// system message followed by user/assistant turns, oldest first. The
// token budget covers the user/assistant turns only; the pinned system
// message rides outside it.
//
// A Conversation is owned by exactly one peer session and is not safe
// for concurrent use; the session serializes access.
type Conversation struct {
	tk        Tokenizer
	budget    int
	hasSystem bool
	messages  []Message
	tokens    int
}

// NewConversation creates a conversation with the given token budget.
// If systemMessage is non-empty it becomes a pinned leading message
// that trimming never evicts; its cost does not count against the
// budget.
func NewConversation(tk Tokenizer, budget int, systemMessage string) *Conversation {
	c := &Conversation{tk: tk, budget: budget}
	if systemMessage != "" {
		cost := tk.Count(systemMessage)
		c.messages = append(c.messages, Message{Role: RoleSystem, Text: systemMessage, Tokens: cost})
		c.hasSystem = true
	}
	return c
}

// Append adds a turn and then trims oldest non-system messages until
// the conversation fits the budget again. The newest message is kept
// even if it alone exceeds the budget: truncating an oversized single
// turn is a configuration sizing problem, not a runtime fault.
func (c *Conversation) Append(role Role, text string) {
	cost := c.tk.Count(text)
	c.messages = append(c.messages, Message{Role: role, Text: text, Tokens: cost})
	c.tokens += cost
	c.trim()
}

func (c *Conversation) trim() {
	oldest := 0
	if c.hasSystem {
		oldest = 1
	}
	// Never remove the most recently appended message.
	for c.tokens > c.budget && oldest < len(c.messages)-1 {
		c.tokens -= c.messages[oldest].Tokens
		c.messages = append(c.messages[:oldest], c.messages[oldest+1:]...)
	}
}

// Snapshot returns a copy of the ordered message sequence for use in a
// backend request.
func (c *Conversation) Snapshot() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// TokenCount returns the cumulative token cost of the user/assistant
// turns; the pinned system message is not counted.
func (c *Conversation) TokenCount() int {
	return c.tokens
}

// Len returns the number of messages, including the system message.
func (c *Conversation) Len() int {
	return len(c.messages)
}
