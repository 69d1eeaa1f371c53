package chat

import "encoding/json"

// ChatState is the materialized, provider-shaped message sequence actually
// transmitted in requests. Messages are opaque payloads only the active
// adapter understands. State is derived: it grows by appending during normal
// turns and is reconstructed from the ledger on reload.
type ChatState struct {
	messages []json.RawMessage
}

// NewChatState creates an empty chat state.
func NewChatState() *ChatState {
	return &ChatState{}
}

// Append adds messages in order.
func (s *ChatState) Append(msgs ...json.RawMessage) {
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the message sequence.
func (s *ChatState) Messages() []json.RawMessage {
	out := make([]json.RawMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages.
func (s *ChatState) Len() int {
	return len(s.messages)
}

// Clone returns an independent copy. The disposable sub-conversation the
// structured-output fallback runs works on a clone so the caller's state is
// never touched.
func (s *ChatState) Clone() *ChatState {
	return &ChatState{messages: s.Messages()}
}

// Equal reports whether two states are byte-equivalent.
func (s *ChatState) Equal(other *ChatState) bool {
	if len(s.messages) != len(other.messages) {
		return false
	}
	for i := range s.messages {
		if string(s.messages[i]) != string(other.messages[i]) {
			return false
		}
	}
	return true
}
