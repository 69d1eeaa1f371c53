package chat

import "fmt"

// ProtocolError is a successful transport response whose extracted content
// is empty or malformed. It indicates an adapter/vendor contract mismatch,
// not a recoverable condition: it is always fatal and never retried.
type ProtocolError struct {
	Provider string
	Reason   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol violation: %s", e.Provider, e.Reason)
}

// ToolRoundLimitError is returned when a turn exceeds its injected
// tool-round guard.
type ToolRoundLimitError struct {
	Limit int
}

func (e *ToolRoundLimitError) Error() string {
	return fmt.Sprintf("turn exceeded %d tool rounds", e.Limit)
}
