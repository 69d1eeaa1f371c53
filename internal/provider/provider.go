// Package provider defines the backend adapter contract. Every supported
// LLM backend implements Adapter over its own native wire shapes; the
// conversational core calls only this interface and never inspects a vendor
// payload directly. Adding a backend means implementing Adapter and nothing
// else.
package provider

import (
	"encoding/json"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

// ToolDef is a provider-neutral tool declaration handed to BuildRequest.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	// Native carries a vendor-shaped declaration for hosted tools; when set,
	// adapters emit it verbatim instead of translating the fields above.
	Native json.RawMessage `json:"native,omitempty"`
}

// CacheMarks selects which request segments to mark cacheable this round.
// Adapters without cache-breakpoint support ignore them.
type CacheMarks struct {
	System      bool
	Tools       bool
	LastMessage bool
}

// Count returns the number of requested breakpoints.
func (m CacheMarks) Count() int {
	n := 0
	for _, b := range []bool{m.System, m.Tools, m.LastMessage} {
		if b {
			n++
		}
	}
	return n
}

// Request is the provider-neutral request assembled by the agentic loop.
// Messages are provider-shaped payloads previously produced by the same
// adapter; the adapter embeds them into its native request body unchanged.
type Request struct {
	Model          string
	System         string
	Messages       []json.RawMessage
	Tools          []ToolDef
	MaxTokens      int
	Temperature    *float64
	ThinkingBudget int
	CacheMarks     CacheMarks

	// ForceTool names a tool the model must call (structured-output
	// fallback). Empty means the model chooses freely.
	ForceTool string

	// ResponseSchema requests native schema-constrained generation when the
	// adapter supports it.
	ResponseSchema json.RawMessage
}

// Usage holds token counts extracted from a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Adapter is the fixed extraction/construction contract each backend
// implements over its native request/response shapes. All payloads are raw
// JSON exactly as sent to or received from the vendor; only the adapter that
// produced a payload may interpret it.
type Adapter interface {
	// Name returns the backend identifier (e.g. "anthropic").
	Name() string

	// BuildRequest assembles the native request body and its endpoint path.
	BuildRequest(req Request) (path string, body json.RawMessage, err error)

	// Headers returns the authentication and version headers for requests.
	Headers(apiKey string) map[string]string

	// UserMessage constructs a provider-shaped user message from parts.
	UserMessage(parts []content.Part) (json.RawMessage, error)

	// ToolResultMessages constructs the provider-shaped messages carrying
	// one round's tool results in request order. Backends that batch
	// parallel results return a single message; backends that mandate one
	// message per result return several.
	ToolResultMessages(results []tools.Result) ([]json.RawMessage, error)

	// Messages extracts the ordered provider-shaped messages from a
	// recorded request body.
	Messages(query json.RawMessage) ([]json.RawMessage, error)

	// Role extracts the role of a provider-shaped message.
	Role(message json.RawMessage) (string, error)

	// ContentText extracts the concatenated text of a response.
	ContentText(response json.RawMessage) (string, error)

	// ReasoningText extracts model reasoning, if the response carries any.
	ReasoningText(response json.RawMessage) string

	// ToolCalls extracts the tool calls requested by a response, in order.
	ToolCalls(response json.RawMessage) ([]tools.Call, error)

	// ToolResults extracts the tool results carried by a provider-shaped
	// message, in order.
	ToolResults(message json.RawMessage) ([]tools.Result, error)

	// TokenCounts extracts usage from a response payload.
	TokenCounts(response json.RawMessage) Usage

	// TrimForHistory converts a response into the provider-shaped assistant
	// message persisted into chat state, stripping provider-only scaffolding
	// that must not be replayed in later requests.
	TrimForHistory(response json.RawMessage) (json.RawMessage, error)

	// SupportsNativeStructured reports whether the backend can constrain
	// generation to a JSON schema directly.
	SupportsNativeStructured() bool

	// SupportsCaching reports whether the backend honors explicit cache
	// breakpoints.
	SupportsCaching() bool
}
