package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

const (
	anthropicVersion   = "2023-06-01"
	anthropicMessages  = "/messages"
	anthropicMaxTokens = 4096
)

func init() {
	Register(&AnthropicAdapter{})
}

// AnthropicAdapter implements Adapter for the Anthropic Messages API.
type AnthropicAdapter struct{}

// Name returns the backend identifier.
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

type anthropicCacheControl struct {
	Type string `json:"type"`
}

var anthropicEphemeral = &anthropicCacheControl{Type: "ephemeral"}

type anthropicTextBlock struct {
	Type         string                 `json:"type"`
	Text         string                 `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	FileID    string `json:"file_id,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image / document
	Source    *anthropicSource `json:"source,omitempty"`
	Title     string           `json:"title,omitempty"`
	Citations *struct {
		Enabled bool `json:"enabled"`
	} `json:"citations,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  json.RawMessage        `json:"input_schema"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      []anthropicTextBlock `json:"system,omitempty"`
	Messages    []json.RawMessage    `json:"messages"`
	Tools       []json.RawMessage    `json:"tools,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
	Thinking    *anthropicThinking   `json:"thinking,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Headers returns the Anthropic authentication and version headers.
func (a *AnthropicAdapter) Headers(apiKey string) map[string]string {
	return map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": anthropicVersion,
	}
}

// BuildRequest assembles a Messages API request body.
func (a *AnthropicAdapter) BuildRequest(req Request) (string, json.RawMessage, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicMaxTokens
	}

	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}

	if req.System != "" {
		block := anthropicTextBlock{Type: "text", Text: req.System}
		if req.CacheMarks.System {
			block.CacheControl = anthropicEphemeral
		}
		out.System = []anthropicTextBlock{block}
	}

	for i, t := range req.Tools {
		if len(t.Native) > 0 {
			out.Tools = append(out.Tools, t.Native)
			continue
		}
		tool := anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		}
		if req.CacheMarks.Tools && i == len(req.Tools)-1 {
			tool.CacheControl = anthropicEphemeral
		}
		raw, err := json.Marshal(tool)
		if err != nil {
			return "", nil, fmt.Errorf("marshal tool %s: %w", t.Name, err)
		}
		out.Tools = append(out.Tools, raw)
	}

	if req.CacheMarks.LastMessage && len(out.Messages) > 0 {
		marked, err := a.markLastBlock(out.Messages[len(out.Messages)-1])
		if err != nil {
			return "", nil, fmt.Errorf("mark cache breakpoint: %w", err)
		}
		msgs := make([]json.RawMessage, len(out.Messages))
		copy(msgs, out.Messages)
		msgs[len(msgs)-1] = marked
		out.Messages = msgs
	}

	if req.ThinkingBudget > 0 {
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.ThinkingBudget}
		// The API rejects sampling parameters alongside extended thinking.
		out.Temperature = nil
	}

	if req.ForceTool != "" {
		out.ToolChoice = &anthropicToolChoice{Type: "tool", Name: req.ForceTool}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return "", nil, err
	}
	return anthropicMessages, body, nil
}

// markLastBlock sets an ephemeral cache_control on the final content block
// of a provider-shaped message.
func (a *AnthropicAdapter) markLastBlock(message json.RawMessage) (json.RawMessage, error) {
	var msg anthropicMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if len(msg.Content) == 0 {
		return message, nil
	}
	msg.Content[len(msg.Content)-1].CacheControl = anthropicEphemeral
	return json.Marshal(msg)
}

// UserMessage constructs a user message from content parts.
func (a *AnthropicAdapter) UserMessage(parts []content.Part) (json.RawMessage, error) {
	blocks := make([]anthropicContentBlock, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case content.KindText:
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: p.Text})
		case content.KindImage:
			blocks = append(blocks, anthropicContentBlock{
				Type:   "image",
				Source: &anthropicSource{Type: "base64", MediaType: p.MIME, Data: p.Base64()},
			})
		case content.KindPDF:
			block := anthropicContentBlock{
				Type:   "document",
				Title:  p.Name,
				Source: &anthropicSource{Type: "base64", MediaType: "application/pdf", Data: p.Base64()},
			}
			if p.Citations {
				block.Citations = &struct {
					Enabled bool `json:"enabled"`
				}{Enabled: true}
			}
			blocks = append(blocks, block)
		case content.KindFileRef:
			blocks = append(blocks, anthropicContentBlock{
				Type:   "document",
				Title:  p.Name,
				Source: &anthropicSource{Type: "file", FileID: p.FileID},
			})
		default:
			return nil, fmt.Errorf("anthropic: unsupported part kind %q", p.Kind)
		}
	}
	return json.Marshal(anthropicMessage{Role: "user", Content: blocks})
}

// ToolResultMessages batches a round's tool results into one user message,
// preserving request order.
func (a *AnthropicAdapter) ToolResultMessages(results []tools.Result) ([]json.RawMessage, error) {
	blocks := make([]anthropicContentBlock, len(results))
	for i, r := range results {
		blocks[i] = anthropicContentBlock{
			Type:      "tool_result",
			ToolUseID: r.CallID,
			Content:   r.Content,
			IsError:   r.IsError,
		}
	}
	msg, err := json.Marshal(anthropicMessage{Role: "user", Content: blocks})
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{msg}, nil
}

// Messages extracts the ordered messages from a recorded request body.
func (a *AnthropicAdapter) Messages(query json.RawMessage) ([]json.RawMessage, error) {
	var req struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(query, &req); err != nil {
		return nil, fmt.Errorf("anthropic: parse recorded request: %w", err)
	}
	for i, m := range req.Messages {
		clean, err := a.stripCacheMarks(m)
		if err != nil {
			return nil, fmt.Errorf("anthropic: parse recorded message: %w", err)
		}
		req.Messages[i] = clean
	}
	return req.Messages, nil
}

// stripCacheMarks removes cache_control from a recorded message. Breakpoints
// are request routing, not transcript content: chat state holds the unmarked
// message, so reconstruction must yield the unmarked message too.
func (a *AnthropicAdapter) stripCacheMarks(message json.RawMessage) (json.RawMessage, error) {
	var msg anthropicMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	marked := false
	for i := range msg.Content {
		if msg.Content[i].CacheControl != nil {
			msg.Content[i].CacheControl = nil
			marked = true
		}
	}
	if !marked {
		return message, nil
	}
	return json.Marshal(msg)
}

// Role extracts a message's role.
func (a *AnthropicAdapter) Role(message json.RawMessage) (string, error) {
	var msg struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return "", err
	}
	return msg.Role, nil
}

// ContentText concatenates the text blocks of a response.
func (a *AnthropicAdapter) ContentText(response json.RawMessage) (string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return "", fmt.Errorf("anthropic: parse response: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ReasoningText concatenates thinking blocks, if any.
func (a *AnthropicAdapter) ReasoningText(response json.RawMessage) string {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "thinking" {
			sb.WriteString(block.Thinking)
		}
	}
	return sb.String()
}

// ToolCalls extracts tool_use blocks in order.
func (a *AnthropicAdapter) ToolCalls(response json.RawMessage) ([]tools.Call, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: parse response: %w", err)
	}
	var calls []tools.Call
	for _, block := range resp.Content {
		if block.Type == "tool_use" {
			calls = append(calls, tools.Call{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	return calls, nil
}

// ToolResults extracts tool_result blocks from a provider-shaped message.
func (a *AnthropicAdapter) ToolResults(message json.RawMessage) ([]tools.Result, error) {
	var msg anthropicMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	var results []tools.Result
	for _, block := range msg.Content {
		if block.Type == "tool_result" {
			results = append(results, tools.Result{
				CallID:  block.ToolUseID,
				Content: block.Content,
				IsError: block.IsError,
			})
		}
	}
	return results, nil
}

// TokenCounts extracts usage from a response.
func (a *AnthropicAdapter) TokenCounts(response json.RawMessage) Usage {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return Usage{}
	}
	in := resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens
	return Usage{
		InputTokens:  in,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  in + resp.Usage.OutputTokens,
	}
}

// TrimForHistory converts a response into the assistant message replayed in
// later requests. Thinking blocks and other provider-only scaffolding are
// stripped; text and tool_use blocks survive.
func (a *AnthropicAdapter) TrimForHistory(response json.RawMessage) (json.RawMessage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: parse response: %w", err)
	}
	blocks := make([]anthropicContentBlock, 0, len(resp.Content))
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, anthropicContentBlock{Type: "text", Text: block.Text})
		case "tool_use":
			blocks = append(blocks, anthropicContentBlock{
				Type:  "tool_use",
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}
	return json.Marshal(anthropicMessage{Role: "assistant", Content: blocks})
}

// SupportsNativeStructured reports schema-constrained generation support.
// Anthropic has no native mode; the core falls back to a forced tool call.
func (a *AnthropicAdapter) SupportsNativeStructured() bool {
	return false
}

// SupportsCaching reports cache-breakpoint support.
func (a *AnthropicAdapter) SupportsCaching() bool {
	return true
}
