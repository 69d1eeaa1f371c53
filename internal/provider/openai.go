package provider

import (
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

const openaiChatCompletions = "/chat/completions"

func init() {
	Register(&OpenAIAdapter{})
}

// OpenAIAdapter implements Adapter for the OpenAI Chat Completions API.
type OpenAIAdapter struct{}

// Name returns the backend identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

type openaiContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ImageURL *struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	} `json:"image_url,omitempty"`

	File *struct {
		FileID   string `json:"file_id,omitempty"`
		Filename string `json:"filename,omitempty"`
		FileData string `json:"file_data,omitempty"`
	} `json:"file,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiToolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type openaiJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict,omitempty"`
	Schema json.RawMessage `json:"schema"`
}

type openaiRespFmt struct {
	Type       string            `json:"type"`
	JSONSchema *openaiJSONSchema `json:"json_schema,omitempty"`
}

type openaiRequest struct {
	Model           string            `json:"model"`
	Messages        []json.RawMessage `json:"messages"`
	Temperature     *float64          `json:"temperature,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty"`
	Tools           []json.RawMessage `json:"tools,omitempty"`
	ToolChoice      *openaiToolChoice `json:"tool_choice,omitempty"`
	ResponseFormat  *openaiRespFmt    `json:"response_format,omitempty"`
	ReasoningEffort string            `json:"reasoning_effort,omitempty"`
}

type openaiResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role             string           `json:"role"`
			Content          string           `json:"content"`
			ReasoningContent string           `json:"reasoning_content"`
			ToolCalls        []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Headers returns the OpenAI authentication headers.
func (a *OpenAIAdapter) Headers(apiKey string) map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + apiKey,
	}
}

// BuildRequest assembles a Chat Completions request body. A system prompt
// becomes the leading system message; recorded chat-state messages follow
// unchanged. Cache marks are ignored: OpenAI prefix caching is automatic.
func (a *OpenAIAdapter) BuildRequest(req Request) (string, json.RawMessage, error) {
	messages := make([]json.RawMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		sys, err := json.Marshal(map[string]string{"role": "system", "content": req.System})
		if err != nil {
			return "", nil, err
		}
		messages = append(messages, sys)
	}
	messages = append(messages, req.Messages...)

	out := openaiRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.ThinkingBudget > 0 {
		out.ReasoningEffort = reasoningEffort(req.ThinkingBudget)
	}

	for _, t := range req.Tools {
		if len(t.Native) > 0 {
			out.Tools = append(out.Tools, t.Native)
			continue
		}
		var tool openaiTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = t.Parameters
		raw, err := json.Marshal(tool)
		if err != nil {
			return "", nil, fmt.Errorf("marshal tool %s: %w", t.Name, err)
		}
		out.Tools = append(out.Tools, raw)
	}

	if req.ForceTool != "" {
		choice := &openaiToolChoice{Type: "function"}
		choice.Function.Name = req.ForceTool
		out.ToolChoice = choice
	}

	if len(req.ResponseSchema) > 0 {
		out.ResponseFormat = &openaiRespFmt{
			Type: "json_schema",
			JSONSchema: &openaiJSONSchema{
				Name:   "response",
				Strict: true,
				Schema: req.ResponseSchema,
			},
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return "", nil, err
	}
	return openaiChatCompletions, body, nil
}

// reasoningEffort buckets a token budget into the discrete effort levels
// the Chat Completions API accepts.
func reasoningEffort(budget int) string {
	switch {
	case budget < 4096:
		return "low"
	case budget < 16384:
		return "medium"
	default:
		return "high"
	}
}

// UserMessage constructs a user message from content parts.
func (a *OpenAIAdapter) UserMessage(parts []content.Part) (json.RawMessage, error) {
	out := make([]openaiContentPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case content.KindText:
			out = append(out, openaiContentPart{Type: "text", Text: p.Text})
		case content.KindImage:
			part := openaiContentPart{Type: "image_url"}
			part.ImageURL = &struct {
				URL    string `json:"url"`
				Detail string `json:"detail,omitempty"`
			}{
				URL:    fmt.Sprintf("data:%s;base64,%s", p.MIME, p.Base64()),
				Detail: string(p.Detail),
			}
			out = append(out, part)
		case content.KindPDF:
			part := openaiContentPart{Type: "file"}
			part.File = &struct {
				FileID   string `json:"file_id,omitempty"`
				Filename string `json:"filename,omitempty"`
				FileData string `json:"file_data,omitempty"`
			}{
				Filename: p.Name,
				FileData: "data:application/pdf;base64," + p.Base64(),
			}
			out = append(out, part)
		case content.KindFileRef:
			part := openaiContentPart{Type: "file"}
			part.File = &struct {
				FileID   string `json:"file_id,omitempty"`
				Filename string `json:"filename,omitempty"`
				FileData string `json:"file_data,omitempty"`
			}{FileID: p.FileID}
			out = append(out, part)
		default:
			return nil, fmt.Errorf("openai: unsupported part kind %q", p.Kind)
		}
	}

	contentRaw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return json.Marshal(openaiMessage{Role: "user", Content: contentRaw})
}

// ToolResultMessages emits one role=tool message per result, as the Chat
// Completions API mandates.
func (a *OpenAIAdapter) ToolResultMessages(results []tools.Result) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(results))
	for i, r := range results {
		body := r.Content
		if r.IsError {
			wrapped, err := json.Marshal(map[string]string{"error": r.Content})
			if err != nil {
				return nil, err
			}
			body = string(wrapped)
		}
		contentRaw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		msg, err := json.Marshal(openaiMessage{
			Role:       "tool",
			Content:    contentRaw,
			ToolCallID: r.CallID,
		})
		if err != nil {
			return nil, err
		}
		out[i] = msg
	}
	return out, nil
}

// Messages extracts the ordered messages from a recorded request body,
// excluding the system message the adapter itself prepends.
func (a *OpenAIAdapter) Messages(query json.RawMessage) ([]json.RawMessage, error) {
	var req struct {
		Messages []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(query, &req); err != nil {
		return nil, fmt.Errorf("openai: parse recorded request: %w", err)
	}
	out := make([]json.RawMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		role, err := a.Role(m)
		if err != nil {
			return nil, err
		}
		if role == "system" {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Role extracts a message's role.
func (a *OpenAIAdapter) Role(message json.RawMessage) (string, error) {
	var msg struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return "", err
	}
	return msg.Role, nil
}

// ContentText extracts the first choice's text.
func (a *OpenAIAdapter) ContentText(response json.RawMessage) (string, error) {
	var resp openaiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return "", fmt.Errorf("openai: parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// ReasoningText extracts reasoning content when the model exposes it.
func (a *OpenAIAdapter) ReasoningText(response json.RawMessage) string {
	var resp openaiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return ""
	}
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.ReasoningContent
}

// ToolCalls extracts the first choice's tool calls in order.
func (a *OpenAIAdapter) ToolCalls(response json.RawMessage) ([]tools.Call, error) {
	var resp openaiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	var calls []tools.Call
	for _, tc := range resp.Choices[0].Message.ToolCalls {
		calls = append(calls, tools.Call{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return calls, nil
}

// ToolResults extracts the result carried by a role=tool message.
func (a *OpenAIAdapter) ToolResults(message json.RawMessage) ([]tools.Result, error) {
	var msg openaiMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	if msg.Role != "tool" {
		return nil, nil
	}
	var body string
	if err := json.Unmarshal(msg.Content, &body); err != nil {
		body = string(msg.Content)
	}
	return []tools.Result{{CallID: msg.ToolCallID, Content: body}}, nil
}

// TokenCounts extracts usage from a response.
func (a *OpenAIAdapter) TokenCounts(response json.RawMessage) Usage {
	var resp openaiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return Usage{}
	}
	return Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
}

// TrimForHistory converts a response into the replayable assistant message.
// Reasoning content never goes back on the wire.
func (a *OpenAIAdapter) TrimForHistory(response json.RawMessage) (json.RawMessage, error) {
	var resp openaiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("openai: parse response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}
	choice := resp.Choices[0]

	msg := openaiMessage{Role: "assistant", ToolCalls: choice.Message.ToolCalls}
	if choice.Message.Content != "" {
		contentRaw, err := json.Marshal(choice.Message.Content)
		if err != nil {
			return nil, err
		}
		msg.Content = contentRaw
	}
	return json.Marshal(msg)
}

// SupportsNativeStructured reports schema-constrained generation support.
func (a *OpenAIAdapter) SupportsNativeStructured() bool {
	return true
}

// SupportsCaching reports cache-breakpoint support. OpenAI caches prompt
// prefixes automatically; explicit marks are meaningless.
func (a *OpenAIAdapter) SupportsCaching() bool {
	return false
}
