package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

func init() {
	Register(&GeminiAdapter{})
}

// GeminiAdapter implements Adapter for the Gemini generateContent API.
type GeminiAdapter struct{}

// Name returns the backend identifier.
func (a *GeminiAdapter) Name() string {
	return "gemini"
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFileData struct {
	MIMEType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FileData         *geminiFileData         `json:"fileData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxOutputTokens  int             `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
	ThinkingConfig   *struct {
		ThinkingBudget  int  `json:"thinkingBudget"`
		IncludeThoughts bool `json:"includeThoughts"`
	} `json:"thinkingConfig,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode                 string   `json:"mode"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []json.RawMessage       `json:"contents"`
	Tools             []json.RawMessage       `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		ThoughtsTokenCount   int `json:"thoughtsTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Headers returns the Gemini authentication headers.
func (a *GeminiAdapter) Headers(apiKey string) map[string]string {
	return map[string]string{
		"x-goog-api-key": apiKey,
	}
}

// BuildRequest assembles a generateContent request body. Cache marks are
// ignored: Gemini manages implicit caching itself.
func (a *GeminiAdapter) BuildRequest(req Request) (string, json.RawMessage, error) {
	out := geminiRequest{Contents: req.Messages}

	if req.System != "" {
		out.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: req.System}},
		}
	}

	if len(req.Tools) > 0 {
		var decls []geminiFunctionDecl
		for _, t := range req.Tools {
			if len(t.Native) > 0 {
				out.Tools = append(out.Tools, t.Native)
				continue
			}
			decls = append(decls, geminiFunctionDecl{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		if len(decls) > 0 {
			raw, err := json.Marshal(map[string]any{"functionDeclarations": decls})
			if err != nil {
				return "", nil, err
			}
			out.Tools = append(out.Tools, raw)
		}
	}

	cfg := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &struct {
			ThinkingBudget  int  `json:"thinkingBudget"`
			IncludeThoughts bool `json:"includeThoughts"`
		}{ThinkingBudget: req.ThinkingBudget, IncludeThoughts: true}
	}
	if len(req.ResponseSchema) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = req.ResponseSchema
	}
	out.GenerationConfig = cfg

	if req.ForceTool != "" {
		tc := &geminiToolConfig{}
		tc.FunctionCallingConfig.Mode = "ANY"
		tc.FunctionCallingConfig.AllowedFunctionNames = []string{req.ForceTool}
		out.ToolConfig = tc
	}

	body, err := json.Marshal(out)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("/models/%s:generateContent", req.Model), body, nil
}

// UserMessage constructs a user content entry from parts.
func (a *GeminiAdapter) UserMessage(parts []content.Part) (json.RawMessage, error) {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case content.KindText:
			out = append(out, geminiPart{Text: p.Text})
		case content.KindImage:
			out = append(out, geminiPart{InlineData: &geminiBlob{MIMEType: p.MIME, Data: p.Base64()}})
		case content.KindPDF:
			out = append(out, geminiPart{InlineData: &geminiBlob{MIMEType: "application/pdf", Data: p.Base64()}})
		case content.KindFileRef:
			out = append(out, geminiPart{FileData: &geminiFileData{MIMEType: p.MIME, FileURI: p.FileID}})
		default:
			return nil, fmt.Errorf("gemini: unsupported part kind %q", p.Kind)
		}
	}
	return json.Marshal(geminiContent{Role: "user", Parts: out})
}

// ToolResultMessages batches a round's results into one user content entry
// of functionResponse parts. Gemini matches results by function name.
func (a *GeminiAdapter) ToolResultMessages(results []tools.Result) ([]json.RawMessage, error) {
	parts := make([]geminiPart, len(results))
	for i, r := range results {
		response := map[string]any{"result": r.Content}
		if r.IsError {
			response = map[string]any{"error": r.Content}
		}
		parts[i] = geminiPart{FunctionResponse: &geminiFunctionResponse{
			Name:     r.Name,
			Response: response,
		}}
	}
	msg, err := json.Marshal(geminiContent{Role: "user", Parts: parts})
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{msg}, nil
}

// Messages extracts the ordered content entries from a recorded request.
func (a *GeminiAdapter) Messages(query json.RawMessage) ([]json.RawMessage, error) {
	var req struct {
		Contents []json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(query, &req); err != nil {
		return nil, fmt.Errorf("gemini: parse recorded request: %w", err)
	}
	return req.Contents, nil
}

// Role extracts a content entry's role.
func (a *GeminiAdapter) Role(message json.RawMessage) (string, error) {
	var msg struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return "", err
	}
	return msg.Role, nil
}

// ContentText concatenates the first candidate's non-thought text parts.
func (a *GeminiAdapter) ContentText(response json.RawMessage) (string, error) {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return "", fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

// ReasoningText concatenates thought parts, if any.
func (a *GeminiAdapter) ReasoningText(response json.RawMessage) string {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return ""
	}
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// ToolCalls extracts functionCall parts in order. Gemini assigns no call
// ids; one is synthesized so the dispatcher and ledger can correlate results.
func (a *GeminiAdapter) ToolCalls(response json.RawMessage) ([]tools.Call, error) {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, nil
	}
	var calls []tools.Call
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			calls = append(calls, tools.Call{
				ID:        uuid.New().String(),
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}
	return calls, nil
}

// ToolResults extracts functionResponse parts from a content entry.
func (a *GeminiAdapter) ToolResults(message json.RawMessage) ([]tools.Result, error) {
	var msg geminiContent
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	var results []tools.Result
	for _, part := range msg.Parts {
		if part.FunctionResponse == nil {
			continue
		}
		r := tools.Result{Name: part.FunctionResponse.Name}
		if v, ok := part.FunctionResponse.Response["result"].(string); ok {
			r.Content = v
		} else if v, ok := part.FunctionResponse.Response["error"].(string); ok {
			r.Content = v
			r.IsError = true
		}
		results = append(results, r)
	}
	return results, nil
}

// TokenCounts extracts usage from a response.
func (a *GeminiAdapter) TokenCounts(response json.RawMessage) Usage {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return Usage{}
	}
	u := resp.UsageMetadata
	return Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
}

// TrimForHistory converts a response into the replayable model turn.
// Thought parts are stripped; text and functionCall parts survive.
func (a *GeminiAdapter) TrimForHistory(response json.RawMessage) (json.RawMessage, error) {
	var resp geminiResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("gemini: parse response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response has no candidates")
	}

	parts := make([]geminiPart, 0, len(resp.Candidates[0].Content.Parts))
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		if part.Text != "" || part.FunctionCall != nil {
			parts = append(parts, geminiPart{Text: part.Text, FunctionCall: part.FunctionCall})
		}
	}
	return json.Marshal(geminiContent{Role: "model", Parts: parts})
}

// SupportsNativeStructured reports schema-constrained generation support.
func (a *GeminiAdapter) SupportsNativeStructured() bool {
	return true
}

// SupportsCaching reports cache-breakpoint support. Gemini implicit caching
// needs no explicit marks.
func (a *GeminiAdapter) SupportsCaching() bool {
	return false
}
