package provider

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

func TestGeminiHeaders(t *testing.T) {
	a := &GeminiAdapter{}
	h := a.Headers("AIza-test")
	assert.Equal(t, "AIza-test", h["x-goog-api-key"])
}

func TestGeminiBuildRequest(t *testing.T) {
	a := &GeminiAdapter{}
	userMsg, err := a.UserMessage([]content.Part{content.Text("hi")})
	require.NoError(t, err)

	path, body, err := a.BuildRequest(Request{
		Model:     "gemini-2.5-flash",
		System:    "be brief",
		Messages:  []json.RawMessage{userMsg},
		MaxTokens: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, "/models/gemini-2.5-flash:generateContent", path)

	var req geminiRequest
	require.NoError(t, json.Unmarshal(body, &req))
	require.NotNil(t, req.SystemInstruction)
	assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 2048, req.GenerationConfig.MaxOutputTokens)
	require.Len(t, req.Contents, 1)
}

func TestGeminiBuildRequest_ResponseSchema(t *testing.T) {
	a := &GeminiAdapter{}
	schema := json.RawMessage(`{"type":"object"}`)
	_, body, err := a.BuildRequest(Request{
		Model:          "gemini-2.5-flash",
		ResponseSchema: schema,
	})
	require.NoError(t, err)

	var req geminiRequest
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
	assert.JSONEq(t, string(schema), string(req.GenerationConfig.ResponseSchema))
}

func TestGeminiBuildRequest_ForceTool(t *testing.T) {
	a := &GeminiAdapter{}
	_, body, err := a.BuildRequest(Request{
		Model:     "gemini-2.5-flash",
		Tools:     []ToolDef{{Name: "record_answer"}},
		ForceTool: "record_answer",
	})
	require.NoError(t, err)

	var req geminiRequest
	require.NoError(t, json.Unmarshal(body, &req))
	require.NotNil(t, req.ToolConfig)
	assert.Equal(t, "ANY", req.ToolConfig.FunctionCallingConfig.Mode)
	assert.Equal(t, []string{"record_answer"}, req.ToolConfig.FunctionCallingConfig.AllowedFunctionNames)
}

func TestGeminiUserMessage_Multimodal(t *testing.T) {
	a := &GeminiAdapter{}
	msg, err := a.UserMessage([]content.Part{
		content.Text("what is this?"),
		content.Image([]byte{1, 2, 3}, "image/webp"),
		content.FileRef("gs://bucket/file", "big.pdf", "application/pdf"),
	})
	require.NoError(t, err)

	var m geminiContent
	require.NoError(t, json.Unmarshal(msg, &m))
	assert.Equal(t, "user", m.Role)
	require.Len(t, m.Parts, 3)
	assert.Equal(t, "image/webp", m.Parts[1].InlineData.MIMEType)
	assert.Equal(t, "gs://bucket/file", m.Parts[2].FileData.FileURI)
}

const geminiFunctionCallResponse = `{
	"candidates": [{
		"content": {
			"role": "model",
			"parts": [
				{"text": "planning the call", "thought": true},
				{"text": "Adding now."},
				{"functionCall": {"name": "add", "args": {"a": 2, "b": 2}}}
			]
		},
		"finishReason": "STOP"
	}],
	"usageMetadata": {"promptTokenCount": 50, "candidatesTokenCount": 20, "thoughtsTokenCount": 10, "totalTokenCount": 80}
}`

func TestGeminiExtraction(t *testing.T) {
	a := &GeminiAdapter{}
	resp := json.RawMessage(geminiFunctionCallResponse)

	text, err := a.ContentText(resp)
	require.NoError(t, err)
	assert.Equal(t, "Adding now.", text)

	assert.Equal(t, "planning the call", a.ReasoningText(resp))

	calls, err := a.ToolCalls(resp)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "add", calls[0].Name)
	// Gemini carries no call ids; the adapter synthesizes one.
	assert.NotEmpty(t, calls[0].ID)
	assert.JSONEq(t, `{"a":2,"b":2}`, string(calls[0].Arguments))

	usage := a.TokenCounts(resp)
	assert.Equal(t, 50, usage.InputTokens)
	assert.Equal(t, 30, usage.OutputTokens)
	assert.Equal(t, 80, usage.TotalTokens)
}

func TestGeminiTrimForHistory_DropsThoughts(t *testing.T) {
	a := &GeminiAdapter{}
	trimmed, err := a.TrimForHistory(json.RawMessage(geminiFunctionCallResponse))
	require.NoError(t, err)

	var msg geminiContent
	require.NoError(t, json.Unmarshal(trimmed, &msg))
	assert.Equal(t, "model", msg.Role)
	require.Len(t, msg.Parts, 2)
	assert.Equal(t, "Adding now.", msg.Parts[0].Text)
	require.NotNil(t, msg.Parts[1].FunctionCall)
}

func TestGeminiToolResultMessages(t *testing.T) {
	a := &GeminiAdapter{}
	msgs, err := a.ToolResultMessages([]tools.Result{
		{CallID: "synth-1", Name: "add", Content: "4"},
		{CallID: "synth-2", Name: "div", Content: "division by zero", IsError: true},
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	results, err := a.ToolResults(msgs[0])
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "add", results[0].Name)
	assert.Equal(t, "4", results[0].Content)
	assert.True(t, results[1].IsError)
}

func TestRegistryLookup(t *testing.T) {
	for _, name := range []string{"anthropic", "openai", "gemini"} {
		a, err := Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, a.Name())
		assert.NotEmpty(t, DefaultBaseURL(name))
	}

	_, err := Get("cohere")
	assert.Error(t, err)
}
