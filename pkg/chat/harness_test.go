package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/transport"
	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/ledger"
	"github.com/parley-ai/parley/pkg/tools"
)

// The fake backend speaks a minimal wire format so loop behavior can be
// tested without any real provider shapes.

type fakeMessage struct {
	Role    string          `json:"role"`
	Text    string          `json:"text,omitempty"`
	Calls   []tools.Call    `json:"calls,omitempty"`
	Results []tools.Result  `json:"results,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

type fakeRequest struct {
	Model     string              `json:"model"`
	System    string              `json:"system,omitempty"`
	Messages  []json.RawMessage   `json:"messages"`
	Tools     []string            `json:"tools,omitempty"`
	Marks     provider.CacheMarks `json:"marks"`
	ForceTool string              `json:"force_tool,omitempty"`
	Schema    json.RawMessage     `json:"schema,omitempty"`
}

type fakeResponse struct {
	Text      string       `json:"text,omitempty"`
	Reasoning string       `json:"reasoning,omitempty"`
	Calls     []tools.Call `json:"calls,omitempty"`
	Usage     struct {
		In  int `json:"in"`
		Out int `json:"out"`
	} `json:"usage"`
}

type fakeAdapter struct {
	structured bool
	caching    bool
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Headers(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func (f *fakeAdapter) BuildRequest(req provider.Request) (string, json.RawMessage, error) {
	out := fakeRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		Marks:     req.CacheMarks,
		ForceTool: req.ForceTool,
		Schema:    req.ResponseSchema,
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, t.Name)
	}
	body, err := json.Marshal(out)
	return "/complete", body, err
}

func (f *fakeAdapter) UserMessage(parts []content.Part) (json.RawMessage, error) {
	var sb strings.Builder
	for _, p := range parts {
		if p.Kind != content.KindText {
			return nil, fmt.Errorf("fake: only text parts supported")
		}
		sb.WriteString(p.Text)
	}
	return json.Marshal(fakeMessage{Role: "user", Text: sb.String()})
}

func (f *fakeAdapter) ToolResultMessages(results []tools.Result) ([]json.RawMessage, error) {
	msg, err := json.Marshal(fakeMessage{Role: "tool", Results: results})
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{msg}, nil
}

func (f *fakeAdapter) Messages(query json.RawMessage) ([]json.RawMessage, error) {
	var req fakeRequest
	if err := json.Unmarshal(query, &req); err != nil {
		return nil, err
	}
	return req.Messages, nil
}

func (f *fakeAdapter) Role(message json.RawMessage) (string, error) {
	var msg fakeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return "", err
	}
	return msg.Role, nil
}

func (f *fakeAdapter) ContentText(response json.RawMessage) (string, error) {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (f *fakeAdapter) ReasoningText(response json.RawMessage) string {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return ""
	}
	return resp.Reasoning
}

func (f *fakeAdapter) ToolCalls(response json.RawMessage) ([]tools.Call, error) {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, err
	}
	return resp.Calls, nil
}

func (f *fakeAdapter) ToolResults(message json.RawMessage) ([]tools.Result, error) {
	var msg fakeMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		return nil, err
	}
	return msg.Results, nil
}

func (f *fakeAdapter) TokenCounts(response json.RawMessage) provider.Usage {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return provider.Usage{}
	}
	return provider.Usage{
		InputTokens:  resp.Usage.In,
		OutputTokens: resp.Usage.Out,
		TotalTokens:  resp.Usage.In + resp.Usage.Out,
	}
}

func (f *fakeAdapter) TrimForHistory(response json.RawMessage) (json.RawMessage, error) {
	var resp fakeResponse
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, err
	}
	return json.Marshal(fakeMessage{Role: "assistant", Text: resp.Text, Calls: resp.Calls})
}

func (f *fakeAdapter) SupportsNativeStructured() bool { return f.structured }
func (f *fakeAdapter) SupportsCaching() bool          { return f.caching }

// fakeBackend serves scripted responses and records every request.
type fakeBackend struct {
	mu        sync.Mutex
	responses []fakeResponse
	requests  []fakeRequest
	status    int
}

func (b *fakeBackend) push(resps ...fakeResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, resps...)
}

func (b *fakeBackend) received() []fakeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]fakeRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *fakeBackend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()

		var req fakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("backend: bad request: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.requests = append(b.requests, req)

		if b.status != 0 {
			http.Error(w, "scripted failure", b.status)
			return
		}
		if len(b.responses) == 0 {
			t.Error("backend: no scripted response left")
			http.Error(w, "exhausted", http.StatusInternalServerError)
			return
		}
		resp := b.responses[0]
		b.responses = b.responses[1:]
		json.NewEncoder(w).Encode(resp)
	}
}

// textReply scripts a plain final answer.
func textReply(text string, in, out int) fakeResponse {
	r := fakeResponse{Text: text}
	r.Usage.In = in
	r.Usage.Out = out
	return r
}

// callReply scripts a tool-calling round.
func callReply(in, out int, calls ...tools.Call) fakeResponse {
	r := fakeResponse{Calls: calls}
	r.Usage.In = in
	r.Usage.Out = out
	return r
}

type harness struct {
	adapter *fakeAdapter
	backend *fakeBackend
	client  *transport.Client
	conv    *Conversation
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, &fakeAdapter{}, ledger.NewMemoryStore(), opts...)
}

func newHarnessWith(t *testing.T, adapter *fakeAdapter, store ledger.Store, opts ...Option) *harness {
	t.Helper()

	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler(t))
	t.Cleanup(srv.Close)

	client := transport.NewClient(transport.Config{BaseURL: srv.URL})
	client.SetHTTPClient(srv.Client())

	allOpts := append([]Option{WithModel("fake-1")}, opts...)
	conv, err := New(adapter, client, store, allOpts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	return &harness{adapter: adapter, backend: backend, client: client, conv: conv}
}
