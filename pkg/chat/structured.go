package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/pkg/ledger"
	"github.com/parley-ai/parley/pkg/tools"
)

// structuredToolName is the synthetic tool the fallback path forces the
// model to call. Its arguments become the structured answer.
const structuredToolName = "record_answer"

// AskStructured asks one turn and returns an answer conforming to the given
// JSON schema. Backends with native schema support receive the schema
// directly; the rest are driven through a forced tool call in a disposable
// sub-conversation.
func (c *Conversation) AskStructured(ctx context.Context, schema json.RawMessage, inputs ...any) (json.RawMessage, error) {
	return c.AskStructuredWith(ctx, Turn{}, schema, inputs...)
}

// AskStructuredWith is AskStructured with per-turn settings. Turns that
// carry tools always use the fallback path: native structured output and
// tool use do not mix on any current backend.
func (c *Conversation) AskStructuredWith(ctx context.Context, turn Turn, schema json.RawMessage, inputs ...any) (json.RawMessage, error) {
	if len(schema) == 0 {
		return nil, fmt.Errorf("chat: structured ask requires a schema")
	}

	if c.adapter.SupportsNativeStructured() && turn.Tools == nil {
		turn.responseSchema = schema
		reply, err := c.AskWith(ctx, turn, inputs...)
		if err != nil {
			return nil, err
		}
		if !json.Valid([]byte(reply.Text)) {
			return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: "structured response is not valid JSON"}
		}
		return json.RawMessage(reply.Text), nil
	}

	return c.askForcedTool(ctx, turn, schema, inputs...)
}

// askForcedTool runs the structured fallback: a clone of the conversation
// with an ephemeral ledger gets a single schema-shaped tool, the model is
// forced to call it at temperature zero, and the call arguments are the
// answer. The parent conversation is never touched.
func (c *Conversation) askForcedTool(ctx context.Context, turn Turn, schema json.RawMessage, inputs ...any) (json.RawMessage, error) {
	c.mu.Lock()
	state := c.state.Clone()
	c.mu.Unlock()

	sub := &Conversation{
		id:      c.id + "-structured",
		adapter: c.adapter,
		client:  c.client,
		store:   ledger.NewMemoryStore(),
		opts:    c.opts,
		state:   state,
	}
	zero := 0.0
	sub.opts.Temperature = &zero

	reg := tools.NewRegistry()
	reg.MustRegister(tools.Tool{
		Name:        structuredToolName,
		Description: "Record the final answer in the required format.",
		Parameters:  schema,
		Kind:        tools.KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return args, nil
		},
	})
	if turn.Tools != nil {
		for _, t := range turn.Tools.Callable() {
			reg.MustRegister(t)
		}
		for _, t := range turn.Tools.Hosted() {
			reg.MustRegister(t)
		}
	}

	turn.Tools = reg
	turn.forceTool = structuredToolName
	turn.ReturnToolCalls = true
	turn.responseSchema = nil

	reply, err := sub.AskWith(ctx, turn, inputs...)
	if err != nil {
		return nil, err
	}
	for _, call := range reply.ToolCalls {
		if call.Name == structuredToolName {
			return call.Arguments, nil
		}
	}
	return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: "forced tool call missing from response"}
}
