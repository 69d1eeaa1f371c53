package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley/internal/observability"
	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/pkg/tools"
)

// Reply is the outcome of one finalized turn.
type Reply struct {
	// Text is the assistant's final textual answer.
	Text string
	// Reasoning carries extracted thinking text when the backend produced
	// any. Best effort; empty for backends without reasoning traces.
	Reasoning string
	// ToolCalls is set only when the turn ran with ReturnToolCalls and the
	// backend requested tools; the calls are returned unexecuted.
	ToolCalls []tools.Call
	// Usage accumulates token counts across every round of the turn.
	Usage provider.Usage
	// Rounds is the number of requests the turn issued.
	Rounds int
}

// Ask sends one user turn assembled from inputs and runs it to completion,
// executing tool rounds as the backend requests them.
func (c *Conversation) Ask(ctx context.Context, inputs ...any) (*Reply, error) {
	return c.AskWith(ctx, Turn{}, inputs...)
}

// AskWith is Ask with per-turn control over tools, caching, and round
// limits.
func (c *Conversation) AskWith(ctx context.Context, turn Turn, inputs ...any) (*Reply, error) {
	parts, err := c.opts.Multiplexer.Normalize(ctx, inputs...)
	if err != nil {
		return nil, fmt.Errorf("chat: normalize inputs: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("chat: empty turn")
	}

	userMsg, err := c.adapter.UserMessage(parts)
	if err != nil {
		return nil, fmt.Errorf("chat: encode user message: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run(ctx, turn, userMsg)
}

// run drives the agentic loop. All mutation happens on a working copy of
// the chat state; the conversation commits only at finalization, so a fatal
// error mid-loop leaves both state and ledger untouched.
func (c *Conversation) run(ctx context.Context, turn Turn, userMsg json.RawMessage) (*Reply, error) {
	ctx, span := observability.StartSpan(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("provider", c.adapter.Name()),
		attribute.String("model", c.opts.Model),
	))
	defer span.End()

	working := c.state.Clone()
	working.Append(userMsg)

	defs, err := toolDefs(turn.Tools)
	if err != nil {
		return nil, err
	}

	maxRounds := turn.MaxRounds
	if maxRounds == 0 {
		maxRounds = c.opts.MaxToolRounds
	}

	var (
		dispatcher *tools.Dispatcher
		reply      Reply
		lastBody   json.RawMessage
	)
	if turn.Tools != nil {
		dispatcher = tools.NewDispatcher(turn.Tools)
	}

	for round := 1; ; round++ {
		req := provider.Request{
			Model:          c.opts.Model,
			System:         c.opts.SystemPrompt,
			Messages:       working.Messages(),
			Tools:          defs,
			MaxTokens:      c.opts.MaxTokens,
			Temperature:    c.opts.Temperature,
			ThinkingBudget: c.opts.ThinkingBudget,
			ForceTool:      turn.forceTool,
			ResponseSchema: turn.responseSchema,
		}
		// Breakpoints go out once; follow-up rounds resend the same
		// transcript prefix and the backend keys on content, not flags.
		if round == 1 {
			req.CacheMarks = c.allocateCache(turn.Cache)
		}

		path, body, err := c.adapter.BuildRequest(req)
		if err != nil {
			return nil, fmt.Errorf("chat: build request: %w", err)
		}
		lastBody = body

		start := time.Now()
		respBody, err := c.client.Do(ctx, path, body)
		observability.RecordRequest(c.adapter.Name(), statusLabel(err), time.Since(start))
		if err != nil {
			return nil, err
		}

		usage := c.adapter.TokenCounts(respBody)
		reply.Usage.InputTokens += usage.InputTokens
		reply.Usage.OutputTokens += usage.OutputTokens
		reply.Usage.TotalTokens += usage.TotalTokens
		observability.RecordTokens(c.adapter.Name(), usage.InputTokens, usage.OutputTokens)
		reply.Rounds = round

		text, err := c.adapter.ContentText(respBody)
		if err != nil {
			return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: err.Error()}
		}
		reasoning := c.adapter.ReasoningText(respBody)
		calls, err := c.adapter.ToolCalls(respBody)
		if err != nil {
			return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: err.Error()}
		}
		if text == "" && reasoning == "" && len(calls) == 0 {
			return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: "empty response"}
		}

		if len(calls) > 0 && turn.ReturnToolCalls {
			reply.Text = text
			reply.Reasoning = reasoning
			reply.ToolCalls = calls
			// Nothing commits here: a transcript ending on unanswered tool
			// calls cannot be replayed in a later request.
			return &reply, nil
		}

		if len(calls) > 0 && dispatcher != nil {
			if maxRounds > 0 && round >= maxRounds {
				return nil, &ToolRoundLimitError{Limit: maxRounds}
			}
			observability.RecordToolRound(c.adapter.Name())

			trimmed, err := c.adapter.TrimForHistory(respBody)
			if err != nil {
				return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: err.Error()}
			}
			working.Append(trimmed)

			results, err := dispatcher.Execute(ctx, calls)
			if err != nil {
				return nil, err
			}
			resultMsgs, err := c.adapter.ToolResultMessages(results)
			if err != nil {
				return nil, fmt.Errorf("chat: encode tool results: %w", err)
			}
			working.Append(resultMsgs...)
			continue
		}

		if len(calls) > 0 {
			// Backend asked for tools but the turn supplied no registry.
			return nil, &ProtocolError{Provider: c.adapter.Name(), Reason: "tool call with no tools configured"}
		}

		reply.Text = text
		reply.Reasoning = reasoning
		if err := c.finalize(ctx, working, lastBody, respBody, reply.Usage); err != nil {
			return nil, err
		}
		return &reply, nil
	}
}

// finalize persists the turn's cumulative query/response pair, appends the
// trimmed response to the working transcript, and commits it as the new
// chat state.
func (c *Conversation) finalize(ctx context.Context, working *ChatState, query, response json.RawMessage, usage provider.Usage) error {
	if err := c.saveTurn(ctx, query, response, usage); err != nil {
		return err
	}
	trimmed, err := c.adapter.TrimForHistory(response)
	if err != nil {
		return &ProtocolError{Provider: c.adapter.Name(), Reason: err.Error()}
	}
	working.Append(trimmed)
	c.state = working
	return nil
}

// toolDefs flattens a registry into wire definitions. Hosted tools pass
// their native payload through untouched.
func toolDefs(reg *tools.Registry) ([]provider.ToolDef, error) {
	if reg == nil {
		return nil, nil
	}
	var defs []provider.ToolDef
	for _, name := range reg.Names() {
		t, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("chat: %w: %s", tools.ErrNotFound, name)
		}
		defs = append(defs, provider.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
			Native:      t.Native,
		})
	}
	return defs, nil
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return "error"
}
