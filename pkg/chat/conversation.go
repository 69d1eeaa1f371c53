// Package chat implements the provider-agnostic conversational core: the
// Conversation aggregate owning the durable ledger and the derived chat
// state, the agentic loop that drives requests and tool rounds, and the
// structured-output strategy. All backend specifics live behind the adapter
// contract; nothing here inspects a vendor payload.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/provider"
	"github.com/parley-ai/parley/internal/transport"
	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/ledger"
)

// Conversation is one multi-turn exchange with a single backend. It owns
// its ledger entries, chat state, and cache budget exclusively; exactly one
// request is in flight at a time.
type Conversation struct {
	id      string
	adapter provider.Adapter
	client  *transport.Client
	store   ledger.Store
	opts    Options

	mu        sync.Mutex
	state     *ChatState
	budget    cacheBudget
	ledgerLen int
}

// New creates a fresh conversation. The store may be shared across
// conversations; the id is generated when not supplied via the store key.
func New(adapter provider.Adapter, client *transport.Client, store ledger.Store, opts ...Option) (*Conversation, error) {
	if adapter == nil {
		return nil, errors.New("chat: adapter is required")
	}
	if client == nil {
		return nil, errors.New("chat: transport client is required")
	}
	if store == nil {
		store = ledger.NewMemoryStore()
	}

	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Model == "" {
		return nil, errors.New("chat: model is required")
	}
	o.repair()
	if o.Multiplexer == nil {
		o.Multiplexer = content.NewMultiplexer()
	}

	return &Conversation{
		id:      uuid.New().String(),
		adapter: adapter,
		client:  client,
		store:   store,
		opts:    o,
		state:   NewChatState(),
	}, nil
}

// Load resumes a persisted conversation, reconstructing chat state from the
// last query/response pair in its ledger.
func Load(ctx context.Context, adapter provider.Adapter, client *transport.Client, store ledger.Store, id string, opts ...Option) (*Conversation, error) {
	c, err := New(adapter, client, store, opts...)
	if err != nil {
		return nil, err
	}
	c.id = id

	entries, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("chat: load ledger: %w", err)
	}

	state, err := Reconstruct(adapter, entries)
	if err != nil {
		return nil, err
	}
	c.state = state
	c.ledgerLen = len(entries)
	return c, nil
}

// Reconstruct derives chat state from ledger entries. Only the final
// query/response pair matters: every recorded query carries the full running
// transcript up to its turn, so everything earlier is audit history.
func Reconstruct(adapter provider.Adapter, entries []ledger.Entry) (*ChatState, error) {
	if len(entries) == 0 {
		return NewChatState(), nil
	}
	query, response, err := ledger.LastPair(entries)
	if err != nil {
		return nil, fmt.Errorf("chat: reconstruct: %w", err)
	}

	msgs, err := adapter.Messages(query.Data)
	if err != nil {
		return nil, fmt.Errorf("chat: reconstruct query: %w", err)
	}
	trimmed, err := adapter.TrimForHistory(response.Data)
	if err != nil {
		return nil, fmt.Errorf("chat: reconstruct response: %w", err)
	}

	state := NewChatState()
	state.Append(msgs...)
	state.Append(trimmed)
	return state, nil
}

// ID returns the conversation identifier under which the ledger persists.
func (c *Conversation) ID() string {
	return c.id
}

// Provider returns the backend name this conversation is bound to.
func (c *Conversation) Provider() string {
	return c.adapter.Name()
}

// State returns a copy of the current chat state.
func (c *Conversation) State() *ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Entries loads the full ledger for audit and token accounting. A
// conversation that has not completed a turn yet has no entries.
func (c *Conversation) Entries(ctx context.Context) ([]ledger.Entry, error) {
	entries, err := c.store.Load(ctx, c.id)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

// Reset wholly discards the conversation: ledger, chat state, and cache
// budget return to their initial state.
func (c *Conversation) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Reset(ctx, c.id); err != nil {
		return fmt.Errorf("chat: reset ledger: %w", err)
	}
	c.state = NewChatState()
	c.budget.reset()
	c.ledgerLen = 0
	return nil
}

// saveTurn appends the turn's final query/response pair. This is the only
// write path into the ledger; a failing turn never reaches it, so fatal
// errors leave the ledger exactly as it was.
func (c *Conversation) saveTurn(ctx context.Context, query, response []byte, usage provider.Usage) error {
	entries := []ledger.Entry{
		{Kind: ledger.KindQuery, Tokens: usage.InputTokens, Index: c.ledgerLen + 1, Data: query},
		{Kind: ledger.KindResponse, Tokens: usage.OutputTokens, Index: c.ledgerLen + 2, Data: response},
	}
	if err := c.store.Append(ctx, c.id, entries...); err != nil {
		return fmt.Errorf("chat: persist turn: %w", err)
	}
	c.ledgerLen += 2
	return nil
}

// allocateCache grants cache marks against the conversation budget.
// Backends without breakpoint support receive none; requests past the
// budget ceiling are silently denied.
func (c *Conversation) allocateCache(req CacheRequest) provider.CacheMarks {
	var marks provider.CacheMarks
	if !c.adapter.SupportsCaching() {
		return marks
	}
	denied := 0
	grant := func(want bool, mark *bool) {
		if !want {
			return
		}
		if c.budget.acquire() {
			*mark = true
		} else {
			denied++
		}
	}
	grant(req.System, &marks.System)
	grant(req.Tools, &marks.Tools)
	grant(req.Message, &marks.LastMessage)
	if denied > 0 {
		log.Printf("chat: %d cache breakpoints denied, %d of %d lifetime breakpoints remaining",
			denied, c.budget.remaining(), maxCacheBreakpoints)
	}
	return marks
}
