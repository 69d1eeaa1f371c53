package chat

import (
	"encoding/json"
	"log"

	"github.com/parley-ai/parley/pkg/content"
	"github.com/parley-ai/parley/pkg/tools"
)

const (
	minThinkingBudget = 1024
	defaultMaxTokens  = 4096
)

// Options holds per-conversation settings.
type Options struct {
	// Model is the backend model identifier (required).
	Model string

	// SystemPrompt is the system instruction sent with every request.
	SystemPrompt string

	// MaxTokens caps generation length (default 4096).
	MaxTokens int

	// Temperature controls sampling randomness. Nil leaves the backend
	// default in place.
	Temperature *float64

	// ThinkingBudget enables extended reasoning with a token budget.
	// Out-of-range values are repaired, not rejected.
	ThinkingBudget int

	// MaxToolRounds bounds tool rounds per turn. Zero means unbounded,
	// limited only by vendor-side step limits.
	MaxToolRounds int

	// Multiplexer normalizes turn inputs. A default is created when nil.
	Multiplexer *content.Multiplexer
}

// Option configures a Conversation.
type Option func(*Options)

// WithModel sets the model identifier.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// WithSystemPrompt sets the system instruction.
func WithSystemPrompt(prompt string) Option {
	return func(o *Options) { o.SystemPrompt = prompt }
}

// WithMaxTokens caps generation length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = &t }
}

// WithThinking enables extended reasoning with the given token budget.
func WithThinking(budget int) Option {
	return func(o *Options) { o.ThinkingBudget = budget }
}

// WithMaxToolRounds bounds tool rounds per turn (0 = unbounded).
func WithMaxToolRounds(n int) Option {
	return func(o *Options) { o.MaxToolRounds = n }
}

// WithMultiplexer overrides the content multiplexer.
func WithMultiplexer(m *content.Multiplexer) Option {
	return func(o *Options) { o.Multiplexer = m }
}

// repair clamps non-semantic parameters into their accepted ranges with a
// warning instead of rejecting them, keeping the loop progressing.
func (o *Options) repair() {
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}

	if o.Temperature != nil {
		if *o.Temperature < 0 {
			log.Printf("chat: temperature %v below range, clamping to 0", *o.Temperature)
			t := 0.0
			o.Temperature = &t
		} else if *o.Temperature > 2 {
			log.Printf("chat: temperature %v above range, clamping to 2", *o.Temperature)
			t := 2.0
			o.Temperature = &t
		}
	}

	if o.ThinkingBudget > 0 {
		if o.ThinkingBudget < minThinkingBudget {
			log.Printf("chat: thinking budget %d below minimum, raising to %d", o.ThinkingBudget, minThinkingBudget)
			o.ThinkingBudget = minThinkingBudget
		}
		if o.ThinkingBudget >= o.MaxTokens {
			log.Printf("chat: thinking budget %d exceeds max tokens %d, lowering", o.ThinkingBudget, o.MaxTokens)
			o.ThinkingBudget = o.MaxTokens - 1
		}
	}
}

// CacheRequest selects the request segments to mark cacheable on the first
// round of a turn. Each granted segment consumes one breakpoint from the
// conversation's budget.
type CacheRequest struct {
	System  bool
	Tools   bool
	Message bool
}

// Turn holds per-turn settings for AskWith and AskStructuredWith.
type Turn struct {
	// Tools declares this turn's tools.
	Tools *tools.Registry

	// Cache requests cache breakpoints for this turn's first round.
	Cache CacheRequest

	// ReturnToolCalls skips tool execution and hands requested calls back
	// to the caller. A turn that returns calls commits nothing: the ledger
	// and chat state stay as they were.
	ReturnToolCalls bool

	// MaxRounds overrides the conversation's tool-round guard for this
	// turn (0 = use the conversation setting).
	MaxRounds int

	// forceTool makes the model call the named tool. Used by the
	// structured-output fallback.
	forceTool string

	// responseSchema requests backend-native structured output. Used by
	// AskStructured on backends that support it.
	responseSchema json.RawMessage
}
