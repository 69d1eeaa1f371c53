package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-ai/parley/pkg/ledger"
	"github.com/parley-ai/parley/pkg/tools"
)

var citySchema = json.RawMessage(`{
	"type": "object",
	"properties": {"city": {"type": "string"}, "population": {"type": "integer"}},
	"required": ["city", "population"]
}`)

func TestAskStructured_NativePath(t *testing.T) {
	h := newHarnessWith(t, &fakeAdapter{structured: true}, ledger.NewMemoryStore())
	h.backend.push(textReply(`{"city":"Tokyo","population":37400068}`, 20, 10))

	out, err := h.conv.AskStructured(context.Background(), citySchema, "largest city?")
	require.NoError(t, err)
	assert.JSONEq(t, `{"city":"Tokyo","population":37400068}`, string(out))

	// The schema went out on the request itself.
	reqs := h.backend.received()
	require.Len(t, reqs, 1)
	assert.JSONEq(t, string(citySchema), string(reqs[0].Schema))
	assert.Empty(t, reqs[0].ForceTool)

	// Native structured turns persist like any other turn.
	entries, err := h.conv.Entries(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestAskStructured_NativeInvalidJSON(t *testing.T) {
	h := newHarnessWith(t, &fakeAdapter{structured: true}, ledger.NewMemoryStore())
	h.backend.push(textReply("Tokyo, obviously", 20, 10))

	_, err := h.conv.AskStructured(context.Background(), citySchema, "largest city?")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestAskStructured_FallbackForcedTool(t *testing.T) {
	store := ledger.NewMemoryStore()
	h := newHarnessWith(t, &fakeAdapter{structured: false}, store)

	answer := json.RawMessage(`{"city":"Tokyo","population":37400068}`)
	h.backend.push(callReply(20, 10, tools.Call{ID: "c1", Name: "record_answer", Arguments: answer}))

	out, err := h.conv.AskStructured(context.Background(), citySchema, "largest city?")
	require.NoError(t, err)
	assert.JSONEq(t, string(answer), string(out))

	reqs := h.backend.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "record_answer", reqs[0].ForceTool)
	assert.Contains(t, reqs[0].Tools, "record_answer")
	assert.Empty(t, reqs[0].Schema)

	// The fallback runs in a disposable sub-conversation: the parent's
	// ledger and state stay untouched.
	_, err = store.Load(context.Background(), h.conv.ID())
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, 0, h.conv.State().Len())
}

func TestAskStructured_FallbackSeesParentHistory(t *testing.T) {
	h := newHarnessWith(t, &fakeAdapter{structured: false}, ledger.NewMemoryStore())
	h.backend.push(textReply("Tokyo is the largest city.", 10, 5))

	ctx := context.Background()
	_, err := h.conv.Ask(ctx, "largest city?")
	require.NoError(t, err)

	answer := json.RawMessage(`{"city":"Tokyo","population":37400068}`)
	h.backend.push(callReply(20, 10, tools.Call{ID: "c1", Name: "record_answer", Arguments: answer}))

	_, err = h.conv.AskStructured(ctx, citySchema, "as JSON please")
	require.NoError(t, err)

	reqs := h.backend.received()
	require.Len(t, reqs, 2)
	// Prior turns are replayed into the structured request.
	assert.Len(t, reqs[1].Messages, 3)
}

func TestAskStructured_FallbackUsedWhenTurnHasTools(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(tools.Tool{
		Name: "search",
		Kind: tools.KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "ok", nil
		},
	})

	// Native support present, but tools force the fallback path.
	h := newHarnessWith(t, &fakeAdapter{structured: true}, ledger.NewMemoryStore())
	answer := json.RawMessage(`{"city":"Tokyo","population":37400068}`)
	h.backend.push(callReply(20, 10, tools.Call{ID: "c1", Name: "record_answer", Arguments: answer}))

	out, err := h.conv.AskStructuredWith(context.Background(), Turn{Tools: reg}, citySchema, "largest city?")
	require.NoError(t, err)
	assert.JSONEq(t, string(answer), string(out))

	reqs := h.backend.received()
	assert.Equal(t, "record_answer", reqs[0].ForceTool)
	assert.Contains(t, reqs[0].Tools, "search")
}

func TestAskStructured_RequiresSchema(t *testing.T) {
	h := newHarness(t)
	_, err := h.conv.AskStructured(context.Background(), nil, "hello")
	assert.Error(t, err)
}
