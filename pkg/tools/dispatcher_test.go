package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_Local(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Tool{
		Name: "add",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct{ A, B int }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			return map[string]int{"sum": in.A + in.B}, nil
		},
	})

	d := NewDispatcher(r)
	results, err := d.Execute(context.Background(), []Call{
		{ID: "call-1", Name: "add", Arguments: json.RawMessage(`{"A":2,"B":3}`)},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].CallID != "call-1" {
		t.Errorf("call ID not carried: %+v", results[0])
	}
	if results[0].Content != `{"sum":5}` {
		t.Errorf("unexpected content: %q", results[0].Content)
	}
	if results[0].IsError {
		t.Error("unexpected error flag")
	}
}

func TestDispatcher_PreservesOrder(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Tool{
		Name: "slow",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return "slow done", nil
		},
	})
	r.MustRegister(Tool{
		Name: "fast",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return "fast done", nil
		},
	})

	d := NewDispatcher(r)
	results, err := d.Execute(context.Background(), []Call{
		{ID: "c1", Name: "slow"},
		{ID: "c2", Name: "fast"},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Name != "slow" || results[1].Name != "fast" {
		t.Errorf("results out of request order: %+v", results)
	}
}

func TestDispatcher_RunsConcurrently(t *testing.T) {
	const n = 4
	var running atomic.Int32
	var peak atomic.Int32

	r := NewRegistry()
	r.MustRegister(Tool{
		Name: "track",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			cur := running.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			running.Add(-1)
			return "ok", nil
		},
	})

	calls := make([]Call, n)
	for i := range calls {
		calls[i] = Call{ID: fmt.Sprintf("c%d", i), Name: "track"}
	}

	d := NewDispatcher(r)
	if _, err := d.Execute(context.Background(), calls); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if peak.Load() < 2 {
		t.Errorf("expected concurrent execution, peak was %d", peak.Load())
	}
}

func TestDispatcher_MissingTool(t *testing.T) {
	var ran atomic.Bool
	r := NewRegistry()
	r.MustRegister(Tool{
		Name: "real",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			ran.Store(true)
			return "ok", nil
		},
	})

	d := NewDispatcher(r)
	_, err := d.Execute(context.Background(), []Call{
		{ID: "c1", Name: "real"},
		{ID: "c2", Name: "ghost"},
	})

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Tool != "ghost" || !errors.Is(err, ErrNotFound) {
		t.Errorf("unexpected error: %v", err)
	}
	// The round is resolved before any handler runs.
	if ran.Load() {
		t.Error("handler ran despite configuration error in the round")
	}
}

func TestDispatcher_HandlerError(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Tool{
		Name: "broken",
		Kind: KindLocal,
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, errors.New("disk on fire")
		},
	})

	d := NewDispatcher(r)
	_, err := d.Execute(context.Background(), []Call{{ID: "c1", Name: "broken"}})

	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if de.Tool != "broken" {
		t.Errorf("wrong tool in error: %s", de.Tool)
	}
}

func TestDispatcher_HostedRejected(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Tool{
		Name:   "web_search",
		Kind:   KindHosted,
		Native: json.RawMessage(`{"type":"web_search"}`),
	})

	d := NewDispatcher(r)
	_, err := d.Execute(context.Background(), []Call{{ID: "c1", Name: "web_search"}})
	if err == nil {
		t.Error("expected error dispatching a hosted tool")
	}
}

func TestDispatcher_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var in remoteRequest
		if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if in.Name != "lookup" {
			http.Error(w, "wrong tool", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(remoteResponse{Result: json.RawMessage(`{"found":true}`)})
	}))
	defer srv.Close()

	r := NewRegistry()
	r.MustRegister(Tool{Name: "lookup", Kind: KindRemote, Endpoint: srv.URL})

	d := NewDispatcher(r)
	d.SetHTTPClient(srv.Client())

	results, err := d.Execute(context.Background(), []Call{
		{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)},
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if results[0].Content != `{"found":true}` {
		t.Errorf("unexpected content: %q", results[0].Content)
	}
}

func TestDispatcher_RemoteErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(remoteResponse{Error: "no such record"})
	}))
	defer srv.Close()

	r := NewRegistry()
	r.MustRegister(Tool{Name: "lookup", Kind: KindRemote, Endpoint: srv.URL})

	d := NewDispatcher(r)
	d.SetHTTPClient(srv.Client())

	// An error payload is a Result for the model, not a dispatch failure.
	results, err := d.Execute(context.Background(), []Call{{ID: "c1", Name: "lookup"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !results[0].IsError {
		t.Error("expected IsError result")
	}
	if !strings.Contains(results[0].Content, "no such record") {
		t.Errorf("unexpected content: %q", results[0].Content)
	}
}

func TestDispatcher_RemoteTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRegistry()
	r.MustRegister(Tool{Name: "lookup", Kind: KindRemote, Endpoint: srv.URL})

	d := NewDispatcher(r)
	d.SetHTTPClient(srv.Client())

	_, err := d.Execute(context.Background(), []Call{{ID: "c1", Name: "lookup"}})
	var de *DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("expected DispatchError for HTTP failure, got %v", err)
	}
}
