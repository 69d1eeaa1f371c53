package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parley-ai/parley/internal/observability"
)

// DispatchError wraps a tool invocation failure. It is distinct from a tool
// explicitly returning an error payload: a DispatchError aborts the turn,
// while an error payload is delivered to the model as a Result.
type DispatchError struct {
	Tool string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher resolves tool calls against a registry and executes them.
type Dispatcher struct {
	reg    *Registry
	client *http.Client
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{
		reg:    reg,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// SetHTTPClient overrides the client used for remote tools.
func (d *Dispatcher) SetHTTPClient(client *http.Client) {
	d.client = client
}

// Execute runs every call in the round and returns one Result per Call, in
// request order. Calls within a round run concurrently; tool handlers must
// not depend on execution order. A missing tool or a handler failure aborts
// the whole round.
func (d *Dispatcher) Execute(ctx context.Context, calls []Call) ([]Result, error) {
	// Resolve everything up front so a configuration error surfaces before
	// any handler runs.
	resolved := make([]Tool, len(calls))
	for i, call := range calls {
		t, ok := d.reg.Get(call.Name)
		if !ok {
			return nil, &DispatchError{Tool: call.Name, Err: ErrNotFound}
		}
		if t.Kind == KindHosted {
			return nil, &DispatchError{Tool: call.Name, Err: fmt.Errorf("hosted tool cannot be dispatched locally")}
		}
		resolved[i] = t
	}

	results := make([]Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			res, err := d.execute(gctx, resolved[i], call)
			if err != nil {
				observability.RecordToolExecution(call.Name, "error")
				return &DispatchError{Tool: call.Name, Err: err}
			}
			status := "ok"
			if res.IsError {
				status = "error"
			}
			observability.RecordToolExecution(call.Name, status)
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (d *Dispatcher) execute(ctx context.Context, t Tool, call Call) (Result, error) {
	switch t.Kind {
	case KindLocal:
		return d.executeLocal(ctx, t, call)
	case KindRemote:
		return d.executeRemote(ctx, t, call)
	default:
		return Result{}, fmt.Errorf("unsupported kind %q", t.Kind)
	}
}

func (d *Dispatcher) executeLocal(ctx context.Context, t Tool, call Call) (Result, error) {
	out, err := t.Handler(ctx, call.Arguments)
	if err != nil {
		return Result{}, err
	}

	content, err := marshalResult(out)
	if err != nil {
		return Result{}, fmt.Errorf("marshal result: %w", err)
	}

	return Result{CallID: call.ID, Name: call.Name, Content: content}, nil
}

// remoteRequest is the wire format for remote HTTP tools.
type remoteRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type remoteResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// executeRemote invokes a remote tool endpoint. An endpoint that responds
// with an error payload produces a Result with IsError set, letting the
// model observe the failure and recover; only transport-level failures abort
// the round.
func (d *Dispatcher) executeRemote(ctx context.Context, t Tool, call Call) (Result, error) {
	body, err := json.Marshal(remoteRequest{Name: call.Name, Arguments: call.Arguments})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, respBody)
	}

	var remote remoteResponse
	if err := json.Unmarshal(respBody, &remote); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	if remote.Error != "" {
		return Result{CallID: call.ID, Name: call.Name, Content: remote.Error, IsError: true}, nil
	}
	return Result{CallID: call.ID, Name: call.Name, Content: string(remote.Result)}, nil
}

func marshalResult(out any) (string, error) {
	switch v := out.(type) {
	case string:
		return v, nil
	case json.RawMessage:
		return string(v), nil
	case []byte:
		return string(v), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
