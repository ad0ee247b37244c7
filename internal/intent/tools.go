package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/voicegate-lab/internal/logging"
)

var ErrToolInvocation = errors.New("tool invocation failed")

// Action tells the caller what to do with a tool result.
type Action int

const (
	ActionRespond         Action = iota // speak the payload, turn is done
	ActionRequestFollowup               // speak the payload, keep listening for more
	ActionNotFound                      // no such tool registered
	ActionError                         // tool ran and failed
)

// ToolResult is the outcome of one function-call dispatch.
type ToolResult struct {
	Action  Action
	Payload string
}

// ToolFunc executes one named function with its raw JSON arguments.
type ToolFunc func(ctx context.Context, args json.RawMessage) (ToolResult, error)

// ToolRegistry maps function-call names to handlers. Local handlers and the
// MCP bridge both register here, so the router has a single dispatch point.
type ToolRegistry struct {
	mu sync.RWMutex
	m  map[string]ToolFunc
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{m: make(map[string]ToolFunc)}
}

func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = fn
}

// Names returns the registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for n := range r.m {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Invoke dispatches to the named tool. Unknown names and handler failures
// come back as results, not errors, so the caller can always produce a
// spoken reply.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args json.RawMessage) ToolResult {
	r.mu.RLock()
	fn, ok := r.m[name]
	r.mu.RUnlock()
	if !ok {
		logging.Warnw("tools: unknown function call", "name", name)
		return ToolResult{Action: ActionNotFound, Payload: fmt.Sprintf("I don't know how to do %q.", name)}
	}
	res, err := fn(ctx, args)
	if err != nil {
		logging.Errorw("tools: invocation failed", "name", name, "error", fmt.Errorf("%w: %v", ErrToolInvocation, err))
		return ToolResult{Action: ActionError, Payload: "Sorry, that didn't work."}
	}
	return res
}
