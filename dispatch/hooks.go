package dispatch

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// HookType defines the lifecycle points where hooks can be executed.
//
// Hooks provide a mechanism for observing and influencing the dispatch
// pipeline without modifying core logic. Each type represents one point in
// the request lifecycle:
//
//   - HookStateChange: after every lifecycle state transition
//   - HookBeforeInvoke: after validation, before the tool handler runs
//   - HookAfterInvoke: after the tool handler returned (success or failure)
//   - HookOnError: when a request drops into the ERRORED state
//
// Only HookBeforeInvoke can influence execution: returning an error from it
// rejects the invocation. Errors from the other hook types are logged and
// otherwise ignored so observability code can never corrupt a dispatch.
type HookType string

const (
	// HookStateChange fires on every request state transition.
	// Use for tracing, metrics or lifecycle assertions in tests.
	HookStateChange HookType = "state_change"

	// HookBeforeInvoke fires after successful validation, immediately before
	// the tool handler executes. Returning an error rejects the invocation.
	// Use for authorization, rate limiting or auditing.
	HookBeforeInvoke HookType = "before_invoke"

	// HookAfterInvoke fires once the tool handler has returned.
	// Use for result processing, timing or usage accounting.
	HookAfterInvoke HookType = "after_invoke"

	// HookOnError fires when a request reaches the ERRORED state, after the
	// error detail has been built. Use for alerting or failure metrics.
	HookOnError HookType = "on_error"
)

// HookContext carries the information available at a hook's lifecycle point.
// Fields beyond Request and State are populated only where they apply: Result
// after a successful invocation, Error for HookOnError.
type HookContext struct {
	// Request is the envelope being dispatched.
	Request core.Request

	// State is the lifecycle state the request is in when the hook fires.
	State core.RequestState

	// Result holds the tool result for HookAfterInvoke on success.
	Result map[string]interface{}

	// Error holds the structured failure detail for HookOnError.
	Error *core.ErrorDetail
}

// Hook is the interface for dispatch lifecycle extensions.
//
// Implementations should be fast (hooks run synchronously on the dispatch
// path), safe for concurrent use and free of panics.
type Hook interface {
	// Type returns the lifecycle point this hook handles.
	Type() HookType

	// Execute performs the hook logic. The error return is honored only for
	// HookBeforeInvoke, where it rejects the invocation.
	Execute(ctx context.Context, hookCtx *HookContext) error
}

// FunctionHook wraps a plain function as a Hook. It is the convenient form
// for stateless hook logic.
//
// Example:
//
//	trace := dispatch.NewFunctionHook(dispatch.HookStateChange,
//	    func(_ context.Context, hc *dispatch.HookContext) error {
//	        log.Printf("request %s -> %s", hc.Request.ID, hc.State)
//	        return nil
//	    })
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hookCtx *HookContext) error
}

// NewFunctionHook creates a function-based hook for the given lifecycle point.
func NewFunctionHook(hookType HookType, fn func(ctx context.Context, hookCtx *HookContext) error) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the lifecycle point this hook handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hookCtx *HookContext) error {
	return h.fn(ctx, hookCtx)
}

// HookManager routes lifecycle events to registered hooks.
//
// Hooks execute sequentially in registration order. Registration is not
// thread-safe and must complete before dispatching starts; execution after
// that point is safe for concurrent use.
type HookManager struct {
	hooks map[HookType][]Hook
}

// NewHookManager creates an empty hook manager.
func NewHookManager() *HookManager {
	return &HookManager{hooks: make(map[HookType][]Hook)}
}

// Register adds a hook for its declared lifecycle point.
func (hm *HookManager) Register(hook Hook) {
	hookType := hook.Type()
	hm.hooks[hookType] = append(hm.hooks[hookType], hook)
}

// Execute runs all hooks registered for the given type in order. The first
// hook error stops the chain and is returned to the caller, which decides
// whether it is fatal for the request.
func (hm *HookManager) Execute(ctx context.Context, hookType HookType, hookCtx *HookContext) error {
	hooks, exists := hm.hooks[hookType]
	if !exists {
		return nil
	}

	for _, hook := range hooks {
		if err := hook.Execute(ctx, hookCtx); err != nil {
			return err
		}
	}

	return nil
}
