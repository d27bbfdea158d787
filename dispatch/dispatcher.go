package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/schema"
	"github.com/hupe1980/toolmesh/tool"
)

// Config defines tuning parameters for dispatch behavior.
//
// The defaults in DefaultConfig are production-ready; override them when the
// deployment profile calls for it (long-running tools, high fan-in servers,
// lenient third-party clients).
type Config struct {
	// InvocationTimeout bounds the wall-clock time a single tool invocation
	// may take. When exceeded the request fails with a timeout error and the
	// session context stays untouched. Set to 0 to disable the bound.
	InvocationTimeout time.Duration

	// MaxConcurrentInvocations limits how many invocations may execute
	// simultaneously across all sessions. This prevents resource exhaustion
	// and provides backpressure. Set to 0 for unlimited.
	MaxConcurrentInvocations int

	// StrictSchema rejects request arguments carrying fields the tool schema
	// does not declare. Disable only for lenient integration with clients
	// that send extra metadata.
	StrictSchema bool
}

// DefaultConfig provides production-ready default configuration values:
// a 30 second invocation timeout, at most 10 concurrent invocations and
// strict schema validation.
var DefaultConfig = Config{
	InvocationTimeout:        30 * time.Second,
	MaxConcurrentInvocations: 10,
	StrictSchema:             true,
}

// Options configures a Dispatcher instance using the functional options
// pattern.
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Logger receives structured dispatch events. Defaults to a no-op logger.
	Logger logging.Logger

	// Hooks receives lifecycle events. Defaults to an empty manager.
	Hooks *HookManager
}

// WithConfig replaces the full dispatch configuration.
func WithConfig(cfg Config) func(o *Options) {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = logger }
}

// WithInvocationTimeout overrides the per-invocation timeout.
func WithInvocationTimeout(d time.Duration) func(o *Options) {
	return func(o *Options) { o.Config.InvocationTimeout = d }
}

// WithMaxConcurrentInvocations overrides the global concurrency bound.
func WithMaxConcurrentInvocations(n int) func(o *Options) {
	return func(o *Options) { o.Config.MaxConcurrentInvocations = n }
}

// WithStrictSchema toggles rejection of undeclared argument fields.
func WithStrictSchema(strict bool) func(o *Options) {
	return func(o *Options) { o.Config.StrictSchema = strict }
}

// WithHook registers a lifecycle hook.
func WithHook(hook Hook) func(o *Options) {
	return func(o *Options) {
		if o.Hooks == nil {
			o.Hooks = NewHookManager()
		}
		o.Hooks.Register(hook)
	}
}

// Dispatcher drives request envelopes through the dispatch lifecycle and
// produces exactly one response envelope per request.
//
// Concurrency model:
//   - Requests for distinct sessions execute independently, bounded only by
//     MaxConcurrentInvocations.
//   - Requests for the same session serialize on a per-session mutex, so
//     their context updates never interleave. The janitor shares the same
//     mutex (see Locks), which is what keeps idle eviction from racing an
//     in-flight request.
//
// The dispatcher itself holds no per-request state; everything a request
// needs lives in its envelope and the session store. Dispatch may therefore
// be called concurrently from any number of goroutines.
type Dispatcher struct {
	registry *tool.Registry
	store    core.SessionStore
	config   Config
	logger   logging.Logger
	hooks    *HookManager
	locks    *core.KeyedMutex
	sem      chan struct{} // nil when unlimited
}

// New creates a Dispatcher over the given registry and session store.
//
// Example:
//
//	d := dispatch.New(registry, store,
//	    dispatch.WithLogger(logger),
//	    dispatch.WithInvocationTimeout(10*time.Second))
func New(registry *tool.Registry, store core.SessionStore, optFns ...func(o *Options)) *Dispatcher {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Hooks:  NewHookManager(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var sem chan struct{}
	if opts.Config.MaxConcurrentInvocations > 0 {
		sem = make(chan struct{}, opts.Config.MaxConcurrentInvocations)
	}

	return &Dispatcher{
		registry: registry,
		store:    store,
		config:   opts.Config,
		logger:   opts.Logger,
		hooks:    opts.Hooks,
		locks:    core.NewKeyedMutex(),
		sem:      sem,
	}
}

// Locks exposes the per-session mutex so the session janitor can coordinate
// eviction with in-flight requests.
func (d *Dispatcher) Locks() *core.KeyedMutex { return d.locks }

// Config returns the active dispatch configuration.
func (d *Dispatcher) Config() Config { return d.config }

// Registry returns the tool registry the dispatcher resolves against.
func (d *Dispatcher) Registry() *tool.Registry { return d.registry }

// Store returns the session store backing this dispatcher.
func (d *Dispatcher) Store() core.SessionStore { return d.store }

// Dispatch consumes one request envelope and returns its response envelope.
//
// The request advances RECEIVED -> VALIDATED -> INVOKING -> MERGED ->
// RESPONDED; any failure short-circuits into ERRORED and yields a structured
// error response. Guarantees:
//
//   - Unknown tools and invalid arguments fail before any session side
//     effect; a rejected request leaves no trace.
//   - The tool handler runs at most once, under the invocation timeout,
//     with panic recovery.
//   - On success the history entry and staged variable writes merge into the
//     session atomically; on failure nothing merges.
//   - The response echoes the request ID and session ID unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.Request) core.Response {
	start := time.Now()
	state := core.StateReceived

	d.logger.Debug("dispatch.request.received",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"tool", req.ToolName,
	)
	d.fireStateChange(ctx, req, state)

	// Resolve first: an unknown tool fails before touching the session store.
	tl, err := d.registry.Resolve(req.ToolName)
	if err != nil {
		return d.errored(ctx, req, &state, start, &core.ErrorDetail{
			Kind:     core.ErrorKindUnknownTool,
			ToolName: req.ToolName,
			Message:  err.Error(),
		}, err)
	}

	// Strict validation pass. The coerced copy, not the raw arguments, is
	// what reaches the handler and the session history.
	var validateOpts []func(*schema.Options)
	if !d.config.StrictSchema {
		validateOpts = append(validateOpts, schema.WithAllowExtraFields())
	}

	args, err := schema.Validate(tl.InputSchema(), req.Arguments, validateOpts...)
	if err != nil {
		detail := &core.ErrorDetail{
			Kind:     core.ErrorKindSchemaValidation,
			ToolName: req.ToolName,
			Message:  err.Error(),
		}
		var vErr *schema.ValidationError
		if errors.As(err, &vErr) {
			detail.Field = vErr.Field
			detail.Expected = vErr.Expected
			detail.Actual = vErr.Actual
		}
		return d.errored(ctx, req, &state, start, detail, err)
	}
	d.transition(ctx, req, &state, core.StateValidated)

	// Global concurrency bound.
	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			return d.errored(ctx, req, &state, start,
				executionDetail(req.ToolName, "cancelled", "request cancelled while waiting for an invocation slot"), ctx.Err())
		}
	}

	// Per-session serialization: same-session requests run one after the
	// other and the janitor cannot evict the session mid-flight.
	d.locks.Lock(req.SessionID)
	defer d.locks.Unlock(req.SessionID)

	sess, err := d.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		var evicted *core.SessionEvictedError
		if errors.As(err, &evicted) {
			return d.errored(ctx, req, &state, start, &core.ErrorDetail{
				Kind:    core.ErrorKindSessionEvicted,
				Message: err.Error(),
			}, err)
		}
		return d.errored(ctx, req, &state, start,
			executionDetail(req.ToolName, "session_store", "session context unavailable"), err)
	}

	if err := d.hooks.Execute(ctx, HookBeforeInvoke, &HookContext{Request: req, State: state}); err != nil {
		return d.errored(ctx, req, &state, start,
			executionDetail(req.ToolName, "rejected", "invocation rejected"), err)
	}

	invokeCtx := ctx
	if d.config.InvocationTimeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, d.config.InvocationTimeout)
		defer cancel()
	}

	callCtx := core.NewCallContext(invokeCtx, req, sess, d.logger)

	d.transition(ctx, req, &state, core.StateInvoking)
	result, err := d.invoke(invokeCtx, tl, callCtx, args)

	if hookErr := d.hooks.Execute(ctx, HookAfterInvoke, &HookContext{Request: req, State: state, Result: result}); hookErr != nil {
		d.logger.Warn("dispatch.hook.error", "hook", string(HookAfterInvoke), "error", hookErr.Error())
	}

	if err != nil {
		return d.errored(ctx, req, &state, start, d.invocationFailure(req.ToolName, err), err)
	}

	// Output schemas are advisory: checked leniently when declared.
	if outSchema := tl.OutputSchema(); outSchema != nil {
		if _, verr := schema.Validate(outSchema, result, schema.WithAllowExtraFields()); verr != nil {
			return d.errored(ctx, req, &state, start,
				executionDetail(req.ToolName, "invalid_result", "tool returned a result that does not match its declared output schema"), verr)
		}
	}

	// All-or-nothing merge: the history entry and the staged variable writes
	// land in one store operation.
	entry := core.HistoryEntry{
		ToolName:  req.ToolName,
		Arguments: args,
		Result:    result,
		Timestamp: time.Now(),
	}
	if err := d.store.Append(ctx, req.SessionID, entry, callCtx.Outputs()); err != nil {
		return d.errored(ctx, req, &state, start,
			executionDetail(req.ToolName, "merge_failed", "failed to record the invocation outcome"), err)
	}
	d.transition(ctx, req, &state, core.StateMerged)

	d.transition(ctx, req, &state, core.StateResponded)
	d.logger.Info("dispatch.request.completed",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"tool", req.ToolName,
		"final_state", state.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return core.OKResponse(req, result)
}

// invoke runs the tool handler with panic recovery, bounded by ctx. The
// result channel is buffered so a handler finishing after the deadline does
// not leak its goroutine; its result is simply discarded and, because merging
// happens on the dispatch path only, it can never reach the session.
func (d *Dispatcher) invoke(ctx context.Context, tl tool.Tool, callCtx *core.CallContext, args map[string]interface{}) (map[string]interface{}, error) {
	type outcome struct {
		result map[string]interface{}
		err    error
	}

	resultCh := make(chan outcome, 1)

	go func() {
		var (
			result map[string]interface{}
			err    error
		)
		func() { // panic safety
			defer func() {
				if r := recover(); r != nil {
					err = newPanicError(r)
					d.logger.Error("dispatch.invoke.panic",
						"tool", tl.Name(),
						"request_id", callCtx.RequestID(),
						"recover", fmt.Sprintf("%v", r),
						"stack", string(debug.Stack()),
					)
				}
			}()
			result, err = tl.Call(callCtx, args)
		}()
		resultCh <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-resultCh:
		return out.result, out.err
	}
}

// invocationFailure maps a handler failure onto the wire-safe error detail.
// Messages from *tool.ToolError are author-written and pass through; anything
// else gets a generic message while the cause stays in the server log.
func (d *Dispatcher) invocationFailure(toolName string, err error) *core.ErrorDetail {
	var (
		pErr    *panicErr
		toolErr *tool.ToolError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return executionDetail(toolName, "timeout",
			fmt.Sprintf("tool %q did not complete within %s", toolName, d.config.InvocationTimeout))
	case errors.Is(err, context.Canceled):
		return executionDetail(toolName, "cancelled", "request cancelled before the tool completed")
	case errors.As(err, &pErr):
		return executionDetail(toolName, "panic", "tool execution failed")
	case errors.As(err, &toolErr):
		// EXECUTION_ERROR wraps an arbitrary handler error whose message may
		// leak internals; other codes carry messages the tool author wrote
		// for callers.
		if toolErr.Code == "EXECUTION_ERROR" {
			return executionDetail(toolName, "", "tool execution failed")
		}
		return executionDetail(toolName, "", toolErr.Message)
	default:
		return executionDetail(toolName, "", "tool execution failed")
	}
}

// errored finalizes a failed request: transition to ERRORED, internal log
// with the real cause, on-error hooks, then the error envelope.
func (d *Dispatcher) errored(ctx context.Context, req core.Request, state *core.RequestState, start time.Time, detail *core.ErrorDetail, cause error) core.Response {
	d.transition(ctx, req, state, core.StateErrored)

	d.logger.Error("dispatch.request.failed",
		"request_id", req.ID,
		"session_id", req.SessionID,
		"tool", req.ToolName,
		"kind", string(detail.Kind),
		"reason", detail.Reason,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", cause.Error(),
	)

	if err := d.hooks.Execute(ctx, HookOnError, &HookContext{Request: req, State: *state, Error: detail}); err != nil {
		d.logger.Warn("dispatch.hook.error", "hook", string(HookOnError), "error", err.Error())
	}

	return core.ErrorResponse(req, detail)
}

// transition advances the lifecycle state and notifies state-change hooks.
func (d *Dispatcher) transition(ctx context.Context, req core.Request, state *core.RequestState, next core.RequestState) {
	if !state.CanTransition(next) {
		d.logger.Warn("dispatch.state.invalid_transition",
			"request_id", req.ID,
			"from", state.String(),
			"to", next.String(),
		)
		return
	}
	*state = next
	d.fireStateChange(ctx, req, next)
}

func (d *Dispatcher) fireStateChange(ctx context.Context, req core.Request, state core.RequestState) {
	if err := d.hooks.Execute(ctx, HookStateChange, &HookContext{Request: req, State: state}); err != nil {
		d.logger.Warn("dispatch.hook.error", "hook", string(HookStateChange), "error", err.Error())
	}
}

func executionDetail(toolName, reason, message string) *core.ErrorDetail {
	return &core.ErrorDetail{
		Kind:     core.ErrorKindToolExecution,
		ToolName: toolName,
		Reason:   reason,
		Message:  message,
	}
}

// newPanicError converts a recovered panic value to an error.
func newPanicError(r any) error { return &panicErr{val: r, stack: debug.Stack()} }

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return "panic recovered" }
