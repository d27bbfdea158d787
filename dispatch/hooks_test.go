package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

var _ Hook = (*FunctionHook)(nil)

func TestHookManager_RoutesByType(t *testing.T) {
	m := NewHookManager()

	var calls []string
	m.Register(NewFunctionHook(HookBeforeInvoke, func(_ context.Context, _ *HookContext) error {
		calls = append(calls, "before")
		return nil
	}))
	m.Register(NewFunctionHook(HookAfterInvoke, func(_ context.Context, _ *HookContext) error {
		calls = append(calls, "after")
		return nil
	}))

	err := m.Execute(context.Background(), HookBeforeInvoke, &HookContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"before"}, calls)
}

func TestHookManager_ExecutesInRegistrationOrder(t *testing.T) {
	m := NewHookManager()

	var order []int
	for i := 0; i < 3; i++ {
		m.Register(NewFunctionHook(HookStateChange, func(_ context.Context, _ *HookContext) error {
			order = append(order, i)
			return nil
		}))
	}

	require.NoError(t, m.Execute(context.Background(), HookStateChange, &HookContext{}))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestHookManager_FirstErrorStopsChain(t *testing.T) {
	m := NewHookManager()

	reached := false
	m.Register(NewFunctionHook(HookBeforeInvoke, func(_ context.Context, _ *HookContext) error {
		return errors.New("denied")
	}))
	m.Register(NewFunctionHook(HookBeforeInvoke, func(_ context.Context, _ *HookContext) error {
		reached = true
		return nil
	}))

	err := m.Execute(context.Background(), HookBeforeInvoke, &HookContext{})
	require.Error(t, err)
	assert.False(t, reached)
}

func TestHookManager_NoHooksIsNoOp(t *testing.T) {
	m := NewHookManager()
	assert.NoError(t, m.Execute(context.Background(), HookOnError, &HookContext{}))
}

func TestHookContext_CarriesRequestAndError(t *testing.T) {
	m := NewHookManager()

	var seen *HookContext
	m.Register(NewFunctionHook(HookOnError, func(_ context.Context, hc *HookContext) error {
		seen = hc
		return nil
	}))

	hc := &HookContext{
		Request: core.NewRequest("sess-1", "echo", nil),
		State:   core.StateErrored,
		Error:   &core.ErrorDetail{Kind: core.ErrorKindToolExecution},
	}
	require.NoError(t, m.Execute(context.Background(), HookOnError, hc))

	require.NotNil(t, seen)
	assert.Equal(t, "echo", seen.Request.ToolName)
	assert.Equal(t, core.StateErrored, seen.State)
	assert.Equal(t, core.ErrorKindToolExecution, seen.Error.Kind)
}
