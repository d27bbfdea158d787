package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

// Interface compliance (compile-time assertion)
var _ core.SessionStore = (*Store)(nil)

// setupTestStore creates a miniredis instance and returns a connected Store.
func setupTestStore(t *testing.T, idleTimeout time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := NewStore(func(o *Options) {
		o.URL = fmt.Sprintf("redis://%s", mr.Addr())
		o.IdleTimeout = idleTimeout
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store, mr
}

func TestNewStore_InvalidURL(t *testing.T) {
	_, err := NewStore(func(o *Options) {
		o.URL = "invalid://url"
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse Redis URL")
}

func TestStore_GetOrCreateRoundTrip(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", sess.ID)
	assert.Empty(t, sess.History)

	again, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.Created.UnixNano(), again.Created.UnixNano())
}

func TestStore_GetUnknownSession(t *testing.T) {
	store, _ := setupTestStore(t, 0)

	_, err := store.Get(context.Background(), "missing")
	require.Error(t, err)
	evicted, ok := err.(*core.SessionEvictedError)
	require.True(t, ok)
	assert.Equal(t, "missing", evicted.SessionID)
}

func TestStore_AppendAndGet(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	entry := core.HistoryEntry{
		ToolName:  "echo",
		Arguments: map[string]interface{}{"text": "hi"},
		Result:    map[string]interface{}{"text": "hi"},
		Timestamp: time.Now().UTC(),
	}
	err = store.Append(ctx, "s1", entry, map[string]interface{}{"last_echo": "hi", "count": 1})
	require.NoError(t, err)

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, "echo", sess.History[0].ToolName)
	assert.Equal(t, "hi", sess.Variables["last_echo"])
	// JSON round trip turns numbers into float64.
	assert.Equal(t, float64(1), sess.Variables["count"])
}

func TestStore_AppendPreservesOrder(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := core.HistoryEntry{
			ToolName:  fmt.Sprintf("tool-%d", i),
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, store.Append(ctx, "s1", entry, nil))
	}

	sess, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 3)
	for i, entry := range sess.History {
		assert.Equal(t, fmt.Sprintf("tool-%d", i), entry.ToolName)
	}
}

func TestStore_Evict(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	require.NoError(t, store.Evict(ctx, "s1"))

	_, err = store.Get(ctx, "s1")
	require.Error(t, err)

	// Unknown session eviction is a no-op.
	require.NoError(t, store.Evict(ctx, "never-existed"))
}

func TestStore_IdleTTLExpiry(t *testing.T) {
	store, mr := setupTestStore(t, time.Second)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = store.Get(ctx, "s1")
	require.Error(t, err)
	_, ok := err.(*core.SessionEvictedError)
	assert.True(t, ok)
}

func TestStore_TouchRefreshesTTL(t *testing.T) {
	store, mr := setupTestStore(t, time.Second)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	mr.FastForward(500 * time.Millisecond)
	require.NoError(t, store.Touch(ctx, "s1"))

	mr.FastForward(700 * time.Millisecond)

	// Without the touch the TTL would have fired by now.
	_, err = store.Get(ctx, "s1")
	require.NoError(t, err)
}

func TestStore_List(t *testing.T) {
	store, _ := setupTestStore(t, 0)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := store.GetOrCreate(ctx, id)
		require.NoError(t, err)
	}

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)
}
