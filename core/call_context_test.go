package core

import (
	"context"
	"testing"
)

func TestCallContext_SnapshotAndStagedOutputs(t *testing.T) {
	sess := NewSession("s1")
	sess.SetVariable("existing", "value")

	req := NewRequest("s1", "echo", map[string]any{"text": "hi"})
	cc := NewCallContext(context.Background(), req, sess, nil)

	if v, ok := cc.Variable("existing"); !ok || v != "value" {
		t.Fatalf("expected snapshot to carry existing variable, got %v", v)
	}

	cc.SetOutput("fresh", 42)

	// Staged writes shadow the snapshot for read-back within the handler.
	if v, ok := cc.Variable("fresh"); !ok || v.(int) != 42 {
		t.Errorf("staged output should be readable, got %v", v)
	}

	// But the live session stays untouched until the dispatcher merges.
	if _, ok := sess.Variable("fresh"); ok {
		t.Error("staged output must not leak into the session")
	}

	outs := cc.Outputs()
	if len(outs) != 1 || outs["fresh"].(int) != 42 {
		t.Errorf("unexpected staged outputs: %+v", outs)
	}
}

func TestCallContext_SnapshotIgnoresLaterSessionWrites(t *testing.T) {
	sess := NewSession("s2")
	sess.SetVariable("k", "before")

	cc := NewCallContext(context.Background(), NewRequest("s2", "echo", nil), sess, nil)
	sess.SetVariable("k", "after")

	if v, _ := cc.Variable("k"); v != "before" {
		t.Errorf("call context should read the receipt-time snapshot, got %v", v)
	}
}

func TestCallContext_Validate(t *testing.T) {
	cc := NewCallContext(context.Background(), NewRequest("s3", "echo", nil), NewSession("s3"), nil)
	if err := cc.Validate(); err != nil {
		t.Fatalf("expected valid context, got %v", err)
	}
	if !cc.IsValid() {
		t.Error("IsValid should agree with Validate")
	}

	empty := &CallContext{loggerAdapter: newLoggerAdapter(nil)}
	if err := empty.Validate(); err == nil {
		t.Error("expected zero-value context to be invalid")
	}
}

func TestCallContext_HistoryCopy(t *testing.T) {
	sess := NewSession("s4")
	sess.AppendHistory(HistoryEntry{ToolName: "echo"})

	cc := NewCallContext(context.Background(), NewRequest("s4", "echo", nil), sess, nil)
	h := cc.History()
	if len(h) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(h))
	}
	h[0].ToolName = "changed"
	if cc.History()[0].ToolName != "echo" {
		t.Error("history must be copied on read")
	}
}
