package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestTraceNodeSingleParentOwnership(t *testing.T) {
	t.Parallel()

	parent := NewTraceNode("parent")
	other := NewTraceNode("other")
	child := NewTraceNode("child")

	parent.AddChild(child)
	if child.ParentID != parent.ID {
		t.Fatalf("parent id=%q, want %q", child.ParentID, parent.ID)
	}

	// Ownership never transfers.
	other.AddChild(child)
	if child.ParentID != parent.ID {
		t.Fatalf("parent id changed to %q", child.ParentID)
	}
	if len(other.Children) != 0 {
		t.Fatalf("other gained %d children", len(other.Children))
	}

	// Re-adding to the same parent does not duplicate.
	parent.AddChild(child)
	if len(parent.Children) != 1 {
		t.Fatalf("children=%d, want 1", len(parent.Children))
	}

	// Self-attachment and nil are rejected.
	parent.AddChild(parent)
	parent.AddChild(nil)
	if len(parent.Children) != 1 {
		t.Fatalf("children=%d after degenerate adds, want 1", len(parent.Children))
	}
}

func TestTraceNodeCloseAndDuration(t *testing.T) {
	t.Parallel()

	node := NewTraceNode("work")
	if node.Duration() != 0 {
		t.Fatal("open node should report zero duration")
	}

	node.Close()
	first := node.EndTime
	if first.IsZero() {
		t.Fatal("Close() did not stamp end time")
	}

	node.Close()
	if node.EndTime != first {
		t.Fatal("second Close() moved the end time")
	}
	if node.Duration() < 0 {
		t.Fatalf("duration=%v, want >= 0", node.Duration())
	}
}

func TestTraceNodeDisplayName(t *testing.T) {
	t.Parallel()

	node := NewTraceNode("tool_call")
	if node.DisplayName() != "tool_call" {
		t.Fatalf("display name=%q, want tool_call", node.DisplayName())
	}
	node.RawName = "search - toolu_1"
	if node.DisplayName() != "search - toolu_1" {
		t.Fatalf("display name=%q, want raw override", node.DisplayName())
	}

	var nilNode *TraceNode
	if nilNode.DisplayName() != "" {
		t.Fatal("nil node display name should be empty")
	}
}

func TestTraceNodeString(t *testing.T) {
	t.Parallel()

	root := NewTraceNode("trace")
	cycle := NewTraceNode("cycle-1")
	tool := NewTraceNode("tool")
	tool.RawName = "search - toolu_1"
	root.AddChild(cycle)
	cycle.AddChild(tool)
	last := NewTraceNode("cycle-2")
	root.AddChild(last)

	tool.EndTime = tool.StartTime.Add(1500 * time.Microsecond)
	rendered := root.String()

	lines := strings.Split(strings.TrimRight(rendered, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d, want 4:\n%s", len(lines), rendered)
	}
	if lines[0] != "trace" {
		t.Fatalf("root line=%q, want unprefixed name", lines[0])
	}
	if !strings.HasPrefix(lines[1], "├── cycle-1") {
		t.Fatalf("line=%q, want mid connector", lines[1])
	}
	if lines[2] != "│   └── search - toolu_1 (1.50ms)" {
		t.Fatalf("tool line=%q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "└── cycle-2") {
		t.Fatalf("line=%q, want last connector", lines[3])
	}
}

func TestTraceNodeToMap(t *testing.T) {
	t.Parallel()

	root := NewTraceNode("trace")
	child := NewTraceNode("cycle-1")
	root.AddChild(child)
	child.SetMetadata("model", "gpt-4o")
	child.EndTime = child.StartTime.Add(2 * time.Millisecond)

	out := root.ToMap()
	if out["name"] != "trace" {
		t.Fatalf("name=%v, want trace", out["name"])
	}
	if _, ok := out["end_time"]; ok {
		t.Fatal("open root should not export end_time")
	}

	children := out["children"].([]map[string]any)
	if len(children) != 1 {
		t.Fatalf("children=%d, want 1", len(children))
	}
	got := children[0]
	if got["parent_id"] != root.ID {
		t.Fatalf("parent_id=%v, want %q", got["parent_id"], root.ID)
	}
	if got["duration_ms"] != 2.0 {
		t.Fatalf("duration_ms=%v, want 2", got["duration_ms"])
	}
	meta := got["metadata"].(map[string]any)
	if meta["model"] != "gpt-4o" {
		t.Fatalf("metadata=%v", meta)
	}

	var nilNode *TraceNode
	if nilNode.ToMap() != nil {
		t.Fatal("nil node should serialize to nil")
	}
}
