// Package metrics accumulates usage counters, per-tool statistics, and an
// in-process trace tree from the agent lifecycle event stream. It is a
// second, independent consumer of the same events the tracing package
// consumes; neither knows about the other.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TraceNode is one node of the in-process trace tree: a mutable ownership
// tree mirroring the span hierarchy, kept for human-readable summaries
// independent of any tracing backend. A node belongs to exactly one parent
// once attached; there is no sharing and no cycle.
type TraceNode struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	RawName   string         `json:"raw_name,omitempty"`
	ParentID  string         `json:"parent_id,omitempty"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitzero"`
	Children  []*TraceNode   `json:"children,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Message   any            `json:"message,omitempty"`
}

// NewTraceNode creates an unattached node with a fresh id and an open
// start time of now.
func NewTraceNode(name string) *TraceNode {
	return &TraceNode{
		ID:        uuid.NewString(),
		Name:      name,
		StartTime: time.Now().UTC(),
	}
}

// AddChild attaches child to n. A node already owned by another parent is
// left where it is; ownership never transfers.
func (n *TraceNode) AddChild(child *TraceNode) {
	if n == nil || child == nil || child == n {
		return
	}
	if child.ParentID != "" && child.ParentID != n.ID {
		return
	}
	if child.ParentID == "" {
		child.ParentID = n.ID
		n.Children = append(n.Children, child)
	}
}

// Close stamps the end time. Closing an already-closed node is a no-op.
func (n *TraceNode) Close() {
	if n == nil || !n.EndTime.IsZero() {
		return
	}
	n.EndTime = time.Now().UTC()
}

// DisplayName prefers the raw-name override over the structural name.
func (n *TraceNode) DisplayName() string {
	if n == nil {
		return ""
	}
	if n.RawName != "" {
		return n.RawName
	}
	return n.Name
}

// Duration is the elapsed time of a closed node, zero while still open.
func (n *TraceNode) Duration() time.Duration {
	if n == nil || n.EndTime.IsZero() {
		return 0
	}
	return n.EndTime.Sub(n.StartTime)
}

// SetMetadata records a key-value pair on the node.
func (n *TraceNode) SetMetadata(key string, value any) {
	if n == nil {
		return
	}
	if n.Metadata == nil {
		n.Metadata = make(map[string]any)
	}
	n.Metadata[key] = value
}

// ToMap serializes the subtree depth-first into nested records for export.
func (n *TraceNode) ToMap() map[string]any {
	if n == nil {
		return nil
	}
	out := map[string]any{
		"id":         n.ID,
		"name":       n.DisplayName(),
		"start_time": n.StartTime,
	}
	if n.ParentID != "" {
		out["parent_id"] = n.ParentID
	}
	if !n.EndTime.IsZero() {
		out["end_time"] = n.EndTime
		out["duration_ms"] = float64(n.Duration()) / float64(time.Millisecond)
	}
	if len(n.Metadata) > 0 {
		out["metadata"] = n.Metadata
	}
	if n.Message != nil {
		out["message"] = n.Message
	}
	if len(n.Children) > 0 {
		children := make([]map[string]any, 0, len(n.Children))
		for _, child := range n.Children {
			children = append(children, child.ToMap())
		}
		out["children"] = children
	}
	return out
}

// String renders the subtree as indented, tree-drawn text for human
// inspection. Durations print with two decimal places.
func (n *TraceNode) String() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.writeTree(&b, "", true, true)
	return b.String()
}

func (n *TraceNode) writeTree(b *strings.Builder, prefix string, isLast, isRoot bool) {
	if !isRoot {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		b.WriteString(prefix)
		b.WriteString(connector)
	}
	b.WriteString(n.DisplayName())
	if !n.EndTime.IsZero() {
		fmt.Fprintf(b, " (%.2fms)", float64(n.Duration())/float64(time.Millisecond))
	}
	b.WriteString("\n")

	childPrefix := prefix
	if !isRoot {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, child := range n.Children {
		child.writeTree(b, childPrefix, i == len(n.Children)-1, false)
	}
}

// sortedKeys is used by tests and rendering helpers that need stable output.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
