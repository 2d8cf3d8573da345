package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ongoingai/agenttrace/store"
)

func seedReportStore(t *testing.T, dbPath string) {
	t.Helper()

	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	invocations := []*store.InvocationRecord{
		{
			ID:            "inv-1",
			AgentName:     "researcher",
			Model:         "gpt-4o",
			StartedAt:     base,
			EndedAt:       base.Add(2 * time.Second),
			CycleCount:    2,
			ToolCallCount: 1,
			StopReason:    "end_turn",
			Status:        store.StatusOK,
			InputTokens:   250,
			OutputTokens:  50,
			TotalTokens:   300,
			CreatedAt:     base.Add(2 * time.Second),
		},
		{
			ID:           "inv-2",
			AgentName:    "planner",
			Model:        "gpt-4o-mini",
			StartedAt:    base.Add(time.Minute),
			EndedAt:      base.Add(time.Minute + time.Second),
			CycleCount:   1,
			Status:       store.StatusError,
			InputTokens:  80,
			OutputTokens: 20,
			TotalTokens:  100,
			CreatedAt:    base.Add(time.Minute + time.Second),
		},
	}
	if err := st.WriteInvocationBatch(ctx, invocations); err != nil {
		t.Fatalf("WriteInvocationBatch() error: %v", err)
	}

	tools := []*store.ToolExecutionRecord{
		{ID: "tool-1", InvocationID: "inv-1", ToolName: "search", ToolUseID: "toolu_1", DurationMS: 42, Success: true, CreatedAt: base},
		{ID: "tool-2", InvocationID: "inv-1", ToolName: "search", ToolUseID: "toolu_2", DurationMS: 13, Success: false, CreatedAt: base},
	}
	if err := st.WriteToolExecutions(ctx, tools); err != nil {
		t.Fatalf("WriteToolExecutions() error: %v", err)
	}
}

func writeReportConfig(t *testing.T, dir, dbPath string) string {
	t.Helper()

	configPath := filepath.Join(dir, "agenttrace.yaml")
	configYAML := fmt.Sprintf("storage:\n  enabled: true\n  driver: sqlite\n  path: %s\n", dbPath)
	if err := os.WriteFile(configPath, []byte(configYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func TestRunReportText(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agenttrace.db")
	seedReportStore(t, dbPath)
	configPath := writeReportConfig(t, dir, dbPath)

	var out, errOut bytes.Buffer
	code := runReport([]string{"-config", configPath}, &out, &errOut)
	if code != 0 {
		t.Fatalf("runReport()=%d, want 0; stderr=%s", code, errOut.String())
	}

	// Collapse tabwriter padding so assertions do not depend on column widths.
	output := strings.Join(strings.Fields(out.String()), " ")
	for _, want := range []string{
		"AgentTrace Report",
		"Total invocations 2",
		"Total tokens 400",
		"search",
		"researcher",
		"planner",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunReportJSONWithFilters(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "agenttrace.db")
	seedReportStore(t, dbPath)
	configPath := writeReportConfig(t, dir, dbPath)

	var out, errOut bytes.Buffer
	code := runReport([]string{"-config", configPath, "-format", "json", "-agent", "researcher"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("runReport()=%d, want 0; stderr=%s", code, errOut.String())
	}

	var report reportDocument
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.SchemaVersion != reportSchemaVersion {
		t.Fatalf("schema_version=%q, want %q", report.SchemaVersion, reportSchemaVersion)
	}
	if report.Summary.TotalInvocations != 1 {
		t.Fatalf("total_invocations=%d, want 1 (filtered)", report.Summary.TotalInvocations)
	}
	if report.Summary.TotalTokens != 300 {
		t.Fatalf("total_tokens=%d, want 300", report.Summary.TotalTokens)
	}
	if len(report.Recent) != 1 || report.Recent[0].AgentName != "researcher" {
		t.Fatalf("recent=%+v, want single researcher invocation", report.Recent)
	}
}

func TestRunReportRejectsBadFlags(t *testing.T) {
	t.Parallel()

	var out, errOut bytes.Buffer
	if code := runReport([]string{"-format", "yaml"}, &out, &errOut); code != 2 {
		t.Fatalf("runReport(bad format)=%d, want 2", code)
	}
	if code := runReport([]string{"-limit", "0"}, &out, &errOut); code != 2 {
		t.Fatalf("runReport(limit 0)=%d, want 2", code)
	}
	if code := runReport([]string{"-from", "2026-08-02", "-to", "2026-08-01"}, &out, &errOut); code != 2 {
		t.Fatalf("runReport(inverted range)=%d, want 2", code)
	}
}
