package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ongoingai/agenttrace/store"
)

const (
	defaultReportFormat = "text"
	defaultReportLimit  = 10
	maxReportLimit      = 200
	reportSchemaVersion = "agenttrace.report.v1"
)

type reportDocument struct {
	SchemaVersion string             `json:"schema_version"`
	GeneratedAt   time.Time          `json:"generated_at"`
	Storage       reportStorageInfo  `json:"storage"`
	Filters       reportFilterInfo   `json:"filters"`
	Summary       reportSummaryInfo  `json:"summary"`
	Tools         []reportToolInfo   `json:"tools"`
	Recent        []reportInvocation `json:"recent_invocations"`
}

type reportStorageInfo struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
}

type reportFilterInfo struct {
	AgentName string     `json:"agent_name,omitempty"`
	Model     string     `json:"model,omitempty"`
	Status    string     `json:"status,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Limit     int        `json:"limit"`
}

type reportSummaryInfo struct {
	TotalInvocations  int64 `json:"total_invocations"`
	TotalCycles       int64 `json:"total_cycles"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalTokens       int64 `json:"total_tokens"`
}

type reportToolInfo struct {
	ToolName    string  `json:"tool_name"`
	CallCount   int64   `json:"call_count"`
	SuccessRate float64 `json:"success_rate"`
	TotalTimeMS int64   `json:"total_time_ms"`
}

type reportInvocation struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	Model       string    `json:"model"`
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Cycles      int       `json:"cycles"`
	ToolCalls   int       `json:"tool_calls"`
	TotalTokens int64     `json:"total_tokens"`
	StopReason  string    `json:"stop_reason,omitempty"`
	Status      string    `json:"status"`
}

func runReport(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("report", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	format := flagSet.String("format", defaultReportFormat, "Output format: text or json")
	agentName := flagSet.String("agent", "", "Agent name filter")
	model := flagSet.String("model", "", "Model filter")
	status := flagSet.String("status", "", "Status filter: ok or error")
	fromRaw := flagSet.String("from", "", "Report start time (RFC3339 or YYYY-MM-DD)")
	toRaw := flagSet.String("to", "", "Report end time (RFC3339 or YYYY-MM-DD)")
	limit := flagSet.Int("limit", defaultReportLimit, "Recent invocation count (1-200)")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "report does not accept positional arguments")
		return 2
	}

	normalizedFormat, err := normalizeTextJSONFormat("report", *format, defaultReportFormat)
	if err != nil {
		fmt.Fprintln(errOut, err.Error())
		return 2
	}
	if *limit <= 0 || *limit > maxReportLimit {
		fmt.Fprintf(errOut, "limit must be between 1 and %d\n", maxReportLimit)
		return 2
	}

	from, err := parseTimeFlag(*fromRaw, false)
	if err != nil {
		fmt.Fprintf(errOut, "invalid from: %v\n", err)
		return 2
	}
	to, err := parseTimeFlag(*toRaw, true)
	if err != nil {
		fmt.Fprintf(errOut, "invalid to: %v\n", err)
		return 2
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		fmt.Fprintln(errOut, "invalid range: to must be greater than or equal to from")
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		if stage == configStageLoad {
			fmt.Fprintf(errOut, "failed to load config: %v\n", err)
		} else {
			fmt.Fprintf(errOut, "config is invalid: %v\n", err)
		}
		return 1
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize store: %v\n", err)
		return 1
	}
	defer closeStoreWithWarning(st, errOut)

	filter := store.InvocationFilter{
		AgentName: strings.TrimSpace(*agentName),
		Model:     strings.TrimSpace(*model),
		Status:    strings.ToLower(strings.TrimSpace(*status)),
		From:      from,
		To:        to,
		Limit:     *limit,
	}

	report, err := buildReport(ctx, st, cfg.Storage.Driver, cfg.Storage.Path, filter)
	if err != nil {
		fmt.Fprintf(errOut, "failed to build report: %v\n", err)
		return 1
	}

	if err := writeReport(out, normalizedFormat, report); err != nil {
		fmt.Fprintf(errOut, "failed to write report: %v\n", err)
		return 1
	}
	return 0
}

func buildReport(ctx context.Context, st store.Store, driver, path string, filter store.InvocationFilter) (reportDocument, error) {
	usage, err := st.GetUsageSummary(ctx, filter)
	if err != nil {
		return reportDocument{}, fmt.Errorf("usage summary: %w", err)
	}
	toolStats, err := st.GetToolStats(ctx, filter)
	if err != nil {
		return reportDocument{}, fmt.Errorf("tool stats: %w", err)
	}
	recent, err := st.QueryInvocations(ctx, filter)
	if err != nil {
		return reportDocument{}, fmt.Errorf("recent invocations: %w", err)
	}

	toolRows := make([]reportToolInfo, 0, len(toolStats))
	for _, stat := range toolStats {
		toolRows = append(toolRows, reportToolInfo{
			ToolName:    stat.ToolName,
			CallCount:   stat.CallCount,
			SuccessRate: stat.SuccessRate(),
			TotalTimeMS: stat.TotalTimeMS,
		})
	}

	recentRows := make([]reportInvocation, 0, len(recent.Items))
	for _, item := range recent.Items {
		recentRows = append(recentRows, reportInvocation{
			ID:          item.ID,
			AgentName:   item.AgentName,
			Model:       item.Model,
			StartedAt:   item.StartedAt,
			DurationMS:  item.DurationMS,
			Cycles:      item.CycleCount,
			ToolCalls:   item.ToolCallCount,
			TotalTokens: item.TotalTokens,
			StopReason:  item.StopReason,
			Status:      item.Status,
		})
	}

	storageInfo := reportStorageInfo{Driver: strings.TrimSpace(driver)}
	if storageInfo.Driver == "sqlite" {
		storageInfo.Path = path
	}

	return reportDocument{
		SchemaVersion: reportSchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Storage:       storageInfo,
		Filters: reportFilterInfo{
			AgentName: filter.AgentName,
			Model:     filter.Model,
			Status:    filter.Status,
			From:      optionalTime(filter.From),
			To:        optionalTime(filter.To),
			Limit:     filter.Limit,
		},
		Summary: reportSummaryInfo{
			TotalInvocations:  usage.InvocationCount,
			TotalCycles:       usage.TotalCycles,
			TotalInputTokens:  usage.TotalInputTokens,
			TotalOutputTokens: usage.TotalOutputTokens,
			TotalTokens:       usage.TotalTokens,
		},
		Tools:  toolRows,
		Recent: recentRows,
	}, nil
}

func writeReport(out io.Writer, format string, report reportDocument) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	default:
		return writeReportText(out, report)
	}
}

func writeReportText(out io.Writer, report reportDocument) error {
	fmt.Fprintln(out, "AgentTrace Report")

	metadataWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(metadataWriter, "Schema version\t%s\n", report.SchemaVersion)
	fmt.Fprintf(metadataWriter, "Generated at\t%s\n", report.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(metadataWriter, "Storage driver\t%s\n", report.Storage.Driver)
	if strings.TrimSpace(report.Storage.Path) != "" {
		fmt.Fprintf(metadataWriter, "Storage path\t%s\n", report.Storage.Path)
	}
	fmt.Fprintf(metadataWriter, "Filter agent\t%s\n", valueOr(report.Filters.AgentName, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter model\t%s\n", valueOr(report.Filters.Model, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter status\t%s\n", valueOr(report.Filters.Status, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter from\t%s\n", timePtrOr(report.Filters.From, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter to\t%s\n", timePtrOr(report.Filters.To, "(all)"))
	fmt.Fprintf(metadataWriter, "Filter limit\t%d\n", report.Filters.Limit)
	if err := metadataWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nSummary")
	summaryWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(summaryWriter, "Total invocations\t%d\n", report.Summary.TotalInvocations)
	fmt.Fprintf(summaryWriter, "Total cycles\t%d\n", report.Summary.TotalCycles)
	fmt.Fprintf(summaryWriter, "Total input tokens\t%d\n", report.Summary.TotalInputTokens)
	fmt.Fprintf(summaryWriter, "Total output tokens\t%d\n", report.Summary.TotalOutputTokens)
	fmt.Fprintf(summaryWriter, "Total tokens\t%d\n", report.Summary.TotalTokens)
	if err := summaryWriter.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out, "\nTools")
	if len(report.Tools) == 0 {
		fmt.Fprintln(out, "(no tool data)")
	} else {
		toolWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(toolWriter, "TOOL\tCALLS\tSUCCESS_RATE\tTOTAL_TIME_MS")
		for _, row := range report.Tools {
			fmt.Fprintf(toolWriter, "%s\t%d\t%.2f\t%d\n", row.ToolName, row.CallCount, row.SuccessRate, row.TotalTimeMS)
		}
		if err := toolWriter.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "\nRecent Invocations")
	if len(report.Recent) == 0 {
		fmt.Fprintln(out, "(no invocations)")
		return nil
	}
	invWriter := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(invWriter, "STARTED_AT\tAGENT\tMODEL\tSTATUS\tCYCLES\tTOOL_CALLS\tTOTAL_TOKENS\tDURATION_MS\tID")
	for _, row := range report.Recent {
		fmt.Fprintf(
			invWriter,
			"%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			row.StartedAt.Format(time.RFC3339),
			valueOr(row.AgentName, "(unknown)"),
			valueOr(row.Model, "(unknown)"),
			row.Status,
			row.Cycles,
			row.ToolCalls,
			row.TotalTokens,
			row.DurationMS,
			row.ID,
		)
	}
	return invWriter.Flush()
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func timePtrOr(value *time.Time, fallback string) string {
	if value == nil || value.IsZero() {
		return fallback
	}
	return value.UTC().Format(time.RFC3339)
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}
