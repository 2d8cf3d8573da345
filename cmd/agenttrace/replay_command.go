package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ongoingai/agenttrace/hooks"
	"github.com/ongoingai/agenttrace/internal/config"
	"github.com/ongoingai/agenttrace/internal/version"
	"github.com/ongoingai/agenttrace/metrics"
	"github.com/ongoingai/agenttrace/observability"
	"github.com/ongoingai/agenttrace/store"
	"github.com/ongoingai/agenttrace/tracing"
)

const (
	writerShutdownTimeout = 5 * time.Second
	otelShutdownTimeout   = 5 * time.Second
)

// eventEnvelope is one line of a recorded lifecycle event log.
type eventEnvelope struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event"`
}

// Event log line types.
const (
	eventBeforeInvocation = "before_invocation"
	eventAfterInvocation  = "after_invocation"
	eventBeforeModelCall  = "before_model_call"
	eventAfterModelCall   = "after_model_call"
	eventBeforeToolCall   = "before_tool_call"
	eventAfterToolCall    = "after_tool_call"
	eventAfterTools       = "after_tools"
)

func runReplay(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("replay", flag.ContinueOnError)
	flagSet.SetOutput(errOut)

	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	filePath := flagSet.String("file", "-", "Event log path (JSON lines), - for stdin")
	showTree := flagSet.Bool("tree", false, "Print the trace node tree after the summary")

	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "replay does not accept positional arguments")
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

	input := os.Stdin
	if *filePath != "-" {
		file, err := os.Open(*filePath)
		if err != nil {
			fmt.Fprintf(errOut, "failed to open event log: %v\n", err)
			return 1
		}
		defer file.Close()
		input = file
	}

	logger := newLogger()
	ctx := context.Background()

	runtime, err := observability.Setup(ctx, otelConfig(cfg.Observability.OTel), version.Version, logger)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize observability: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := runtime.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(errOut, "warning: otel shutdown: %v\n", err)
		}
	}()

	registry := hooks.NewRegistry()

	if cfg.Tracing.Enabled {
		tracerOpts := []tracing.TracerOption{tracing.WithLogger(logger)}
		if !cfg.Tracing.CycleSpans {
			tracerOpts = append(tracerOpts, tracing.WithoutCycleSpans())
		}
		registry.Subscribe(tracing.NewTracer(runtime.SpanBackend(), tracerOpts...))
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		aggOpts := []metrics.AggregatorOption{metrics.WithAggregatorLogger(logger)}
		if recorder := runtime.MetricsRecorder(); recorder != nil {
			aggOpts = append(aggOpts, metrics.WithRecorder(recorder))
		}
		collector = metrics.NewCollector(metrics.NewAggregator(aggOpts...))
		registry.Subscribe(collector)
	}

	var writer *store.Writer
	if cfg.Storage.Enabled {
		st, err := openStore(ctx, cfg)
		if err != nil {
			fmt.Fprintf(errOut, "failed to initialize store: %v\n", err)
			return 1
		}
		defer closeStoreWithWarning(st, errOut)

		writer = store.NewWriter(st, cfg.Storage.BufferSize)
		writer.Start(ctx)

		sink := store.NewSink(writer, logger)
		if collector != nil {
			agg := collector.Aggregator()
			sink.TreeSource = func() string { return agg.Summary().TreeText }
		}
		registry.Subscribe(sink)
	}

	lines, err := replayEvents(input, registry)
	if err != nil {
		fmt.Fprintf(errOut, "replay failed: %v\n", err)
		return 1
	}

	if writer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), writerShutdownTimeout)
		err := writer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(errOut, "warning: writer shutdown: %v\n", err)
		}
	}

	fmt.Fprintf(out, "replayed %d events\n", lines)
	if collector != nil {
		summary := collector.Aggregator().Summary()
		fmt.Fprintln(out)
		fmt.Fprint(out, summary.String())
		if *showTree && summary.TreeText != "" {
			fmt.Fprintln(out)
			fmt.Fprint(out, summary.TreeText)
		}
	}
	return 0
}

// replayEvents feeds each decoded line to the registry in file order and
// returns the number of dispatched events.
func replayEvents(input io.Reader, registry *hooks.Registry) (int, error) {
	scanner := bufio.NewScanner(input)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	dispatched := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var envelope eventEnvelope
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			return dispatched, fmt.Errorf("line %d: %w", lineNo, err)
		}
		event, err := decodeEvent(envelope)
		if err != nil {
			return dispatched, fmt.Errorf("line %d: %w", lineNo, err)
		}
		registry.Dispatch(event)
		dispatched++
	}
	if err := scanner.Err(); err != nil {
		return dispatched, fmt.Errorf("read event log: %w", err)
	}
	return dispatched, nil
}

func decodeEvent(envelope eventEnvelope) (any, error) {
	payload := envelope.Event
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	switch strings.TrimSpace(envelope.Type) {
	case eventBeforeInvocation:
		var e hooks.BeforeInvocationEvent
		return e, json.Unmarshal(payload, &e)
	case eventAfterInvocation:
		var e hooks.AfterInvocationEvent
		return e, json.Unmarshal(payload, &e)
	case eventBeforeModelCall:
		var e hooks.BeforeModelCallEvent
		return e, json.Unmarshal(payload, &e)
	case eventAfterModelCall:
		var e hooks.AfterModelCallEvent
		return e, json.Unmarshal(payload, &e)
	case eventBeforeToolCall:
		var e hooks.BeforeToolCallEvent
		return e, json.Unmarshal(payload, &e)
	case eventAfterToolCall:
		var e hooks.AfterToolCallEvent
		return e, json.Unmarshal(payload, &e)
	case eventAfterTools:
		var e hooks.AfterToolsEvent
		return e, json.Unmarshal(payload, &e)
	default:
		return nil, fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

func otelConfig(cfg config.OTelConfig) observability.Config {
	return observability.Config{
		Enabled:                cfg.Enabled,
		Endpoint:               cfg.Endpoint,
		Insecure:               cfg.Insecure,
		ServiceName:            cfg.ServiceName,
		TracesEnabled:          cfg.TracesEnabled,
		MetricsEnabled:         cfg.MetricsEnabled,
		SamplingRatio:          cfg.SamplingRatio,
		ExportTimeoutMS:        cfg.ExportTimeoutMS,
		MetricExportIntervalMS: cfg.MetricExportIntervalMS,
	}
}
