package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ongoingai/agenttrace/internal/version"
)

const defaultConfigPath = "agenttrace.yaml"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "replay":
		return runReplay(args[1:], os.Stdout, os.Stderr)
	case "report":
		return runReport(args[1:], os.Stdout, os.Stderr)
	default:
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "usage: agenttrace <command> [flags]")
	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "commands:")
	fmt.Fprintln(out, "  replay   replay a recorded lifecycle event log through the telemetry pipeline")
	fmt.Fprintln(out, "  report   summarize stored invocations and tool usage")
	fmt.Fprintln(out, "  version  print version information")
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
