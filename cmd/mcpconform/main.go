// Command mcpconform runs conformance scenarios against an MCP-style tool
// server speaking newline-delimited JSON-RPC 2.0, and reports a verdict per
// expectation.
//
// The target executable is spawned fresh for every scenario and spoken to
// over its standard streams:
//
//	mcpconform ./bin/workspace-server
//	mcpconform -run 'filesystem' -report report.json ./bin/workspace-server --mcp --root /tmp/ws
//
// With -transport sse no process is spawned; -sse-url points at an already
// running server instead. Every flag can also be set through an
// MCPCONFORM_* environment variable; flags win when both are given.
//
// The exit code is 0 when every expectation passed, 1 when any failed, and
// 2 when the harness itself could not complete the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gobwas/glob"

	"github.com/MegaGrindStone/go-mcp-conform"
)

// Stamped by the build via -ldflags "-X main.version=... -X main.buildSHA=...".
var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

type config struct {
	Transport  string        `env:"MCPCONFORM_TRANSPORT" envDefault:"stdio"`
	SSEURL     string        `env:"MCPCONFORM_SSE_URL"`
	Timeout    time.Duration `env:"MCPCONFORM_TIMEOUT" envDefault:"10s"`
	Suite      string        `env:"MCPCONFORM_SUITE"`
	Run        string        `env:"MCPCONFORM_RUN"`
	ReportPath string        `env:"MCPCONFORM_REPORT"`
	Debug      bool          `env:"MCPCONFORM_DEBUG"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to parse environment:", err)
		return 2
	}

	transportKind := flag.String("transport", cfg.Transport, "Transport to reach the target with: stdio or sse")
	sseURL := flag.String("sse-url", cfg.SSEURL, "SSE connect URL of an already running target (transport sse)")
	timeout := flag.Duration("timeout", cfg.Timeout, "Per-step response deadline")
	suite := flag.String("suite", cfg.Suite, "YAML scenario suite to run instead of the builtin scenarios")
	runFilter := flag.String("run", cfg.Run, "Glob pattern selecting scenarios by name")
	reportPath := flag.String("report", cfg.ReportPath, "Write the report as JSON to this file")
	debug := flag.Bool("debug", cfg.Debug, "Write debug logs to stderr")
	showVersion := flag.Bool("version", false, "Print the harness version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mcpconform version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return 0
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	scenarios, err := loadScenarios(*suite, *runFilter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 2
	}
	if len(scenarios) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no scenarios selected")
		return 2
	}

	factory, err := transportFactory(*transportKind, *sseURL, flag.Args(), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		flag.Usage()
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := conform.NewRunner(factory,
		conform.WithStepTimeout(*timeout),
		conform.WithRunnerLogger(logger))
	report := runner.Run(ctx, scenarios)

	if err := report.WriteText(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error: failed to write report:", err)
		return 2
	}
	if *reportPath != "" {
		if err := writeJSONReport(report, *reportPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return 2
		}
	}

	return report.ExitCode()
}

func loadScenarios(suitePath, runFilter string) ([]conform.Scenario, error) {
	scenarios := conform.BuiltinScenarios()
	if suitePath != "" {
		var err error
		scenarios, err = conform.LoadSuiteFile(suitePath)
		if err != nil {
			return nil, err
		}
	}

	if runFilter == "" {
		return scenarios, nil
	}
	g, err := glob.Compile(runFilter)
	if err != nil {
		return nil, fmt.Errorf("invalid -run pattern %q: %w", runFilter, err)
	}
	selected := make([]conform.Scenario, 0, len(scenarios))
	for _, sc := range scenarios {
		if g.Match(sc.Name) {
			selected = append(selected, sc)
		}
	}
	return selected, nil
}

func transportFactory(kind, sseURL string, targetArgv []string, logger *slog.Logger) (func() conform.Transport, error) {
	switch kind {
	case "stdio":
		if len(targetArgv) == 0 {
			return nil, errors.New("no target given: pass the target executable after the flags")
		}
		path := targetArgv[0]
		var args []string
		if len(targetArgv) > 1 {
			args = targetArgv[1:]
		}
		return func() conform.Transport {
			return conform.NewStdIOTransport(path, args, conform.WithStdIOLogger(logger))
		}, nil
	case "sse":
		if sseURL == "" {
			return nil, errors.New("transport sse needs -sse-url")
		}
		return func() conform.Transport {
			return conform.NewSSETransport(sseURL, conform.WithSSELogger(logger))
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q, want stdio or sse", kind)
	}
}

func writeJSONReport(report *conform.Report, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: mcpconform [flags] <target> [target args...]

Runs conformance scenarios against an MCP-style tool server. The target
executable is spawned once per scenario and spoken to over stdio; target
args after the executable replace the default --mcp flag. With
-transport sse the target is not spawned and -sse-url points at a
running server instead.

Flags:
`)
	flag.PrintDefaults()
}
