// ABOUTME: The execute command: compiles a diagram file and runs it, plain or under the TUI monitor.
// ABOUTME: Supports seeded variables, event-log recording, checkpoint saving, and signal-driven cancellation.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/oklog/ulid/v2"

	"github.com/2389-research/dipeo/diagram"
	"github.com/2389-research/dipeo/engine"
	"github.com/2389-research/dipeo/tui"
)

type executeConfig struct {
	serviceConfig

	varsJSON       string
	maxIterations  int
	timeoutSeconds int
	debug          bool
	tuiMode        bool
	verbose        bool
	checkpointPath string
	eventLogPath   string
	diagramFile    string
}

func parseExecuteFlags(args []string) (executeConfig, error) {
	var cfg executeConfig
	fs := flag.NewFlagSet("dipeo execute", flag.ContinueOnError)
	fs.StringVar(&cfg.varsJSON, "vars", "", "Initial execution variables as a JSON object")
	fs.IntVar(&cfg.maxIterations, "max-iterations", 0, "Override the person_job iteration cap")
	fs.IntVar(&cfg.timeoutSeconds, "timeout", 0, "Execution wall-clock timeout in seconds (0 = none)")
	fs.BoolVar(&cfg.debug, "debug", false, "Capture per-node metrics in event payloads")
	fs.BoolVar(&cfg.tuiMode, "tui", false, "Run with the interactive terminal monitor")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Print events as they happen")
	fs.StringVar(&cfg.checkpointPath, "checkpoint", "", "Save a checkpoint file when the execution ends")
	fs.StringVar(&cfg.eventLogPath, "event-log", "", "Append execution events to a JSONL file")
	fs.StringVar(&cfg.filesDir, "files-dir", ".", "Base directory for db and end node file access")
	fs.StringVar(&cfg.diagramsDir, "diagrams-dir", "", "Directory for diagram storage references")
	fs.StringVar(&cfg.conversationDB, "conversation-db", "", "SQLite file for persistent conversation memory")
	fs.StringVar(&cfg.baseURL, "base-url", "", "OpenAI-compatible API base URL")
	fs.StringVar(&cfg.model, "model", "", "Default model for person_job nodes")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return cfg, fmt.Errorf("missing diagram file")
	}
	cfg.diagramFile = fs.Arg(0)
	return cfg, nil
}

func runExecute(args []string) int {
	cfg, err := parseExecuteFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	d, err := diagram.LoadFile(cfg.diagramFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	compiled, diagnostics, err := engine.Compile(d)
	for _, diag := range diagnostics {
		fmt.Fprintln(os.Stderr, diag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	var variables map[string]any
	if cfg.varsJSON != "" {
		if err := json.Unmarshal([]byte(cfg.varsJSON), &variables); err != nil {
			fmt.Fprintf(os.Stderr, "error: parse -vars: %v\n", err)
			return 2
		}
	}

	services, cleanup, err := buildServices(cfg.serviceConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := engine.Options{
		ExecutionID:    ulid.MustNew(ulid.Now(), rand.Reader).String(),
		Variables:      variables,
		DebugMode:      cfg.debug,
		MaxIterations:  cfg.maxIterations,
		TimeoutSeconds: cfg.timeoutSeconds,
	}

	if cfg.tuiMode {
		return executeWithTUI(ctx, cfg, compiled, services, opts)
	}
	return executePlain(ctx, cfg, compiled, services, opts)
}

func executePlain(ctx context.Context, cfg executeConfig, compiled *engine.ExecutableDiagram, services *engine.Services, opts engine.Options) int {
	services.Interviewer = consoleInterviewer{}

	bus := engine.NewEventBus()
	eng := engine.New(engine.EngineConfig{Services: services, Bus: bus})

	recorderDone := make(chan struct{})
	if cfg.eventLogPath != "" {
		rec, err := engine.NewRecorder(bus.Subscribe(opts.ExecutionID), cfg.eventLogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		go func() {
			if err := rec.Run(recorderDone); err != nil {
				fmt.Fprintf(os.Stderr, "warning: event log: %v\n", err)
			}
		}()
	}
	if cfg.verbose {
		sub := bus.Subscribe(opts.ExecutionID)
		go func() {
			defer sub.Close()
			for range sub.Events() {
				for _, ev := range sub.Drain() {
					if ev.Type == engine.EventHeartbeat {
						continue
					}
					fmt.Fprintf(os.Stderr, "%s %s %s\n", ev.Timestamp.Format("15:04:05.000"), ev.Type, ev.NodeID)
				}
			}
		}()
	}

	exec, err := eng.Start(ctx, compiled, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	_ = exec.Wait(context.Background())
	close(recorderDone)

	return finishExecution(cfg, exec)
}

func executeWithTUI(ctx context.Context, cfg executeConfig, compiled *engine.ExecutableDiagram, services *engine.Services, opts engine.Options) int {
	gate := tui.NewGate()
	services.Interviewer = &gate

	bus := engine.NewEventBus()
	eng := engine.New(engine.EngineConfig{Services: services, Bus: bus})
	sub := bus.Subscribe(opts.ExecutionID)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exec, err := eng.Start(runCtx, compiled, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	model := tui.NewAppModel(runCtx, compiled, exec, sub, &gate)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	cancel()
	_ = exec.Wait(context.Background())

	return finishExecution(cfg, exec)
}

func finishExecution(cfg executeConfig, exec *engine.Execution) int {
	if cfg.checkpointPath != "" {
		cp := engine.NewCheckpoint(exec.Context())
		if err := cp.Save(cfg.checkpointPath); err != nil {
			fmt.Fprintf(os.Stderr, "warning: save checkpoint: %v\n", err)
		}
	}

	fmt.Println(exec.Context().Summary())
	if err := exec.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	if exec.Status() != engine.ExecCompleted {
		return 1
	}
	return 0
}
