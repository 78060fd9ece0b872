// ABOUTME: CLI entrypoint for the dipeo diagram runner with execute, compile, convert, stats, metrics, and server commands.
// ABOUTME: Loads .env, dispatches to the subcommand runners, and maps their results to process exit codes.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// Missing .env files are fine; environment wins over file values.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printHelp(os.Stderr)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "execute":
		os.Exit(runExecute(args))
	case "compile":
		os.Exit(runCompile(args))
	case "convert":
		os.Exit(runConvert(args))
	case "stats":
		os.Exit(runStats(args))
	case "metrics":
		os.Exit(runMetrics(args))
	case "server":
		os.Exit(runServer(args))
	case "version", "-version", "--version":
		fmt.Printf("dipeo %s\n", version)
	case "help", "-h", "-help", "--help":
		printHelp(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printHelp(os.Stderr)
		os.Exit(2)
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, `dipeo %s - diagram execution engine

Usage:
  dipeo execute [flags] <diagram-file>   Run a diagram to completion
  dipeo compile [flags] <diagram-file>   Validate and report diagnostics
  dipeo convert [flags] <diagram-file>   Convert between yaml and json
  dipeo stats   [flags] <event-log>      Summarize a recorded event log
  dipeo metrics [flags] <event-log>      Per-node timing from an event log
  dipeo server  [flags]                  Start the HTTP control surface
  dipeo version                          Print version

Run 'dipeo <command> -h' for command flags.
`, version)
}
