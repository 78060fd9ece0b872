// ABOUTME: The compile and convert commands: validate diagrams and translate between yaml and json.
// ABOUTME: Compile prints every diagnostic; convert writes to a file or stdout.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/2389-research/dipeo/diagram"
	"github.com/2389-research/dipeo/engine"
)

func runCompile(args []string) int {
	fs := flag.NewFlagSet("dipeo compile", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: dipeo compile <diagram-file>")
		return 2
	}

	d, err := diagram.LoadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	compiled, diagnostics, err := engine.Compile(d)
	for _, diag := range diagnostics {
		fmt.Println(diag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Printf("ok: %d nodes, %d edges\n", compiled.NodeCount(), len(compiled.Edges()))
	return 0
}

func runConvert(args []string) int {
	var to, out string
	fs := flag.NewFlagSet("dipeo convert", flag.ContinueOnError)
	fs.StringVar(&to, "to", "json", "Target format: yaml, json, or dot")
	fs.StringVar(&out, "o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: dipeo convert -to <format> <diagram-file>")
		return 2
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	var converted []byte
	if to == "dot" {
		d, err := diagram.Parse(data, diagram.FormatForPath(path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		converted = diagram.MarshalDOT(d)
	} else {
		var err error
		converted, err = diagram.Convert(data, diagram.FormatForPath(path), diagram.Format(to))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	if out == "" {
		fmt.Print(string(converted))
		return 0
	}
	if err := os.WriteFile(out, converted, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
