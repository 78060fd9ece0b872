// ABOUTME: The stats and metrics commands: query recorded JSONL event logs.
// ABOUTME: Stats filters and summarizes events; metrics reports per-node execution timing.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/2389-research/dipeo/engine"
)

func runStats(args []string) int {
	var (
		typeFilter string
		nodeFilter string
		sinceStr   string
		limit      int
		tail       int
	)
	fs := flag.NewFlagSet("dipeo stats", flag.ContinueOnError)
	fs.StringVar(&typeFilter, "type", "", "Only events of this type")
	fs.StringVar(&nodeFilter, "node", "", "Only events for this node")
	fs.StringVar(&sinceStr, "since", "", "Only events at or after this RFC3339 time")
	fs.IntVar(&limit, "limit", 0, "Max events to list (0 = summary only)")
	fs.IntVar(&tail, "tail", 0, "Show the last N events instead of a summary")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: dipeo stats [flags] <event-log>")
		return 2
	}

	events, err := engine.LoadEvents(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	filter := engine.EventFilter{NodeID: nodeFilter, Limit: limit}
	if typeFilter != "" {
		filter.Types = []engine.EventType{engine.EventType(typeFilter)}
	}
	if sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: parse -since: %v\n", err)
			return 2
		}
		filter.Since = &since
	}
	filtered := engine.ApplyFilter(events, filter)

	if tail > 0 {
		for _, ev := range engine.TailEvents(filtered, tail) {
			printEvent(ev)
		}
		return 0
	}
	if limit > 0 {
		for _, ev := range filtered {
			printEvent(ev)
		}
		return 0
	}

	summary := engine.Summarize(filtered)
	fmt.Printf("events: %d\n", summary.TotalEvents)
	if summary.FirstEvent != nil && summary.LastEvent != nil {
		fmt.Printf("span:   %s .. %s (%s)\n",
			summary.FirstEvent.Format(time.RFC3339),
			summary.LastEvent.Format(time.RFC3339),
			summary.LastEvent.Sub(*summary.FirstEvent).Truncate(time.Millisecond))
	}
	for _, t := range sortedTypeKeys(summary.ByType) {
		fmt.Printf("  %-24s %d\n", t, summary.ByType[t])
	}
	if len(summary.ByNode) > 0 {
		fmt.Println("by node:")
		for _, n := range sortedKeys(summary.ByNode) {
			fmt.Printf("  %-24s %d\n", n, summary.ByNode[n])
		}
	}
	return 0
}

func runMetrics(args []string) int {
	fs := flag.NewFlagSet("dipeo metrics", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: dipeo metrics <event-log>")
		return 2
	}

	events, err := engine.LoadEvents(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	metrics := engine.CollectNodeMetrics(events)
	ids := make([]string, 0, len(metrics))
	for id := range metrics {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-24s %10s %10s %12s %12s\n", "NODE", "RUNS", "FAILURES", "TOTAL_MS", "AVG_MS")
	for _, id := range ids {
		m := metrics[id]
		avg := int64(0)
		if m.Executions > 0 {
			avg = m.TotalMS / int64(m.Executions)
		}
		fmt.Printf("%-24s %10d %10d %12d %12d\n", m.NodeID, m.Executions, m.Failures, m.TotalMS, avg)
	}
	return 0
}

func printEvent(ev engine.Event) {
	fmt.Printf("%s %-24s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.NodeID)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTypeKeys(m map[engine.EventType]int) []engine.EventType {
	keys := make([]engine.EventType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
