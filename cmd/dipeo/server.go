// ABOUTME: The server command: starts the HTTP control surface with graceful shutdown on signals.
// ABOUTME: Shares the execute command's service wiring so submitted diagrams run with the same stack.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389-research/dipeo/server"
)

func runServer(args []string) int {
	var (
		cfg  serviceConfig
		port int
	)
	fs := flag.NewFlagSet("dipeo server", flag.ContinueOnError)
	fs.IntVar(&port, "port", 8720, "Listen port")
	fs.StringVar(&cfg.filesDir, "files-dir", ".", "Base directory for db and end node file access")
	fs.StringVar(&cfg.diagramsDir, "diagrams-dir", "", "Directory for diagram storage references")
	fs.StringVar(&cfg.conversationDB, "conversation-db", "", "SQLite file for persistent conversation memory")
	fs.StringVar(&cfg.baseURL, "base-url", "", "OpenAI-compatible API base URL")
	fs.StringVar(&cfg.model, "model", "", "Default model for person_job nodes")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	services, cleanup, err := buildServices(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer cleanup()

	srv := server.New(server.Config{Services: services})
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	fmt.Printf("dipeo server listening on :%d\n", port)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	fmt.Fprintln(os.Stderr, "shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
