// ABOUTME: Service wiring shared by the execute and server commands.
// ABOUTME: Builds the LLM client, conversation store, file service, and storage from flags and environment.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/2389-research/dipeo/conversation"
	"github.com/2389-research/dipeo/engine"
	"github.com/2389-research/dipeo/llm"
	"github.com/2389-research/dipeo/template"
)

// serviceConfig holds the flags common to commands that run diagrams.
type serviceConfig struct {
	filesDir       string
	diagramsDir    string
	conversationDB string
	baseURL        string
	model          string
}

// buildServices wires the engine's collaborators. The returned cleanup
// closes the conversation store.
func buildServices(cfg serviceConfig) (*engine.Services, func(), error) {
	services := &engine.Services{
		Templates: template.New(),
		Files:     engine.NewLocalFileService(cfg.filesDir),
		APIKeys:   engine.EnvAPIKeys{},
		Notion:    engine.NewNotionService(),
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		var opts []llm.Option
		if cfg.baseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.baseURL))
		}
		if cfg.model != "" {
			opts = append(opts, llm.WithDefaultModel(cfg.model))
		}
		services.LLM = llm.NewOpenAIClient(key, opts...)
	}

	cleanup := func() {}
	if cfg.conversationDB != "" {
		store, err := conversation.OpenSqlite(cfg.conversationDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open conversation db: %w", err)
		}
		services.Conversations = conversation.NewManager(store)
		cleanup = func() { _ = store.Close() }
	} else {
		services.Conversations = conversation.NewManager(conversation.NewMemoryStore())
	}

	if cfg.diagramsDir != "" {
		services.Diagrams = engine.NewFileDiagramStorage(cfg.diagramsDir)
	}

	return services, cleanup, nil
}

// consoleInterviewer answers user_response nodes from stdin.
type consoleInterviewer struct{}

func (consoleInterviewer) Ask(ctx context.Context, prompt string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Println(prompt)
	if len(options) > 0 {
		fmt.Printf("Options: %s\n", strings.Join(options, ", "))
	}
	fmt.Print("> ")

	type read struct {
		line string
		err  error
	}
	ch := make(chan read, 1)
	go func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		ch <- read{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return "", fmt.Errorf("read answer: %w", r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}
