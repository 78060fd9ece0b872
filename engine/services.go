// ABOUTME: Service registry handed to handlers: llm, file, template, conversation, api_key, diagram storage.
// ABOUTME: Ports are small interfaces; local implementations live here, external ones are injected at wiring time.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389-research/dipeo/conversation"
	"github.com/2389-research/dipeo/diagram"
	"github.com/2389-research/dipeo/llm"
)

// FileService reads and writes files for db and end nodes. All paths
// are relative to the service's base directory; escapes are rejected.
type FileService interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Append(path string, data []byte) error
}

// TemplateRenderer renders prompt templates against execution variables.
type TemplateRenderer interface {
	Render(tpl string, vars map[string]any) (string, error)
}

// APIKeyService resolves api_key_id references to secret values.
type APIKeyService interface {
	Resolve(id string) (string, error)
}

// DiagramStorage loads and saves declarative diagrams by reference.
type DiagramStorage interface {
	Load(ref string) (*diagram.Diagram, error)
	Save(ref string, d *diagram.Diagram) error
}

// Interviewer collects a human answer for user_response nodes. A nil
// interviewer fails those nodes instead of blocking forever.
type Interviewer interface {
	Ask(ctx context.Context, prompt string, options []string) (string, error)
}

// NotionService performs page operations for notion nodes.
type NotionService interface {
	ReadPage(ctx context.Context, apiKey, pageID string) (string, error)
	CreatePage(ctx context.Context, apiKey, parentID, title string, blocks []map[string]any) (string, error)
	AppendBlocks(ctx context.Context, apiKey, pageID string, blocks []map[string]any) error
}

// Services bundles every collaborator handlers may need. Unset fields
// fail the handlers that need them with a clear error instead of a nil
// panic.
type Services struct {
	LLM           llm.Client
	Conversations *conversation.Manager
	Files         FileService
	Templates     TemplateRenderer
	APIKeys       APIKeyService
	Diagrams      DiagramStorage
	Interviewer   Interviewer
	Notion        NotionService
}

// LocalFileService is a FileService rooted at a base directory.
type LocalFileService struct {
	BaseDir string
}

// NewLocalFileService creates a file service rooted at dir.
func NewLocalFileService(dir string) *LocalFileService {
	return &LocalFileService{BaseDir: dir}
}

// resolve joins the relative path under the base dir and rejects
// anything that escapes it.
func (s *LocalFileService) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty file path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}
	return filepath.Join(s.BaseDir, clean), nil
}

func (s *LocalFileService) Read(path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *LocalFileService) Write(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (s *LocalFileService) Append(path string, data []byte) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append %s: %w", path, err)
	}
	return nil
}

// EnvAPIKeys resolves api key ids against environment variables. The id
// is uppercased and non-alphanumerics become underscores, so
// "openai-main" resolves via OPENAI_MAIN.
type EnvAPIKeys struct{}

func (EnvAPIKeys) Resolve(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty api key id")
	}
	name := strings.ToUpper(id)
	name = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("api key %s not set (env %s)", id, name)
	}
	return val, nil
}

// FileDiagramStorage loads and saves diagrams as files under a base
// directory. A ref is a relative path; bare refs get .yaml appended.
type FileDiagramStorage struct {
	BaseDir string
}

func NewFileDiagramStorage(dir string) *FileDiagramStorage {
	return &FileDiagramStorage{BaseDir: dir}
}

func (s *FileDiagramStorage) refPath(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty diagram ref")
	}
	if filepath.Ext(ref) == "" {
		ref += ".yaml"
	}
	clean := filepath.Clean(ref)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("diagram ref escapes storage: %s", ref)
	}
	return filepath.Join(s.BaseDir, clean), nil
}

func (s *FileDiagramStorage) Load(ref string) (*diagram.Diagram, error) {
	path, err := s.refPath(ref)
	if err != nil {
		return nil, err
	}
	return diagram.LoadFile(path)
}

func (s *FileDiagramStorage) Save(ref string, d *diagram.Diagram) error {
	path, err := s.refPath(ref)
	if err != nil {
		return err
	}
	return diagram.SaveFile(d, path)
}

// StaticAnswers is an Interviewer that replays canned answers, used in
// tests and headless runs.
type StaticAnswers struct {
	Answers []string
	next    int
}

func (s *StaticAnswers) Ask(_ context.Context, _ string, _ []string) (string, error) {
	if s.next >= len(s.Answers) {
		return "", fmt.Errorf("no answer available for question %d", s.next+1)
	}
	ans := s.Answers[s.next]
	s.next++
	return ans, nil
}
