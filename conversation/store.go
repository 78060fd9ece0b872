// ABOUTME: Conversation message stores: an in-memory store for tests and a SQLite-backed store.
// ABOUTME: The SQLite store uses WAL mode and a single messages table keyed by person and execution.
package conversation

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists conversation messages per person.
type Store interface {
	Add(msg Message) error
	Messages(personID string) ([]Message, error)
	ClearAll() error
	Close() error
}

// MemoryStore is an in-process Store for tests and single-shot runs.
type MemoryStore struct {
	mu   sync.RWMutex
	msgs map[string][]Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{msgs: make(map[string][]Message)}
}

func (s *MemoryStore) Add(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[msg.PersonID] = append(s.msgs[msg.PersonID], msg)
	return nil
}

func (s *MemoryStore) Messages(personID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.msgs[personID]))
	copy(out, s.msgs[personID])
	return out, nil
}

func (s *MemoryStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = make(map[string][]Message)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

// SqliteStore is a SQLite-backed Store. The database is rebuildable
// from execution history and serves as the durable conversation memory
// across executions.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a conversation database at the given path
// and ensures the schema exists.
func OpenSqlite(path string) (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			person_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			execution_id TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_person ON messages(person_id, id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Add(msg Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (person_id, role, content, execution_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.PersonID, string(msg.Role), msg.Content, msg.ExecutionID, created.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SqliteStore) Messages(personID string) ([]Message, error) {
	rows, err := s.db.Query(
		`SELECT person_id, role, content, COALESCE(execution_id, ''), created_at FROM messages WHERE person_id = ? ORDER BY id`,
		personID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role, created string
		if err := rows.Scan(&m.PersonID, &role, &m.Content, &m.ExecutionID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = Role(role)
		if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
			m.CreatedAt = t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SqliteStore) ClearAll() error {
	if _, err := s.db.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *SqliteStore) Close() error { return s.db.Close() }

// Manager is the conversation service handed to handlers: message access
// with memory-policy filtering on read.
type Manager struct {
	store Store
}

// NewManager wraps a Store in a Manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// GetMessages returns the person's history filtered by the given policy.
func (m *Manager) GetMessages(personID string, policy MemoryPolicy) ([]Message, error) {
	msgs, err := m.store.Messages(personID)
	if err != nil {
		return nil, err
	}
	return ApplyPolicy(msgs, policy), nil
}

// AddMessage appends a turn to the person's history.
func (m *Manager) AddMessage(personID string, role Role, content, executionID string) error {
	return m.store.Add(Message{
		PersonID:    personID,
		Role:        role,
		Content:     content,
		ExecutionID: executionID,
		CreatedAt:   time.Now().UTC(),
	})
}

// ClearAll wipes every person's history.
func (m *Manager) ClearAll() error { return m.store.ClearAll() }
