// ABOUTME: Conversation model shared between person_job nodes and the conversation service.
// ABOUTME: Defines Message, State, and the memory policies that shape what an agent remembers.
package conversation

import (
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn attributed to a person.
type Message struct {
	PersonID    string    `json:"person_id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	ExecutionID string    `json:"execution_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// State is the conversation payload that travels on conversation_state
// envelopes: the visible message window for one person.
type State struct {
	PersonID string    `json:"person_id"`
	Messages []Message `json:"messages"`
}

// MemoryPolicy controls how a person_job node treats prior messages.
type MemoryPolicy string

const (
	// MemoryNoForget keeps the full history on every turn.
	MemoryNoForget MemoryPolicy = "no_forget"
	// MemoryOnEveryTurn keeps only the most recent exchange plus any
	// system messages, consolidating older turns away.
	MemoryOnEveryTurn MemoryPolicy = "on_every_turn"
	// MemoryUponRequest drops prior messages entirely; the node sees a
	// fresh conversation unless an upstream edge supplies one.
	MemoryUponRequest MemoryPolicy = "upon_request"
)

// ValidPolicy reports whether p is one of the recognized memory policies.
func ValidPolicy(p MemoryPolicy) bool {
	switch p {
	case MemoryNoForget, MemoryOnEveryTurn, MemoryUponRequest:
		return true
	}
	return false
}

// ApplyPolicy filters a message history according to the given policy.
// The input slice is not modified.
func ApplyPolicy(msgs []Message, policy MemoryPolicy) []Message {
	switch policy {
	case MemoryOnEveryTurn:
		return lastExchange(msgs)
	case MemoryUponRequest:
		return nil
	default:
		out := make([]Message, len(msgs))
		copy(out, msgs)
		return out
	}
}

// lastExchange keeps system messages plus the final user/assistant pair.
func lastExchange(msgs []Message) []Message {
	var out []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			out = append(out, m)
		}
	}
	// Walk backwards for the last assistant message and the user message
	// that preceded it.
	lastAssistant := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleAssistant {
			lastAssistant = i
			break
		}
	}
	if lastAssistant == -1 {
		// No assistant turn yet; keep the trailing user message if any.
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == RoleUser {
				out = append(out, msgs[i])
				break
			}
		}
		return out
	}
	for i := lastAssistant - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			out = append(out, msgs[i])
			break
		}
	}
	out = append(out, msgs[lastAssistant])
	return out
}
