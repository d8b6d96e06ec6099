// Package history defines the conversation data model shared by the
// chat loop, the agent and the checkpoint store.
package history

import (
	"slices"
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Turn is one role-tagged message. Turns are values; once appended to a
// History they are never modified.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant turns that request tools.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName are set on tool turns.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// UserTurn returns a user turn stamped with the current time.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content, CreatedAt: time.Now().UTC()}
}

// AssistantTurn returns an assistant turn stamped with the current time.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content, CreatedAt: time.Now().UTC()}
}

// Equal reports whether two turns carry the same message. CreatedAt is
// compared at second precision because it does not survive every
// serialization with full resolution.
func (t Turn) Equal(o Turn) bool {
	if t.Role != o.Role || t.Content != o.Content ||
		t.ToolCallID != o.ToolCallID || t.ToolName != o.ToolName ||
		len(t.ToolCalls) != len(o.ToolCalls) {
		return false
	}
	for i := range t.ToolCalls {
		if t.ToolCalls[i].ID != o.ToolCalls[i].ID || t.ToolCalls[i].Name != o.ToolCalls[i].Name {
			return false
		}
	}
	return t.CreatedAt.Truncate(time.Second).Equal(o.CreatedAt.Truncate(time.Second))
}

// IsPrefix reports whether prefix is an exact leading subsequence of turns.
func IsPrefix(prefix, turns []Turn) bool {
	if len(prefix) > len(turns) {
		return false
	}
	for i := range prefix {
		if !prefix[i].Equal(turns[i]) {
			return false
		}
	}
	return true
}

// History is an append-only, ordered sequence of turns.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns a History seeded with turns (copied).
func New(turns ...Turn) *History {
	return &History{turns: slices.Clone(turns)}
}

// Append adds turns to the end of the history.
func (h *History) Append(turns ...Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, turns...)
}

// Turns returns a copy of every recorded turn.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.turns)
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Last returns the most recent turn.
func (h *History) Last() (Turn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Window returns a copy of at most the last n turns. n <= 0 returns all.
// The window never starts on an assistant turn so the model always sees
// the question an answer belongs to.
func (h *History) Window(n int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return window(h.turns, n)
}

func window(turns []Turn, n int) []Turn {
	if n <= 0 || n >= len(turns) {
		return slices.Clone(turns)
	}
	start := len(turns) - n
	for start < len(turns) && turns[start].Role != RoleUser {
		start++
	}
	return slices.Clone(turns[start:])
}
