// Package checkpoint persists conversation history per thread in sqlite
// so a conversation can be resumed after the process restarts.
package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/easyso/easyso/internal/history"
)

var (
	// ErrNotFound is returned when no checkpoint matches a lookup.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrDiverged is returned when a save does not extend the thread's
	// latest checkpoint: its turns are not a prefix of the new ones.
	ErrDiverged = errors.New("history diverged from latest checkpoint")
)

// Source describes what caused a checkpoint to be written.
type Source string

const (
	SourceTurn   Source = "turn"   // After a completed conversation turn
	SourceManual Source = "manual" // Explicit request
)

// Checkpoint is one persisted snapshot of a thread.
type Checkpoint struct {
	ID        uuid.UUID `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	Source    Source    `json:"source"`
	Note      string    `json:"note,omitempty"`

	// State is nil for metadata-only listings.
	State *State `json:"state,omitempty"`

	ByteSize  int64 `json:"byte_size"` // Compressed size
	TurnCount int   `json:"turn_count"`
}

// State is the restorable payload.
type State struct {
	Turns []history.Turn `json:"turns"`
	Meta  Meta           `json:"meta"`
}

// Meta records how the conversation was being run when it was saved.
type Meta struct {
	Model      string `json:"model,omitempty"`
	StreamMode string `json:"stream_mode,omitempty"`
	Version    string `json:"version,omitempty"`
	Source     Source `json:"-"`
	Note       string `json:"-"`
}

// ThreadSummary describes one thread's checkpoint history.
type ThreadSummary struct {
	ThreadID    string    `json:"thread_id"`
	Checkpoints int       `json:"checkpoints"`
	Turns       int       `json:"turns"`
	LastAt      time.Time `json:"last_at"`
}

// Summary returns a one-line description of the checkpoint.
func (c *Checkpoint) Summary() string {
	return fmt.Sprintf("%s | %s | #%d | %s | %s",
		c.ID.String()[:8],
		c.CreatedAt.Local().Format("2006-01-02 15:04"),
		c.Seq,
		c.Source,
		plural(c.TurnCount, "turn"),
	)
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
