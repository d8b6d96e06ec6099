package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(roles ...Role) []Turn {
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	out := make([]Turn, len(roles))
	for i, r := range roles {
		out[i] = Turn{Role: r, Content: string(r) + string(rune('a'+i)), CreatedAt: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestHistory_AppendAndTurns(t *testing.T) {
	h := New()
	h.Append(UserTurn("hi"))
	h.Append(AssistantTurn("hello"))

	require.Equal(t, 2, h.Len())

	got := h.Turns()
	got[0].Content = "mutated"
	assert.Equal(t, "hi", h.Turns()[0].Content, "Turns must return a copy")

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, RoleAssistant, last.Role)
}

func TestHistory_LastEmpty(t *testing.T) {
	_, ok := New().Last()
	assert.False(t, ok)
}

func TestHistory_Window(t *testing.T) {
	h := New(seq(RoleUser, RoleAssistant, RoleUser, RoleAssistant, RoleUser, RoleAssistant)...)

	tests := []struct {
		n     int
		want  int
		first Role
	}{
		{0, 6, RoleUser},
		{10, 6, RoleUser},
		{4, 4, RoleUser},
		{3, 2, RoleUser}, // skips the leading assistant turn
		{1, 0, ""},
	}
	for _, tt := range tests {
		got := h.Window(tt.n)
		if !assert.Len(t, got, tt.want, "Window(%d)", tt.n) {
			continue
		}
		if len(got) > 0 {
			assert.Equal(t, tt.first, got[0].Role, "Window(%d)", tt.n)
		}
	}
	assert.Equal(t, 6, h.Len(), "Window must not drop recorded turns")
}

func TestIsPrefix(t *testing.T) {
	full := seq(RoleUser, RoleAssistant, RoleUser, RoleAssistant)

	assert.True(t, IsPrefix(nil, full))
	assert.True(t, IsPrefix(full[:2], full))
	assert.False(t, IsPrefix(full, full[:2]))

	changed := append([]Turn(nil), full[:2]...)
	changed[1].Content = "rewritten"
	assert.False(t, IsPrefix(changed, full), "edited turn must break the prefix")
}

func TestTurnEqual_SecondPrecision(t *testing.T) {
	a := Turn{Role: RoleUser, Content: "x", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 100, time.UTC)}
	b := a
	b.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 900, time.UTC)
	assert.True(t, a.Equal(b), "sub-second difference should compare equal")

	b.ToolCalls = []ToolCall{{ID: "1", Name: "web_search"}}
	assert.False(t, a.Equal(b), "tool calls must be compared")
}
