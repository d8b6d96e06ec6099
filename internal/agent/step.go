package agent

import "github.com/easyso/easyso/internal/history"

// StreamMode selects what Stream yields while a turn is in progress.
type StreamMode string

const (
	// ModeValues yields a snapshot of the conversation after every
	// change: the new user message, each model response, each batch of
	// tool results.
	ModeValues StreamMode = "values"

	// ModeTokens yields model text fragments as they arrive.
	ModeTokens StreamMode = "tokens"
)

// Step is one increment of a streamed turn. It is either a MessageStep
// or a FragmentStep.
type Step interface {
	step()
}

// MessageStep carries the conversation as it stands after a change.
// The last element is the newest message.
type MessageStep struct {
	Messages []history.Turn
}

// Last returns the newest message in the snapshot.
func (s MessageStep) Last() (history.Turn, bool) {
	if len(s.Messages) == 0 {
		return history.Turn{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// FragmentStep carries a piece of model output text.
type FragmentStep struct {
	Text string
}

func (MessageStep) step()  {}
func (FragmentStep) step() {}
