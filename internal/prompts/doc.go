// Package prompts holds the system prompt sent to the model at the start
// of every turn.
//
// The built-in prompt is a ReAct-style instruction block rendered with
// text/template. A prompt file named in configuration replaces the
// template text; it is rendered with the same [Data] so it can refer to
// the tool list and the current date.
package prompts
