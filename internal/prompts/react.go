package prompts

import (
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"
)

// ReactTemplate is the default system prompt.
const ReactTemplate = `Answer the user's questions as best you can. Today is {{.Date}}.
{{- if .Tools}}

You have access to the following tools:
{{range .Tools}}
- {{.Name}}: {{.Description}}
{{- end}}

Work in a loop of Thought, Action and Observation:
- Thought: decide what you still need to know.
- Action: call one of [{{.ToolNames}}] with the arguments it needs.
- Observation: read the tool result that comes back.

Repeat until you know the final answer. Search before answering anything
that depends on current events, prices, weather or other facts that change.
If a tool returns an error, try a different query or answer with what you have.
{{- end}}

When you are done, reply with the final answer only. Cite the URLs you relied on.`

// ToolInfo describes a tool for the prompt.
type ToolInfo struct {
	Name        string
	Description string
}

// Data is the template input.
type Data struct {
	Tools []ToolInfo
	Date  string
}

// ToolNames returns the comma-separated tool names.
func (d Data) ToolNames() string {
	names := make([]string, len(d.Tools))
	for i, t := range d.Tools {
		names[i] = t.Name
	}
	return strings.Join(names, ", ")
}

// NewData builds template data for the given tools and date.
func NewData(tools []ToolInfo, now time.Time) Data {
	return Data{Tools: tools, Date: now.Format("Monday, January 2, 2006")}
}

// Render executes text as a template over data.
func Render(text string, data Data) (string, error) {
	tmpl, err := template.New("system").Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return b.String(), nil
}

// Load returns the template text from path, or ReactTemplate when path
// is empty.
func Load(path string) (string, error) {
	if path == "" {
		return ReactTemplate, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(b), nil
}
