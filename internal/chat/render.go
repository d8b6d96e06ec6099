package chat

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/easyso/easyso/internal/history"
)

const (
	titleWidth = 80
	separator  = "----"
)

// printer writes conversation output. Styles come from a renderer bound
// to the output writer, so color is only emitted to terminals.
type printer struct {
	out   io.Writer
	title lipgloss.Style
	faint lipgloss.Style
	err   lipgloss.Style
}

func newPrinter(w io.Writer) *printer {
	r := lipgloss.NewRenderer(w)
	return &printer{
		out:   w,
		title: r.NewStyle().Bold(true),
		faint: r.NewStyle().Faint(true),
		err:   r.NewStyle().Foreground(lipgloss.Color("9")),
	}
}

// message pretty-prints one turn under a centered title rule.
func (p *printer) message(t history.Turn) {
	fmt.Fprintln(p.out, p.title.Render(titleLine(roleTitle(t.Role))))
	if t.Role == history.RoleTool && t.ToolName != "" {
		fmt.Fprintf(p.out, "Name: %s\n", t.ToolName)
	}
	fmt.Fprintln(p.out)
	if body := messageBody(t); body != "" {
		fmt.Fprintln(p.out, body)
	}
}

func (p *printer) separator() {
	fmt.Fprintln(p.out, p.faint.Render(separator))
}

func (p *printer) fragment(text string) {
	fmt.Fprint(p.out, text)
}

func (p *printer) newline() {
	fmt.Fprintln(p.out)
}

func (p *printer) errorLine(err error) {
	fmt.Fprintln(p.out, p.err.Render("error: "+err.Error()))
}

func (p *printer) prompt(s string) {
	fmt.Fprint(p.out, s)
}

func roleTitle(r history.Role) string {
	switch r {
	case history.RoleUser:
		return "Human Message"
	case history.RoleAssistant:
		return "Ai Message"
	case history.RoleTool:
		return "Tool Message"
	default:
		return string(r) + " Message"
	}
}

// titleLine centers title in a rule of '=' characters. When the padding
// cannot be split evenly the extra '=' goes on the right.
func titleLine(title string) string {
	padded := " " + title + " "
	side := max((titleWidth-len(padded))/2, 0)
	left := strings.Repeat("=", side)
	right := left
	if len(padded)%2 == 1 {
		right += "="
	}
	return left + padded + right
}

func messageBody(t history.Turn) string {
	body := strings.TrimSpace(t.Content)
	if len(t.ToolCalls) == 0 {
		return body
	}

	var b strings.Builder
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString("Tool Calls:")
	for _, tc := range t.ToolCalls {
		fmt.Fprintf(&b, "\n  %s (%s)", tc.Name, tc.ID)
		fmt.Fprintf(&b, "\n Call ID: %s", tc.ID)
		b.WriteString("\n  Args:")
		keys := make([]string, 0, len(tc.Arguments))
		for k := range tc.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n    %s: %v", k, tc.Arguments[k])
		}
	}
	return b.String()
}

// WriteTranscript pretty-prints turns to w in the same format the
// conversation loop uses.
func WriteTranscript(w io.Writer, turns []history.Turn) {
	p := newPrinter(w)
	for _, t := range turns {
		p.message(t)
		p.separator()
	}
}
