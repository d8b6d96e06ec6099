// Package chat implements the interactive conversation loop: read a
// line, stream the agent's answer, record the turn, checkpoint it.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/easyso/easyso/internal/agent"
	"github.com/easyso/easyso/internal/buildinfo"
	"github.com/easyso/easyso/internal/checkpoint"
	"github.com/easyso/easyso/internal/config"
	"github.com/easyso/easyso/internal/history"
	"github.com/easyso/easyso/internal/httpkit"
)

// persistTimeout bounds the checkpoint and usage writes after a turn.
const persistTimeout = 5 * time.Second

// ErrCheckpointSave wraps failures to persist the conversation. The
// loop stops when it sees one.
var ErrCheckpointSave = errors.New("checkpoint save failed")

// Streamer runs one conversational turn.
type Streamer interface {
	Stream(ctx context.Context, req agent.Request, mode agent.StreamMode, yield func(agent.Step) error) (*agent.Result, error)
}

// Checkpointer persists conversation history per thread.
type Checkpointer interface {
	Save(ctx context.Context, threadID string, turns []history.Turn, meta checkpoint.Meta) (*checkpoint.Checkpoint, error)
	Resume(ctx context.Context, threadID string) ([]history.Turn, error)
}

// UsageRecorder receives the token counts of each completed turn.
type UsageRecorder interface {
	RecordTurn(ctx context.Context, threadID string, res *agent.Result) error
}

// Config holds everything a Controller needs.
type Config struct {
	Agent Streamer

	// Checkpointer is optional; nil keeps the conversation in memory.
	Checkpointer Checkpointer

	// Usage is optional. Recording failures are logged, never fatal.
	Usage UsageRecorder

	ThreadID string
	Mode     agent.StreamMode
	Prompt   string
	In       io.Reader
	Out      io.Writer
	Logger   *slog.Logger

	// HistoryWindow bounds how many recorded turns accompany each
	// request. Zero sends everything.
	HistoryWindow int

	Retry RetryPolicy

	// Model is recorded in checkpoint metadata.
	Model string
}

// Controller owns the conversation history for one thread.
type Controller struct {
	agent    Streamer
	store    Checkpointer
	usage    UsageRecorder
	threadID string
	mode     agent.StreamMode
	prompt   string
	in       io.Reader
	out      *printer
	logger   *slog.Logger
	window   int
	retry    RetryPolicy
	model    string

	history *history.History
}

// New creates a Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Agent == nil {
		return nil, errors.New("chat: agent is required")
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	if cfg.ThreadID == "" {
		cfg.ThreadID = config.DefaultThreadID
	}
	if cfg.Mode == "" {
		cfg.Mode = agent.ModeValues
	}
	if cfg.Mode != agent.ModeValues && cfg.Mode != agent.ModeTokens {
		return nil, fmt.Errorf("chat: unknown stream mode %q", cfg.Mode)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Controller{
		agent:    cfg.Agent,
		store:    cfg.Checkpointer,
		usage:    cfg.Usage,
		threadID: cfg.ThreadID,
		mode:     cfg.Mode,
		prompt:   cfg.Prompt,
		in:       cfg.In,
		out:      newPrinter(cfg.Out),
		logger:   cfg.Logger.With("component", "chat", "thread", cfg.ThreadID),
		window:   cfg.HistoryWindow,
		retry:    cfg.Retry,
		model:    cfg.Model,
		history:  history.New(),
	}, nil
}

// ThreadID returns the thread this controller records under.
func (c *Controller) ThreadID() string { return c.threadID }

// History returns a copy of the recorded turns.
func (c *Controller) History() []history.Turn { return c.history.Turns() }

// Resume loads the thread's latest checkpoint into history. It is a
// no-op without a checkpointer or when the thread has no checkpoint.
func (c *Controller) Resume(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	turns, err := c.store.Resume(ctx, c.threadID)
	if err != nil {
		return fmt.Errorf("resume thread %s: %w", c.threadID, err)
	}
	c.history = history.New(turns...)
	if len(turns) > 0 {
		c.logger.Info("resumed conversation", "turns", len(turns))
	}
	return nil
}

type inputLine struct {
	text string
	err  error
}

// readLines feeds lines from r until EOF, a read error, or ctx is done.
// The channel is closed when the reader stops. A read already blocked
// in r returns with the next line and then stops.
func readLines(ctx context.Context, r io.Reader) <-chan inputLine {
	ch := make(chan inputLine)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- inputLine{text: scanner.Text()}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- inputLine{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch
}

func isExitCommand(s string) bool {
	switch strings.ToLower(s) {
	case "exit", "quit", ":q":
		return true
	}
	return false
}

// Run reads input until EOF, an exit command, or ctx is cancelled, all
// of which return nil. A non-nil error means the loop could not go on:
// the model rejected the credentials or a checkpoint could not be
// written.
func (c *Controller) Run(ctx context.Context) error {
	if c.in == nil {
		return errors.New("chat: no input reader")
	}
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := readLines(readCtx, c.in)

	for {
		c.out.prompt(c.prompt)

		var ln inputLine
		var ok bool
		select {
		case <-ctx.Done():
			c.out.newline()
			c.logger.Debug("conversation interrupted")
			return nil
		case ln, ok = <-lines:
		}
		if !ok {
			c.out.newline()
			return nil
		}
		if ln.err != nil {
			return fmt.Errorf("read input: %w", ln.err)
		}

		input := strings.TrimSpace(ln.text)
		if input == "" {
			continue
		}
		if isExitCommand(input) {
			return nil
		}

		if err := c.turn(ctx, input); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// turn runs Ask and decides which failures end the loop.
func (c *Controller) turn(ctx context.Context, input string) error {
	_, err := c.Ask(ctx, input)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, ErrCheckpointSave):
		return err
	case httpkit.IsAuth(err):
		return fmt.Errorf("authentication rejected, check %s: %w", credentialHint(err), err)
	default:
		c.logger.Warn("turn failed", "error", err)
		c.out.errorLine(err)
		return nil
	}
}

// Ask runs a single turn for input and records it. The user turn is
// recorded even when the agent fails; the assistant turn only on
// success.
func (c *Controller) Ask(ctx context.Context, input string) (*agent.Result, error) {
	prior := c.history.Window(c.window)
	c.history.Append(history.UserTurn(input))

	req := agent.Request{
		ThreadID: c.threadID,
		Input:    input,
		History:  prior,
	}
	res, err := c.stream(ctx, req)
	if err != nil && ctx.Err() != nil {
		return res, err
	}

	// An answered turn is persisted even if ctx is cancelled after the
	// answer was shown.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err == nil {
		c.history.Append(history.AssistantTurn(res.Response))
		c.recordUsage(persistCtx, res)
	}
	if saveErr := c.save(persistCtx); saveErr != nil {
		return res, saveErr
	}
	return res, err
}

// stream invokes the agent, printing steps as they arrive. Transient
// failures are retried as long as nothing from the model has been shown
// for this turn.
func (c *Controller) stream(ctx context.Context, req agent.Request) (*agent.Result, error) {
	var (
		echoed   bool
		progress bool
		buf      strings.Builder
	)

	yield := func(s agent.Step) error {
		switch s := s.(type) {
		case agent.MessageStep:
			last, ok := s.Last()
			if !ok {
				return nil
			}
			if last.Role == history.RoleUser && !progress {
				if echoed {
					return nil
				}
				echoed = true
			} else {
				progress = true
			}
			c.out.message(last)
			c.out.separator()
		case agent.FragmentStep:
			progress = true
			buf.WriteString(s.Text)
			c.out.fragment(s.Text)
		}
		return nil
	}

	attempt := 0
	op := func() (*agent.Result, error) {
		attempt++
		res, err := c.agent.Stream(ctx, req, c.mode, yield)
		if err == nil {
			return res, nil
		}
		if progress || !httpkit.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("transient failure, retrying", "attempt", attempt, "error", err)
		return nil, err
	}

	res, err := backoff.Retry(ctx, op, c.retry.options()...)
	if c.mode == agent.ModeTokens && buf.Len() > 0 {
		c.out.newline()
	}
	if err != nil {
		return nil, err
	}
	if c.mode == agent.ModeTokens && buf.String() != res.Response {
		c.logger.Debug("streamed text differs from final response",
			"streamed", buf.Len(), "response", len(res.Response))
	}
	return res, nil
}

func (c *Controller) save(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	turns := c.history.Turns()
	cp, err := c.store.Save(ctx, c.threadID, turns, checkpoint.Meta{
		Model:      c.model,
		StreamMode: string(c.mode),
		Version:    buildinfo.Version,
		Source:     checkpoint.SourceTurn,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCheckpointSave, err)
	}
	c.logger.Debug("conversation checkpointed", "seq", cp.Seq, "turns", len(turns))
	return nil
}

func (c *Controller) recordUsage(ctx context.Context, res *agent.Result) {
	if c.usage == nil {
		return
	}
	if err := c.usage.RecordTurn(ctx, c.threadID, res); err != nil {
		c.logger.Warn("failed to record usage", "error", err)
	}
}

// credentialHint names the environment variable that most likely holds
// the rejected credential.
func credentialHint(err error) string {
	var se *httpkit.StatusError
	if errors.As(err, &se) {
		switch se.Service {
		case "openai":
			return "OPENAI_API_KEY"
		case "anthropic":
			return "ANTHROPIC_API_KEY"
		case "tavily":
			return "TAVILY_API_KEY"
		case "brave":
			return "BRAVE_API_KEY"
		}
	}
	return "the configured API keys"
}
