// Easyso is an interactive search-augmented assistant.
//
// Each line typed at the prompt is answered by a hosted language model
// that can search the web and read pages before replying. Conversations
// are checkpointed to sqlite per thread, so restarting with the same
// thread id continues where it left off. Configuration is loaded from a
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	easyso                   Start an interactive conversation
//	easyso chat -m <text>    Ask a single question
//	easyso history           Show the recorded conversation for a thread
//	easyso threads           List threads with checkpoints
//	easyso usage             Show token usage and estimated cost
//	easyso init [dir]        Write an example config
//	easyso version           Print version and build information
//	easyso -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/easyso/easyso/internal/agent"
	"github.com/easyso/easyso/internal/buildinfo"
	"github.com/easyso/easyso/internal/config"
)

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		stop()
		os.Exit(1)
	}
}

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	outputFmt  string
	threadID   string
	mode       string
}

// run is the real entry point. Conversation output goes to stdout and
// logs go to stderr. It returns nil on clean exit.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	root := newRootCmd(stdin, stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "easyso",
		Short: "Search-augmented conversational assistant",
		Long: `Easyso answers questions with a hosted language model that can search
the web and read pages before replying. Conversations are checkpointed
per thread and resumed on the next start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.outputFmt != "text" && opts.outputFmt != "json" {
				return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, stdin, stdout, stderr, "")
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "path to config file (default: auto-discover)")
	pf.StringVarP(&opts.outputFmt, "output", "o", "text", "output format: text or json")
	pf.StringVar(&opts.threadID, "thread", "", "conversation thread id (default from config)")
	pf.StringVar(&opts.mode, "mode", "", "stream mode: values or tokens (default from config)")

	root.AddCommand(
		chatCmd(opts, stdin, stdout, stderr),
		historyCmd(opts, stdout, stderr),
		threadsCmd(opts, stdout, stderr),
		usageCmd(opts, stdout, stderr),
		initCmd(stdout),
		versionCmd(opts, stdout),
	)
	return root
}

func chatCmd(opts *options, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively or send a one-shot message",
		Long: `Chat with the assistant. Without -m, reads one question per line until
EOF, "exit", "quit" or ":q".

Examples:
  easyso chat                               # Interactive REPL
  easyso chat --thread work                 # Continue the "work" thread
  easyso chat -m "Weather in Istanbul?"     # One-shot message
  easyso chat --mode tokens                 # Print answers as they stream`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), opts, stdin, stdout, stderr, message)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	return cmd
}

func versionCmd(opts *options, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runVersion(stdout, opts.outputFmt)
		},
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig reads .env, then the config file. With no explicit path
// and nothing on the search path, the built-in defaults are used.
// Flag overrides are applied before validation.
func loadConfig(opts *options) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	var cfg *config.Config
	cfgPath, err := config.FindConfig(opts.configPath)
	switch {
	case errors.Is(err, config.ErrNoConfig):
		cfg, cfgPath = config.Default(), ""
	case err != nil:
		return nil, "", err
	default:
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
		}
	}

	if opts.threadID != "" {
		cfg.ThreadID = opts.threadID
	}
	if opts.mode != "" {
		cfg.StreamMode = opts.mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, cfgPath, nil
}

func streamMode(cfg *config.Config) agent.StreamMode {
	if cfg.StreamMode == config.StreamTokens {
		return agent.ModeTokens
	}
	return agent.ModeValues
}
