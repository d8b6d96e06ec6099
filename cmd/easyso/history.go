package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/easyso/easyso/internal/chat"
	"github.com/easyso/easyso/internal/checkpoint"
	"github.com/easyso/easyso/internal/config"
)

func historyCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	var checkpoints bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the recorded conversation for a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, cfg, err := openStore(opts, stderr)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if checkpoints {
				list, err := store.List(ctx, cfg.ThreadID, limit)
				if err != nil {
					return fmt.Errorf("list checkpoints: %w", err)
				}
				if opts.outputFmt == "json" {
					return writeJSON(stdout, list)
				}
				if len(list) == 0 {
					fmt.Fprintf(stdout, "No checkpoints for thread %s\n", cfg.ThreadID)
					return nil
				}
				for _, cp := range list {
					fmt.Fprintln(stdout, cp.Summary())
				}
				return nil
			}

			turns, err := store.Resume(ctx, cfg.ThreadID)
			if err != nil {
				return err
			}
			if opts.outputFmt == "json" {
				return writeJSON(stdout, turns)
			}
			if len(turns) == 0 {
				fmt.Fprintf(stdout, "No history for thread %s\n", cfg.ThreadID)
				return nil
			}
			chat.WriteTranscript(stdout, turns)
			return nil
		},
	}
	cmd.Flags().BoolVar(&checkpoints, "checkpoints", false, "list checkpoint records instead of the conversation")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum checkpoint records to list")
	return cmd
}

func threadsCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "threads",
		Short: "List threads with checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(opts, stderr)
			if err != nil {
				return err
			}
			defer store.Close()

			threads, err := store.Threads(cmd.Context())
			if err != nil {
				return fmt.Errorf("list threads: %w", err)
			}
			if opts.outputFmt == "json" {
				return writeJSON(stdout, threads)
			}
			if len(threads) == 0 {
				fmt.Fprintln(stdout, "No threads")
				return nil
			}

			tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "THREAD\tCHECKPOINTS\tTURNS\tLAST")
			for _, t := range threads {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.ThreadID, t.Checkpoints, t.Turns, t.LastAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

// openStore loads config and opens the checkpoint store it names.
func openStore(opts *options, stderr io.Writer) (*checkpoint.Store, *config.Config, error) {
	cfg, _, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Checkpoint.Enabled {
		return nil, nil, errors.New("checkpointing is disabled in config")
	}
	store, err := checkpoint.Open(cfg.Checkpoint.Path, cfg.Checkpoint.Driver, newLogger(stderr, cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	return store, cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
