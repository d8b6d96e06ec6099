package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/easyso/easyso/examples"
	"github.com/easyso/easyso/internal/prompts"
)

func initCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Write an example config and prompt template (default: .)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			return runInit(stdout, dir)
		},
	}
}

// runInit writes easyso.yaml and react.tmpl into dir. Existing files
// are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing easyso in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// The config may hold API keys.
	configPath := filepath.Join(dir, "easyso.yaml")
	if err := writeIfMissing(configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	promptPath := filepath.Join(dir, "react.tmpl")
	if err := writeIfMissing(promptPath, []byte(prompts.ReactTemplate+"\n"), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", promptPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set OPENAI_API_KEY and TAVILY_API_KEY (or put them in .env), then run easyso.")
	fmt.Fprintln(w, "Uncomment prompt_file in easyso.yaml to use the editable prompt template.")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist.
func writeIfMissing(path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
