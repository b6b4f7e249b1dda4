package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
)

// engineOpener builds an engine from the resolved configuration.
type engineOpener func(cfg lexgraph.Config) (lexgraph.Engine, error)

// app holds the persistent flags shared by every command.
type app struct {
	configPath string
	dbPath     string
	verbose    bool
	open       engineOpener
}

func newRootCmd(open engineOpener) *cobra.Command {
	a := &app{open: open}

	root := &cobra.Command{
		Use:   "lexgraph",
		Short: "Regulatory document search, Q&A and compliance screening",
		Long: `lexgraph indexes regulatory documents for semantic search, builds a
knowledge graph of articles, violations and penalties, answers questions
with cited sources and screens business scenarios for compliance risk.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newIngestCmd(a),
		newDocumentsCmd(a),
		newSearchCmd(a),
		newAskCmd(a),
		newGraphCmd(a),
		newAnalyzeCmd(a),
		newScreenCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) config() (lexgraph.Config, error) {
	cfg := lexgraph.DefaultConfig()
	if a.configPath != "" {
		var err error
		if cfg, err = lexgraph.LoadConfig(a.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	return cfg, nil
}

// withEngine opens the engine for the duration of fn.
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, eng lexgraph.Engine) error) error {
	cfg, err := a.config()
	if err != nil {
		return err
	}
	eng, err := a.open(cfg)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()
	return fn(cmd.Context(), eng)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
