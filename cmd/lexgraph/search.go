package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/rag"
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed segments",
		Long:  `Embeds the query and returns the most similar regulation segments.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				results, err := eng.Search(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}
				if asJSON {
					return printJSON(cmd, results)
				}
				if len(results) == 0 {
					cmd.Println("No results found.")
					return nil
				}

				cmd.Println("Results:")
				cmd.Println()
				for i, r := range results {
					name := r.DocumentName
					if name == "" {
						name = r.DocumentID
					}
					cmd.Printf("  [%d] %s #%d (%.2f)\n", i+1, name, r.Ordinal, r.Similarity)
					cmd.Printf("      %s\n", truncate(r.Text, 200))
					cmd.Println()
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 5, "maximum number of results")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newAskCmd(a *app) *cobra.Command {
	var (
		topK    int
		suggest int
		batch   bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question...]",
		Short: "Answer a question from the indexed regulations",
		Long: `Retrieves the most relevant segments and graph relations and asks the
chat model to answer from them. With --batch every argument is a separate
question.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				if batch {
					items := eng.AskBatch(ctx, args, topK)
					if asJSON {
						return printJSON(cmd, items)
					}
					for _, it := range items {
						cmd.Printf("Q: %s\n", it.Question)
						if it.Error != "" {
							cmd.Printf("   error: %s\n\n", it.Error)
							continue
						}
						cmd.Printf("A: %s\n\n", it.Answer.Text)
					}
					return nil
				}

				question := strings.Join(args, " ")
				ans, err := eng.Ask(ctx, question, topK, nil)
				if err != nil {
					return err
				}
				var suggestions []string
				if suggest > 0 {
					if suggestions, err = eng.SuggestQuestions(ctx, question, suggest); err != nil {
						cmd.PrintErrf("suggestions unavailable: %v\n", err)
					}
				}
				if asJSON {
					return printJSON(cmd, struct {
						*rag.Answer
						Suggestions []string `json:"suggestions,omitempty"`
					}{ans, suggestions})
				}
				printAnswer(cmd, ans)
				if len(suggestions) > 0 {
					cmd.Println("Related questions:")
					for _, s := range suggestions {
						cmd.Printf("  - %s\n", s)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "segments to retrieve (0 uses the configured default)")
	cmd.Flags().IntVar(&suggest, "suggest", 0, "also suggest this many related questions")
	cmd.Flags().BoolVar(&batch, "batch", false, "treat each argument as a separate question")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printAnswer(cmd *cobra.Command, ans *rag.Answer) {
	if ans.Degraded {
		cmd.Println("Answer generation failed; showing sources only.")
	} else {
		cmd.Println(ans.Text)
	}
	cmd.Println()
	cmd.Printf("Confidence: %.2f\n", ans.Confidence)
	if len(ans.Sources) == 0 {
		return
	}
	cmd.Println("Sources:")
	for i, s := range ans.Sources {
		name := s.DocumentName
		if name == "" {
			name = s.DocumentID
		}
		cmd.Printf("  [%d] %s (%.2f) %s\n", i+1, name, s.Similarity, truncate(s.Text, 120))
	}
}
