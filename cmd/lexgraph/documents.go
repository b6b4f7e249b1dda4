package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
)

func newIngestCmd(a *app) *cobra.Command {
	var docID string

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest pdf, html or txt documents",
		Long: `Parses each file, splits it into segments and embeds them. A file keeps
the same document id across runs, so ingesting it again replaces it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if docID != "" && len(args) > 1 {
				return errors.New("--id can only be used with a single file")
			}
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				var errs []error
				for _, path := range args {
					if !fileExists(path) {
						errs = append(errs, fmt.Errorf("%s: not a file", path))
						continue
					}
					var opts []lexgraph.IngestOption
					if docID != "" {
						opts = append(opts, lexgraph.WithDocumentID(docID))
					}
					res, err := eng.IngestFile(ctx, path, opts...)
					if err != nil {
						cmd.PrintErrf("  ✗ %s: %v\n", path, err)
						errs = append(errs, err)
						continue
					}
					cmd.Printf("  ✓ %s → %s (%d segments, %d words)\n",
						path, res.DocumentID, res.SegmentsCreated, res.Metadata.WordCount)
				}
				return errors.Join(errs...)
			})
		},
	}
	cmd.Flags().StringVar(&docID, "id", "", "document id (single file only)")
	return cmd
}

func newDocumentsCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List ingested documents",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				docs, err := eng.ListDocuments(ctx)
				if err != nil {
					return fmt.Errorf("failed to list documents: %w", err)
				}
				if asJSON {
					return printJSON(cmd, docs)
				}
				if len(docs) == 0 {
					cmd.Println("No documents.")
					return nil
				}
				for _, d := range docs {
					cmd.Printf("  %s  %-10s  %-5s  %4d segments  %s\n",
						d.ID, d.Status, d.FileType, d.SegmentCount, d.Filename)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show one document",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
					doc, err := eng.GetDocument(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, doc)
				})
			},
		},
		&cobra.Command{
			Use:   "delete [id]",
			Short: "Delete a document and its segments",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
					if err := eng.DeleteDocument(ctx, args[0]); err != nil {
						return err
					}
					cmd.Printf("Deleted %s. Run 'lexgraph graph rebuild' to drop its entities.\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}
