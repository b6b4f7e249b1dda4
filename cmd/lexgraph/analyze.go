package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/batch"
	"github.com/brunobiangulo/lexgraph/compliance"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		businessType string
		attrs        map[string]string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [description...]",
		Short: "Screen a business scenario for compliance risk",
		Long: `Scores the scenario against the indexed regulations and records the
result in the compliance history.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := compliance.Request{
				Description:  strings.Join(args, " "),
				BusinessType: businessType,
				Attributes:   attrs,
			}
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				res, err := eng.AnalyzeCompliance(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, res)
				}
				printResult(cmd, res)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&businessType, "business-type", "b", "", "business type")
	cmd.Flags().StringToStringVarP(&attrs, "attr", "a", nil, "scenario attribute key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func printResult(cmd *cobra.Command, res *compliance.Result) {
	cmd.Printf("Status: %s  Risk: %s  Confidence: %.2f\n", res.Status, res.RiskLevel, res.Confidence)
	cmd.Printf("Analysis: %s (%d regulations checked)\n", res.ID, res.RegulationsChecked)
	if len(res.ViolatedRegulations) > 0 {
		cmd.Println("Violated regulations:")
		for _, v := range res.ViolatedRegulations {
			cmd.Printf("  - %s\n", v)
		}
	}
	if len(res.ReferencedDocuments) > 0 {
		cmd.Printf("Documents: %s\n", strings.Join(res.ReferencedDocuments, ", "))
	}
	cmd.Println("Recommendations:")
	for _, r := range res.Recommendations {
		cmd.Printf("  - %s\n", r)
	}
}

func newScreenCmd(a *app) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "screen [scenarios.xlsx]",
		Short: "Screen every scenario in a spreadsheet",
		Long: `Reads scenarios from the first sheet of an xlsx workbook (a "description"
column plus optional "business_type" and attribute columns), analyses each
row and writes a report workbook.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			scenarios, err := batch.ReadScenarios(in)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], ".xlsx") + "-report.xlsx"
			}

			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				outcomes := batch.Screen(ctx, scenarios, eng.AnalyzeCompliance)

				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := batch.WriteReport(f, outcomes); err != nil {
					f.Close()
					return fmt.Errorf("writing report: %w", err)
				}
				if err := f.Close(); err != nil {
					return err
				}

				counts := make(map[compliance.Status]int)
				failed := 0
				for _, o := range outcomes {
					if o.Result == nil {
						failed++
						continue
					}
					counts[o.Result.Status]++
				}
				cmd.Printf("Screened %d scenarios: %d compliant, %d at risk, %d violations, %d failed\n",
					len(outcomes), counts[compliance.StatusCompliant], counts[compliance.StatusAtRisk],
					counts[compliance.StatusViolation], failed)
				cmd.Printf("Report written to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "report path (default <input>-report.xlsx)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded compliance analyses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				analyses, err := eng.ComplianceHistory(ctx, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, analyses)
				}
				if len(analyses) == 0 {
					cmd.Println("No analyses recorded.")
					return nil
				}
				for _, an := range analyses {
					cmd.Printf("  %s  %s  %-10s %-6s %.2f  %s\n",
						an.ID, an.CreatedAt.Format("2006-01-02 15:04"), an.Status, an.RiskLevel,
						an.Confidence, truncate(an.Description, 60))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of analyses (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")

	cmd.AddCommand(&cobra.Command{
		Use:   "compare [analysis ids...]",
		Short: "Summarise analyses (all of them when no ids are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				cmp, err := eng.CompareAnalyses(ctx, args)
				if err != nil {
					return err
				}
				return printJSON(cmd, cmp)
			})
		},
	})
	return cmd
}
