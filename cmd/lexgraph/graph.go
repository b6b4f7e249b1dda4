package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/lexgraph"
	"github.com/brunobiangulo/lexgraph/graph"
)

func newGraphCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Build and query the knowledge graph",
	}
	cmd.AddCommand(newGraphRebuildCmd(a), newGraphQueryCmd(a), newGraphStatsCmd(a))
	return cmd
}

func newGraphRebuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [document ids...]",
		Short: "Regenerate the graph from processed documents",
		Long: `Extracts entities and relations from every processed document, or only
from the given documents, and replaces the stored graph.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				stats, err := eng.RebuildGraph(ctx, args...)
				if err != nil {
					return err
				}
				cmd.Printf("Graph rebuilt: %d nodes, %d edges from %d documents\n",
					stats.Nodes, stats.Edges, stats.DocumentsProcessed)
				return nil
			})
		},
	}
}

func newGraphQueryCmd(a *app) *cobra.Command {
	var (
		relation string
		nodeType string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "query [entity]",
		Short: "Show entities matching a name and their relations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []graph.QueryOption
			if relation != "" {
				opts = append(opts, graph.WithRelation(relation))
			}
			if nodeType != "" {
				t, ok := graph.ParseNodeType(nodeType)
				if !ok {
					return fmt.Errorf("unknown node type %q", nodeType)
				}
				opts = append(opts, graph.WithNodeType(t))
			}

			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				res, err := eng.QueryGraph(ctx, args[0], opts...)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd, res)
				}
				if len(res.Matched) == 0 {
					cmd.Println("No matching entities.")
					return nil
				}
				for _, n := range res.Matched {
					cmd.Printf("%s [%s]\n", n.Label, n.Type)
				}
				for _, e := range res.Edges {
					cmd.Printf("  %s\n", e)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&relation, "relation", "r", "", "only follow edges with this relation")
	cmd.Flags().StringVarP(&nodeType, "type", "t", "", "only match entities of this type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}

func newGraphStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show graph statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, eng lexgraph.Engine) error {
				s := eng.GraphStats(ctx)
				cmd.Printf("Nodes: %d  Edges: %d  Documents: %d\n", s.Nodes, s.Edges, s.Documents)
				printCounts(cmd, "Node types", s.NodeTypes)
				printCounts(cmd, "Relations", s.RelationTypes)
				return nil
			})
		},
	}
}

func printCounts(cmd *cobra.Command, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	cmd.Printf("%s:\n", title)
	for _, k := range keys {
		cmd.Printf("  %-20s %d\n", k, counts[k])
	}
}
