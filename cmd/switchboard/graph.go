package main

import (
	"fmt"

	"github.com/aretw0/switchboard/internal/presentation/graph"
	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph <id>",
	Short: "Export a machine graph",
	Long:  `Outputs the transition graph of a machine as Graphviz DOT or a Mermaid flowchart.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format != "dot" && format != "mermaid" {
			return fmt.Errorf("unknown format %q: expected dot or mermaid", format)
		}

		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if format == "dot" {
			dot, err := app.Runtime.DOT(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), dot)
			return nil
		}

		g, err := app.Runtime.Graph(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(g, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().StringP("format", "f", "dot", "Output format: dot or mermaid")
}
