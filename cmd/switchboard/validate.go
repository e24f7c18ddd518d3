package main

import (
	"fmt"
	"sort"

	"github.com/aretw0/switchboard/internal/cli"
	"github.com/aretw0/switchboard/internal/compiler"
	"github.com/aretw0/switchboard/internal/validator"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [ids...]",
	Short: "Check definitions for consistency",
	Long: `Compiles every definition (or the given ids) and reports every problem found. Valid
definitions are also checked for unreachable states, dead ends and unsupported ARI
operations, reported as warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ids := args
		if len(ids) == 0 {
			if ids, err = app.Registry.List(cmd.Context()); err != nil {
				return err
			}
		}
		failures, err := app.Check(cmd.Context(), ids...)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, id := range ids {
			if _, failed := failures[id]; failed {
				continue
			}
			g, err := app.Runtime.Graph(cmd.Context(), id)
			if err != nil {
				continue
			}
			warnings := validator.LintGraph(g)
			if data, err := app.Runtime.Definition(cmd.Context(), id); err == nil {
				if def, err := compiler.NewParser().Parse(id, data); err == nil {
					warnings = append(warnings, validator.LintActions(def)...)
				}
			}
			for _, w := range warnings {
				fmt.Fprintf(out, "⚠️  %s: %s\n", id, w)
			}
		}

		if len(failures) == 0 {
			fmt.Fprintln(out, "All definitions are valid! ✅")
			return nil
		}

		failed := make([]string, 0, len(failures))
		for id := range failures {
			failed = append(failed, id)
		}
		sort.Strings(failed)
		for _, id := range failed {
			fmt.Fprintf(out, "❌ %s\n", id)
			for _, issue := range cli.Issues(failures[id]) {
				fmt.Fprintf(out, "   - %s\n", issue)
			}
		}
		return fmt.Errorf("%d definition(s) failed validation", len(failures))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
