package main

import (
	"fmt"

	"github.com/aretw0/switchboard/internal/compiler"
	"github.com/aretw0/switchboard/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var describeCmd = &cobra.Command{
	Use:   "describe <id>",
	Short: "Describe a machine definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		id := args[0]
		g, err := app.Runtime.Graph(cmd.Context(), id)
		if err != nil {
			return err
		}
		raw, err := app.Runtime.Definition(cmd.Context(), id)
		if err != nil {
			return err
		}
		def, err := compiler.NewParser().Parse(id, raw)
		if err != nil {
			return err
		}

		out, err := tui.Render(tui.Describe(def, g))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
}
