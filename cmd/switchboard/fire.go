package main

import (
	"errors"

	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/internal/cli"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/spf13/cobra"
)

var fireCmd = &cobra.Command{
	Use:   "fire <id> <transition>",
	Short: "Fire one transition on a fresh instance",
	Long: `Creates an instance of the machine, positions it at --state (the initial state by default),
fires the transition with its hooks and prints the outcome as JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")
		payload, err := flagObject(cmd, "payload")
		if err != nil {
			return err
		}
		seed, err := flagObject(cmd, "seed")
		if err != nil {
			return err
		}

		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if state == "" {
			m, err := app.Registry.Machine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			state = m.Initial()
		}

		res, err := app.Runtime.Fire(cmd.Context(), switchboard.FireRequest{
			MachineID:    args[0],
			Transition:   args[1],
			CurrentState: state,
			Payload:      payload,
			InitialData:  seed,
		})
		var refused *domain.TransitionRefusedError
		if errors.As(err, &refused) {
			_ = cli.PrintJSON(cmd.OutOrStdout(), map[string]any{
				"error":               err.Error(),
				"currentState":        state,
				"possibleTransitions": refused.Available,
			})
		}
		if err != nil {
			return err
		}
		return cli.PrintJSON(cmd.OutOrStdout(), res)
	},
}

func flagObject(cmd *cobra.Command, name string) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString(name)
	return cli.ParseObject(name, raw)
}

func init() {
	rootCmd.AddCommand(fireCmd)
	fireCmd.Flags().String("state", "", "State to fire from (default: the initial state)")
	fireCmd.Flags().String("payload", "", "Event payload as a JSON object")
	fireCmd.Flags().String("seed", "", "Instance fields as a JSON object")
}
