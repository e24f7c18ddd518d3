package main

import (
	"context"

	"github.com/aretw0/switchboard"
	"github.com/aretw0/switchboard/internal/cli"
	"github.com/aretw0/switchboard/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the call-flow runtime",
	Long: `Starts the HTTP control surface and, when ARI is enabled, connects to Asterisk and routes
channel events onto the configured machines until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			app.Config.HTTP.Addr = addr
		}
		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			app.Config.Definitions.Watch = true
		}
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.ErrOrStderr(), switchboard.Version)
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		if err := app.Serve(sigCtx); err != nil {
			return err
		}
		app.Logger.Info("Switchboard stopped", "signal", sigCtx.Signal())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides http.addr)")
	serveCmd.Flags().Bool("watch", false, "Reload definitions when files change")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
}
